package app

import (
	"context"
	"log/slog"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/engine"
	"auction_go/internal/event"
	"auction_go/internal/infra"
	"auction_go/internal/infra/gateway"
	"auction_go/internal/infra/storage"
	"auction_go/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Templates *infra.TemplateStore
	Store     domain.Store
	Service   *service.AuctionService
	Hub       *gateway.EventHub
	HTTP      *gateway.HTTPGateway

	closeStore func()
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize wires config, logging, storage and the market engine. The
// posting tables are loaded afterwards via LoadPostings.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("bootstrapping auction server",
		slog.String("name", cfg.App.Name),
		slog.String("version", cfg.App.Version))

	templates, err := infra.LoadTemplates(cfg.Items.Path)
	if err != nil {
		return err
	}
	b.Templates = templates
	slog.Info("item table loaded", slog.Int("templates", templates.Len()))

	store, closeStore, err := openStore(ctx, cfg, templates.Lookup)
	if err != nil {
		return err
	}
	b.Store = store
	b.closeStore = closeStore
	slog.Info("storage initialized", slog.String("driver", cfg.Storage.Driver))

	params := paramsFrom(cfg)
	houses := make([]domain.HouseID, 0, len(cfg.Houses))
	for _, h := range cfg.Houses {
		houses = append(houses, domain.HouseID(h))
	}

	bank := infra.NewMemoryBank()
	mailer := infra.NewMailer(nil)
	reg := engine.NewRegistry(params, houses, mailer, bank, infra.OpenCollection{})

	b.Hub = gateway.NewEventHub()
	reg.SetEventSink(b.Hub.Publish)
	event.Warmup()

	b.Service = service.NewAuctionService(reg, store, params)
	b.HTTP = gateway.NewHTTPGateway(b.Service, gateway.Templates(templates.Lookup))

	return nil
}

// LoadPostings rebuilds every house from the store.
func (b *Bootstrap) LoadPostings(ctx context.Context) error {
	return b.Service.Load(ctx)
}

// Close releases storage resources.
func (b *Bootstrap) Close() {
	if b.closeStore != nil {
		b.closeStore()
	}
}

func openStore(ctx context.Context, cfg *infra.Config, templates storage.TemplateFunc) (domain.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		s, err := storage.NewPostgresStore(ctx, cfg.Storage.DSN, templates)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := storage.NewSQLiteStore(cfg.Storage.Path, templates)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}

func paramsFrom(cfg *infra.Config) engine.Params {
	p := engine.DefaultParams()
	if !cfg.Market.CutRate.IsZero() {
		p.CutRate = cfg.Market.CutRate
	}
	if !cfg.Market.DepositRate.IsZero() {
		p.DepositRate = cfg.Market.DepositRate
	}
	if !cfg.Market.IncrementRate.IsZero() {
		p.IncrementRate = cfg.Market.IncrementRate
	}
	p.QuoteTTL = cfg.QuoteTTL()
	if cfg.Market.MailBatchSize > 0 {
		p.MailBatchSize = cfg.Market.MailBatchSize
	}
	if cfg.Market.Expansion > 0 {
		p.Expansion = uint8(cfg.Market.Expansion)
	}
	if cfg.Throttle.SearchQuota > 0 {
		p.SearchQuota = cfg.Throttle.SearchQuota
	}
	if cfg.Throttle.SearchWindowSec > 0 {
		p.SearchWindow = time.Duration(cfg.Throttle.SearchWindowSec) * time.Second
	}
	if cfg.Throttle.QueryDelayMS > 0 {
		p.QueryDelay = time.Duration(cfg.Throttle.QueryDelayMS) * time.Millisecond
	}
	if cfg.Throttle.ReplicationCooldownSec > 0 {
		p.ReplicationCooldown = time.Duration(cfg.Throttle.ReplicationCooldownSec) * time.Second
	}
	if cfg.Throttle.ReplicationPageSize > 0 {
		p.ReplicationPageSize = cfg.Throttle.ReplicationPageSize
	}
	return p
}
