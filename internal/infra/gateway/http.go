package gateway

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/infra"
	"auction_go/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// HTTPGateway exposes the auction service over REST. Authentication
// happens upstream at the world server; requests arrive with the
// already-verified identity in headers.
type HTTPGateway struct {
	svc       *service.AuctionService
	templates Templates
}

// Templates resolves item templates for inbound listings.
type Templates func(domain.ItemID) *domain.ItemTemplate

func NewHTTPGateway(svc *service.AuctionService, templates Templates) *HTTPGateway {
	return &HTTPGateway{svc: svc, templates: templates}
}

// Router builds the fiber app with all auction routes mounted.
func (g *HTTPGateway) Router() *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
		BodyLimit:    256 * 1024,
	})

	app.Use(recover.New())
	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			infra.GlobalMetrics.RecordThrottleHit()
			return c.Status(429).JSON(fiber.Map{"error": "too many requests"})
		},
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", func(c *fiber.Ctx) error {
		return c.JSON(infra.GlobalMetrics.Snapshot())
	})

	v1 := app.Group("/api/v1/houses/:house")
	v1.Post("/search", g.Search)
	v1.Get("/buckets/items", g.ListItems)
	v1.Get("/postings/owned", g.ListOwned)
	v1.Get("/postings/bidded", g.ListBidded)
	v1.Post("/postings", g.Sell)
	v1.Post("/postings/:id/bid", g.Bid)
	v1.Post("/postings/:id/buyout", g.Buyout)
	v1.Delete("/postings/:id", g.Cancel)
	v1.Post("/commodities/:item/quote", g.Quote)
	v1.Post("/commodities/:item/buy", g.BuyCommodity)
	v1.Get("/items/:item/prices", g.PriceSummary)
	v1.Get("/replicate", g.Replicate)

	return app
}

func viewerFrom(c *fiber.Ctx) (domain.Viewer, error) {
	account, err := strconv.ParseUint(c.Get("X-Account-Id"), 10, 32)
	if err != nil || account == 0 {
		return domain.Viewer{}, errors.New("missing account identity")
	}
	character, _ := strconv.ParseUint(c.Get("X-Character-Id"), 10, 64)
	level, _ := strconv.ParseUint(c.Get("X-Character-Level"), 10, 8)

	loc := domain.Locale(c.Get("X-Locale"))
	if loc == "" {
		loc = domain.LocaleEnUS
	}
	return domain.Viewer{
		Account:   domain.AccountID(account),
		Character: domain.CharacterID(character),
		Level:     uint8(level),
		Locale:    loc,
	}, nil
}

func houseFrom(c *fiber.Ctx) (domain.HouseID, error) {
	h, err := strconv.ParseUint(c.Params("house"), 10, 32)
	if err != nil {
		return 0, errors.New("invalid house id")
	}
	return domain.HouseID(h), nil
}

func postingFrom(c *fiber.Ctx) (uint32, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return 0, errors.New("invalid posting id")
	}
	return uint32(id), nil
}

type searchBody struct {
	Name                 string   `json:"name"`
	ExactMatch           bool     `json:"exact_match"`
	MinLevel             uint8    `json:"min_level"`
	MaxLevel             uint8    `json:"max_level"`
	QualityMask          uint32   `json:"quality_mask"`
	Classes              []uint8  `json:"classes"`
	UncollectedOnly      bool     `json:"uncollected_only"`
	UsableOnly           bool     `json:"usable_only"`
	CurrentExpansionOnly bool     `json:"current_expansion_only"`
	KnownCompanions      []uint64 `json:"known_companions"`
	MaxCompanionLevel    uint8    `json:"max_companion_level"`
	Sort                 string   `json:"sort"`
	Offset               int      `json:"offset"`
	PageSize             int      `json:"page_size"`
}

func sortFrom(s string) domain.Sort {
	switch s {
	case "name":
		return domain.SortName
	case "level":
		return domain.SortLevel
	default:
		return domain.SortPrice
	}
}

// POST /api/v1/houses/:house/search
func (g *HTTPGateway) Search(c *fiber.Ctx) error {
	house, err := houseFrom(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	viewer, err := viewerFrom(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": err.Error()})
	}

	var body searchBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	req := &service.ListBucketsRequest{
		House: house,
		Filter: domain.BucketFilter{
			Name:                 body.Name,
			ExactMatch:           body.ExactMatch,
			MinLevel:             body.MinLevel,
			MaxLevel:             body.MaxLevel,
			QualityMask:          body.QualityMask,
			UncollectedOnly:      body.UncollectedOnly,
			UsableOnly:           body.UsableOnly,
			CurrentExpansionOnly: body.CurrentExpansionOnly,
			KnownCompanions:      body.KnownCompanions,
			MaxCompanionLevel:    body.MaxCompanionLevel,
			Viewer:               viewer,
		},
		Sort:     sortFrom(body.Sort),
		Offset:   body.Offset,
		PageSize: body.PageSize,
	}
	for _, cl := range body.Classes {
		req.Filter.Classes = append(req.Filter.Classes, domain.ClassFilter{Class: domain.ItemClass(cl)})
	}

	start := time.Now()
	page, err := g.svc.ListBuckets(req)
	if err != nil {
		return auctionError(c, err)
	}
	infra.GlobalMetrics.RecordSearch(time.Since(start))
	return c.JSON(page)
}

// GET /api/v1/houses/:house/buckets/items
func (g *HTTPGateway) ListItems(c *fiber.Ctx) error {
	house, err := houseFrom(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	viewer, err := viewerFrom(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": err.Error()})
	}

	itemID, _ := strconv.ParseUint(c.Query("item"), 10, 32)
	if itemID == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "item is required"})
	}
	level, _ := strconv.ParseUint(c.Query("item_level"), 10, 16)
	species, _ := strconv.ParseUint(c.Query("species"), 10, 16)
	suffix, _ := strconv.ParseUint(c.Query("suffix"), 10, 16)

	req := &service.ListItemsRequest{
		House: house,
		Key: domain.BucketKey{
			ItemID:    domain.ItemID(itemID),
			ItemLevel: uint16(level),
			SpeciesID: uint16(species),
			SuffixID:  uint16(suffix),
		},
		Viewer:   viewer,
		Offset:   c.QueryInt("offset"),
		PageSize: c.QueryInt("page_size", 50),
	}

	page, err := g.svc.ListItems(req)
	if err != nil {
		return auctionError(c, err)
	}
	return c.JSON(page)
}

// GET /api/v1/houses/:house/postings/owned
func (g *HTTPGateway) ListOwned(c *fiber.Ctx) error {
	return g.listFor(c, g.svc.ListOwnerItems)
}

// GET /api/v1/houses/:house/postings/bidded
func (g *HTTPGateway) ListBidded(c *fiber.Ctx) error {
	return g.listFor(c, g.svc.ListBidderItems)
}

func (g *HTTPGateway) listFor(c *fiber.Ctx, fn func(domain.HouseID, domain.Viewer) (*service.PostingPage, error)) error {
	house, err := houseFrom(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	viewer, err := viewerFrom(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": err.Error()})
	}
	page, err := fn(house, viewer)
	if err != nil {
		return auctionError(c, err)
	}
	return c.JSON(page)
}

type sellBody struct {
	Items []struct {
		Guid           uint64 `json:"guid"`
		ItemID         uint32 `json:"item_id"`
		Count          uint32 `json:"count"`
		SuffixID       uint16 `json:"suffix_id"`
		AppearanceID   uint32 `json:"appearance_id"`
		SpeciesID      uint16 `json:"species_id"`
		CompanionLevel uint8  `json:"companion_level"`
	} `json:"items"`
	MinBid        uint64 `json:"min_bid"`
	Buyout        uint64 `json:"buyout"`
	DurationHours int    `json:"duration_hours"`
	LogTrade      bool   `json:"log_trade"`
}

// POST /api/v1/houses/:house/postings
func (g *HTTPGateway) Sell(c *fiber.Ctx) error {
	house, err := houseFrom(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	viewer, err := viewerFrom(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": err.Error()})
	}

	var body sellBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if g.templates == nil {
		return c.Status(503).JSON(fiber.Map{"error": "item store unavailable"})
	}

	items := make([]*domain.Item, 0, len(body.Items))
	for _, it := range body.Items {
		tmpl := g.templates(domain.ItemID(it.ItemID))
		if tmpl == nil {
			return c.Status(400).JSON(fiber.Map{"error": "unknown item " + strconv.FormatUint(uint64(it.ItemID), 10)})
		}
		items = append(items, &domain.Item{
			Guid:           it.Guid,
			Template:       tmpl,
			Count:          it.Count,
			SuffixID:       it.SuffixID,
			AppearanceID:   it.AppearanceID,
			SpeciesID:      it.SpeciesID,
			CompanionLevel: it.CompanionLevel,
		})
	}

	var flags domain.ServerFlags
	if body.LogTrade {
		flags |= domain.FlagLogTrade
	}

	res, err := g.svc.Sell(c.Context(), &service.SellRequest{
		House:    house,
		Viewer:   viewer,
		Items:    items,
		MinBid:   body.MinBid,
		Buyout:   body.Buyout,
		Duration: time.Duration(body.DurationHours) * time.Hour,
		Flags:    flags,
	})
	if err != nil {
		return auctionError(c, err)
	}
	infra.GlobalMetrics.RecordPosting()
	return c.Status(201).JSON(res)
}

type bidBody struct {
	Amount uint64 `json:"amount"`
}

// POST /api/v1/houses/:house/postings/:id/bid
func (g *HTTPGateway) Bid(c *fiber.Ctx) error {
	house, err := houseFrom(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	viewer, err := viewerFrom(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": err.Error()})
	}
	id, err := postingFrom(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	var body bidBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := g.svc.PlaceBid(c.Context(), house, viewer, id, body.Amount); err != nil {
		return auctionError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// POST /api/v1/houses/:house/postings/:id/buyout
func (g *HTTPGateway) Buyout(c *fiber.Ctx) error {
	house, err := houseFrom(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	viewer, err := viewerFrom(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": err.Error()})
	}
	id, err := postingFrom(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	if err := g.svc.Buyout(c.Context(), house, viewer, id); err != nil {
		return auctionError(c, err)
	}
	infra.GlobalMetrics.RecordTrade()
	return c.JSON(fiber.Map{"ok": true})
}

// DELETE /api/v1/houses/:house/postings/:id
func (g *HTTPGateway) Cancel(c *fiber.Ctx) error {
	house, err := houseFrom(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	viewer, err := viewerFrom(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": err.Error()})
	}
	id, err := postingFrom(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	if err := g.svc.Cancel(c.Context(), house, viewer, id); err != nil {
		return auctionError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

type quoteBody struct {
	Quantity uint64 `json:"quantity"`
}

// POST /api/v1/houses/:house/commodities/:item/quote
func (g *HTTPGateway) Quote(c *fiber.Ctx) error {
	house, err := houseFrom(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	viewer, err := viewerFrom(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": err.Error()})
	}
	item, err := strconv.ParseUint(c.Params("item"), 10, 32)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid item id"})
	}

	var body quoteBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	quote, err := g.svc.CreateQuote(house, viewer.Account, domain.ItemID(item), body.Quantity)
	if err != nil {
		return auctionError(c, err)
	}
	if quote == nil {
		return c.JSON(fiber.Map{"available": false})
	}
	return c.JSON(fiber.Map{
		"available":   true,
		"quote_id":    quote.ID,
		"total_price": quote.TotalPrice,
		"valid_until": quote.ValidUntil,
	})
}

// POST /api/v1/houses/:house/commodities/:item/buy
func (g *HTTPGateway) BuyCommodity(c *fiber.Ctx) error {
	house, err := houseFrom(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	viewer, err := viewerFrom(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": err.Error()})
	}
	item, err := strconv.ParseUint(c.Params("item"), 10, 32)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid item id"})
	}

	var body quoteBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := g.svc.BuyCommodity(c.Context(), house, viewer, domain.ItemID(item), body.Quantity); err != nil {
		return auctionError(c, err)
	}
	infra.GlobalMetrics.RecordTrade()
	return c.JSON(fiber.Map{"ok": true})
}

// GET /api/v1/houses/:house/items/:item/prices
func (g *HTTPGateway) PriceSummary(c *fiber.Ctx) error {
	house, err := houseFrom(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	viewer, err := viewerFrom(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": err.Error()})
	}
	item, err := strconv.ParseUint(c.Params("item"), 10, 32)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid item id"})
	}

	levels, err := g.svc.PriceSummary(house, viewer.Account, domain.ItemID(item))
	if err != nil {
		return auctionError(c, err)
	}
	return c.JSON(fiber.Map{"levels": levels})
}

// GET /api/v1/houses/:house/replicate
func (g *HTTPGateway) Replicate(c *fiber.Ctx) error {
	house, err := houseFrom(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	viewer, err := viewerFrom(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": err.Error()})
	}

	epoch := uint32(c.QueryInt("epoch"))
	cursor := uint32(c.QueryInt("cursor"))
	tombstone := uint32(c.QueryInt("tombstone"))
	count := c.QueryInt("count", 100)

	page, err := g.svc.Replicate(house, viewer.Account, epoch, cursor, tombstone, count)
	if err != nil {
		return auctionError(c, err)
	}
	return c.JSON(page)
}

// auctionError maps engine and service errors onto HTTP statuses.
func auctionError(c *fiber.Ctx, err error) error {
	var throttled *domain.ThrottledError
	if errors.As(err, &throttled) {
		infra.GlobalMetrics.RecordThrottleHit()
		c.Set("Retry-After", strconv.FormatInt(int64(throttled.RetryAfter.Seconds())+1, 10))
		return c.Status(429).JSON(fiber.Map{"error": "request budget exhausted"})
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "posting not found"})
	case errors.Is(err, domain.ErrInsufficientFunds):
		return c.Status(400).JSON(fiber.Map{"error": "insufficient funds"})
	case errors.Is(err, domain.ErrBidTooLow):
		return c.Status(400).JSON(fiber.Map{"error": "bid below required minimum"})
	case errors.Is(err, domain.ErrSelfBid):
		return c.Status(400).JSON(fiber.Map{"error": "cannot bid on your own posting"})
	case errors.Is(err, domain.ErrStaleQuote):
		return c.Status(409).JSON(fiber.Map{"error": "quote expired or missing"})
	case errors.Is(err, domain.ErrPriceDrift):
		return c.Status(409).JSON(fiber.Map{"error": "price changed since quote"})
	case errors.Is(err, domain.ErrInsufficientSupply):
		return c.Status(409).JSON(fiber.Map{"error": "insufficient supply"})
	case errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidPrice),
		errors.Is(err, service.ErrInvalidDuration),
		errors.Is(err, service.ErrNoItems),
		errors.Is(err, service.ErrMixedItems):
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	default:
		infra.GlobalMetrics.RecordError()
		slog.Error("request failed", slog.Any("error", err))
		return c.Status(500).JSON(fiber.Map{"error": "internal server error"})
	}
}
