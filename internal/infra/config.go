package infra

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every application setting. Sensitive values can be
// overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Houses []uint32 `yaml:"houses"`

	Market struct {
		CutRate       decimal.Decimal `yaml:"cut_rate"`
		DepositRate   decimal.Decimal `yaml:"deposit_rate"`
		IncrementRate decimal.Decimal `yaml:"increment_rate"`

		QuoteTTLSec     int `yaml:"quote_ttl_sec"`
		TickIntervalSec int `yaml:"tick_interval_sec"`
		MailBatchSize   int `yaml:"mail_batch_size"`
		Expansion       int `yaml:"expansion"`
	} `yaml:"market"`

	Throttle struct {
		SearchQuota     int `yaml:"search_quota"`
		SearchWindowSec int `yaml:"search_window_sec"`
		QueryDelayMS    int `yaml:"query_delay_ms"`

		ReplicationCooldownSec int `yaml:"replication_cooldown_sec"`
		ReplicationPageSize    int `yaml:"replication_page_size"`
	} `yaml:"throttle"`

	Items struct {
		Path string `yaml:"path"` // static item table export
	} `yaml:"items"`

	Storage struct {
		Driver string `yaml:"driver"` // "sqlite" or "postgres"
		Path   string `yaml:"path"`   // sqlite file
		DSN    string `yaml:"dsn"`    // postgres connection string
	} `yaml:"storage"`

	Listen struct {
		HTTP string `yaml:"http"`
		WS   string `yaml:"ws"`
	} `yaml:"listen"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if len(c.Houses) == 0 {
		return fmt.Errorf("at least one auction house is required")
	}
	if c.Market.CutRate.IsNegative() || c.Market.CutRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("cut rate must be in [0, 1): %s", c.Market.CutRate)
	}
	if c.Market.QuoteTTLSec <= 0 {
		return fmt.Errorf("quote TTL must be positive")
	}
	if c.Market.TickIntervalSec <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.Items.Path == "" {
		return fmt.Errorf("item table path is required")
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("sqlite storage needs a path")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("postgres storage needs a DSN")
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}
	return nil
}

// QuoteTTL returns the quote TTL as a duration.
func (c *Config) QuoteTTL() time.Duration {
	return time.Duration(c.Market.QuoteTTLSec) * time.Second
}

// TickInterval returns the engine tick interval as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Market.TickIntervalSec) * time.Second
}

// overrideWithEnv overrides settings when environment variables exist.
func overrideWithEnv(cfg *Config) {
	if dsn := os.Getenv("AUCTION_DB_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if path := os.Getenv("AUCTION_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if level := os.Getenv("AUCTION_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
