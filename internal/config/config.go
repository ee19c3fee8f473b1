// Package config defines the listingd configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LISTINGD_* environment variables.
type Config struct {
	Store      StoreConfig      `toml:"store"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Quota      QuotaConfig      `toml:"quota"`
	Currencies CurrenciesConfig `toml:"currencies"`
	Refund     RefundConfig     `toml:"refund"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// StoreConfig selects the ledger backend: "memory" or "postgres".
type StoreConfig struct {
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, the listing
// cache, event bus and rate limiter are off and refunds queue in memory.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`

	CacheTTL       duration `toml:"cache_ttl"`
	EventStreamMax int64    `toml:"event_stream_max"`
}

// S3Config holds S3-compatible object storage parameters for listing
// snapshots.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	KeyPrefix      string `toml:"key_prefix"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// QuotaConfig prices listing capacity. UnitCost is a decimal string in the
// smallest unit of the attached payment.
type QuotaConfig struct {
	UnitCost string `toml:"unit_cost"`
}

// CurrenciesConfig seeds the accepted-currency registry at startup.
type CurrenciesConfig struct {
	Accepted []string `toml:"accepted"`
}

// RefundConfig drives the refund worker and the payment gateway client.
type RefundConfig struct {
	Stream          string   `toml:"stream"`
	Consumer        string   `toml:"consumer"`
	BatchSize       int      `toml:"batch_size"`
	PollInterval    duration `toml:"poll_interval"`
	MaxAttempts     int      `toml:"max_attempts"`
	RetryBackoff    duration `toml:"retry_backoff"`
	TransferURL     string   `toml:"transfer_url"`
	TransferAPIKey  string   `toml:"transfer_api_key"`
	TransferTimeout duration `toml:"transfer_timeout"`
}

// ArchiveConfig schedules listing snapshots. An empty Cron disables the
// schedule; snapshots can still be triggered over HTTP.
type ArchiveConfig struct {
	Cron string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	// It needs Redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Store: StoreConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "listingd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       20,
			MaxRetries:     3,
			CacheTTL:       duration{5 * time.Minute},
			EventStreamMax: 100_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "listingd-archive",
			ForcePathStyle: true,
		},
		Quota: QuotaConfig{UnitCost: "10000000000000000000000"},
		Currencies: CurrenciesConfig{
			Accepted: []string{"near"},
		},
		Refund: RefundConfig{
			Stream:          "stream:refunds",
			Consumer:        "refund-worker",
			BatchSize:       50,
			PollInterval:    duration{2 * time.Second},
			MaxAttempts:     3,
			RetryBackoff:    duration{500 * time.Millisecond},
			TransferTimeout: duration{30 * time.Second},
		},
		Archive: ArchiveConfig{Cron: "0 3 * * *"},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"refund_failed", "refund_dropped", "archive_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true, // HTTP API only; refunds are queued for a separate worker
	"worker": true, // refund delivery only
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// UnitCost parses Quota.UnitCost.
func (c *Config) UnitCost() (domain.Amount, error) {
	return domain.ParseAmount(strings.TrimSpace(c.Quota.UnitCost))
}

// RunsServer reports whether the mode serves the HTTP API.
func (c *Config) RunsServer() bool { return c.Mode == "server" || c.Mode == "full" }

// RunsWorker reports whether the mode delivers refunds.
func (c *Config) RunsWorker() bool {
	return c.Mode == "worker" || (c.Mode == "full" && c.Refund.TransferURL != "")
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	switch c.Store.Backend {
	case "memory":
		if mode == "worker" {
			errs = append(errs, "store: worker mode cannot share a memory backend; use postgres with redis")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, postgres)", c.Store.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	} else {
		if mode == "worker" || (mode == "server" && c.Store.Backend == "postgres") {
			errs = append(errs, "redis: must be enabled so the refund queue is shared between server and worker")
		}
		if c.Server.RateLimit > 0 {
			errs = append(errs, "redis: must be enabled when server.rate_limit is set")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Quota
	if cost, err := c.UnitCost(); err != nil {
		errs = append(errs, fmt.Sprintf("quota: unit_cost: %v", err))
	} else if cost.IsZero() {
		errs = append(errs, "quota: unit_cost must be > 0")
	}

	// Currencies
	for _, id := range c.Currencies.Accepted {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, "currencies: accepted ids must not be empty")
			break
		}
	}

	// Refund
	if mode == "worker" && c.Refund.TransferURL == "" {
		errs = append(errs, "refund: transfer_url is required for worker mode")
	}
	if c.Refund.BatchSize < 1 {
		errs = append(errs, "refund: batch_size must be >= 1")
	}
	if c.Refund.PollInterval.Duration <= 0 {
		errs = append(errs, "refund: poll_interval must be > 0")
	}
	if c.Refund.MaxAttempts < 1 {
		errs = append(errs, "refund: max_attempts must be >= 1")
	}

	// Server
	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
