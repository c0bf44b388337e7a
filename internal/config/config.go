// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        // e.g. "8080"
	Env          string        // "development" | "production"
	ReadTimeout  time.Duration // default 10s
	WriteTimeout time.Duration // default 10s

	// AllowedOrigins lists CORS origins accepted in production.
	AllowedOrigins []string
}

// DBConfig holds PostgreSQL connection settings for the wallet ledger.
// An empty DSN selects the in-process ledger.
type DBConfig struct {
	DSN             string
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// RedisConfig holds the event broker settings. An empty URL disables the
// Redis publisher.
type RedisConfig struct {
	URL            string
	ChannelPrefix  string        // default "auction"
	PublishTimeout time.Duration // default 2s
}

// AuctionConfig holds engine settings.
type AuctionConfig struct {
	LockTimeout        time.Duration // max wait for an auction's exclusion, default 2s
	SweepInterval      time.Duration // lifecycle sweep tick, default 1s
	DefaultSnipeWindow time.Duration // used when a create request omits it, default 2m
	MaxSnipeWindow     time.Duration // upper bound accepted at creation, default 30m
}

// EventsConfig holds dispatcher settings.
type EventsConfig struct {
	SubscriberBuffer int           // per-subscriber channel size, default 64
	MaxRetries       int           // delivery attempts per sink, default 3
	RetryBackoff     time.Duration // default 100ms
}

// LedgerConfig holds settings of the in-process ledger.
type LedgerConfig struct {
	OpeningBalance float64 // credited to accounts on first use, default 0
}

// RateLimitConfig holds the bid endpoint limiter.
type RateLimitConfig struct {
	BidRPS   float64 // tokens per second per client, default 10
	BidBurst int     // default 20
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	Auction   AuctionConfig
	Events    EventsConfig
	Ledger    LedgerConfig
	RateLimit RateLimitConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	// In production, funds must live in the database
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	if c.Auction.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("AUCTION_LOCK_TIMEOUT must be positive, got %s", c.Auction.LockTimeout))
	}
	if c.Auction.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("AUCTION_SWEEP_INTERVAL must be positive, got %s", c.Auction.SweepInterval))
	}
	if c.Auction.DefaultSnipeWindow < 0 || c.Auction.DefaultSnipeWindow > c.Auction.MaxSnipeWindow {
		errs = append(errs, fmt.Errorf(
			"AUCTION_DEFAULT_SNIPE_WINDOW must be between 0 and AUCTION_MAX_SNIPE_WINDOW (%s), got %s",
			c.Auction.MaxSnipeWindow, c.Auction.DefaultSnipeWindow,
		))
	}

	if c.Events.SubscriberBuffer <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_BUFFER_SIZE must be positive, got %d", c.Events.SubscriberBuffer))
	}
	if c.Events.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("EVENT_MAX_RETRIES must be at least 1, got %d", c.Events.MaxRetries))
	}

	if c.Ledger.OpeningBalance < 0 {
		errs = append(errs, fmt.Errorf("LEDGER_OPENING_BALANCE must not be negative, got %.2f", c.Ledger.OpeningBalance))
	}

	if c.RateLimit.BidRPS <= 0 || c.RateLimit.BidBurst <= 0 {
		errs = append(errs, fmt.Errorf(
			"BID_RATE_LIMIT_RPS and BID_RATE_LIMIT_BURST must be positive, got %.2f/%d",
			c.RateLimit.BidRPS, c.RateLimit.BidBurst,
		))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails: call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = Load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Loader
// ──────────────────────────────────────────────────────────────────────────────

// Load reads a .env file when present and builds a Config from the
// environment. It does not validate; see Validate.
func Load() (*Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load()

	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:         getEnv("SERVER_PORT", "8080"),
		Env:          getEnv("ENVIRONMENT", "development"),
		ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
	}
	if ori := os.Getenv("CORS_ALLOWED_ORIGINS"); ori != "" {
		for _, o := range strings.Split(ori, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}

	// ── Database ──────────────────────────────────────────────────────────────
	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             os.Getenv("DATABASE_DSN"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	cfg.Redis = RedisConfig{
		URL:            os.Getenv("REDIS_URL"),
		ChannelPrefix:  getEnv("REDIS_CHANNEL_PREFIX", "auction"),
		PublishTimeout: getDuration("REDIS_PUBLISH_TIMEOUT", 2*time.Second),
	}

	// ── Auction engine ────────────────────────────────────────────────────────
	cfg.Auction = AuctionConfig{
		LockTimeout:        getDuration("AUCTION_LOCK_TIMEOUT", 2*time.Second),
		SweepInterval:      getDuration("AUCTION_SWEEP_INTERVAL", time.Second),
		DefaultSnipeWindow: getDuration("AUCTION_DEFAULT_SNIPE_WINDOW", 2*time.Minute),
		MaxSnipeWindow:     getDuration("AUCTION_MAX_SNIPE_WINDOW", 30*time.Minute),
	}

	// ── Events ────────────────────────────────────────────────────────────────
	buf, err := getInt("EVENT_BUFFER_SIZE", 64)
	if err != nil {
		return nil, fmt.Errorf("EVENT_BUFFER_SIZE: %w", err)
	}
	retries, err := getInt("EVENT_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("EVENT_MAX_RETRIES: %w", err)
	}

	cfg.Events = EventsConfig{
		SubscriberBuffer: buf,
		MaxRetries:       retries,
		RetryBackoff:     getDuration("EVENT_RETRY_BACKOFF", 100*time.Millisecond),
	}

	// ── Ledger ────────────────────────────────────────────────────────────────
	opening, err := getFloat("LEDGER_OPENING_BALANCE", 0)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_OPENING_BALANCE: %w", err)
	}
	cfg.Ledger = LedgerConfig{OpeningBalance: opening}

	// ── Rate limiting ─────────────────────────────────────────────────────────
	rps, err := getFloat("BID_RATE_LIMIT_RPS", 10)
	if err != nil {
		return nil, fmt.Errorf("BID_RATE_LIMIT_RPS: %w", err)
	}
	burst, err := getInt("BID_RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("BID_RATE_LIMIT_BURST: %w", err)
	}
	cfg.RateLimit = RateLimitConfig{BidRPS: rps, BidBurst: burst}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or unparsable.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
