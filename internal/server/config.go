package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MemoryDatabaseURL selects the in-process store.
	MemoryDatabaseURL = "memory"

	// StoreBackendGorm serves postgres or sqlite through gorm.
	StoreBackendGorm = "gorm"
	// StoreBackendPGX serves postgres through a native pgx pool.
	StoreBackendPGX = "pgx"

	defaultDatabaseURL       = "sqlite:///tmp/mcpledger.db"
	defaultListenAddr        = ":8080"
	defaultAllowedOrigin     = "http://localhost:8000"
	defaultDashboardCacheTTL = 30 * time.Second
	defaultLowBalance        = 500
)

// Config aggregates runtime settings for mcpledgerd.
type Config struct {
	DatabaseURL         string
	StoreBackend        string
	ListenAddr          string
	AllowedOrigins      []string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	DashboardCacheTTL   time.Duration
	LowBalanceThreshold decimal.Decimal
	LogDev              bool
}

// Validate fills defaults and rejects values the server cannot run with.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.StoreBackend = strings.ToLower(defaultIfEmpty(cfg.StoreBackend, StoreBackendGorm))
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.DashboardCacheTTL == 0 {
		cfg.DashboardCacheTTL = defaultDashboardCacheTTL
	}
	if cfg.LowBalanceThreshold.IsZero() {
		cfg.LowBalanceThreshold = decimal.NewFromInt(defaultLowBalance)
	}
	if cfg.DashboardCacheTTL < 0 {
		return fmt.Errorf("dashboard cache ttl must be positive, got %s", cfg.DashboardCacheTTL)
	}
	if cfg.LowBalanceThreshold.IsNegative() {
		return fmt.Errorf("low balance threshold must not be negative, got %s", cfg.LowBalanceThreshold)
	}
	if cfg.RedisDB < 0 {
		return fmt.Errorf("redis db must not be negative, got %d", cfg.RedisDB)
	}
	switch cfg.StoreBackend {
	case StoreBackendGorm:
	case StoreBackendPGX:
		if !cfg.UsesMemoryStore() && !isPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("store backend %q requires a postgres database url", StoreBackendPGX)
		}
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if !strings.Contains(cfg.ListenAddr, ":") {
		return fmt.Errorf("listen addr %q must include a port", cfg.ListenAddr)
	}
	return nil
}

// UsesMemoryStore reports whether the DSN selects the in-process store.
func (cfg Config) UsesMemoryStore() bool {
	return strings.EqualFold(strings.TrimSpace(cfg.DatabaseURL), MemoryDatabaseURL)
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
