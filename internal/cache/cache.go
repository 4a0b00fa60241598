// Package cache holds short-lived copies of dashboard aggregates.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
	"github.com/redis/go-redis/v9"
)

const dashboardKeyPrefix = "mcpledger:dashboard:"

// DashboardCache stores DashboardStats per mcp.
type DashboardCache interface {
	Get(ctx context.Context, mcpID ledger.MCPID) (ledger.DashboardStats, bool, error)
	Set(ctx context.Context, mcpID ledger.MCPID, stats ledger.DashboardStats) error
	Invalidate(ctx context.Context, mcpID ledger.MCPID) error
}

// Nop never stores anything.
type Nop struct{}

// Get always misses.
func (Nop) Get(context.Context, ledger.MCPID) (ledger.DashboardStats, bool, error) {
	return ledger.DashboardStats{}, false, nil
}

// Set discards the value.
func (Nop) Set(context.Context, ledger.MCPID, ledger.DashboardStats) error { return nil }

// Invalidate does nothing.
func (Nop) Invalidate(context.Context, ledger.MCPID) error { return nil }

// Redis keeps dashboard stats as JSON with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig describes the redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedis connects a client for cfg; the connection is established lazily.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("redis ttl must be positive, got %s", cfg.TTL)
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
		MaxRetries:  1,
	})
	return &Redis{client: client, ttl: cfg.TTL}, nil
}

// Ping checks connectivity.
func (cache *Redis) Ping(ctx context.Context) error {
	return cache.client.Ping(ctx).Err()
}

// Close releases the client.
func (cache *Redis) Close() error {
	return cache.client.Close()
}

// Get returns the cached stats when present.
func (cache *Redis) Get(ctx context.Context, mcpID ledger.MCPID) (ledger.DashboardStats, bool, error) {
	raw, err := cache.client.Get(ctx, dashboardKey(mcpID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ledger.DashboardStats{}, false, nil
	}
	if err != nil {
		return ledger.DashboardStats{}, false, err
	}
	stats, err := decodeStats(raw)
	if err != nil {
		return ledger.DashboardStats{}, false, err
	}
	return stats, true, nil
}

// Set stores stats until the TTL expires.
func (cache *Redis) Set(ctx context.Context, mcpID ledger.MCPID, stats ledger.DashboardStats) error {
	payload, err := encodeStats(stats)
	if err != nil {
		return err
	}
	return cache.client.Set(ctx, dashboardKey(mcpID), payload, cache.ttl).Err()
}

// Invalidate drops the cached stats after a wallet or order mutation.
func (cache *Redis) Invalidate(ctx context.Context, mcpID ledger.MCPID) error {
	return cache.client.Del(ctx, dashboardKey(mcpID)).Err()
}

func dashboardKey(mcpID ledger.MCPID) string {
	return fmt.Sprintf("%s%d", dashboardKeyPrefix, mcpID)
}

func encodeStats(stats ledger.DashboardStats) ([]byte, error) {
	return json.Marshal(stats)
}

func decodeStats(raw []byte) (ledger.DashboardStats, error) {
	var stats ledger.DashboardStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return ledger.DashboardStats{}, fmt.Errorf("decode dashboard stats: %w", err)
	}
	return stats, nil
}
