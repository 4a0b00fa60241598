package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
	"github.com/shopspring/decimal"
)

func TestNopAlwaysMisses(test *testing.T) {
	test.Parallel()
	var cache DashboardCache = Nop{}
	ctx := context.Background()
	if err := cache.Set(ctx, 1, ledger.DashboardStats{WalletBalance: decimal.NewFromInt(5)}); err != nil {
		test.Fatalf("set: %v", err)
	}
	_, found, err := cache.Get(ctx, 1)
	if err != nil || found {
		test.Fatalf("expected miss, got found=%v err=%v", found, err)
	}
	if err := cache.Invalidate(ctx, 1); err != nil {
		test.Fatalf("invalidate: %v", err)
	}
}

func TestNewRedisValidatesConfig(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		cfg     RedisConfig
		wantErr bool
	}{
		{name: "missing addr", cfg: RedisConfig{TTL: time.Second}, wantErr: true},
		{name: "zero ttl", cfg: RedisConfig{Addr: "localhost:6379"}, wantErr: true},
		{name: "valid", cfg: RedisConfig{Addr: "localhost:6379", TTL: time.Second}},
	}
	for _, testCase := range testCases {
		cache, err := NewRedis(testCase.cfg)
		if testCase.wantErr {
			if err == nil {
				test.Fatalf("%s: expected error", testCase.name)
			}
			continue
		}
		if err != nil {
			test.Fatalf("%s: %v", testCase.name, err)
		}
		_ = cache.Close()
	}
}

func TestRedisReportsUnreachableServer(test *testing.T) {
	test.Parallel()
	cache, err := NewRedis(RedisConfig{Addr: "127.0.0.1:1", TTL: time.Second})
	if err != nil {
		test.Fatalf("new redis: %v", err)
	}
	defer func() { _ = cache.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, found, err := cache.Get(ctx, 1); err == nil || found {
		test.Fatalf("expected get to fail against a closed port, got found=%v err=%v", found, err)
	}
	if err := cache.Set(ctx, 1, ledger.DashboardStats{}); err == nil {
		test.Fatalf("expected set to fail against a closed port")
	}
}

func TestDashboardKeyIsTenantScoped(test *testing.T) {
	test.Parallel()
	if dashboardKey(7) != "mcpledger:dashboard:7" {
		test.Fatalf("unexpected key %q", dashboardKey(7))
	}
	if dashboardKey(7) == dashboardKey(70) {
		test.Fatalf("expected distinct keys")
	}
}

const redisAddrEnv = "MCPLEDGER_TEST_REDIS_ADDR"

func TestStatsPayloadRoundTrip(test *testing.T) {
	test.Parallel()
	stats := sampleStats()
	payload, err := encodeStats(stats)
	if err != nil {
		test.Fatalf("encode: %v", err)
	}
	decoded, err := decodeStats(payload)
	if err != nil {
		test.Fatalf("decode: %v", err)
	}
	assertStats(test, stats, decoded)
	if _, err := decodeStats([]byte("not json")); err == nil {
		test.Fatalf("expected decode error for garbage payload")
	}
}

func TestRedisStoresExpiresAndInvalidates(test *testing.T) {
	addr := os.Getenv(redisAddrEnv)
	if addr == "" {
		test.Skipf("%s not set", redisAddrEnv)
	}
	ttl := time.Second
	cache, err := NewRedis(RedisConfig{Addr: addr, TTL: ttl})
	if err != nil {
		test.Fatalf("new redis: %v", err)
	}
	defer func() { _ = cache.Close() }()
	ctx := context.Background()
	if err := cache.Ping(ctx); err != nil {
		test.Fatalf("ping: %v", err)
	}
	mcpID := ledger.MCPID(time.Now().UnixNano())
	test.Cleanup(func() { _ = cache.Invalidate(context.Background(), mcpID) })

	if _, found, err := cache.Get(ctx, mcpID); err != nil || found {
		test.Fatalf("expected initial miss, got found=%v err=%v", found, err)
	}
	stats := sampleStats()
	if err := cache.Set(ctx, mcpID, stats); err != nil {
		test.Fatalf("set: %v", err)
	}
	cached, found, err := cache.Get(ctx, mcpID)
	if err != nil || !found {
		test.Fatalf("expected hit, got found=%v err=%v", found, err)
	}
	assertStats(test, stats, cached)

	if err := cache.Invalidate(ctx, mcpID); err != nil {
		test.Fatalf("invalidate: %v", err)
	}
	if _, found, err := cache.Get(ctx, mcpID); err != nil || found {
		test.Fatalf("expected miss after invalidate, got found=%v err=%v", found, err)
	}

	if err := cache.Set(ctx, mcpID, stats); err != nil {
		test.Fatalf("set: %v", err)
	}
	time.Sleep(ttl + 500*time.Millisecond)
	if _, found, err := cache.Get(ctx, mcpID); err != nil || found {
		test.Fatalf("expected miss after ttl, got found=%v err=%v", found, err)
	}
}

func sampleStats() ledger.DashboardStats {
	return ledger.DashboardStats{
		WalletBalance:    decimal.RequireFromString("12345678901.12345678"),
		ActivePartners:   3,
		InactivePartners: 1,
		OrdersByStatus: map[ledger.OrderStatus]int{
			ledger.OrderStatusPending:   2,
			ledger.OrderStatusCompleted: 5,
		},
		TodayRevenue: decimal.RequireFromString("750.5"),
	}
}

func assertStats(test *testing.T, want ledger.DashboardStats, got ledger.DashboardStats) {
	test.Helper()
	if !got.WalletBalance.Equal(want.WalletBalance) || !got.TodayRevenue.Equal(want.TodayRevenue) {
		test.Fatalf("amounts changed: want %s/%s, got %s/%s", want.WalletBalance, want.TodayRevenue, got.WalletBalance, got.TodayRevenue)
	}
	if got.ActivePartners != want.ActivePartners || got.InactivePartners != want.InactivePartners {
		test.Fatalf("partner counts changed: %+v", got)
	}
	if len(got.OrdersByStatus) != len(want.OrdersByStatus) {
		test.Fatalf("orders by status changed: %v", got.OrdersByStatus)
	}
	for status, count := range want.OrdersByStatus {
		if got.OrdersByStatus[status] != count {
			test.Fatalf("expected %d %s orders, got %d", count, status, got.OrdersByStatus[status])
		}
	}
}
