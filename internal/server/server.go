// Package server assembles the store, cache, and HTTP API into a running process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/mcpledger/internal/cache"
	"github.com/MarkoPoloResearchLab/mcpledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/mcpledger/internal/oplog"
	"github.com/MarkoPoloResearchLab/mcpledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/mcpledger/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/mcpledger/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/mcpledger/pkg/ledger"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Runtime is a fully wired handler plus the resources it holds.
type Runtime struct {
	Handler http.Handler
	closers []func() error
}

// Close releases the store and cache connections.
func (runtime *Runtime) Close() error {
	var joined error
	for index := len(runtime.closers) - 1; index >= 0; index-- {
		joined = errors.Join(joined, runtime.closers[index]())
	}
	runtime.closers = nil
	return joined
}

// Build opens the configured store and cache and returns the HTTP handler.
func Build(ctx context.Context, cfg Config, logger *zap.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runtime := &Runtime{}

	store, err := openStore(ctx, cfg, runtime)
	if err != nil {
		return nil, err
	}

	dashboardCache, err := openCache(ctx, cfg, logger, runtime)
	if err != nil {
		_ = runtime.Close()
		return nil, err
	}

	metrics := oplog.NewMetrics()
	service, err := ledger.NewService(store, time.Now,
		ledger.WithOperationLogger(oplog.NewFanout(oplog.NewZapLogger(logger), metrics)),
		ledger.WithLowBalanceThreshold(cfg.LowBalanceThreshold),
	)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	router, err := httpapi.NewRouter(httpapi.Options{
		Service:        service,
		Cache:          dashboardCache,
		Metrics:        metrics,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		_ = runtime.Close()
		return nil, err
	}
	runtime.Handler = router
	return runtime, nil
}

func openStore(ctx context.Context, cfg Config, runtime *Runtime) (ledger.Store, error) {
	if cfg.UsesMemoryStore() {
		return memstore.New(), nil
	}
	if cfg.StoreBackend == StoreBackendPGX {
		pool, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		runtime.closers = append(runtime.closers, func() error {
			pool.Close()
			return nil
		})
		return pgstore.New(pool), nil
	}
	db, cleanup, err := gormstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	runtime.closers = append(runtime.closers, cleanup)
	return gormstore.New(db), nil
}

func openCache(ctx context.Context, cfg Config, logger *zap.Logger, runtime *Runtime) (cache.DashboardCache, error) {
	if cfg.RedisAddr == "" {
		return cache.Nop{}, nil
	}
	redisCache, err := cache.NewRedis(cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.DashboardCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	runtime.closers = append(runtime.closers, redisCache.Close)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := redisCache.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable, dashboard reads will fall back to the database", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return redisCache, nil
}

// Run serves the ledger API until ctx is cancelled.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	runtime, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := runtime.Close(); closeErr != nil {
			logger.Warn("resource close error", zap.Error(closeErr))
		}
	}()

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return serve(ctx, listener, runtime.Handler, logger)
}

func serve(ctx context.Context, listener net.Listener, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mcpledgerd listening", zap.String("addr", listener.Addr().String()))
		errCh <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
