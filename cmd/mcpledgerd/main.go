package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/mcpledger/internal/server"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagDatabaseURL         = "database-url"
	flagStoreBackend        = "store-backend"
	flagListenAddr          = "listen-addr"
	flagAllowedOrigins      = "allowed-origins"
	flagRedisAddr           = "redis-addr"
	flagRedisPassword       = "redis-password"
	flagRedisDB             = "redis-db"
	flagDashboardCacheTTL   = "dashboard-cache-ttl"
	flagLowBalanceThreshold = "low-balance-threshold"
	flagLogDev              = "log-dev"
	flagEnvFile             = "env-file"
	envPrefix               = "MCPLEDGER"
)

var configFlags = []string{
	flagDatabaseURL,
	flagStoreBackend,
	flagListenAddr,
	flagAllowedOrigins,
	flagRedisAddr,
	flagRedisPassword,
	flagRedisDB,
	flagDashboardCacheTTL,
	flagLowBalanceThreshold,
	flagLogDev,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mcpledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := server.Config{}
	cmd := &cobra.Command{
		Use:           "mcpledgerd",
		Short:         "Wallet ledger for MCP tenants and their pickup partners",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cfg.LogDev)
			if err != nil {
				return fmt.Errorf("zap init: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, cfg, logger)
		},
	}

	cmd.Flags().String(flagDatabaseURL, "", "database url: postgres://..., sqlite://path, or memory (default sqlite:///tmp/mcpledger.db)")
	cmd.Flags().String(flagStoreBackend, "", "postgres access layer: gorm or pgx (default gorm)")
	cmd.Flags().String(flagListenAddr, "", "HTTP listen address (default :8080)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagRedisAddr, "", "redis address for the dashboard cache; empty disables caching")
	cmd.Flags().String(flagRedisPassword, "", "redis password")
	cmd.Flags().Int(flagRedisDB, 0, "redis database number")
	cmd.Flags().Duration(flagDashboardCacheTTL, 0, "dashboard cache TTL (default 30s)")
	cmd.Flags().String(flagLowBalanceThreshold, "", "partner wallet alert threshold (default 500)")
	cmd.Flags().Bool(flagLogDev, false, "use human-readable development logging")
	cmd.Flags().String(flagEnvFile, ".env", "dotenv file loaded before reading the environment when present")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *server.Config) error {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range configFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.StoreBackend = strings.TrimSpace(v.GetString(flagStoreBackend))
	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.AllowedOrigins = server.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.RedisPassword = v.GetString(flagRedisPassword)
	cfg.RedisDB = v.GetInt(flagRedisDB)
	cfg.DashboardCacheTTL = v.GetDuration(flagDashboardCacheTTL)
	cfg.LogDev = v.GetBool(flagLogDev)
	if raw := strings.TrimSpace(v.GetString(flagLowBalanceThreshold)); raw != "" {
		threshold, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", flagLowBalanceThreshold, err)
		}
		cfg.LowBalanceThreshold = threshold
	}

	return cfg.Validate()
}

// loadEnvFile applies the dotenv file without overriding variables already set.
func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
