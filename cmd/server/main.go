package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/config"
	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/core"
	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/diffclient"
	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/logging"
	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/store/memory"
	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/store/postgres"
	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"diff_service", cfg.Diff.ServiceURL,
		"max_concurrent_diffs", cfg.Import.MaxConcurrentDiffs,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"require_api_key", cfg.Security.RequireAPIKey,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	differ, err := diffclient.New(cfg.Diff.ServiceURL, cfg.Diff.Timeout)
	if err != nil {
		slog.Error("failed to create diff client", "error", err)
		os.Exit(1)
	}

	service, err := core.NewService(store, differ, cfg.Import)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let in-flight diffs finish so their imports are persisted
		if active := service.Limiter().ActiveCount(); active > 0 {
			slog.Info("waiting for diffs to complete", "active", active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("diffs did not complete in time", "error", err)
			} else {
				slog.Info("all diffs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// openStore connects the configured store. The returned func releases it.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (core.Store, func(), error) {
	if cfg.UsesMemory() {
		slog.Warn("using in-memory store, data is lost on restart")
		return memory.New(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return postgres.New(pool), pool.Close, nil
}
