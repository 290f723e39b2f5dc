package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JonMunkholm/formreg/internal/auth"
	"github.com/JonMunkholm/formreg/internal/config"
	"github.com/JonMunkholm/formreg/internal/core"
	"github.com/JonMunkholm/formreg/internal/files"
	"github.com/JonMunkholm/formreg/internal/logging"
	"github.com/JonMunkholm/formreg/internal/schemafile"
	"github.com/JonMunkholm/formreg/internal/storage/memory"
	"github.com/JonMunkholm/formreg/internal/storage/postgres"
	"github.com/JonMunkholm/formreg/internal/web"
	"github.com/joho/godotenv"
)

// backend is the storage the service runs on. The postgres and memory stores
// implement all of these.
type backend interface {
	core.Storage
	core.FileResolver
	core.AuditSink
	core.AuditPruner
	schemafile.Sink
}

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
		"storage", cfg.Database.Driver,
		"files", cfg.Files.Driver,
		"export_max_concurrent", cfg.Export.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	if cfg.Database.SeedFile != "" {
		if err := seed(ctx, store, cfg.Database.SeedFile); err != nil {
			slog.Error("failed to seed storage", "file", cfg.Database.SeedFile, "error", err)
			os.Exit(1)
		}
	}

	var resolver core.FileResolver = store
	if cfg.Files.Driver == config.DriverS3 {
		s3r, err := files.NewS3Resolver(ctx, files.S3Config{
			Region:    cfg.Files.S3Region,
			Bucket:    cfg.Files.S3Bucket,
			Prefix:    cfg.Files.S3Prefix,
			Endpoint:  cfg.Files.S3Endpoint,
			AccessKey: cfg.Files.S3AccessKey,
			SecretKey: cfg.Files.S3SecretKey,
		})
		if err != nil {
			slog.Error("failed to create S3 file resolver", "error", err)
			os.Exit(1)
		}
		resolver = s3r
		slog.Info("resolving files in S3", "bucket", cfg.Files.S3Bucket, "prefix", cfg.Files.S3Prefix)
	}

	service, err := core.NewService(core.Options{
		Storage:       store,
		Files:         resolver,
		Audit:         store,
		LockWait:      cfg.Submission.LockWait,
		ExportLimiter: core.NewLimiter(cfg.Export.MaxConcurrent, cfg.Export.MaxWaitTime),
	})
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	webOpts := web.Options{
		TrustedProxies: cfg.Security.TrustedProxies,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Submission.MaxBodyBytes,
		Parallelism:    cfg.Export.Parallelism,
		PreviewRows:    cfg.Export.PreviewRows,
		EnableCSP:      cfg.Security.EnableCSP,
	}
	if cfg.Rate.Enabled {
		webOpts.RateLimit = cfg.Rate.RequestsPerMinute
		webOpts.ExportRateLimit = cfg.Rate.ExportLimit
	}
	issuer := auth.NewIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	server := web.NewServer(service, issuer, webOpts)

	// Background jobs stop when shutdown begins.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	if cfg.Audit.RetentionDays > 0 {
		go core.RunAuditRetention(jobCtx, store, core.SystemClock, core.RetentionConfig{
			MaxAge:        time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour,
			BatchSize:     cfg.Audit.BatchSize,
			CheckInterval: cfg.Audit.CheckInterval,
		})
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let running exports finish streaming before connections close.
		exports := service.ExportLimiter()
		if active := exports.ActiveCount(); active > 0 {
			slog.Info("waiting for exports to complete", "active", active)
			if err := exports.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("exports did not complete in time", "error", err)
			} else {
				slog.Info("all exports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	err = server.Start(cfg.Server.Addr(), cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}

// seed applies a schema fixture file to store.
func seed(ctx context.Context, store schemafile.Sink, path string) error {
	f, err := schemafile.LoadFile(path)
	if err != nil {
		return err
	}
	sum, err := f.Apply(ctx, store)
	if err != nil {
		return err
	}
	slog.Info("storage seeded", "file", path, "subjects", sum.Subjects, "schemas", sum.Schemas, "files", sum.Files)
	return nil
}

// openStore connects the configured storage driver. The returned func
// releases it.
func openStore(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		slog.Warn("using in-memory storage; nothing survives a restart")
		return memory.New(), func() {}, nil
	}

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Info("database migrations applied")
	}

	slog.Info("connected to database", "max_conns", cfg.Database.MaxConns)
	return postgres.New(pool), pool.Close, nil
}
