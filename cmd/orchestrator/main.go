// Package main is the entry point for the orchestrator service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowmesh/flowmesh/internal/agent"
	"github.com/flowmesh/flowmesh/internal/api"
	"github.com/flowmesh/flowmesh/internal/archive"
	"github.com/flowmesh/flowmesh/internal/audit"
	"github.com/flowmesh/flowmesh/internal/auth"
	"github.com/flowmesh/flowmesh/internal/config"
	"github.com/flowmesh/flowmesh/internal/engine"
	"github.com/flowmesh/flowmesh/internal/execlog"
	"github.com/flowmesh/flowmesh/internal/execstore"
	"github.com/flowmesh/flowmesh/internal/flowstore"
	"github.com/flowmesh/flowmesh/internal/tracing"
	"github.com/flowmesh/flowmesh/internal/validator"
	"github.com/flowmesh/flowmesh/pkg/types"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting orchestrator",
		slog.String("port", cfg.Port),
		slog.String("log_level", cfg.LogLevel),
		slog.String("auth_mode", cfg.AuthMode),
	)

	// Initialize tracing. A failed exporter is not fatal; the service runs
	// without traces.
	tracer, err := tracing.Init(context.Background(), &tracing.Config{
		ServiceName:    "flowmesh-orchestrator",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TraceSampleRate,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing, continuing without", "error", err)
		tracer = nil
	}

	// Initialize workflow store
	var flows flowstore.Store
	switch cfg.WorkflowStore {
	case "redis":
		redisFlows, err := flowstore.NewRedisStore(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Error("failed to connect to Redis for workflows, falling back to memory store", "error", err)
			flows = flowstore.NewMemoryStore()
		} else {
			flows = redisFlows
			logger.Info("using Redis workflow store", slog.String("url", cfg.RedisURL))
		}
	default:
		flows = flowstore.NewMemoryStore()
		logger.Info("using in-memory workflow store")
	}
	flows = flowstore.Instrument(flows)
	defer flows.Close()

	// Initialize execution store
	var execs execstore.Store
	switch cfg.ExecutionStore {
	case "redis":
		redisExecs, err := execstore.NewRedisStore(&execstore.RedisConfig{
			URL:         cfg.RedisURL,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			TTL:         cfg.ExecutionTTL,
			EventMaxLen: cfg.EventMaxLen,
		})
		if err != nil {
			logger.Error("failed to connect to Redis for executions, falling back to memory store", "error", err)
			execs = execstore.NewMemoryStore(&execstore.Config{
				EventMaxLen: cfg.EventMaxLen,
				TTLSeconds:  int64(cfg.ExecutionTTL.Seconds()),
			})
		} else {
			execs = redisExecs
			logger.Info("using Redis execution store", slog.String("url", cfg.RedisURL))
		}
	default:
		execs = execstore.NewMemoryStore(&execstore.Config{
			EventMaxLen: cfg.EventMaxLen,
			TTLSeconds:  int64(cfg.ExecutionTTL.Seconds()),
		})
		logger.Info("using in-memory execution store")
	}
	execs = execstore.Instrument(execs)
	defer execs.Close()

	// Initialize execution log store
	var logs execlog.Store
	switch cfg.LogStore {
	case "redis":
		redisLogs, err := execlog.NewRedisStore(&execlog.RedisConfig{
			URL: cfg.RedisURL,
			TTL: cfg.ExecutionTTL,
		})
		if err != nil {
			logger.Error("failed to connect to Redis for execution logs, falling back to memory store", "error", err)
			logs = execlog.NewMemoryStore()
		} else {
			logs = redisLogs
			logger.Info("using Redis execution log store", slog.String("url", cfg.RedisURL))
		}
	default:
		logs = execlog.NewMemoryStore()
		logger.Info("using in-memory execution log store")
	}
	defer logs.Close()

	// Register agent catalog
	registry := agent.NewRegistry()
	if err := agent.RegisterBuiltins(registry); err != nil {
		logger.Error("failed to register builtin agents", "error", err)
		os.Exit(1)
	}
	logger.Info("agent catalog ready", slog.Any("types", registry.Types()))

	// Initialize the execution engine; events flow into the execution store
	// so SSE subscribers see them live.
	sink := engine.EventSinkFunc(func(ctx context.Context, executionID string, event *types.EventInput) {
		if _, err := execs.AppendEvent(ctx, executionID, event); err != nil {
			logger.Warn("failed to append execution event", "execution_id", executionID, "error", err)
		}
	})
	eng := engine.New(registry, logs, engine.WithEventSink(sink), engine.WithLogger(logger))

	// Initialize validator
	v, err := validator.New()
	if err != nil {
		logger.Error("failed to create validator", "error", err)
		os.Exit(1)
	}

	// Audit trail
	recorder := audit.NewMemoryRecorder(0)

	// Execution archive
	var archiveSvc *archive.Service
	if cfg.ArchiveEnabled {
		svc, err := archive.New(&archive.Config{
			Backend:         cfg.ArchiveBackend,
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			PresignTTL:      cfg.PresignTTL,
		})
		if err != nil {
			logger.Error("failed to initialize archive, archiving disabled", "error", err)
		} else {
			archiveSvc = svc
			logger.Info("archive enabled", slog.String("backend", cfg.ArchiveBackend))
		}
	}

	// Authentication. A misconfigured provider is fatal; silently running
	// open when auth was requested is not acceptable.
	var authMW *auth.Middleware
	var static *auth.StaticProvider
	switch cfg.AuthMode {
	case "static":
		provider, err := auth.NewStaticProvider(cfg.JWTSecret, cfg.JWTTTL, cfg.StaticUsers)
		if err != nil {
			logger.Error("failed to configure static auth", "error", err)
			os.Exit(1)
		}
		static = provider
		authMW = auth.NewMiddleware(provider, &auth.MiddlewareConfig{Enabled: true})
		logger.Info("static authentication enabled", slog.Int("users", len(cfg.StaticUsers)))
	case "oidc":
		provider, err := auth.NewProvider(context.Background(), &auth.Config{
			Issuer:       cfg.OIDCIssuer,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
		})
		if err != nil {
			logger.Error("failed to configure OIDC auth", "error", err)
			os.Exit(1)
		}
		authMW = auth.NewMiddleware(provider, &auth.MiddlewareConfig{Enabled: true})
		logger.Info("OIDC authentication enabled", slog.String("issuer", cfg.OIDCIssuer))
	default:
		logger.Warn("authentication disabled")
	}

	// Initialize API handlers
	handlers := api.NewHandlers(api.Deps{
		Flows:     flows,
		Execs:     execs,
		Engine:    eng,
		Registry:  registry,
		Validator: v,
		Audit:     recorder,
		Archive:   archiveSvc,
		Static:    static,
		Config:    cfg,
		Logger:    logger,
	})
	server := api.NewServer(handlers, authMW)

	// Create HTTP server. WriteTimeout stays off: SSE streams are held
	// open far longer than any sane write deadline.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     server.Router(),
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if tracer != nil {
		if err := tracer.Shutdown(ctx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}

	logger.Info("server stopped")
}
