// Package app wires the services, the outbox processor and the HTTP servers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/letterbox/internal/api"
	"github.com/foxzi/letterbox/internal/config"
	"github.com/foxzi/letterbox/internal/delivery"
	"github.com/foxzi/letterbox/internal/metrics"
	"github.com/foxzi/letterbox/internal/ratelimit"
	bolt "go.etcd.io/bbolt"
)

// App is the main application
type App struct {
	config        *config.Config
	services      *Services
	apiServer     *api.Server
	processor     *delivery.Processor
	limiter       *ratelimit.Limiter
	metricsServer *metrics.Server
	collector     *metrics.Collector
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := SetupLogger(cfg.Logging)
	ctx := context.Background()

	// Metrics must be global before services count anything
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metrics.SetGlobal(m)
	}

	services, err := Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open services: %w", err)
	}

	a := &App{
		config:   cfg,
		services: services,
		logger:   logger,
	}

	// Messages left mid-delivery by a crash go back to pending
	recovered, err := services.Outbox.RecoverSending(ctx)
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to recover outbox: %w", err)
	}
	if recovered > 0 {
		logger.Warn("recovered messages stuck in sending", "count", recovered)
	}

	if cfg.Delivery.Enabled {
		sender, err := newSender(cfg.Delivery, logger)
		if err != nil {
			services.Close()
			return nil, err
		}

		a.processor = delivery.NewProcessor(
			services.Outbox,
			sender,
			delivery.ProcessorConfig{
				Workers:         cfg.Delivery.Workers,
				RetryInterval:   cfg.Delivery.RetryInterval,
				MaxRetries:      cfg.Delivery.MaxRetries,
				ProcessInterval: cfg.Delivery.ProcessInterval,
			},
			delivery.IsTemporaryError,
			logger.With("component", "processor"),
		)

		a.limiter, err = newRateLimiter(services.DB, cfg.Delivery.RateLimit)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		if a.limiter != nil {
			a.processor.SetRateLimiter(a.limiter)
			logger.Info("delivery rate limits enabled")
		}
	}

	if m != nil {
		a.collector, err = metrics.NewCollector(
			services.DB,
			m,
			services.Snapshot,
			cfg.Storage.Path,
			cfg.Metrics.FlushInterval,
			logger.With("component", "metrics"),
		)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.metricsServer = metrics.NewServer(m, cfg.Metrics, logger.With("component", "metrics_server"))
	}

	a.apiServer = api.NewServer(api.Deps{
		Audience: services.Audience,
		Archive:  services.Archive,
		Settings: services.Settings,
		Drafts:   services.Drafts,
		Outbox:   services.Outbox,
		Version:  version,
	}, &cfg.API, logger.With("component", "api"))

	return a, nil
}

// newRateLimiter returns nil when no quota is configured
func newRateLimiter(db *bolt.DB, cfg config.RateLimitConfig) (*ratelimit.Limiter, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	rlCfg := &ratelimit.Config{}
	if cfg.Global != nil {
		rlCfg.Global = &ratelimit.LimitConfig{
			MessagesPerHour: cfg.Global.MessagesPerHour,
			MessagesPerDay:  cfg.Global.MessagesPerDay,
		}
	}
	if cfg.RecipientDomain != nil {
		rlCfg.RecipientDomain = &ratelimit.LimitConfig{
			MessagesPerHour: cfg.RecipientDomain.MessagesPerHour,
			MessagesPerDay:  cfg.RecipientDomain.MessagesPerDay,
		}
	}
	if !rlCfg.Enabled() {
		return nil, nil
	}

	return ratelimit.NewLimiter(db, rlCfg)
}

// newSender returns the relay sender, or a log-only sender when no relay is set
func newSender(cfg config.DeliveryConfig, logger *slog.Logger) (delivery.Sender, error) {
	if cfg.SMTP.Addr == "" {
		logger.Warn("no SMTP relay configured, newsletters are only logged")
		return delivery.NewLogSender(logger.With("component", "log_sender")), nil
	}

	hostname, _ := os.Hostname()
	sender, err := delivery.NewSMTPSender(delivery.RelayConfig{
		Addr:     cfg.SMTP.Addr,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		TLS:      cfg.SMTP.TLS,
		Hostname: hostname,
		Timeout:  cfg.SMTP.Timeout,
	}, logger.With("component", "smtp_sender"))
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP sender: %w", err)
	}

	if cfg.DKIM.Enabled {
		signer, err := delivery.NewDKIMSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return nil, fmt.Errorf("failed to load DKIM key: %w", err)
		}
		sender.SetSigner(signer)
		logger.Info("DKIM signing enabled", "domain", cfg.DKIM.Domain, "selector", cfg.DKIM.Selector)
	}

	return sender, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting letterbox",
		"api_addr", a.config.API.ListenAddr,
		"generation_provider", a.config.Generation.Provider,
		"delivery", a.config.Delivery.Enabled,
		"metrics", a.config.Metrics.Enabled,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.processor != nil {
		a.processor.Start(ctx)
	}
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop processor first (stop accepting new work)
	if a.processor != nil {
		a.processor.Stop()
	}
	if a.limiter != nil {
		if err := a.limiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Persists counters, so it runs before the database closes
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	if err := a.services.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
