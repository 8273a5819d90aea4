package app

import (
	"context"
	"fmt"
	"log/slog"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/letterbox/internal/archive"
	"github.com/foxzi/letterbox/internal/config"
	"github.com/foxzi/letterbox/internal/delivery"
	"github.com/foxzi/letterbox/internal/draft"
	"github.com/foxzi/letterbox/internal/generate"
	"github.com/foxzi/letterbox/internal/kv"
	"github.com/foxzi/letterbox/internal/mailchimp"
	"github.com/foxzi/letterbox/internal/metrics"
	"github.com/foxzi/letterbox/internal/render"
	"github.com/foxzi/letterbox/internal/settings"
	"github.com/foxzi/letterbox/internal/storage"
	"github.com/foxzi/letterbox/internal/subscriber"
)

// Services holds the domain services over one opened database. It is used
// by the server and by the CLI commands.
type Services struct {
	Config    *config.Config
	DB        *bolt.DB
	KV        kv.Store
	Audience  *subscriber.Service
	Archive   *archive.Service
	Settings  *settings.Service
	Generator generate.Generator
	Renderer  *render.Renderer
	Drafts    *draft.Manager
	Outbox    *delivery.BoltStorage
	Mailchimp *mailchimp.Client
	Mirror    *mailchimp.Mirror

	logger *slog.Logger
}

// Open opens storage and builds every service
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	s := &Services{Config: cfg, DB: db, logger: logger}
	if err := s.build(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Services) build(ctx context.Context) error {
	cfg := s.Config

	store, err := openSettingsStore(ctx, cfg.Settings, s.DB)
	if err != nil {
		return err
	}
	s.KV = store
	s.Settings = settings.NewService(store, s.logger.With("component", "settings"))

	subStore, err := subscriber.NewBoltStorage(s.DB)
	if err != nil {
		return fmt.Errorf("failed to create subscriber storage: %w", err)
	}
	s.Audience = subscriber.NewService(subStore, s.logger.With("component", "audience"))

	archiveStore, err := archive.NewBoltStorage(s.DB)
	if err != nil {
		return fmt.Errorf("failed to create archive storage: %w", err)
	}
	s.Archive = archive.NewService(archiveStore, s.logger.With("component", "archive"))

	s.Outbox, err = delivery.NewBoltStorage(s.DB)
	if err != nil {
		return fmt.Errorf("failed to create outbox storage: %w", err)
	}

	keys := func(ctx context.Context) (string, error) {
		blob, err := s.Settings.Load(ctx)
		if err != nil {
			return "", err
		}
		return blob.OpenAIAPIKey, nil
	}

	s.Generator, err = generate.New(cfg.Generation, keys, s.logger.With("component", "generator"))
	if err != nil {
		return err
	}

	// Connection tests always use the OpenAI API, whatever the provider
	openai := generate.NewOpenAIGenerator(generate.OpenAIConfig{
		BaseURL: cfg.Generation.OpenAIURL,
		Model:   cfg.Generation.Model,
		Timeout: cfg.Generation.Timeout,
	}, keys, s.logger.With("component", "openai"))
	s.Settings.RegisterChecker(settings.ServiceOpenAI, func(ctx context.Context, blob settings.Blob) error {
		return openai.Ping(ctx, blob.OpenAIAPIKey)
	})

	s.Mailchimp = mailchimp.NewClient(cfg.Mailchimp.BaseURL, cfg.Mailchimp.Timeout, s.logger.With("component", "mailchimp"))
	s.Settings.RegisterChecker(settings.ServiceMailchimp, s.Mailchimp.Checker())
	s.Mirror = mailchimp.NewMirror(s.Mailchimp, s.Settings.Load, s.logger.With("component", "mailchimp_mirror"))
	if cfg.Mailchimp.SyncMembers {
		s.Audience.SetMirror(s.Mirror)
		s.logger.Info("mailchimp member sync enabled")
	}

	// Without a running processor queued mail would never leave
	var outbox draft.Outbox
	if cfg.Delivery.Enabled {
		outbox = s.Outbox
	}

	s.Renderer = render.New()
	s.Drafts = draft.NewManager(&draft.Deps{
		Generator: s.Generator,
		Renderer:  s.Renderer,
		Archive:   s.Archive,
		Audience:  s.Audience,
		Settings:  s.Settings,
		Outbox:    outbox,
		Logger:    s.logger.With("component", "draft"),
	})

	if cfg.ShouldSeedArchive() {
		n, err := s.Archive.Seed(ctx, archive.SampleRecords())
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Info("archive seeded with sample newsletters", "count", n)
		}
	}

	if cfg.SeedAudience {
		n, err := s.Audience.Seed(ctx, subscriber.SampleSubscribers())
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Info("audience seeded with sample subscribers", "count", n)
		}
	}

	return nil
}

// openSettingsStore returns the configured settings backend, sealed when an
// encryption key is set
func openSettingsStore(ctx context.Context, cfg config.SettingsConfig, db *bolt.DB) (kv.Store, error) {
	var store kv.Store
	var err error

	switch cfg.Backend {
	case "memory":
		store = kv.NewMemory()
	case "redis":
		store, err = kv.NewRedis(ctx, kv.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		store, err = kv.NewBolt(db)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}

	if cfg.EncryptionKey != "" {
		sealed, err := kv.NewSealed(store, cfg.EncryptionKey)
		if err != nil {
			store.Close()
			return nil, err
		}
		return sealed, nil
	}
	return store, nil
}

// Snapshot reports the state exported as metrics gauges
func (s *Services) Snapshot(ctx context.Context) (*metrics.Snapshot, error) {
	counts, err := s.Audience.Counts(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := s.Archive.Stats(ctx)
	if err != nil {
		return nil, err
	}
	outbox, err := s.Outbox.Stats(ctx)
	if err != nil {
		return nil, err
	}

	return &metrics.Snapshot{
		Subscribed:      counts.Subscribed,
		Unsubscribed:    counts.Unsubscribed,
		NewslettersSent: stats.TotalSent,
		AvgOpenRate:     stats.AvgOpenRate,
		AvgClickRate:    stats.AvgClickRate,
		OutboxPending:   outbox.Pending,
		OutboxSending:   outbox.Sending,
		OutboxDeferred:  outbox.Deferred,
		OutboxFailed:    outbox.Failed,
	}, nil
}

// Close releases the settings store and the database
func (s *Services) Close() error {
	if s.KV != nil {
		if err := s.KV.Close(); err != nil {
			s.logger.Error("settings store close error", "error", err)
		}
	}
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}
