// Package app builds the services one update run needs from configuration
// and owns their lifetime.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-badge/internal/badge"
	"github.com/JakeFAU/scholar-badge/internal/config"
	collyfetcher "github.com/JakeFAU/scholar-badge/internal/fetcher/colly"
	"github.com/JakeFAU/scholar-badge/internal/fetcher/headless"
	"github.com/JakeFAU/scholar-badge/internal/id/uuid"
	pubsubpublisher "github.com/JakeFAU/scholar-badge/internal/publisher/pubsub"
	"github.com/JakeFAU/scholar-badge/internal/scholar"
	"github.com/JakeFAU/scholar-badge/internal/storage/gcs"
	"github.com/JakeFAU/scholar-badge/internal/storage/local"
	"github.com/JakeFAU/scholar-badge/internal/updater"
)

// App holds the services for a run. Close releases them in reverse order.
type App struct {
	Updater *updater.Updater

	logger  *zap.Logger
	closers []func()
}

// New builds the fetcher, stores, publisher and Updater described by cfg.
// Optional GCS and Pub/Sub clients are only dialed when configured. Any
// partially built services are released on error.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{logger: logger}

	fetcher, err := a.buildFetcher(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	store, err := local.New(local.Config{BaseDir: cfg.OutputDir()})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init badge store: %w", err)
	}

	opts := []updater.Option{updater.WithIDGenerator(uuid.New())}

	if cfg.Storage.GCSBucket != "" {
		mirror, client, err := gcs.Open(ctx, gcs.Config{
			Bucket:       cfg.Storage.GCSBucket,
			Prefix:       cfg.Storage.Prefix,
			CacheControl: fmt.Sprintf("public, max-age=%d", badge.CacheSeconds),
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init gcs mirror: %w", err)
		}
		a.onClose(func() {
			if err := client.Close(); err != nil {
				logger.Warn("close gcs client failed", zap.Error(err))
			}
		})
		logger.Info("mirroring badge to gcs", zap.String("bucket", cfg.Storage.GCSBucket))
		opts = append(opts, updater.WithMirror(mirror))
	}

	if cfg.PubSub.TopicName != "" {
		pub, client, err := pubsubpublisher.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, updater.UpdatedEvent)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.onClose(func() {
			if err := client.Close(); err != nil {
				logger.Warn("close pubsub client failed", zap.Error(err))
			}
		})
		a.onClose(pub.Stop)
		logger.Info("publishing update notices", zap.String("topic", cfg.PubSub.TopicName))
		opts = append(opts, updater.WithPublisher(pub))
	}

	a.Updater = updater.New(fetcher, store, updater.Config{
		BaseURL:        cfg.Scholar.BaseURL,
		Language:       cfg.Scholar.Language,
		UserAgent:      cfg.HTTP.UserAgent,
		OutputFile:     cfg.OutputFile(),
		Topic:          cfg.PubSub.TopicName,
		PushgatewayURL: cfg.Metrics.PushgatewayURL,
		JobName:        cfg.Metrics.JobName,
	}, logger, opts...)
	return a, nil
}

func (a *App) buildFetcher(cfg config.Config) (scholar.Fetcher, error) {
	switch cfg.Fetcher.Mode {
	case config.FetcherModeColly, "":
		return collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		}), nil
	case config.FetcherModeHeadless:
		f, err := headless.NewChromedp(headless.Config{
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.onClose(f.Close)
		return f, nil
	default:
		return nil, fmt.Errorf("unknown fetcher mode %q", cfg.Fetcher.Mode)
	}
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases every service in reverse construction order. It is safe to
// call more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
