// Package updater runs one badge update: fetch the profile page, extract the
// citation count, write the badge document, then fan out to the optional
// mirror, notification and metrics sinks.
package updater

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-badge/internal/badge"
	"github.com/JakeFAU/scholar-badge/internal/extract"
	"github.com/JakeFAU/scholar-badge/internal/metrics"
	"github.com/JakeFAU/scholar-badge/internal/scholar"
)

// UpdatedEvent is the Pub/Sub event attribute for update notices.
const UpdatedEvent = "badge.updated"

// Config controls Updater behavior.
type Config struct {
	BaseURL    string
	Language   string
	UserAgent  string
	OutputFile string
	Topic      string

	PushgatewayURL string
	JobName        string
}

// Updater executes the update pipeline. Only fetcher and store are required.
type Updater struct {
	fetcher    scholar.Fetcher
	store      scholar.BlobStore
	mirror     scholar.BlobStore
	publisher  scholar.Publisher
	ids        scholar.IDGenerator
	strategies []extract.Strategy
	now        func() time.Time
	cfg        Config
	logger     *zap.Logger
}

// Option customizes an Updater.
type Option func(*Updater)

// WithMirror copies the document to a second store after the primary write.
func WithMirror(store scholar.BlobStore) Option {
	return func(u *Updater) { u.mirror = store }
}

// WithPublisher sends an UpdateNotice after the document is written.
func WithPublisher(p scholar.Publisher) Option {
	return func(u *Updater) { u.publisher = p }
}

// WithIDGenerator sets the run ID source.
func WithIDGenerator(ids scholar.IDGenerator) Option {
	return func(u *Updater) { u.ids = ids }
}

// WithStrategies replaces the default extraction chain.
func WithStrategies(strategies []extract.Strategy) Option {
	return func(u *Updater) { u.strategies = strategies }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(u *Updater) { u.now = now }
}

// New constructs an Updater.
func New(fetcher scholar.Fetcher, store scholar.BlobStore, cfg Config, logger *zap.Logger, opts ...Option) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OutputFile == "" {
		cfg.OutputFile = "data.json"
	}
	u := &Updater{
		fetcher:    fetcher,
		store:      store,
		strategies: extract.DefaultStrategies(),
		now:        func() time.Time { return time.Now().UTC() },
		cfg:        cfg,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Result describes a finished run.
type Result struct {
	RunID     string
	Count     scholar.CitationCount
	Strategy  string
	Document  badge.StatsDocument
	URI       string
	MirrorURI string
	// FetchErr is the recovered fetch failure, if any. The document was still
	// written with the error count.
	FetchErr error
}

// Run performs one update for id. Fetch failures are recovered into the
// "error" count; only failures to write the document are returned.
func (u *Updater) Run(ctx context.Context, id scholar.Identifier) (Result, error) {
	res := Result{RunID: u.newRunID()}
	logger := u.logger.With(zap.String("run_id", res.RunID), zap.String("scholar_id", string(id)))
	rec := metrics.NewRecorder()

	url := scholar.ProfileURL(u.cfg.BaseURL, id, u.cfg.Language)
	logger.Info("fetching scholar profile", zap.String("url", url))

	resp, err := u.fetch(ctx, res.RunID, url)
	rec.ObserveFetch(resp.Duration)
	if err != nil {
		logger.Error("fetch scholar profile failed", zap.Error(err))
		res.FetchErr = err
		res.Count = scholar.ErrorCount
		rec.ObserveResult(metrics.ResultFetchError)
	} else {
		extracted := extract.Run(resp.Body, u.strategies)
		res.Count, res.Strategy = extracted.Count, extracted.Strategy
		if extracted.Strategy == extract.StrategyDefault {
			logger.Warn("citation count not found; using default",
				zap.String("citations", string(res.Count)),
				zap.Int("status", resp.StatusCode),
				zap.Int("bytes", len(resp.Body)),
			)
		} else {
			logger.Info("citation count extracted",
				zap.String("citations", string(res.Count)),
				zap.String("strategy", extracted.Strategy),
				zap.Bool("headless", resp.UsedHeadless),
			)
		}
		rec.ObserveStrategy(extracted.Strategy)
		rec.ObserveCitations(res.Count)
		rec.ObserveResult(metrics.ResultOK)
	}

	res.Document = badge.New(res.Count)
	if err := u.write(ctx, &res); err != nil {
		return res, err
	}
	logger.Info("badge document written",
		zap.String("uri", res.URI),
		zap.String("mirror_uri", res.MirrorURI),
		zap.Any("document", res.Document),
	)

	u.notify(ctx, logger, id, res)
	rec.ObserveWritten(u.now())
	u.pushMetrics(ctx, logger, rec, id)
	return res, nil
}

func (u *Updater) fetch(ctx context.Context, runID, url string) (scholar.FetchResponse, error) {
	if u.fetcher == nil {
		return scholar.FetchResponse{}, fmt.Errorf("no fetcher configured")
	}
	return u.fetcher.Fetch(ctx, scholar.FetchRequest{
		RunID:   runID,
		URL:     url,
		Headers: scholar.BrowserHeaders(u.cfg.UserAgent),
	})
}

func (u *Updater) write(ctx context.Context, res *Result) error {
	if u.store == nil {
		return fmt.Errorf("no badge store configured")
	}
	data, err := badge.Marshal(res.Document)
	if err != nil {
		return err
	}
	uri, err := u.store.PutObject(ctx, u.cfg.OutputFile, badge.ContentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("write badge document: %w", err)
	}
	res.URI = uri

	if u.mirror == nil {
		return nil
	}
	mirrorURI, err := u.mirror.PutObject(ctx, u.cfg.OutputFile, badge.ContentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("mirror badge document: %w", err)
	}
	res.MirrorURI = mirrorURI
	return nil
}

func (u *Updater) notify(ctx context.Context, logger *zap.Logger, id scholar.Identifier, res Result) {
	if u.publisher == nil {
		return
	}
	notice := scholar.UpdateNotice{
		RunID:     res.RunID,
		ScholarID: id,
		Message:   res.Count,
		URI:       res.URI,
		MirrorURI: res.MirrorURI,
		UpdatedAt: u.now(),
	}
	msgID, err := u.publisher.Publish(ctx, u.cfg.Topic, notice)
	if err != nil {
		logger.Warn("publish update notice failed", zap.String("topic", u.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("update notice published", zap.String("topic", u.cfg.Topic), zap.String("message_id", msgID))
}

func (u *Updater) pushMetrics(ctx context.Context, logger *zap.Logger, rec *metrics.Recorder, id scholar.Identifier) {
	if u.cfg.PushgatewayURL == "" {
		return
	}
	grouping := map[string]string{"scholar_id": string(id)}
	if err := rec.Push(ctx, u.cfg.PushgatewayURL, u.cfg.JobName, grouping); err != nil {
		logger.Warn("push metrics failed", zap.Error(err))
	}
}

func (u *Updater) newRunID() string {
	if u.ids == nil {
		return ""
	}
	id, err := u.ids.NewID()
	if err != nil {
		u.logger.Warn("generate run id failed", zap.Error(err))
		return ""
	}
	return id
}
