package updater

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/scholar-badge/internal/badge"
	"github.com/JakeFAU/scholar-badge/internal/extract"
	memorypublisher "github.com/JakeFAU/scholar-badge/internal/publisher/memory"
	"github.com/JakeFAU/scholar-badge/internal/scholar"
	"github.com/JakeFAU/scholar-badge/internal/storage/local"
	memorystorage "github.com/JakeFAU/scholar-badge/internal/storage/memory"
)

type stubFetcher struct {
	body     string
	err      error
	requests []scholar.FetchRequest
}

func (s *stubFetcher) Fetch(_ context.Context, req scholar.FetchRequest) (scholar.FetchResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return scholar.FetchResponse{}, s.err
	}
	return scholar.FetchResponse{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Body:       []byte(s.body),
		Duration:   10 * time.Millisecond,
	}, nil
}

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

const tablePage = `<html><body><table id="gsc_rsb_st"><tr><td class="gsc_rsb_std"> 321 </td></tr></table>` +
	`<script>{"citedby":42}</script></body></html>`

func decodeStored(t *testing.T, store *memorystorage.BlobStore, path string) map[string]any {
	t.Helper()
	obj, ok := store.Get(path)
	require.True(t, ok, "document %s not written", path)
	assert.Equal(t, badge.ContentType, obj.ContentType)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(obj.Data, &doc))
	return doc
}

func TestRunWritesExtractedCount(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{body: tablePage}
	store := memorystorage.NewBlobStore()
	core, logs := observer.New(zap.InfoLevel)
	u := New(fetcher, store, Config{UserAgent: "agent"}, zap.New(core), WithIDGenerator(fixedIDs{"run-1"}))

	res, err := u.Run(context.Background(), "abc")
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, scholar.CitationCount("321"), res.Count)
	assert.Equal(t, extract.StrategyTable, res.Strategy)
	assert.Equal(t, "memory://data.json", res.URI)
	assert.NoError(t, res.FetchErr)

	require.Len(t, fetcher.requests, 1)
	assert.Equal(t, "https://scholar.google.com/citations?user=abc&hl=zh-CN", fetcher.requests[0].URL)
	assert.Equal(t, "agent", fetcher.requests[0].Headers.Get("User-Agent"))
	assert.Equal(t, "run-1", fetcher.requests[0].RunID)

	doc := decodeStored(t, store, "data.json")
	assert.Equal(t, "321", doc["message"])

	extracted := logs.FilterMessage("citation count extracted").All()
	require.Len(t, extracted, 1)
	assert.Equal(t, "table", extracted[0].ContextMap()["strategy"])
	assert.Equal(t, "run-1", extracted[0].ContextMap()["run_id"])
}

func TestRunFetchErrorWritesSentinel(t *testing.T) {
	t.Parallel()

	boom := errors.New("dial tcp: connection refused")
	store := memorystorage.NewBlobStore()
	pub := memorypublisher.New()
	core, logs := observer.New(zap.InfoLevel)
	u := New(&stubFetcher{err: boom}, store, Config{Topic: "badge-updates"}, zap.New(core), WithPublisher(pub))

	res, err := u.Run(context.Background(), "abc")
	require.NoError(t, err)
	assert.ErrorIs(t, res.FetchErr, boom)
	assert.Equal(t, scholar.ErrorCount, res.Count)

	doc := decodeStored(t, store, "data.json")
	assert.Equal(t, map[string]any{
		"schemaVersion": float64(1),
		"label":         "citations",
		"message":       "error",
		"color":         "blue",
		"cacheSeconds":  float64(86400),
		"logoSvg":       badge.LogoSVG,
	}, doc)

	assert.Equal(t, 1, logs.FilterMessage("fetch scholar profile failed").Len())

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	notice, ok := msgs[0].Payload.(scholar.UpdateNotice)
	require.True(t, ok)
	assert.Equal(t, scholar.ErrorCount, notice.Message)
}

func TestRunDefaultsToZero(t *testing.T) {
	t.Parallel()

	store := memorystorage.NewBlobStore()
	core, logs := observer.New(zap.InfoLevel)
	u := New(&stubFetcher{body: "<html><body>blocked</body></html>"}, store, Config{}, zap.New(core))

	res, err := u.Run(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, scholar.DefaultCount, res.Count)
	assert.Equal(t, extract.StrategyDefault, res.Strategy)
	assert.Equal(t, "0", decodeStored(t, store, "data.json")["message"])
	assert.Equal(t, 1, logs.FilterMessage("citation count not found; using default").Len())
}

func TestRunWriteFailureIsReturned(t *testing.T) {
	t.Parallel()

	diskFull := errors.New("no space left on device")
	pub := memorypublisher.New()
	u := New(&stubFetcher{body: tablePage}, memorystorage.NewFailingBlobStore(diskFull), Config{}, nil,
		WithPublisher(pub))

	_, err := u.Run(context.Background(), "abc")
	require.ErrorIs(t, err, diskFull)
	assert.Empty(t, pub.Messages(), "nothing is announced when the write fails")
}

func TestRunMirrors(t *testing.T) {
	t.Parallel()

	primary := memorystorage.NewBlobStore()
	mirror := memorystorage.NewBlobStore()
	u := New(&stubFetcher{body: tablePage}, primary, Config{OutputFile: "citations.json"}, nil, WithMirror(mirror))

	res, err := u.Run(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "memory://citations.json", res.MirrorURI)

	a, _ := primary.Get("citations.json")
	b, _ := mirror.Get("citations.json")
	assert.Equal(t, a.Data, b.Data)
}

func TestRunMirrorFailureIsReturned(t *testing.T) {
	t.Parallel()

	primary := memorystorage.NewBlobStore()
	u := New(&stubFetcher{body: tablePage}, primary, Config{}, nil,
		WithMirror(memorystorage.NewFailingBlobStore(errors.New("403"))))

	_, err := u.Run(context.Background(), "abc")
	require.Error(t, err)
	assert.Equal(t, 1, primary.Len(), "local document is written before the mirror")
}

func TestRunPublishFailureIsLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	u := New(&stubFetcher{body: tablePage}, memorystorage.NewBlobStore(), Config{Topic: "t"}, zap.New(core),
		WithPublisher(memorypublisher.NewFailing(errors.New("unavailable"))))

	_, err := u.Run(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("publish update notice failed").Len())
}

func TestRunPublishesNotice(t *testing.T) {
	t.Parallel()

	stamp := time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC)
	pub := memorypublisher.New()
	u := New(&stubFetcher{body: tablePage}, memorystorage.NewBlobStore(), Config{Topic: "badge-updates"}, nil,
		WithPublisher(pub), WithIDGenerator(fixedIDs{"run-9"}), WithClock(func() time.Time { return stamp }))

	_, err := u.Run(context.Background(), "abc")
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "badge-updates", msgs[0].Topic)
	assert.Equal(t, scholar.UpdateNotice{
		RunID:     "run-9",
		ScholarID: "abc",
		Message:   "321",
		URI:       "memory://data.json",
		UpdatedAt: stamp,
	}, msgs[0].Payload)
}

func TestRunPushesMetrics(t *testing.T) {
	t.Parallel()

	var (
		mu         sync.Mutex
		path, body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		path, body = r.URL.Path, string(data)
	}))
	defer srv.Close()

	u := New(&stubFetcher{body: tablePage}, memorystorage.NewBlobStore(),
		Config{PushgatewayURL: srv.URL, JobName: "scholar_badge"}, nil)

	_, err := u.Run(context.Background(), "abc")
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(path, "/metrics/job/scholar_badge"), path)
	assert.Contains(t, body, "scholar_badge_citations")
}

func TestRunCustomStrategies(t *testing.T) {
	t.Parallel()

	store := memorystorage.NewBlobStore()
	u := New(&stubFetcher{body: tablePage}, store, Config{}, nil, WithStrategies([]extract.Strategy{
		{Name: "fixed", Find: func(*extract.Page) (string, bool) { return "77", true }},
	}))

	res, err := u.Run(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "fixed", res.Strategy)
	assert.Equal(t, "77", decodeStored(t, store, "data.json")["message"])
}

func TestRunRoundTripOnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	u := New(&stubFetcher{body: `<script>{"citedby":42}</script>`}, store, Config{}, nil)
	res, err := u.Run(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, extract.StrategyPattern, res.Strategy)

	data, err := os.ReadFile(filepath.Join(dir, "data.json"))
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Len(t, fields, 6)

	var doc badge.StatsDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, badge.New("42"), doc)
}
