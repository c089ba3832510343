package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-badge/internal/config"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Scholar:  config.ScholarConfig{Language: "zh-CN"},
		HTTP:     config.HTTPConfig{TimeoutSeconds: 5},
		Fetcher:  config.FetcherConfig{Mode: config.FetcherModeColly},
		Headless: config.HeadlessConfig{NavTimeoutSec: 5},
		Output:   config.OutputConfig{Path: filepath.Join(t.TempDir(), "out", "data.json")},
		Metrics:  config.MetricsConfig{JobName: "scholar_badge"},
	}
}

func TestNewRunsEndToEnd(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("user"))
		_, _ = w.Write([]byte(`<table id="gsc_rsb_st"><tr><td class="gsc_rsb_std">99</td></tr></table>`))
	}))
	defer srv.Close()

	cfg := baseConfig(t)
	cfg.Scholar.BaseURL = srv.URL + "/citations"

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Updater.Run(context.Background(), "abc")
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "99", res.Document.Message)

	data, err := os.ReadFile(cfg.Output.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message": "99"`)
}

func TestNewUnreachableHostWritesError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := baseConfig(t)
	cfg.Scholar.BaseURL = srv.URL + "/citations"
	srv.Close()

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Updater.Run(context.Background(), "abc")
	require.NoError(t, err)
	require.Error(t, res.FetchErr)
	assert.Equal(t, "error", res.Document.Message)
}

func TestNewHeadlessMode(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Fetcher.Mode = config.FetcherModeHeadless

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Len(t, a.closers, 1)
	a.Close()
	a.Close()
	assert.Empty(t, a.closers)
}

func TestNewUnknownMode(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Fetcher.Mode = "wget"
	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNewBadOutputDir(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	cfg.Output.Path = filepath.Join(file, "data.json")

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}
