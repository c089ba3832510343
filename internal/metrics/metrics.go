// Package metrics records per-run Prometheus metrics and pushes them to a
// Pushgateway. A single-shot job cannot be scraped, so the registry lives for
// one run and is pushed once at the end.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/JakeFAU/scholar-badge/internal/scholar"
)

// Run results recorded by ObserveResult.
const (
	ResultOK         = "ok"
	ResultFetchError = "fetch_error"
)

// Recorder owns the collectors for one run.
type Recorder struct {
	registry      *prometheus.Registry
	citations     prometheus.Gauge
	fetchDuration prometheus.Gauge
	lastRun       prometheus.Gauge
	runs          *prometheus.CounterVec
	strategy      *prometheus.GaugeVec
}

// NewRecorder builds a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		citations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scholar_badge_citations",
			Help: "Citation total extracted on the last run. Absent when the count was not numeric.",
		}),
		fetchDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scholar_badge_fetch_duration_seconds",
			Help: "Duration of the profile page fetch.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scholar_badge_last_run_timestamp_seconds",
			Help: "Unix time the badge document was last written.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scholar_badge_runs_total",
			Help: "Runs by result.",
		}, []string{"result"}),
		strategy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scholar_badge_extract_strategy",
			Help: "Set to 1 for the extraction strategy that produced the count.",
		}, []string{"strategy"}),
	}
	r.registry.MustRegister(r.fetchDuration, r.lastRun, r.runs, r.strategy)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveFetch records how long the fetch took.
func (r *Recorder) ObserveFetch(d time.Duration) {
	r.fetchDuration.Set(d.Seconds())
}

// ObserveResult counts a finished run.
func (r *Recorder) ObserveResult(result string) {
	r.runs.WithLabelValues(result).Inc()
}

// ObserveStrategy marks the strategy that matched.
func (r *Recorder) ObserveStrategy(name string) {
	r.strategy.WithLabelValues(name).Set(1)
}

// ObserveCitations records count when it reads as a number. Grouping
// separators ("1,234") are ignored.
func (r *Recorder) ObserveCitations(count scholar.CitationCount) bool {
	v, ok := ParseCount(count)
	if !ok {
		return false
	}
	if err := r.registry.Register(r.citations); err != nil {
		var dup prometheus.AlreadyRegisteredError
		if !errors.As(err, &dup) {
			return false
		}
	}
	r.citations.Set(v)
	return true
}

// ObserveWritten stamps the time the document was written.
func (r *Recorder) ObserveWritten(t time.Time) {
	r.lastRun.Set(float64(t.Unix()))
}

// Push sends every collector to the Pushgateway at url, replacing the
// previous push for the same job and grouping.
func (r *Recorder) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	pusher := push.New(url, job).Gatherer(r.registry)
	for k, v := range grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// ParseCount converts a citation count to a float.
func ParseCount(count scholar.CitationCount) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(string(count)), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
