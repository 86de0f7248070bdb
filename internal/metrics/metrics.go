// Package metrics exports fetch counters and latencies to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plain-dev/bodydrain/pkg/fetcher"
)

const namespace = "bodydrain"

// Recorder implements fetcher.Observer.
type Recorder struct {
	fetches  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	drained  *prometheus.CounterVec
}

var _ fetcher.Observer = (*Recorder)(nil)

// NewRecorder registers the fetch collectors on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Finished fetches by mode and outcome.",
		}, []string{"mode", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Wall time from request to fully drained body.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		drained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drained_bytes_total",
			Help:      "Bytes returned by successful fetches.",
		}, []string{"mode"}),
	}
	for _, c := range []prometheus.Collector{r.fetches, r.duration, r.drained} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveFetch records one finished fetch.
func (r *Recorder) ObserveFetch(mode fetcher.Mode, outcome string, elapsed time.Duration, bytes int) {
	r.fetches.WithLabelValues(string(mode), outcome).Inc()
	r.duration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	if outcome == fetcher.OutcomeOK {
		r.drained.WithLabelValues(string(mode)).Add(float64(bytes))
	}
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
