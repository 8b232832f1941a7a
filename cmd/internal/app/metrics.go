package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tide/cmd/internal/kv"
)

// Metrics holds the server's Prometheus instruments on a private registry,
// so tests can build as many App instances as they want without duplicate
// registration panics.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	storeOps      *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
}

// NewMetrics builds the instrument set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tide",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status class.",
		}, []string{"method", "class"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tide",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		storeOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tide",
			Subsystem: "store",
			Name:      "ops_total",
			Help:      "Key-value store operations by op and outcome.",
		}, []string{"op", "outcome"}),
		storeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tide",
			Subsystem: "store",
			Name:      "op_duration_seconds",
			Help:      "Key-value store operation latency.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
	}
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WithHTTPMetrics counts and times every request.
func (m *Metrics) WithHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
		}
		next.ServeHTTP(lrw, r)

		m.httpRequests.WithLabelValues(r.Method, statusClass(lrw.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// InstrumentStore wraps a kv.Store so every operation is counted and timed.
func (m *Metrics) InstrumentStore(next kv.Store) kv.Store {
	return &instrumentedStore{next: next, metrics: m}
}

type instrumentedStore struct {
	next    kv.Store
	metrics *Metrics
}

func (s *instrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	v, err := s.next.Get(ctx, key)
	s.record("get", start, err)
	return v, err
}

func (s *instrumentedStore) Put(ctx context.Context, key string, value []byte, opts kv.PutOptions) error {
	start := time.Now()
	err := s.next.Put(ctx, key, value, opts)
	s.record("put", start, err)
	return err
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.record("delete", start, err)
	return err
}

func (s *instrumentedStore) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := s.next.List(ctx, prefix)
	s.record("list", start, err)
	return keys, err
}

func (s *instrumentedStore) Close() error { return s.next.Close() }

func (s *instrumentedStore) record(op string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, kv.ErrNotFound):
		outcome = "miss"
	default:
		outcome = "error"
	}
	s.metrics.storeOps.WithLabelValues(op, outcome).Inc()
	s.metrics.storeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
