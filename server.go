package trident

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kanalabs/trident/internal/metrics"
)

// ProxyHandler builds the chi route that forwards every method and path
// to the pool via Forward, then writes the response envelope described
// in spec.md §6: Content-Type and Access-Control-Allow-Origin always set,
// rpc-used set whenever an upstream was selected (not on the empty-pool
// 503); body and status mirror the upstream (or the synthesized failure).
func ProxyHandler(pool *Pool, ttl time.Duration, maxRetries uint32, log *zap.Logger, collectors *metrics.Collectors) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqBody, err := io.ReadAll(r.Body)
		if err != nil {
			reqBody = nil
		}

		parts := RequestParts{
			Method:   r.Method,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
			Header:   r.Header,
		}

		var onRetry func()
		if collectors != nil {
			onRetry = collectors.RetriesTotal.Inc
		}
		result := Forward(r.Context(), pool, parts, reqBody, ttl, maxRetries, log, onRetry)
		elapsed := time.Since(start)

		if result.Position >= 0 {
			RecordLatency(pool, result.Position, elapsed)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if result.UpstreamName != "" {
			w.Header().Set("rpc-used", result.UpstreamName)
		}
		w.WriteHeader(result.StatusCode)
		_, _ = w.Write([]byte(result.Body))

		if collectors != nil {
			collectors.RequestsTotal.WithLabelValues(result.UpstreamName, metrics.SanitizeCode(result.StatusCode)).Inc()
		}
	}
}

// NewRouter assembles the full HTTP surface: a catch-all proxy route and
// a Prometheus scrape endpoint, matching the teacher's pattern of
// mounting a handful of fixed routes on a chi.Router rather than
// net/http's bare ServeMux.
func NewRouter(proxy http.HandlerFunc, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", metricsHandler)
	r.HandleFunc("/*", proxy)
	return r
}

// RefreshPoolGauges updates the pool-size and per-upstream latency
// gauges from the current pool state. Called after every health sweep
// and once at startup; cheap enough not to need a dedicated ticker.
func RefreshPoolGauges(pool *Pool, collectors *metrics.Collectors) {
	if collectors == nil {
		return
	}
	pool.WithActiveRead(func(active []*Upstream) {
		collectors.PoolSize.WithLabelValues("active").Set(float64(len(active)))
		for _, u := range active {
			collectors.UpstreamLatency.WithLabelValues(u.Name).Set(u.Status.Latency)
		}
	})
	pool.WithPovertyRead(func(poverty []*Upstream) {
		collectors.PoolSize.WithLabelValues("poverty").Set(float64(len(poverty)))
	})
}
