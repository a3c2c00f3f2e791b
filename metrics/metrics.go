// Package metrics records per-operation storage metrics and serves them in
// the Prometheus text format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/pim-storage/interfaces"
)

const prefix = "pim_storage_"

// MetricsServer exposes the default metrics set on /metrics.
type MetricsServer struct {
	srv *http.Server
}

func New(packageName, addr string) (*MetricsServer, error) {
	mux := chi.NewRouter()
	mux.Get("/metrics", Handler)

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// Handler writes all metrics, including process metrics.
func Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(w, true)
}

// ResultLabel is "ok" for nil, the storage error variant when there is one
// and "error" otherwise.
func ResultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var se *interfaces.Error
	if errors.As(err, &se) {
		return se.Kind.String()
	}
	var de *interfaces.DavError
	if errors.As(err, &de) {
		return de.Kind.String()
	}
	return "error"
}

// RecordOperation counts one storage call and its latency.
func RecordOperation(kind interfaces.StorageKind, op string, err error, start time.Time) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`%soperations_total{kind=%q,op=%q,result=%q}`,
		prefix, kind, op, ResultLabel(err))).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`%soperation_duration_seconds{kind=%q,op=%q}`,
		prefix, kind, op)).UpdateDuration(start)
}

// RecordListing tracks the number of items returned by List.
func RecordListing(name string, n int) {
	metrics.GetOrCreateHistogram(fmt.Sprintf(`%slisting_size{storage=%q}`, prefix, name)).Update(float64(n))
}
