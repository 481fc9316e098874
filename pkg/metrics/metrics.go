package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecordsMerged counts records emitted to the output sink.
	RecordsMerged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streammerge_records_merged_total",
		Help: "Records emitted to the output sink.",
	})
	// BytesWritten counts raw record bytes written to the sink.
	BytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streammerge_bytes_written_total",
		Help: "Raw record bytes written to the output sink.",
	})
	// BytesFetched counts compressed bytes downloaded across all sources.
	BytesFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streammerge_bytes_fetched_total",
		Help: "Compressed bytes fetched from all stores.",
	})
	// FetchOps counts store operations labeled by result.
	FetchOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streammerge_fetch_ops_total",
		Help: "Store read operations labeled by result.",
	}, []string{"result"})
	// SourceErrors counts sources lost to each error kind.
	SourceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streammerge_source_errors_total",
		Help: "Sources terminated early, labeled by error kind.",
	}, []string{"kind"})
	// SortViolations counts records observed out of order within a source.
	SortViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streammerge_sort_violations_total",
		Help: "Records whose timestamp regressed within their source.",
	})
	// ActiveSources tracks sources still contributing to the merge.
	ActiveSources = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streammerge_active_sources",
		Help: "Sources not yet exhausted.",
	})
)

func init() {
	prometheus.MustRegister(RecordsMerged, BytesWritten, BytesFetched, FetchOps, SourceErrors, SortViolations, ActiveSources)
}

// ObserveFetch is the fetcher's OnOp hook.
func ObserveFetch(op string, bytes int, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	FetchOps.WithLabelValues(result).Inc()
	if err == nil {
		BytesFetched.Add(float64(bytes))
	}
}

// Serve exposes /metrics on addr until ctx is cancelled. addr may be empty
// to disable the endpoint.
func Serve(ctx context.Context, addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
}
