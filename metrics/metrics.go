package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BackupsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelvery",
		Name:      "backups_created_total",
		Help:      "Number of backups created, including regional and cross-account copies",
	}, []string{"kind", "operation"})

	BackupsDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelvery",
		Name:      "backups_deleted_total",
		Help:      "Number of stale backups deleted",
	}, []string{"kind"})

	OperationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelvery",
		Name:      "operation_failures_total",
		Help:      "Number of failed per-entity or per-backup operations",
	}, []string{"kind", "operation"})

	ContinuationsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelvery",
		Name:      "continuations_dispatched_total",
		Help:      "Number of continuations handed to a dispatcher",
	}, []string{"operation", "mode"})

	WaitTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shelvery",
		Name:      "availability_wait_timeouts_total",
		Help:      "Number of availability waits that ran out of time",
	}, []string{"kind", "operation"})
)

func init() {
	prometheus.MustRegister(BackupsCreated, BackupsDeleted, OperationFailures, ContinuationsDispatched, WaitTimeouts)
}

// NewServer creates an HTTP server serving /metrics (Prometheus) and /healthz.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}
