package observability

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the JSON report.
func Handler(metrics *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(metrics.Report())
	})
}

// Mux serves Prometheus metrics on /metrics and the JSON report on
// /debug/stats.
func Mux(metrics *Metrics, collectors *Collectors) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(collectors.Registry(), promhttp.HandlerOpts{}))
	mux.Handle("/debug/stats", Handler(metrics))
	return mux
}
