package controller

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgemetrics_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"route", "status"},
	)

	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgemetrics_submissions_total",
			Help: "Accepted metric submissions per node",
		},
		[]string{"node"},
	)

	recordsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edgemetrics_records_stored_total",
			Help: "Endpoint records written to the store",
		},
	)

	authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgemetrics_auth_failures_total",
			Help: "Rejected private API calls",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(submissionsTotal)
	prometheus.MustRegister(recordsStored)
	prometheus.MustRegister(authFailures)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// countRequests labels requests by the matched route pattern. The mux fills
// in r.Pattern while serving, so it is read after the call returns.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
