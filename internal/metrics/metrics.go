// Package metrics provides Prometheus metrics for the stash client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stash_http_requests_total",
			Help: "Total number of backend HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stash_http_request_duration_seconds",
			Help:    "Backend HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Transfer metrics
	uploadItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stash_upload_items_total",
			Help: "Total upload items by result",
		},
		[]string{"result"},
	)

	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stash_upload_bytes_total",
			Help: "Total bytes of successfully uploaded files",
		},
	)

	downloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stash_download_bytes_total",
			Help: "Total bytes downloaded from the backend",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stash_auth_attempts_total",
			Help: "Total login/register attempts",
		},
		[]string{"kind", "result"},
	)

	forcedLogoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stash_forced_logouts_total",
			Help: "Sessions ended by the backend rejecting the token",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records a backend request metric. Status 0 means the
// request failed before a response arrived.
func RecordHTTPRequest(method string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	httpRequestsTotal.WithLabelValues(method, label).Inc()
	httpRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordUpload records the outcome of one upload item.
func RecordUpload(bytes int64, success bool) {
	result := "success"
	if !success {
		result = "error"
	} else {
		uploadBytesTotal.Add(float64(bytes))
	}
	uploadItemsTotal.WithLabelValues(result).Inc()
}

// RecordUploadRejected records a candidate refused by the client-side policy.
func RecordUploadRejected() {
	uploadItemsTotal.WithLabelValues("rejected").Inc()
}

// RecordDownload records downloaded content bytes.
func RecordDownload(bytes int64) {
	downloadBytesTotal.Add(float64(bytes))
}

// RecordAuthAttempt records a login or register attempt.
func RecordAuthAttempt(kind string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(kind, result).Inc()
}

// RecordForcedLogout records a logout caused by a 401 or a rejected token.
func RecordForcedLogout() {
	forcedLogoutsTotal.Inc()
}

// Transport records request count and latency for every backend call.
type Transport struct {
	Next http.RoundTripper
}

// NewTransport wraps next (http.DefaultTransport when nil).
func NewTransport(next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{Next: next}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Next.RoundTrip(req)
	status := 0
	if err == nil {
		status = resp.StatusCode
	}
	RecordHTTPRequest(req.Method, status, time.Since(start))
	return resp, err
}
