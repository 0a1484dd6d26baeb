// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus metrics for downloads and the API server.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghfolder_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ghfolder_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	filesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghfolder_files_total",
			Help: "Files finished, by outcome",
		},
		[]string{"outcome"},
	)

	failuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghfolder_file_failures_total",
			Help: "Failed files by failure kind",
		},
		[]string{"kind"},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghfolder_bytes_downloaded_total",
			Help: "Total bytes written for downloaded files",
		},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghfolder_retries_total",
			Help: "Retry attempts scheduled, by failure kind",
		},
		[]string{"kind"},
	)

	fileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ghfolder_file_duration_seconds",
			Help:    "Time to download one file, including retries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	quotaWaitSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghfolder_quota_wait_seconds_total",
			Help: "Time spent waiting for API quota",
		},
	)

	quotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghfolder_quota_remaining",
			Help: "Last observed remaining API quota (-1 if unknown)",
		},
	)

	activeJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghfolder_active_jobs",
			Help: "Download jobs currently running in the server",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observe updates download metrics from a progress event.
func Observe(ev ghfolder.ProgressEvent) {
	switch ev.Event {
	case "file_done":
		filesTotal.WithLabelValues(string(ghfolder.Downloaded)).Inc()
		bytesDownloaded.Add(float64(ev.Bytes))
		fileDuration.Observe(ev.Duration.Seconds())
	case "file_skip":
		filesTotal.WithLabelValues(string(ghfolder.Skipped)).Inc()
	case "file_error":
		filesTotal.WithLabelValues(string(ghfolder.Failed)).Inc()
		failuresTotal.WithLabelValues(string(ev.Kind)).Inc()
	case "retry":
		retriesTotal.WithLabelValues(string(ev.Kind)).Inc()
	case "quota_wait":
		quotaWaitSeconds.Add(ev.Duration.Seconds())
	}
	if ev.QuotaRemaining != 0 {
		quotaRemaining.Set(float64(ev.QuotaRemaining))
	}
}

// Wrap returns a ProgressFunc that records metrics and then calls next.
func Wrap(next ghfolder.ProgressFunc) ghfolder.ProgressFunc {
	return func(ev ghfolder.ProgressEvent) {
		Observe(ev)
		if next != nil {
			next(ev)
		}
	}
}

// JobStarted and JobFinished track running server jobs.
func JobStarted()  { activeJobs.Inc() }
func JobFinished() { activeJobs.Dec() }

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware returns HTTP middleware that records request metrics.
// route maps a request to a low-cardinality label; nil uses the URL path.
func Middleware(route func(*http.Request) string, next http.Handler) http.Handler {
	if route == nil {
		route = func(r *http.Request) string { return r.URL.Path }
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, route(r), rw.statusCode, time.Since(start))
	})
}
