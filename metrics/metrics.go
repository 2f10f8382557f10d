// Package metrics exposes Prometheus collectors for scraping and downloading.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scrape and download paths.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry            *prometheus.Registry
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     prometheus.Histogram
	BytesFetchedTotal   prometheus.Counter
	ImagesFoundTotal    prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
	ScrapesActive       prometheus.Gauge
	DownloadsTotal      *prometheus.CounterVec
	DownloadBytesTotal  prometheus.Counter
	DownloadDuration    prometheus.Histogram
	PostProcessFailures prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_page_requests_total",
			Help: "Total page fetches issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_page_request_duration_seconds",
			Help:    "Page fetch latency including body streaming.",
			Buckets: prometheus.DefBuckets,
		},
	)
	bytesFetched := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_page_bytes_total",
			Help: "Total page body bytes received.",
		},
	)
	imagesFound := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_images_found_total",
			Help: "Total image candidates extracted before de-duplication.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_errors_total",
			Help: "Total errors by type.",
		},
		[]string{"error_type"},
	)
	scrapesActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_scrapes_active",
			Help: "1 while a scrape session is running.",
		},
	)
	downloads := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_downloads_total",
			Help: "Completed image downloads by outcome.",
		},
		[]string{"outcome"},
	)
	downloadBytes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_download_bytes_total",
			Help: "Total image bytes written to disk.",
		},
	)
	downloadDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_download_duration_seconds",
			Help:    "Per-image download latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	postProcess := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_post_process_failures_total",
			Help: "Enhancement failures; the raw download is kept.",
		},
	)

	registry.MustRegister(requests, requestDuration, bytesFetched, imagesFound, errorsTotal,
		scrapesActive, downloads, downloadBytes, downloadDuration, postProcess)

	return &Metrics{
		Registry:            registry,
		RequestsTotal:       requests,
		RequestDuration:     requestDuration,
		BytesFetchedTotal:   bytesFetched,
		ImagesFoundTotal:    imagesFound,
		ErrorsTotal:         errorsTotal,
		ScrapesActive:       scrapesActive,
		DownloadsTotal:      downloads,
		DownloadBytesTotal:  downloadBytes,
		DownloadDuration:    downloadDuration,
		PostProcessFailures: postProcess,
	}
}

// IncRequest increments the page requests counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records a page fetch duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddBytes adds received page bytes.
func (m *Metrics) AddBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesFetchedTotal.Add(float64(n))
}

// AddImages adds extracted candidates.
func (m *Metrics) AddImages(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ImagesFoundTotal.Add(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// SetScraping flips the active-scrape gauge.
func (m *Metrics) SetScraping(active bool) {
	if m == nil {
		return
	}
	if active {
		m.ScrapesActive.Set(1)
		return
	}
	m.ScrapesActive.Set(0)
}

// ObserveDownload records one finished download.
func (m *Metrics) ObserveDownload(outcome string, bytes int64, d time.Duration) {
	if m == nil {
		return
	}
	m.DownloadsTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		m.DownloadBytesTotal.Add(float64(bytes))
	}
	m.DownloadDuration.Observe(d.Seconds())
}

// IncPostProcessFailure counts a failed enhancement.
func (m *Metrics) IncPostProcessFailure() {
	if m == nil {
		return
	}
	m.PostProcessFailures.Inc()
}
