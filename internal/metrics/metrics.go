// Package metrics holds the prometheus collectors shared by all components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CrawlsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profilepulse_crawls_total",
		Help: "Profile crawls by outcome",
	}, []string{"result"})

	CrawlDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "profilepulse_crawl_duration_seconds",
		Help:    "Wall time of a profile crawl",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	})

	PostsDiscovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "profilepulse_posts_discovered_total",
		Help: "Post ids found while paginating profiles",
	})

	PostsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "profilepulse_posts_stored_total",
		Help: "Posts scraped from their permalink and persisted",
	})

	DateRepairs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profilepulse_date_repairs_total",
		Help: "Date recovery attempts by outcome",
	}, []string{"result"})

	AnalysisTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profilepulse_analysis_total",
		Help: "Post analyses by outcome",
	}, []string{"result"})

	AnalysisDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "profilepulse_analysis_duration_seconds",
		Help:    "Latency of analysis service calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	QueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "profilepulse_queue_length",
		Help: "Scrape jobs waiting behind the active one",
	})

	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profilepulse_queue_jobs_total",
		Help: "Finished scrape jobs by outcome",
	}, []string{"result"})

	ProgressDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "profilepulse_progress_dropped_total",
		Help: "Progress messages dropped because the consumer fell behind",
	})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profilepulse_http_requests_total",
		Help: "API requests by route and status code",
	}, []string{"route", "code"})
)

// MustRegister registers every collector
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		CrawlsTotal,
		CrawlDuration,
		PostsDiscovered,
		PostsStored,
		DateRepairs,
		AnalysisTotal,
		AnalysisDuration,
		QueueLength,
		JobsTotal,
		ProgressDropped,
		HTTPRequests,
	)
}

// ObserveCrawl records the outcome and duration of one crawl
func ObserveCrawl(result string, start time.Time) {
	CrawlsTotal.WithLabelValues(result).Inc()
	if result != "skipped" {
		CrawlDuration.Observe(time.Since(start).Seconds())
	}
}

// ObserveAnalysis records the outcome of one analysis call
func ObserveAnalysis(model, result string, duration time.Duration) {
	if model == "" {
		model = "unknown"
	}
	AnalysisTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		AnalysisDuration.WithLabelValues(model).Observe(duration.Seconds())
	}
}
