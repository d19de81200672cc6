// Package metrics holds the prometheus instruments of the publish pipeline.
//
// Every recording method is safe to call on a nil *Metrics, so components
// built without metrics need no special casing.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

type Metrics struct {
	PublishesTotal     *prometheus.CounterVec // dandipub_publishes_total{result}
	PublishDuration    prometheus.Histogram   // dandipub_publish_duration_seconds
	AssetsPublished    prometheus.Counter     // dandipub_assets_published_total
	BytesDownloaded    prometheus.Counter     // dandipub_bytes_downloaded_total
	BytesUploaded      prometheus.Counter     // dandipub_bytes_uploaded_total
	ValidationFailures prometheus.Counter     // dandipub_validation_failures_total

	gatherer prometheus.Gatherer
}

var (
	defaultOnce     sync.Once
	defaultInstance *Metrics
)

// Init registers the process-wide instruments with the default registry.
// Later calls return the same instance.
func Init() *Metrics {
	defaultOnce.Do(func() {
		defaultInstance = New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return defaultInstance
}

// New registers a fresh set of instruments with registry.
// gatherer is what Handler serves; it is usually the same registry.
func New(registry prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(registry)
	return &Metrics{
		PublishesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dandipub_publishes_total",
			Help: "Publish runs by result",
		}, []string{"result"}),
		PublishDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dandipub_publish_duration_seconds",
			Help:    "Wall time of publish runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		AssetsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "dandipub_assets_published_total",
			Help: "Files transferred into the archive",
		}),
		BytesDownloaded: f.NewCounter(prometheus.CounterOpts{
			Name: "dandipub_bytes_downloaded_total",
			Help: "Bytes read from girder",
		}),
		BytesUploaded: f.NewCounter(prometheus.CounterOpts{
			Name: "dandipub_bytes_uploaded_total",
			Help: "Bytes written to the object store",
		}),
		ValidationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "dandipub_validation_failures_total",
			Help: "Files the validator rejected",
		}),
		gatherer: gatherer,
	}
}

// RecordPublish counts one finished publish run.
func (m *Metrics) RecordPublish(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.PublishesTotal.WithLabelValues(result).Inc()
	m.PublishDuration.Observe(elapsed.Seconds())
}

// RecordAsset counts one transferred file.
func (m *Metrics) RecordAsset(downloaded, uploaded int64) {
	if m == nil {
		return
	}
	m.AssetsPublished.Inc()
	m.BytesDownloaded.Add(float64(downloaded))
	m.BytesUploaded.Add(float64(uploaded))
}

func (m *Metrics) RecordValidationFailure() {
	if m == nil {
		return
	}
	m.ValidationFailures.Inc()
}

// Handler serves the instruments in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
