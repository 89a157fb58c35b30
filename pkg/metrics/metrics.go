// Package metrics reports restructuring progress. Components receive a
// Collector through their constructors; Noop is used when metrics are off.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector interface {
	FileProcessed(topic string, records int64, took time.Duration)
	FileFailed(topic string)
	RecordsSkipped(topic string, n int64)
	CacheEvicted(n int)
	OffsetsPersisted(topic string, took time.Duration, err error)
	PassCompleted(s Summary)
}

// Noop discards everything.
type Noop struct{}

func (Noop) FileProcessed(string, int64, time.Duration)    {}
func (Noop) FileFailed(string)                             {}
func (Noop) RecordsSkipped(string, int64)                  {}
func (Noop) CacheEvicted(int)                              {}
func (Noop) OffsetsPersisted(string, time.Duration, error) {}
func (Noop) PassCompleted(Summary)                         {}

// Prometheus exports counters and histograms on a registry of its own.
type Prometheus struct {
	registry *prometheus.Registry

	records        *prometheus.CounterVec
	files          *prometheus.CounterVec
	failedFiles    *prometheus.CounterVec
	skipped        *prometheus.CounterVec
	fileDuration   *prometheus.HistogramVec
	evictions      prometheus.Counter
	persistErrors  *prometheus.CounterVec
	persistLatency *prometheus.HistogramVec
	passes         prometheus.Counter
	lastPass       *prometheus.GaugeVec
}

const namespace = "restructure"

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records written to the target storage",
		}, []string{"topic"}),
		files: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Source files fully processed",
		}, []string{"topic"}),
		failedFiles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_failed_total",
			Help:      "Source files abandoned after an error",
		}, []string{"topic"}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Records skipped because their offsets were already processed",
		}, []string{"topic"}),
		fileDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Time spent restructuring one source file",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"topic"}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Output files closed to stay within the cache size",
		}),
		persistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offsets_persist_errors_total",
			Help:      "Failed attempts to write the processed offsets",
		}, []string{"topic"}),
		persistLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "offsets_persist_seconds",
			Help:      "Time spent writing the processed offsets",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		passes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Completed restructuring passes",
		}),
		lastPass: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass",
			Help:      "Counters of the most recent pass",
		}, []string{"counter"}),
	}
}

func (p *Prometheus) FileProcessed(topic string, records int64, took time.Duration) {
	p.files.WithLabelValues(topic).Inc()
	p.records.WithLabelValues(topic).Add(float64(records))
	p.fileDuration.WithLabelValues(topic).Observe(took.Seconds())
}

func (p *Prometheus) FileFailed(topic string) {
	p.failedFiles.WithLabelValues(topic).Inc()
}

func (p *Prometheus) RecordsSkipped(topic string, n int64) {
	p.skipped.WithLabelValues(topic).Add(float64(n))
}

func (p *Prometheus) CacheEvicted(n int) {
	p.evictions.Add(float64(n))
}

func (p *Prometheus) OffsetsPersisted(topic string, took time.Duration, err error) {
	if err != nil {
		p.persistErrors.WithLabelValues(topic).Inc()
		return
	}
	p.persistLatency.WithLabelValues(topic).Observe(took.Seconds())
}

func (p *Prometheus) PassCompleted(s Summary) {
	p.passes.Inc()
	p.lastPass.WithLabelValues("topics").Set(float64(s.Topics))
	p.lastPass.WithLabelValues("files").Set(float64(s.Files))
	p.lastPass.WithLabelValues("records").Set(float64(s.Records))
	p.lastPass.WithLabelValues("skipped").Set(float64(s.Skipped))
	p.lastPass.WithLabelValues("failed").Set(float64(s.Failed))
	p.lastPass.WithLabelValues("duration_seconds").Set(s.Duration.Seconds())
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// WriteTextfile writes the current values in the node exporter textfile
// format.
func (p *Prometheus) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, p.registry)
}
