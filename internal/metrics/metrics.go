// Package metrics exposes the compositing pipeline to prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bryanchriswhite/CutoutCam/internal/compositor"
	"github.com/bryanchriswhite/CutoutCam/internal/pump"
	"github.com/bryanchriswhite/CutoutCam/internal/transition"
)

const namespace = "cutoutcam"

// Sources are read on every scrape
type Sources struct {
	Stats func() pump.Stats
	State func() transition.State
}

// Metrics owns a registry with the pipeline collectors. It is a pump.Sink.
type Metrics struct {
	registry *prometheus.Registry

	composited prometheus.Counter
	skipped    *prometheus.CounterVec
	duration   prometheus.Histogram
	visible    prometheus.Gauge
}

// New registers the pipeline collectors on a fresh registry
func New(src Sources) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		composited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_composited_total",
			Help:      "Frames composited into the output surface.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_skipped_total",
			Help:      "Steps that left the output untouched, by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "composite_duration_seconds",
			Help:      "Time spent compositing one frame.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
		visible: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "visible_pixels",
			Help:      "Pixels kept opaque by the mask in the latest composite.",
		}),
	}

	m.registry.MustRegister(m.composited, m.skipped, m.duration, m.visible)
	m.registry.MustRegister(prometheus.NewGoCollector())

	if src.Stats != nil {
		counter := func(name, help string, get func(pump.Stats) uint64) prometheus.Collector {
			return prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pump",
				Name:      name,
				Help:      help,
			}, func() float64 { return float64(get(src.Stats())) })
		}
		m.registry.MustRegister(
			counter("submitted_total", "Frames submitted to the segmentation engine.", func(s pump.Stats) uint64 { return s.Submitted }),
			counter("stalls_total", "Engine submissions that timed out.", func(s pump.Stats) uint64 { return s.Stalls }),
			counter("failures_total", "Engine submissions that failed.", func(s pump.Stats) uint64 { return s.Failures }),
			counter("discarded_total", "Engine results discarded as stale or late.", func(s pump.Stats) uint64 { return s.Discarded }),
			counter("replaced_total", "Engine results replaced in the mailbox.", func(s pump.Stats) uint64 { return s.Replaced }),
		)
	}

	if src.State != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "revealed",
			Help:      "1 once the live feed has replaced the placeholder.",
		}, func() float64 {
			if src.State() == transition.Revealed {
				return 1
			}
			return 0
		}))
	}

	return m
}

// OnComposite records one pump step
func (m *Metrics) OnComposite(r compositor.Result) {
	if !r.OK() {
		m.skipped.WithLabelValues(string(r.Reason)).Inc()
		return
	}
	m.composited.Inc()
	m.duration.Observe(r.Duration.Seconds())
	m.visible.Set(float64(r.Visible))
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
