package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/botpipe/internal/runtime/dispatch"
	errspkg "github.com/drblury/botpipe/internal/runtime/errors"
	"github.com/drblury/botpipe/internal/runtime/notify"
)

// PipelineMetrics exports the pipeline's Prometheus collectors.
type PipelineMetrics struct {
	mu sync.Mutex

	submittedTotal     prometheus.Counter
	droppedTotal       prometheus.Counter
	outcomesTotal      *prometheus.CounterVec
	handlerDuration    *prometheus.HistogramVec
	notificationsTotal *prometheus.CounterVec
	gauges             []prometheus.Collector

	registerer prometheus.Registerer
	registered bool
}

// PipelineGauges supplies the live values sampled at scrape time.
type PipelineGauges struct {
	QueueDepth      func() float64
	InFlightActors  func() float64
	LiveWorkers     func() float64
	RunningHandlers func() float64
}

// newPipelineCounterVec creates a new counter vec with standard botpipe/pipeline namespace.
func newPipelineCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botpipe",
			Subsystem: "pipeline",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newPipelineCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "botpipe",
		Subsystem: "pipeline",
		Name:      name,
		Help:      help,
	})
}

// newPipelineHistogramVec creates a new histogram vec with standard botpipe/pipeline namespace.
func newPipelineHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botpipe",
			Subsystem: "pipeline",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

func newPipelineGaugeFunc(name, help string, fn func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "botpipe",
			Subsystem: "pipeline",
			Name:      name,
			Help:      help,
		},
		fn,
	)
}

// NewPipelineMetrics creates the collectors. Nil gauge funcs are skipped.
func NewPipelineMetrics(registerer prometheus.Registerer, gauges PipelineGauges) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &PipelineMetrics{
		registerer:         registerer,
		submittedTotal:     newPipelineCounter("events_submitted_total", "Total number of events accepted into the ingestion queue"),
		droppedTotal:       newPipelineCounter("events_dropped_total", "Total number of events dropped because the ingestion queue stayed full"),
		outcomesTotal:      newPipelineCounterVec("dispatch_outcomes_total", "Total number of dispatched events by outcome", []string{"outcome"}),
		handlerDuration:    newPipelineHistogramVec("handler_duration_seconds", "Time spent waiting for the handler", prometheus.DefBuckets, []string{"outcome"}),
		notificationsTotal: newPipelineCounterVec("notifications_total", "Total number of acknowledgment attempts by reason and result", []string{"reason", "result"}),
	}

	for _, g := range []struct {
		name, help string
		fn         func() float64
	}{
		{"queue_depth", "Events currently buffered in the ingestion queue", gauges.QueueDepth},
		{"inflight_actors", "Actors with an event currently being handled", gauges.InFlightActors},
		{"live_workers", "Worker goroutines currently running", gauges.LiveWorkers},
		{"running_handlers", "Handler goroutines that have not exited yet", gauges.RunningHandlers},
	} {
		if g.fn != nil {
			m.gauges = append(m.gauges, newPipelineGaugeFunc(g.name, g.help, g.fn))
		}
	}
	return m
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *PipelineMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.submittedTotal,
		m.droppedTotal,
		m.outcomesTotal,
		m.handlerDuration,
		m.notificationsTotal,
	}
	collectors = append(collectors, m.gauges...)

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			// Check if it's already registered (not an error)
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *PipelineMetrics) RecordSubmitted() { m.submittedTotal.Inc() }

func (m *PipelineMetrics) RecordDropped() { m.droppedTotal.Inc() }

// RecordOutcome counts a finished dispatch. Handler durations are only
// observed for dispatches that reached the handler.
func (m *PipelineMetrics) RecordOutcome(outcome dispatch.Outcome, handlerDuration time.Duration) {
	m.outcomesTotal.WithLabelValues(string(outcome)).Inc()
	switch outcome {
	case dispatch.OutcomeHandled, dispatch.OutcomeFailed, dispatch.OutcomeCancelled:
		m.handlerDuration.WithLabelValues(string(outcome)).Observe(handlerDuration.Seconds())
	}
}

// RecordNotification counts an acknowledgment attempt.
func (m *PipelineMetrics) RecordNotification(reason notify.Reason, err error) {
	result := "sent"
	switch {
	case errors.Is(err, errspkg.ErrNotifyThrottled):
		result = "throttled"
	case err != nil:
		result = "failed"
	}
	m.notificationsTotal.WithLabelValues(string(reason), result).Inc()
}

// Hooks returns dispatch hooks feeding these metrics.
func (m *PipelineMetrics) Hooks() dispatch.JobHooks {
	return dispatch.MetricsHooks(m.RecordOutcome, m.RecordNotification)
}
