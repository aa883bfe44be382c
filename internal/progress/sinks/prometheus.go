package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nas2net/oss-relay/internal/progress"
)

// PrometheusSink exports conversion progress metrics via Prometheus. It owns
// all collectors for tasks started/completed/running and per-site conversion
// counters.
type PrometheusSink struct {
	tasksStarted   prometheus.Counter
	tasksCompleted prometheus.Counter
	tasksRunning   prometheus.Gauge
	taskDuration   prometheus.Histogram

	conversions        *prometheus.CounterVec
	conversionDuration *prometheus.HistogramVec
	mirroredBytes      *prometheus.CounterVec

	tracker *taskTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ossrelay_tasks_started_total",
			Help: "Total conversion tasks that have started.",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ossrelay_tasks_completed_total",
			Help: "Total conversion tasks that have finished.",
		}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ossrelay_tasks_running",
			Help: "Current number of running conversion tasks.",
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ossrelay_task_duration_seconds",
			Help:    "Wall time per completed task.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ossrelay_conversions_total",
			Help: "URL conversions partitioned by site and outcome.",
		}, []string{"site", "status"}),
		conversionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ossrelay_conversion_duration_seconds",
			Help:    "Conversion duration partitioned by outcome.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"status"}),
		mirroredBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ossrelay_mirrored_bytes_total",
			Help: "Bytes mirrored into the object store per site.",
		}, []string{"site"}),
		tracker: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksStarted,
		s.tasksCompleted,
		s.tasksRunning,
		s.taskDuration,
		s.conversions,
		s.conversionDuration,
		s.mirroredBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageTaskStart:
		s.tasksStarted.Inc()
		if s.tracker.start(evt.TaskID) {
			s.tasksRunning.Inc()
		}
	case progress.StageTaskDone:
		s.tasksCompleted.Inc()
		if evt.Dur > 0 {
			s.taskDuration.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.TaskID) {
			s.tasksRunning.Dec()
		}
	case progress.StageConvertDone:
		s.handleConvertEvent(evt)
	}
}

func (s *PrometheusSink) handleConvertEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	s.conversions.WithLabelValues(site, string(evt.Status)).Inc()
	if evt.Dur > 0 {
		s.conversionDuration.WithLabelValues(string(evt.Status)).Observe(evt.Dur.Seconds())
	}
	if evt.Bytes > 0 {
		s.mirroredBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type taskTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newTaskTracker() *taskTracker {
	return &taskTracker{running: make(map[[16]byte]struct{})}
}

func (t *taskTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *taskTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
