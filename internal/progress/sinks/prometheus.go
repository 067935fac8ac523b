package sinks

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/runwatch/internal/progress"
	"github.com/JakeFAU/runwatch/internal/runs"
)

// PrometheusSink exports tracker transitions via Prometheus. It owns the
// collectors for tracked runs, status changes, step advances, and the
// observed wall time of finished runs.
type PrometheusSink struct {
	statusChanges *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	runsTracked   prometheus.Gauge
	runElapsed    *prometheus.HistogramVec
	stepAdvances  *prometheus.CounterVec
	anchorWrites  *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runwatch_status_changes_total",
			Help: "Observed run status transitions partitioned by new status.",
		}, []string{"status"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runwatch_runs_finished_total",
			Help: "Runs observed reaching a terminal status partitioned by result.",
		}, []string{"result"}),
		runsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runwatch_runs_running",
			Help: "Runs currently observed in the running status.",
		}),
		runElapsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runwatch_run_elapsed_seconds",
			Help:    "Anchor-relative wall time of finished runs.",
			Buckets: []float64{5, 10, 20, 30, 60, 120, 300, 600, 1800},
		}, []string{"result"}),
		stepAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runwatch_step_advances_total",
			Help: "Times the derived current step advanced, partitioned by the new step index.",
		}, []string{"step"}),
		anchorWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runwatch_anchor_writes_total",
			Help: "Execution anchor writes partitioned by operation.",
		}, []string{"op"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.statusChanges,
		s.runsFinished,
		s.runsTracked,
		s.runElapsed,
		s.stepAdvances,
		s.anchorWrites,
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
	case progress.StageStatusChanged:
		s.statusChanges.WithLabelValues(string(evt.Status)).Inc()
		if evt.Status == runs.StatusRunning && s.tracker.start(evt.RunID) {
			s.runsTracked.Inc()
		}
	case progress.StageRunTerminal:
		result := string(evt.Status)
		s.runsFinished.WithLabelValues(result).Inc()
		if evt.Elapsed > 0 {
			s.runElapsed.WithLabelValues(result).Observe(evt.Elapsed.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsTracked.Dec()
		}
	case progress.StageStepAdvanced:
		s.stepAdvances.WithLabelValues(strconv.Itoa(evt.Step)).Inc()
	case progress.StageAnchorSet:
		s.anchorWrites.WithLabelValues("set").Inc()
	case progress.StageAnchorCleared:
		s.anchorWrites.WithLabelValues("clear").Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[int64]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[int64]struct{})}
}

func (t *runTracker) start(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
