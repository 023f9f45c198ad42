package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/review-harvester/internal/progress"
)

// PrometheusSink exports collection progress via Prometheus collectors.
type PrometheusSink struct {
	entitiesStarted   prometheus.Counter
	entitiesCompleted *prometheus.CounterVec
	entitiesRunning   prometheus.Gauge
	workerRuntime     *prometheus.HistogramVec

	recoveredRecords prometheus.Counter
	droppedRecords   prometheus.Counter
	runsCompleted    *prometheus.CounterVec
	runDuration      prometheus.Histogram

	tracker *entityTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		entitiesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_entities_started_total",
			Help: "Worker invocations started.",
		}),
		entitiesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_entities_completed_total",
			Help: "Entities finished partitioned by result (success, error, skipped).",
		}, []string{"result"}),
		entitiesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_entities_running",
			Help: "Worker invocations currently running.",
		}),
		workerRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_worker_runtime_seconds",
			Help:    "Wall time per worker invocation.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"result"}),
		recoveredRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_recovered_records_total",
			Help: "Reviews kept by recovery persists.",
		}),
		droppedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_dropped_records_total",
			Help: "Duplicate or keyless reviews removed by recovery.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_runs_completed_total",
			Help: "Runs finished partitioned by outcome (done, interrupted, failed).",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvest_run_duration_seconds",
			Help:    "Wall time per orchestration run.",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10),
		}),
		tracker: newEntityTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.entitiesStarted,
		s.entitiesCompleted,
		s.entitiesRunning,
		s.workerRuntime,
		s.recoveredRecords,
		s.droppedRecords,
		s.runsCompleted,
		s.runDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	key := entityKey{run: evt.RunID, slug: evt.Slug}
	switch evt.Stage {
	case progress.StageEntityStart:
		s.entitiesStarted.Inc()
		if s.tracker.start(key) {
			s.entitiesRunning.Inc()
		}
	case progress.StageEntityDone:
		s.finishEntity(key, evt, "success")
	case progress.StageEntityError:
		s.finishEntity(key, evt, "error")
	case progress.StageEntitySkipped:
		s.entitiesCompleted.WithLabelValues("skipped").Inc()
	case progress.StageRecoveryDone:
		s.recoveredRecords.Add(float64(evt.Records))
		s.droppedRecords.Add(float64(evt.Dropped))
	case progress.StageRunDone:
		s.finishRun(evt, "done")
	case progress.StageRunInterrupted:
		s.finishRun(evt, "interrupted")
	case progress.StageRunFailed:
		s.finishRun(evt, "failed")
	}
}

func (s *PrometheusSink) finishEntity(key entityKey, evt progress.Event, result string) {
	s.entitiesCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.workerRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(key) {
		s.entitiesRunning.Dec()
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, outcome string) {
	s.runsCompleted.WithLabelValues(outcome).Inc()
	if evt.Dur > 0 {
		s.runDuration.Observe(evt.Dur.Seconds())
	}
	// Interrupted entities never report completion.
	if n := s.tracker.clearRun(evt.RunID); n > 0 {
		s.entitiesRunning.Sub(float64(n))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type entityKey struct {
	run  [16]byte
	slug string
}

type entityTracker struct {
	mu      sync.Mutex
	running map[entityKey]struct{}
}

func newEntityTracker() *entityTracker {
	return &entityTracker{running: make(map[entityKey]struct{})}
}

func (t *entityTracker) start(key entityKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *entityTracker) complete(key entityKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}

func (t *entityTracker) clearRun(run [16]byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key := range t.running {
		if key.run == run {
			delete(t.running, key)
			n++
		}
	}
	return n
}
