package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-harvester/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow a run.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageEntityStart, Slug: "a"},
		{RunID: runID, TS: now, Stage: progress.StageEntityDone, Slug: "a", Dur: 40 * time.Second},
		{RunID: runID, TS: now, Stage: progress.StageEntitySkipped, Slug: "b"},
		{RunID: runID, TS: now, Stage: progress.StageEntityStart, Slug: "c"},
		{RunID: runID, TS: now, Stage: progress.StageRecoveryDone, Slug: "a", Records: 17, Dropped: 2},
		{RunID: runID, TS: now, Stage: progress.StageRunInterrupted, Dur: 90 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.entitiesStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.entitiesCompleted.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.entitiesCompleted.WithLabelValues("skipped")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.entitiesRunning))
	require.Equal(t, 17.0, testutil.ToFloat64(sink.recoveredRecords))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.droppedRecords))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("interrupted")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.workerRuntime, "harvest_worker_runtime_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "harvest_run_duration_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
