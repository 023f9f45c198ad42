package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/review-harvester/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageEntityDone, Slug: "a", Dur: time.Second},
		{RunID: runID, TS: time.Now(), Stage: progress.StageEntityError, Slug: "b", Note: "exit 2"},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.InfoLevel, entries[0].Level)
	require.Equal(t, "a", entries[0].ContextMap()["slug"])
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, "exit 2", entries[1].ContextMap()["note"])
	require.NoError(t, sink.Close(context.Background()))
}
