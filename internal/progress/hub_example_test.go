package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCollectedSink struct {
	collected []string
}

func (s *exampleCollectedSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage == StageEntityDone {
			s.collected = append(s.collected, evt.Slug)
		}
	}
	return nil
}

func (s *exampleCollectedSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting entity events and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCollectedSink{}
	hub := NewHub(Config{MaxBatchWait: time.Second}, sink)

	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001"))
	for _, slug := range []string{"le_chat_noir", "bistro_x"} {
		hub.Emit(Event{RunID: runID, TS: time.Unix(0, 0), Stage: StageEntityDone, Slug: slug})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("collected: %v\n", sink.collected)
	// Output:
	// collected: [le_chat_noir bistro_x]
}
