package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageEntityStart    Stage = "ENTITY_START"
	StageEntityDone     Stage = "ENTITY_DONE"
	StageEntityError    Stage = "ENTITY_ERROR"
	StageEntitySkipped  Stage = "ENTITY_SKIPPED"
	StageRecoveryDone   Stage = "RECOVERY_DONE"
	StageRunDone        Stage = "RUN_DONE"
	StageRunInterrupted Stage = "RUN_INTERRUPTED"
	StageRunFailed      Stage = "RUN_FAILED"
)

// Event captures one step of a collection run.
type Event struct {
	// RunID identifies the orchestration run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Slug scopes entity and recovery events to one restaurant.
	Slug string
	// Restaurant is the display name from the dataset.
	Restaurant string
	// PlaceID is the external place identifier.
	PlaceID string
	// Records counts reviews kept by a recovery persist.
	Records int64
	// Dropped counts duplicate or keyless reviews removed by recovery.
	Dropped int64
	// Dur captures worker runtime or whole-run duration.
	Dur time.Duration
	// Note carries low-volume context such as error text or an archive URI.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunInterrupted, StageRunFailed:
	case StageEntityStart, StageEntityDone, StageEntityError, StageEntitySkipped, StageRecoveryDone:
		if e.Slug == "" {
			return fmt.Errorf("%s requires slug", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Records < 0 || e.Dropped < 0 {
		return errors.New("record counts must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID decodes a textual run id into the Event form.
func ParseRunID(s string) ([16]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id %q: %w", s, err)
	}
	return UUIDToBytes(id), nil
}
