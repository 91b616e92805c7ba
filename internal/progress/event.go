package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StagePageDone   Stage = "PAGE_DONE"
	StagePageFailed Stage = "PAGE_FAILED"
	StageDocDone    Stage = "DOC_DONE"
	StageDocFailed  Stage = "DOC_FAILED"
)

// Phase names the reconciliation phase a run belongs to.
type Phase string

// Phases that report progress.
const (
	PhaseEnumerate Phase = "enumerate"
	PhaseRead      Phase = "read"
	PhaseReconcile Phase = "reconcile"
	PhaseBackfill  Phase = "backfill"
	PhaseReplay    Phase = "replay"
)

// Event captures a single milestone of a phase run.
type Event struct {
	// RunID uniquely identifies a phase run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	Phase Phase
	// Category is the listing partition the run works on.
	Category string
	// Page is set for page events.
	Page int
	// DocID is set for document events.
	DocID string
	// Items counts identifiers returned by a page.
	Items int64
	// Attempts is how many tries the unit of work took.
	Attempts int
	// Dur captures latency for pages, documents and completed runs.
	Dur time.Duration
	// Note carries low-volume context such as the error kind or message.
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
	case StageRunStart:
		if e.Phase == "" {
			return errors.New("run start requires phase")
		}
	case StageRunDone, StageRunError:
	case StagePageDone, StagePageFailed:
		if e.Category == "" {
			return errors.New("page event requires category")
		}
	case StageDocDone, StageDocFailed:
		if e.DocID == "" {
			return errors.New("document event requires doc id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
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
