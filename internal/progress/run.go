package progress

import (
	"time"

	"github.com/google/uuid"
)

// Run stamps events for one phase run. A nil *Run or a Run without an emitter
// is a no-op, so phases can report unconditionally.
type Run struct {
	emitter  Emitter
	id       [16]byte
	phase    Phase
	category string
	started  time.Time
	now      func() time.Time
}

// NewRun binds a run id, phase and category to an emitter.
func NewRun(emitter Emitter, id uuid.UUID, phase Phase, category string) *Run {
	return &Run{
		emitter:  emitter,
		id:       UUIDToBytes(id),
		phase:    phase,
		category: category,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ID returns the run id.
func (r *Run) ID() uuid.UUID {
	if r == nil {
		return uuid.Nil
	}
	return uuid.UUID(r.id)
}

// Start emits RUN_START and marks the run start time.
func (r *Run) Start() {
	if r == nil {
		return
	}
	r.started = r.now()
	r.emit(Event{Stage: StageRunStart, TS: r.started})
}

// Page reports a completed or failed page.
func (r *Run) Page(page int, items int, attempts int, dur time.Duration, err error) {
	evt := Event{Stage: StagePageDone, Page: page, Items: int64(items), Attempts: attempts, Dur: dur}
	if err != nil {
		evt.Stage = StagePageFailed
		evt.Note = err.Error()
	}
	r.emit(evt)
}

// Doc reports a persisted or failed document.
func (r *Run) Doc(docID string, attempts int, dur time.Duration, err error) {
	evt := Event{Stage: StageDocDone, DocID: docID, Attempts: attempts, Dur: dur}
	if err != nil {
		evt.Stage = StageDocFailed
		evt.Note = err.Error()
	}
	r.emit(evt)
}

// Finish emits RUN_DONE, or RUN_ERROR when err is non-nil.
func (r *Run) Finish(err error) {
	if r == nil {
		return
	}
	evt := Event{Stage: StageRunDone}
	if !r.started.IsZero() {
		evt.Dur = r.now().Sub(r.started)
	}
	if err != nil {
		evt.Stage = StageRunError
		evt.Note = err.Error()
	}
	r.emit(evt)
}

func (r *Run) emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.id
	evt.Phase = r.phase
	evt.Category = r.category
	if evt.TS.IsZero() {
		evt.TS = r.now()
	}
	r.emitter.Emit(evt)
}
