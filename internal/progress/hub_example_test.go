package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	var total int
	sink := sinkFunc(func(_ context.Context, batch []Event) error {
		total += len(batch)
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		RunID: UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		TS:    time.Unix(0, 0),
		Stage: StageRunStart,
		Phase: PhaseBackfill,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that totals listed identifiers.
func ExampleSink() {
	var items int64
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			items += evt.Items
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     2,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, capture)

	hub.Emit(Event{
		RunID:    UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000002")),
		TS:       time.Unix(0, 0),
		Stage:    StagePageDone,
		Category: "10001",
		Page:     1,
		Items:    20,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("identifiers listed: %d\n", items)
	// Output:
	// identifiers listed: 20
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
