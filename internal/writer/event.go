package writer

import (
	"context"
	"time"

	"github.com/qpackt/qpackt/internal/applog"
	"github.com/qpackt/qpackt/internal/metrics"
	"github.com/qpackt/qpackt/internal/store"
)

// EventStore is the subset of the store an event writer needs.
type EventStore interface {
	SaveEvents(ctx context.Context, events []store.Event) error
}

// EventWriter is a fire-and-forget sink for client-reported analytics
// events, batched the same way as RequestLogWriter but with a single
// flush phase (no visit aggregation).
type EventWriter struct {
	ch chan store.Event
}

// NewEventWriter starts the background batch actor and returns a writer
// ready to accept Save calls.
func NewEventWriter(ctx context.Context, db EventStore) *EventWriter {
	w := &EventWriter{ch: make(chan store.Event, channelCapacity)}
	go eventActor(ctx, w.ch, db)
	return w
}

// Save enqueues an event, dropping it if the channel stays full past the
// enqueue timeout.
func (w *EventWriter) Save(e store.Event) {
	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()
	select {
	case w.ch <- e:
	case <-timer.C:
		applog.Error("unable to log event: channel full after %s", enqueueTimeout)
		metrics.WritePipelineDropsInc("event")
	}
}

func eventActor(ctx context.Context, ch <-chan store.Event, db EventStore) {
	buffer := make([]store.Event, 0, batchMax)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			buffer = append(buffer, e)
			buffer = drainEventBatch(ctx, ch, buffer)
			metrics.WritePipelineQueueDepthSet("event", len(ch))
			flushEvents(ctx, db, buffer)
			buffer = buffer[:0]
		}
	}
}

func drainEventBatch(ctx context.Context, ch <-chan store.Event, buffer []store.Event) []store.Event {
	deadline := time.Now().Add(batchWindow)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return buffer
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return buffer
		case e, ok := <-ch:
			timer.Stop()
			if !ok {
				return buffer
			}
			buffer = append(buffer, e)
			if len(buffer) >= batchMax {
				return buffer
			}
		case <-timer.C:
			return buffer
		}
	}
}

func flushEvents(ctx context.Context, db EventStore, events []store.Event) {
	if len(events) == 0 {
		return
	}
	metrics.WritePipelineFlushSizeObserve("event", len(events))
	if err := db.SaveEvents(ctx, events); err != nil {
		applog.Error("unable to save event data: %v", err)
	}
}
