package pipeline

import (
	"context"
	"time"

	"github.com/openclerk/invoicedesk/internal/model"
)

// Emitter delivers progress events to the originating client. Delivery is
// one-way and best-effort: a failed or slow consumer never blocks the
// pipeline, and events are emitted in program order.
type Emitter interface {
	Emit(ctx context.Context, event model.ProgressEvent)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, model.ProgressEvent) {}

// ChanEmitter forwards events to a channel, dropping them when the channel
// is full or the context is done.
type ChanEmitter struct {
	ch chan model.ProgressEvent
}

// NewChanEmitter creates a ChanEmitter with the given buffer size.
func NewChanEmitter(buffer int) *ChanEmitter {
	return &ChanEmitter{ch: make(chan model.ProgressEvent, buffer)}
}

// Events returns the receive side of the emitter.
func (e *ChanEmitter) Events() <-chan model.ProgressEvent {
	return e.ch
}

// Close closes the event channel. Call only after the pipeline has finished
// emitting.
func (e *ChanEmitter) Close() {
	close(e.ch)
}

func (e *ChanEmitter) Emit(ctx context.Context, event model.ProgressEvent) {
	select {
	case e.ch <- event:
	case <-ctx.Done():
	default:
	}
}

func event(typ model.EventType, msg string) model.ProgressEvent {
	return model.ProgressEvent{Type: typ, Message: msg, Timestamp: time.Now().UTC()}
}

func countsEvent(typ model.EventType, msg string, counts model.OutcomeCounts) model.ProgressEvent {
	return model.ProgressEvent{Type: typ, Message: msg, Counts: &counts, Timestamp: time.Now().UTC()}
}
