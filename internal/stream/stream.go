// Package stream adapts a streaming generation call into an ordered event
// sequence suitable for server-sent events: one start event, zero or more
// chunks, then exactly one terminal event (complete or error). No chunk is
// ever delivered after the terminal event.
package stream

import (
	"context"
	"log/slog"

	"github.com/helpdeck/helpdeck/internal/llm"
)

// EventType discriminates stream events.
type EventType string

const (
	EventStart    EventType = "start"
	EventChunk    EventType = "chunk"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one frame of a streamed answer. Text is set on chunks, Reply on
// complete, Err on error.
type Event struct {
	Type  EventType
	Text  string
	Reply *llm.Reply
	Err   error
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// GenerateFunc runs one streaming generation, forwarding text chunks to cb.
type GenerateFunc func(ctx context.Context, cb llm.StreamFunc) (*llm.Reply, error)

// Manager runs streaming generations and fans their output into event
// channels.
type Manager struct {
	logger *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Run starts generate in a goroutine and returns the event channel. The
// channel is closed after the terminal event. Cancelling ctx stops the
// upstream generation: the chunk callback returns the context error, which
// aborts the provider stream.
func (m *Manager) Run(ctx context.Context, generate GenerateFunc) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		if !m.send(ctx, events, Event{Type: EventStart}) {
			return
		}

		reply, err := generate(ctx, func(cbCtx context.Context, text string) error {
			if text == "" {
				return nil
			}
			if !m.send(cbCtx, events, Event{Type: EventChunk, Text: text}) {
				return cbCtx.Err()
			}
			return nil
		})
		if err != nil {
			m.logger.Warn("stream generation failed", "error", err)
			m.terminate(ctx, events, Event{Type: EventError, Err: err})
			return
		}
		m.terminate(ctx, events, Event{Type: EventComplete, Reply: reply})
	}()

	return events
}

// send delivers ev unless ctx is done first.
func (m *Manager) send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// terminate delivers the terminal event. The consumer contract is to
// drain the channel until close, so a full buffer means the reader is
// merely behind: block until it makes room. A cancelled context is the
// one case where the reader may be gone, so the buffered attempt runs
// first and still lands the frame for a reader that is draining after
// cancel.
func (m *Manager) terminate(ctx context.Context, ch chan<- Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
		m.logger.Warn("consumer gone before terminal event", "type", ev.Type)
	}
}
