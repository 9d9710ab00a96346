package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Publisher buffers events toward the worker. Emission is non-blocking: a
// full inbox drops the event with a log line rather than stalling the
// pipeline's single writer.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
}

// NewPublisher creates a publisher with the given buffer capacity.
func NewPublisher(capacity int, logger *slog.Logger) *Publisher {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Publisher{inbox: make(chan Event, capacity), logger: logger}
}

// Emit enqueues an event, stamping id, timestamp, and category.
func (p *Publisher) Emit(_ context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Category == "" {
		event.Category = CategoryOf(event.Action)
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit inbox full, dropping event",
			"action", event.Action, "subject", event.Subject)
	}
}

// Inbox exposes the buffered channel to the worker.
func (p *Publisher) Inbox() <-chan Event { return p.inbox }
