package audit

import (
	"context"
	"log/slog"
)

// Sink receives events after local persistence; used for the optional Kafka
// fan-out. Failures are logged, never propagated.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Worker drains the publisher inbox into the store and optional sink. Audit
// persistence failures are logged and skipped; the trail is best-effort and
// must never take the verification engine down.
type Worker struct {
	store  Store
	inbox  <-chan Event
	sink   Sink
	logger *slog.Logger
}

// NewWorker wires a worker to a store and inbox. sink may be nil.
func NewWorker(store Store, inbox <-chan Event, sink Sink, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, sink: sink, logger: logger}
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.Error("append audit event failed",
					"action", event.Action, "error", err)
				continue
			}
			if w.sink != nil {
				if err := w.sink.Publish(ctx, event); err != nil {
					w.logger.Warn("audit sink publish failed",
						"action", event.Action, "error", err)
				}
			}
		}
	}
}
