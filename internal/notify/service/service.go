// Package service implements the transactional outbox publisher. The core
// never talks to the broker directly: services stage events here inside
// their own transaction and the relay ships them after commit.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"examen/internal/notify/models"
	dErrors "examen/pkg/domain-errors"
	"examen/pkg/platform/sentinel"
)

// Store stages events for the relay.
type Store interface {
	Enqueue(ctx context.Context, event models.Event) error
}

// Publisher satisfies the publisher ports of the phase, version and SLA
// services by staging events in the outbox. Enqueue goes through
// tx.Executor, so a Publish issued inside RunInTx only becomes visible if
// the state change it announces commits.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher constructs a Publisher over the given outbox store.
func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish stages the event for dispatch.
func (p *Publisher) Publish(ctx context.Context, event models.Event) error {
	if err := p.store.Enqueue(ctx, event); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Newf(dErrors.CodeConflict, "event %s already staged", event.ID)
		}
		return dErrors.Wrap(err, dErrors.CodePersistence, "stage event")
	}

	p.logger.DebugContext(ctx, "event staged",
		"event_id", event.ID.String(),
		"type", event.Type,
		"subject", event.SubjectID,
	)
	return nil
}
