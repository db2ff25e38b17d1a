// Package relay drains the notification outbox to Kafka, one topic per
// event category. Delivery is at-least-once: entries are settled only
// after the broker confirms them, so a crash between produce and settle
// replays the batch.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"examen/internal/notify/metrics"
	"examen/internal/notify/models"
)

// Store reads and settles staged events.
type Store interface {
	Pending(ctx context.Context, limit int) ([]models.OutboxEntry, error)
	MarkDispatched(ctx context.Context, seqs []int64, at time.Time) error
}

// Producer is the slice of the Kafka client the relay produces through.
type Producer interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults
}

// Relay polls the outbox and ships staged events to the broker.
type Relay struct {
	store       Store
	producer    Producer
	topicPrefix string
	interval    time.Duration
	batchSize   int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize caps how many entries one produce round carries.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithNow sets the clock source for dispatch timestamps.
func WithNow(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRelay constructs a Relay producing to topics under the given prefix.
func NewRelay(store Store, producer Producer, topicPrefix string, opts ...Option) *Relay {
	r := &Relay{
		store:       store,
		producer:    producer,
		topicPrefix: topicPrefix,
		interval:    time.Second,
		batchSize:   100,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until the context is cancelled. Drain errors are logged and
// retried on the next tick; unconfirmed entries stay pending.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Drain(ctx); err != nil {
				r.metrics.IncrementDrainFailure()
				r.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

// Drain ships every pending entry once, oldest first, settling each batch
// the broker confirmed before fetching the next.
func (r *Relay) Drain(ctx context.Context) error {
	for {
		entries, err := r.store.Pending(ctx, r.batchSize)
		if err != nil {
			return fmt.Errorf("load pending events: %w", err)
		}
		r.metrics.SetBacklog(len(entries))
		if len(entries) == 0 {
			return nil
		}

		records := make([]*kgo.Record, len(entries))
		for i := range entries {
			rec, err := r.record(entries[i].Event)
			if err != nil {
				return err
			}
			records[i] = rec
		}

		if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
			return fmt.Errorf("produce events: %w", err)
		}

		seqs := make([]int64, len(entries))
		for i := range entries {
			seqs[i] = entries[i].Seq
		}
		if err := r.store.MarkDispatched(ctx, seqs, r.now()); err != nil {
			return fmt.Errorf("settle dispatched events: %w", err)
		}

		for i := range entries {
			r.metrics.IncrementDispatched(entries[i].Event.Category())
		}
		r.logger.DebugContext(ctx, "events dispatched", "count", len(entries))

		if len(entries) < r.batchSize {
			return nil
		}
	}
}

// record builds the Kafka record for one event. The key is the subject so
// one subject's events land in one partition, in order.
func (r *Relay) record(event models.Event) (*kgo.Record, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	return &kgo.Record{
		Topic: Topic(r.topicPrefix, event.Category()),
		Key:   []byte(event.SubjectID),
		Value: value,
	}, nil
}
