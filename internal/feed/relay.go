package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// OutboxEntry is one committed record change waiting to be published
type OutboxEntry struct {
	Seq       int64  `db:"seq"`
	JobID     string `db:"job_id"`
	EventName string `db:"event_name"`
	Payload   []byte `db:"payload"`
	CreatedAt int64  `db:"created_at"`
}

// Outbox is the read side of the record store's change log
type Outbox interface {
	PendingChanges(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkPublished(ctx context.Context, seq int64) error
}

// Publisher delivers an encoded change to the broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// RelayConfig controls outbox polling
type RelayConfig struct {
	RoutingKey   string
	BatchSize    int
	PollInterval time.Duration
}

// Relay publishes outbox entries in commit order
type Relay struct {
	outbox    Outbox
	publisher Publisher
	config    RelayConfig
	logger    *slog.Logger
}

// NewRelay creates a relay; zero config values fall back to 100 entries every second
func NewRelay(outbox Outbox, publisher Publisher, config RelayConfig, logger *slog.Logger) *Relay {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		config:    config,
		logger:    logger,
	}
}

// Run polls the outbox until ctx is cancelled
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("Change relay started",
		slog.String("routing_key", r.config.RoutingKey),
		slog.Duration("poll_interval", r.config.PollInterval),
	)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		n, err := r.Flush(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error("Change relay flush failed",
				slog.Int("published", n),
				slog.Any("error", err),
			)
		}

		// keep draining while full pages come back
		if err == nil && n == r.config.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Change relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Flush publishes one page of pending entries. It stops at the first failure so
// that a later change of a record is never published ahead of an earlier one.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	entries, err := r.outbox.PendingChanges(ctx, r.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox: %w", err)
	}

	published := 0
	for _, e := range entries {
		if err := r.publisher.PublishWithRetry(ctx, r.config.RoutingKey, e.Payload, ContentType); err != nil {
			return published, fmt.Errorf("failed to publish change %d of job %s: %w", e.Seq, e.JobID, err)
		}
		if err := r.outbox.MarkPublished(ctx, e.Seq); err != nil {
			return published, fmt.Errorf("failed to mark change %d published: %w", e.Seq, err)
		}
		published++

		r.logger.Debug("Change published",
			slog.Int64("seq", e.Seq),
			slog.String("job_id", e.JobID),
			slog.String("event", e.EventName),
		)
	}

	return published, nil
}
