package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/cuongbtq/textjob/internal/feed"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ConsumerConfig controls batching of feed deliveries
type ConsumerConfig struct {
	BatchSize   int
	BatchWindow time.Duration
}

// Consumer reads change-feed deliveries, batches them and hands them to a Dispatcher
type Consumer struct {
	dispatcher  *Dispatcher
	decoder     feed.Decoder
	deadLetters DeadLetterSink
	config      ConsumerConfig
	logger      *slog.Logger
}

// NewConsumer applies the default batch of 5 deliveries within one second
func NewConsumer(dispatcher *Dispatcher, decoder feed.Decoder, config ConsumerConfig) *Consumer {
	if config.BatchSize <= 0 {
		config.BatchSize = 5
	}
	if config.BatchWindow <= 0 {
		config.BatchWindow = time.Second
	}
	return &Consumer{
		dispatcher:  dispatcher,
		decoder:     decoder,
		deadLetters: dispatcher.deadLetters,
		config:      config,
		logger:      dispatcher.logger,
	}
}

// Run consumes until ctx is cancelled or the delivery channel closes
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	c.logger.Info("Feed consumer started",
		slog.Int("batch_size", c.config.BatchSize),
		slog.Duration("batch_window", c.config.BatchWindow),
	)

	for {
		batch, ok := feed.Collect(ctx, deliveries, c.config.BatchSize, c.config.BatchWindow)

		if ctx.Err() != nil {
			// hand unprocessed deliveries back to the broker
			for _, d := range batch {
				c.nack(d, true)
			}
			c.logger.Info("Feed consumer stopped - context canceled")
			return nil
		}

		if len(batch) > 0 {
			c.HandleBatch(ctx, batch)
		}

		if !ok {
			c.logger.Warn("RabbitMQ delivery channel closed")
			return errors.New("delivery channel closed")
		}
	}
}

// HandleBatch decodes and dispatches one batch of deliveries. Malformed items are
// dead-lettered and acked on their own; the rest are acked after the batch has
// been processed, or requeued when it must be redelivered.
func (c *Consumer) HandleBatch(ctx context.Context, batch []amqp.Delivery) {
	events := make([]domain.ChangeEvent, 0, len(batch))
	accepted := make([]amqp.Delivery, 0, len(batch))

	for _, d := range batch {
		ev, err := c.decoder.Decode(d.Body)
		if err != nil {
			c.rejectMalformed(ctx, d, err)
			continue
		}
		events = append(events, ev)
		accepted = append(accepted, d)
	}

	if len(events) == 0 {
		return
	}

	if _, err := c.dispatcher.ProcessBatch(ctx, events); err != nil {
		c.logger.Error("Batch will be redelivered",
			slog.Int("deliveries", len(accepted)),
			slog.Any("error", err),
		)
		for _, d := range accepted {
			c.nack(d, true)
		}
		return
	}

	for _, d := range accepted {
		c.ack(d)
	}
}

func (c *Consumer) rejectMalformed(ctx context.Context, d amqp.Delivery, cause error) {
	c.dispatcher.metrics.IncrementMalformed()
	c.logger.Error("Malformed change event",
		slog.Uint64("delivery_tag", d.DeliveryTag),
		slog.Any("error", cause),
	)

	letter := DeadLetter{
		Reason:   ReasonMalformed,
		Error:    cause.Error(),
		Payload:  string(d.Body),
		FailedAt: c.dispatcher.now().UTC(),
	}
	if err := c.deadLetters.DeadLetter(ctx, letter); err != nil {
		c.logger.Error("Failed to dead-letter malformed event",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.Any("error", err),
		)
		c.nack(d, true)
		return
	}
	c.ack(d)
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.logger.Error("Failed to ACK message",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.Any("error", err),
		)
	}
}

func (c *Consumer) nack(d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to NACK message",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.Bool("requeue", requeue),
			slog.Any("error", err),
		)
	}
}
