package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/carmatch/meetguard/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox dedupes messages by event id.
type Inbox interface {
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// MessageReader is the subset of *kafka.Reader the consumer uses. Offsets are
// committed explicitly, only after a message was handled or deliberately
// skipped.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader   MessageReader
	logger   *slog.Logger
	inbox    Inbox
	handler  Handler
	retryMin time.Duration
	retryMax time.Duration
}

type Config struct {
	Brokers []string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewWithReader(logger, inbox, reader, handler)
}

func NewWithReader(logger *slog.Logger, inbox Inbox, reader MessageReader, handler Handler) *Consumer {
	return &Consumer{
		reader:   reader,
		logger:   logger,
		inbox:    inbox,
		handler:  handler,
		retryMin: time.Second,
		retryMax: 30 * time.Second,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}
		// The same message is retried until it is handled; committing a later
		// offset would skip it for good.
		for backoff := c.retryMin; ; backoff = min(backoff*2, c.retryMax) {
			if err := c.process(ctx, msg); err == nil {
				break
			}
			if !sleep(ctx, backoff) {
				return
			}
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit error", "err", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		}
	}
}

// process returns an error when msg must be retried before its offset is
// committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	ctx = kafkax.ExtractTraceContext(ctx, msg)
	ctx, span := otel.Tracer("kafka").Start(ctx, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)
	ok, err := c.inbox.Record(ctx, meta.EventID, meta.EventType)
	if err != nil {
		c.logger.ErrorContext(ctx, "inbox record failed", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		return err
	}
	if !ok {
		c.logger.InfoContext(ctx, "duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}

	if err := c.handler(ctx, msg); err != nil {
		c.logger.ErrorContext(ctx, "handler error", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ferr := c.inbox.Forget(ctx, meta.EventID); ferr != nil {
			c.logger.ErrorContext(ctx, "inbox forget failed", "err", ferr, "event_id", meta.EventID)
		}
		return err
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
