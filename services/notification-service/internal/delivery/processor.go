// Package delivery stores each dispatch request as an in-app notification
// and forwards it to the push gateway.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/carmatch/meetguard/services/notification-service/internal/dispatch"
	"github.com/carmatch/meetguard/services/notification-service/internal/push"
	"github.com/carmatch/meetguard/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

type Result string

const (
	ResultDelivered Result = "delivered"
	ResultStored    Result = "stored"
	ResultDuplicate Result = "duplicate"
)

type Processor struct {
	store  storage.Store
	sender push.Sender
	logger *slog.Logger
	now    func() time.Time
}

func NewProcessor(store storage.Store, sender push.Sender, logger *slog.Logger) *Processor {
	return &Processor{store: store, sender: sender, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Handle is idempotent per DispatchID. A push failure leaves the in-app copy
// marked failed and is not returned, so the message is not redelivered.
func (p *Processor) Handle(ctx context.Context, req dispatch.Request) (Result, error) {
	if err := req.Normalize(); err != nil {
		return "", err
	}
	n := &storage.Notification{
		DispatchID: req.DispatchID,
		UserID:     req.UserID,
		Title:      req.Title,
		Body:       req.Body,
		DeepLink:   req.DeepLink,
		Tag:        req.Tag,
		Status:     storage.StatusPending,
		CreatedAt:  p.now(),
	}
	if err := p.store.Insert(ctx, n); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			p.logger.InfoContext(ctx, "duplicate dispatch ignored", "dispatch_id", req.DispatchID)
			return ResultDuplicate, nil
		}
		return "", err
	}

	err := p.sender.Send(ctx, push.Message{
		UserID:   req.UserID,
		Title:    req.Title,
		Body:     req.Body,
		URL:      req.DeepLink,
		Tag:      req.Tag,
		Priority: push.PriorityFor(req.Tag),
	})
	status, result, lastErr := storage.StatusSent, ResultDelivered, ""
	switch {
	case err == nil:
	case errors.Is(err, push.ErrNoDevices):
		result = ResultStored
	default:
		status, result, lastErr = storage.StatusFailed, ResultStored, err.Error()
		p.logger.WarnContext(ctx, "push send failed", "dispatch_id", req.DispatchID, "user_id", req.UserID, "provider", p.sender.ProviderID(), "err", err)
	}
	if err := p.store.SetStatus(ctx, n.ID, status, lastErr); err != nil {
		p.logger.ErrorContext(ctx, "update notification status", "id", n.ID, "err", err)
	}
	p.logger.InfoContext(ctx, "notification processed", "dispatch_id", req.DispatchID, "user_id", req.UserID, "tag", req.Tag, "status", status)
	return result, nil
}

// HandleMessage adapts Handle to the Kafka consumer. Malformed payloads are
// logged and dropped; storage errors are returned so the consumer retries the
// message before committing its offset.
func (p *Processor) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var req dispatch.Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		p.logger.ErrorContext(ctx, "invalid dispatch payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if _, err := p.Handle(ctx, req); err != nil {
		if errors.Is(err, dispatch.ErrInvalid) {
			p.logger.ErrorContext(ctx, "dropping dispatch request", "err", err)
			return nil
		}
		return err
	}
	return nil
}
