package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/carmatch/meetguard/libs/kafkax"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// DispatchRequestedTopic is consumed by notification-service.
const DispatchRequestedTopic = "notification.dispatch.requested.v1"

// DispatchRequest is the wire payload for DispatchRequestedTopic and for the
// HTTP ingest endpoint of notification-service.
type DispatchRequest struct {
	DispatchID  string    `json:"dispatch_id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	DeepLink    string    `json:"deep_link,omitempty"`
	Tag         string    `json:"tag,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func newDispatchRequest(n Notification, now time.Time) DispatchRequest {
	return DispatchRequest{
		DispatchID:  uuid.NewString(),
		UserID:      n.UserID,
		Title:       n.Title,
		Body:        n.Body,
		DeepLink:    n.DeepLink,
		Tag:         n.Tag,
		RequestedAt: now.UTC(),
	}
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaDispatcher publishes dispatch requests keyed by user id so one
// user's notifications stay ordered on a partition.
type KafkaDispatcher struct {
	w MessageWriter
}

func NewKafkaDispatcher(w MessageWriter) *KafkaDispatcher {
	return &KafkaDispatcher{w: w}
}

func (k *KafkaDispatcher) Dispatch(ctx context.Context, n Notification) error {
	req := newDispatchRequest(n, time.Now())
	raw, err := json.Marshal(req)
	if err != nil {
		return &DispatchError{Channel: "kafka", UserID: n.UserID, Err: err}
	}
	msg := kafkax.NewMessage(ctx, kafkax.EventMeta{EventID: req.DispatchID, EventType: DispatchRequestedTopic}, n.UserID, raw)
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return &DispatchError{Channel: "kafka", UserID: n.UserID, Err: err}
	}
	return nil
}
