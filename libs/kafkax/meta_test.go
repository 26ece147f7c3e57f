package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestExtractEventMetaFallsBackToKeyAndTopic(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{Topic: "notification.dispatch.requested.v1", Key: []byte("k-1")})
	if meta.EventID != "k-1" || meta.EventType != "notification.dispatch.requested.v1" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestNewMessageCarriesMeta(t *testing.T) {
	msg := NewMessage(context.Background(), EventMeta{EventID: "evt-1", EventType: "appointment.proposed.v1"}, "appt-1", []byte(`{}`))
	if msg.Topic != "appointment.proposed.v1" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}
	got := ExtractEventMeta(msg)
	if got.EventID != "evt-1" || got.EventType != "appointment.proposed.v1" {
		t.Fatalf("unexpected meta: %+v", got)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %#v", got)
	}
}
