package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// OutboxTopic is where notifications are published for downstream senders
// (e-mail, SMS) to pick up.
const OutboxTopic = "zerowaste-notifications"

// OutboundMessage is the JSON payload written to the outbox topic.
type OutboundMessage struct {
	UserID    string    `json:"user_id"`
	Address   string    `json:"address"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Outbox publishes notifications to Kafka. Messages are keyed by user so a
// user's notifications stay ordered within a partition.
type Outbox struct {
	writer *kafka.Writer
}

func NewOutbox(brokers []string, topic string) *Outbox {
	if topic == "" {
		topic = OutboxTopic
	}
	return &Outbox{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (o *Outbox) Notify(ctx context.Context, to Recipient, subject, body string) error {
	payload, err := json.Marshal(OutboundMessage{
		UserID:    string(to.UserID),
		Address:   to.Address,
		Subject:   subject,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	if err := o.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(to.UserID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", o.writer.Topic, err)
	}
	return nil
}

func (o *Outbox) Close() error {
	return o.writer.Close()
}
