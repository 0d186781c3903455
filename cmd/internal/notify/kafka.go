// Package notify hands new-message events to Kafka for downstream notification delivery.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/IBM/sarama"

	"bazaar/cmd/internal/messaging"
)

// EventMessageCreated is the value of the "event-type" header.
const EventMessageCreated = "message.created"

// MessageCreatedEvent is the JSON payload published for each new message.
type MessageCreatedEvent struct {
	Type    string                `json:"type"`
	Message messaging.MessageView `json:"message"`
}

// KafkaNotifier publishes MessageCreatedEvent records keyed by receiver id, so all events
// for one receiver land on one partition in send order.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducerConfig returns the producer settings used for event hand-off:
// acks from all in-sync replicas and idempotent writes.
func NewProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewKafkaNotifier dials brokers and returns a notifier for topic.
func NewKafkaNotifier(brokers []string, topic string, cfg *sarama.Config) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, errors.New("notify: no kafka brokers")
	}
	if cfg == nil {
		cfg = NewProducerConfig("bazaar")
	}
	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("notify: kafka producer: %w", err)
	}
	return NewKafkaNotifierWithProducer(p, topic)
}

// NewKafkaNotifierWithProducer wraps an existing producer; the notifier takes ownership.
func NewKafkaNotifierWithProducer(p sarama.SyncProducer, topic string) (*KafkaNotifier, error) {
	if p == nil {
		return nil, errors.New("notify: nil producer")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("notify: empty topic")
	}
	return &KafkaNotifier{producer: p, topic: topic}, nil
}

// MessageCreated publishes m and waits for the broker ack.
func (n *KafkaNotifier) MessageCreated(ctx context.Context, m messaging.MessageView) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(MessageCreatedEvent{Type: EventMessageCreated, Message: m})
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(m.ReceiverID, 10)),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(EventMessageCreated)},
			{Key: []byte("conversation-id"), Value: []byte(m.ConversationID)},
		},
	}
	if _, _, err := n.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("notify: publish %s: %w", m.MessageID, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (n *KafkaNotifier) Close() error {
	if n == nil || n.producer == nil {
		return nil
	}
	return n.producer.Close()
}
