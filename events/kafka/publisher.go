// Package kafka publishes register events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/warp/cashbox/cash"
	"github.com/warp/cashbox/logger"
)

const DefaultTopic = "cash_register_events"

// Publisher writes each event as a JSON message keyed by tenant, so one
// tenant's events stay ordered within a partition.
type Publisher struct {
	writer *kafka.Writer
}

var _ cash.Sink = (*Publisher)(nil)

func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
			// Commands never wait on the broker
			Async: true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logger.Error("kafka publish failed", err, logger.Fields{
						"topic":    topic,
						"messages": len(messages),
					})
				}
			},
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, ev cash.Event) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func encode(ev cash.Event) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.TenantID),
		Value: data,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}
