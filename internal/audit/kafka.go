package audit

import (
	"context"
	"encoding/json"

	"github.com/twmb/franz-go/pkg/kgo"

	dErrors "warden/pkg/domain-errors"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "warden.audit"

// KafkaSink fans audit events out to a Kafka topic, keyed by subject so a
// user's trail stays ordered within a partition.
type KafkaSink struct {
	client *kgo.Client
}

// NewKafkaSink connects a producer to the given brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "create kafka client")
	}
	return &KafkaSink{client: client}, nil
}

// Publish produces one event synchronously. The worker already decouples this
// from the pipeline, so blocking here keeps delivery errors observable.
func (s *KafkaSink) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal audit event")
	}
	record := &kgo.Record{Key: []byte(event.Subject), Value: payload}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "produce audit event")
	}
	return nil
}

// Close flushes and releases the producer.
func (s *KafkaSink) Close() { s.client.Close() }
