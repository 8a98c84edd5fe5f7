package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes every payload to a single Kafka topic, keyed by
// the engine topic string so all messages for one event land on the same
// partition in order.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaWriter builds a writer for the given brokers and topic.
func NewKafkaWriter(brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaNotifier creates a Kafka-backed notifier.
func NewKafkaNotifier(w *kafka.Writer) *KafkaNotifier {
	return &KafkaNotifier{writer: w}
}

func (n *KafkaNotifier) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	count(payload)
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(topic),
		Value: data,
		Time:  time.Now(),
	})
}
