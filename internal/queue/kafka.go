package queue

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/sirupsen/logrus"
)

var _ DocumentQueue = (*KafkaQueue)(nil)

// KafkaQueue publishes document events keyed by document id, so the events
// of one document stay ordered within a partition.
type KafkaQueue struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaQueue(brokers, topic string) (*KafkaQueue, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	if topic == "" {
		topic = DocumentEventTopic
	}

	q := &KafkaQueue{producer: p, topic: topic}
	go q.report()
	return q, nil
}

// report logs delivery failures reported asynchronously by the producer.
func (k *KafkaQueue) report() {
	for e := range k.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			logrus.Errorf("document event delivery failed: %v", m.TopicPartition.Error)
		}
	}
}

func (k *KafkaQueue) PublishChange(ctx context.Context, event *Event) error {
	data, err := event.Encode()
	if err != nil {
		return err
	}
	return k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.DocID),
		Value:          data,
	}, nil)
}

func (k *KafkaQueue) Close() {
	if n := k.producer.Flush(5000); n > 0 {
		logrus.Warnf("%d document events not delivered", n)
	}
	k.producer.Close()
}
