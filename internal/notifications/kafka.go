package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// NewSaramaConfig returns the producer configuration used for claim events.
func NewSaramaConfig() *sarama.Config {
	c := sarama.NewConfig()
	c.ClientID = "waster-api"
	c.Producer.RequiredAcks = sarama.WaitForLocal
	c.Producer.Return.Successes = true
	c.Producer.Return.Errors = true
	c.Producer.Retry.Max = 3
	c.Producer.Timeout = 5 * time.Second
	c.Producer.Partitioner = sarama.NewHashPartitioner
	return c
}

// KafkaSink writes claim events to a topic, keyed by claim id so every
// event of one claim lands on the same partition in order.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink wraps an existing producer.
func NewKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// DialKafkaSink connects a producer to brokers.
func DialKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaSink(producer, topic), nil
}

// Name implements Sink.
func (k *KafkaSink) Name() string { return "kafka" }

// Deliver implements Sink.
func (k *KafkaSink) Deliver(_ context.Context, event ClaimEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(event.ClaimID.String()),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
		},
	})
	return err
}

// Close closes the producer.
func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
