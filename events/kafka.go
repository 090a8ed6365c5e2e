package events

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newKafkaSink(producer, topic), nil
}

func newKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// Publish sends synchronously; ctx is only checked before the send since the
// sarama sync producer has no per-call deadline.
func (s *KafkaSink) Publish(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("kafka send to %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
