package mq

import (
	"fmt"

	"github.com/amifistore/cekot-sub000/internal/config"

	"github.com/IBM/sarama"
)

// MessageSender delivers an opaque payload keyed for partitioning. The
// notification sender job talks to this interface; production binds it to
// Kafka, tests bind a recorder.
type MessageSender interface {
	Send(topic, key, value string) error
}

// KafkaSender is a sarama sync producer behind MessageSender.
type KafkaSender struct {
	producer sarama.SyncProducer
}

func NewKafkaSender(cfg *config.KafkaConfig) (*KafkaSender, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &KafkaSender{producer: producer}, nil
}

func (s *KafkaSender) Send(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	_, _, err := s.producer.SendMessage(msg)
	return err
}

func (s *KafkaSender) Close() error {
	return s.producer.Close()
}
