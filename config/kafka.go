package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/segmentio/kafka-go"
)

type kafkaPublisher struct {
	writer *kafka.Writer
}

func newKafkaPublisher() (*kafkaPublisher, error) {
	brokers := SplitList("KAFKA_BROKERS")
	if len(brokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "factory_events"
	}
	return &kafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Publish keys messages by factory so one factory's events stay ordered on a partition.
func (p *kafkaPublisher) Publish(ctx context.Context, msg EventMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.FactoryId),
		Value: data,
		Headers: []kafka.Header{
			{Key: "reference_type", Value: []byte(msg.ReferenceType)},
			{Key: "action", Value: []byte(msg.Action)},
		},
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", p.writer.Topic, msg.ID), nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}
