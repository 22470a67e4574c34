package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// EventMessage is the payload published for every outbox row.
type EventMessage struct {
	ID            int       `json:"id"`
	FactoryId     string    `json:"factory_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	ReferenceId   int       `json:"reference_id"`
	ReferenceType string    `json:"reference_type"`
	Action        string    `json:"action"`
	OldObj        []byte    `json:"old_obj"`
	NewObj        []byte    `json:"new_obj"`
	CorrelationId string    `json:"correlation_id"`
}

// Publisher delivers outbox events to a broker.
type Publisher interface {
	Publish(ctx context.Context, msg EventMessage) (string, error)
	Close() error
}

// EventBroker returns EVENT_BROKER: "pubsub", "kafka" or "log" (default).
func EventBroker() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("EVENT_BROKER")))
	if v == "" {
		return "log"
	}
	return v
}

// NewPublisher builds the publisher selected by EVENT_BROKER.
func NewPublisher(ctx context.Context) (Publisher, error) {
	switch EventBroker() {
	case "pubsub":
		return newPubSubPublisher(ctx)
	case "kafka":
		return newKafkaPublisher()
	default:
		return NewLogPublisher(GetLogger()), nil
	}
}

// LogPublisher writes events to the logger. Used when no broker is configured.
type LogPublisher struct {
	logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, msg EventMessage) (string, error) {
	p.logger.WithFields(logrus.Fields{
		"event_id":       msg.ID,
		"factory_id":     msg.FactoryId,
		"reference_type": msg.ReferenceType,
		"reference_id":   msg.ReferenceId,
		"action":         msg.Action,
		"correlation_id": msg.CorrelationId,
	}).Info("factory event")
	return "", nil
}

func (p *LogPublisher) Close() error { return nil }
