// README: Ride lifecycle events published to Kafka, keyed by ride id.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"rideflow/internal/modules/ride"
	"rideflow/internal/types"
)

// Message is the JSON value written for every committed transition.
type Message struct {
	RideID    types.ID        `json:"ride_id"`
	From      ride.Status     `json:"from"`
	To        ride.Status     `json:"to"`
	ActorType types.ActorKind `json:"actor_type"`
	ActorID   *types.ID       `json:"actor_id,omitempty"`
	At        time.Time       `json:"at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher writes asynchronously; delivery failures are logged
// from the writer's completion callback and never block a transition.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "events")
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn("ride events not delivered", "count", len(msgs), "err", err)
			}
		},
	}
	return &KafkaPublisher{writer: w, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e ride.Event) error {
	value, err := json.Marshal(Message{
		RideID:    e.RideID,
		From:      e.FromStatus,
		To:        e.ToStatus,
		ActorType: e.ActorType,
		ActorID:   e.ActorID,
		At:        e.CreatedAt,
	})
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.RideID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte("ride." + string(e.ToStatus))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Topic() string {
	return p.topic
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
