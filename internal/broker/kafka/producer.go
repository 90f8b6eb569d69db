package kafka

import (
	"context"
	"encoding/json"

	"github.com/BearBump/FleetBox/internal/broker/messages"
	"github.com/BearBump/FleetBox/internal/models"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer publishes ingestion events to a single topic.
type Producer struct {
	w     messageWriter
	close func() error
	topic string
}

func NewProducer(brokers []string, topic string) *Producer {
	if topic == "" {
		topic = messages.IngestionCompletedTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &Producer{w: w, close: w.Close, topic: topic}
}

func newProducerWithWriter(w messageWriter, topic string) *Producer {
	return &Producer{w: w, close: func() error { return nil }, topic: topic}
}

func (p *Producer) Close() error {
	return p.close()
}

func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

// PublishRun sends an IngestionCompleted event keyed by run id.
func (p *Producer) PublishRun(ctx context.Context, res models.IngestionRunResult) error {
	b, err := json.Marshal(messages.NewIngestionCompleted(res))
	if err != nil {
		return errors.Wrap(err, "marshal ingestion completed")
	}
	return p.Publish(ctx, []byte(res.RunID), b)
}
