package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/FleetBox/internal/broker/messages"
	"github.com/BearBump/FleetBox/internal/pkg/log"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads IngestionCompleted events, used by the `events` command.
type Consumer struct {
	r      messageReader
	commit bool
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	if topic == "" {
		topic = messages.IngestionCompletedTopic
	}
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{
		r:      kafka.NewReader(cfg),
		commit: groupID != "",
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r, commit: true}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume passes each decoded event to handler and commits it on success.
// Undecodable messages are logged and committed. Without a group nothing is committed.
func (c *Consumer) Consume(ctx context.Context, handler func(ctx context.Context, ev messages.IngestionCompleted) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}

		var ev messages.IngestionCompleted
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Error(err, "skip malformed ingestion event", "offset", msg.Offset, "key", string(msg.Key))
		} else if err := handler(ctx, ev); err != nil {
			// без commit: сообщение перечитаем после рестарта
			return err
		}

		if !c.commit {
			continue
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}
