package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/parcelwatch/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r messageReader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
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
		r: kafka.NewReader(cfg),
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// ConsumeRefreshEvents decodes package.refreshed events and hands them to
// handler. It returns ctx.Err() on shutdown and the handler's error otherwise.
// An event that does not decode is committed and skipped.
func (c *Consumer) ConsumeRefreshEvents(ctx context.Context, handler func(ctx context.Context, ev messages.PackageRefreshed) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "fetch message")
		}

		var ev messages.PackageRefreshed
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			slog.Error("decode refresh event",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err.Error())
		} else if err := handler(ctx, ev); err != nil {
			// Commit only on success so the event is redelivered.
			slog.Error("handle refresh event",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
				"package_id", ev.PackageID, "error", err.Error())
			return errors.Wrapf(err, "handle package %d", ev.PackageID)
		}

		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}
