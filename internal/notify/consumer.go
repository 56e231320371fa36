package notify

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Consumer feeds push events from Kafka into the hub. The message key is
// the target user id; an empty key broadcasts.
type Consumer struct {
	hub    *Hub
	reader *kafka.Reader
}

func NewConsumer(hub *Hub, brokers ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    "push-events",
		GroupID:  "storefront-notify",
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{hub: hub, reader: reader}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing push-events reader")
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("error reading push event")
		}
		return
	}

	payload, err := ParsePayload(m.Value)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed push payload")
		return
	}

	c.hub.Dispatch(string(m.Key), payload)
}
