// Package poller reconciles carts with completed orders: when the backend
// publishes an order-completed event the buyer is marked as returning, any
// auto-applied welcome coupon dies with the cart, and the cart is emptied.
package poller

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// PurchaseCompleter is the slice of the cart service the poller needs.
type PurchaseCompleter interface {
	CompletePurchase(ctx context.Context, userID string) error
}

type OrderCompletedEvent struct {
	OrderID     string  `json:"order_id"`
	UserID      string  `json:"user_id"`
	TotalAmount float64 `json:"total_amount"`
	Currency    string  `json:"currency"`
}

type Poller struct {
	service PurchaseCompleter
	reader  *kafka.Reader
}

func NewPoller(service PurchaseCompleter, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    "order-completed",
		GroupID:  "storefront-cart-sync",
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{service: service, reader: reader}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.processMessage(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing order-completed reader")
	}
}

func (p *Poller) processMessage(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("error reading order-completed event")
		}
		return
	}
	p.handleEvent(ctx, m.Value)
}

func (p *Poller) handleEvent(ctx context.Context, value []byte) {
	var event OrderCompletedEvent
	if err := json.Unmarshal(value, &event); err != nil {
		log.Warn().Err(err).Msg("dropping malformed order-completed event")
		return
	}
	if event.UserID == "" {
		log.Warn().Str("order_id", event.OrderID).Msg("order-completed event missing user_id")
		return
	}

	if err := p.service.CompletePurchase(ctx, event.UserID); err != nil {
		log.Error().Err(err).
			Str("order_id", event.OrderID).
			Str("user_id", event.UserID).
			Msg("failed to complete purchase")
		return
	}
	log.Info().
		Str("order_id", event.OrderID).
		Str("user_id", event.UserID).
		Msg("cart reconciled after purchase")
}
