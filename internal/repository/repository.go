package repository

import (
	"context"
	"errors"

	"github.com/digistore/storefront/internal/domain"
)

var (
	ErrCartNotFound     = errors.New("cart not found")
	ErrCustomerNotFound = errors.New("customer not found")
)

// CartRepository persists cart snapshots. The pricing engine mutates a cart
// value in memory; the repository is a plain load/store boundary.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	UpsertCart(ctx context.Context, cart *domain.Cart) error
	DeleteCart(ctx context.Context, userID string) error
}

// CustomerRepository tracks the permanent has-purchased marker used for
// first-time-buyer checks when the backend is unreachable.
type CustomerRepository interface {
	HasPurchased(ctx context.Context, userID string) (bool, error)
	MarkPurchased(ctx context.Context, userID string) error
}
