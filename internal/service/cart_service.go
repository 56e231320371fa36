package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/digistore/storefront/internal/backend"
	"github.com/digistore/storefront/internal/cache"
	"github.com/digistore/storefront/internal/cart"
	"github.com/digistore/storefront/internal/catalog"
	"github.com/digistore/storefront/internal/coupon"
	"github.com/digistore/storefront/internal/domain"
	"github.com/digistore/storefront/internal/repository"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// BackendClient is the slice of the commerce backend the cart service needs.
type BackendClient interface {
	ValidateCoupon(ctx context.Context, code string, subtotal float64, email string) (*backend.CouponValidation, error)
	CheckFirstTimeBuyer(ctx context.Context, email string) (bool, error)
}

// CouponResult is what coupon operations surface to the UI: a short toast
// message, never a fatal error.
type CouponResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Coupon  *domain.Coupon `json:"coupon,omitempty"`
}

type CartService struct {
	repo      repository.CartRepository
	customers repository.CustomerRepository
	cache     cache.CartCache
	catalog   catalog.RepoInterface
	backend   BackendClient
	sfg       singleflight.Group // prevents cache stampede on GetCart

	mu  sync.Mutex
	seq map[string]uint64 // userID -> latest coupon validation sequence
}

func NewCartService(
	repo repository.CartRepository,
	customers repository.CustomerRepository,
	cache cache.CartCache,
	catalog catalog.RepoInterface,
	backend BackendClient,
) *CartService {
	return &CartService{
		repo:      repo,
		customers: customers,
		cache:     cache,
		catalog:   catalog,
		backend:   backend,
		seq:       make(map[string]uint64),
	}
}

func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		c, err := s.cache.Get(ctx, userID)
		if err == nil {
			return c, nil
		}

		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn().Err(err).Str("user_id", userID).Msg("cart cache get failed")
		}

		c, errGet := s.repo.GetCart(ctx, userID)
		if errGet != nil && errors.Is(errGet, repository.ErrCartNotFound) {
			return &domain.Cart{
				UserID:    userID,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}, nil
		}
		if errGet != nil {
			return nil, errGet
		}

		go func() {
			if errSet := s.cache.Set(context.Background(), userID, c); errSet != nil {
				log.Warn().Err(errSet).Str("user_id", userID).Msg("cart cache set failed")
			}
		}()

		return c, nil
	})
	if err != nil {
		return nil, err
	}
	// Deduplicated callers (and the async cache writer) share the closure's
	// result; hand each caller its own copy so later in-place edits by
	// AddItem or ApplyCoupon cannot race.
	return v.(*domain.Cart).Clone(), nil
}

// AddItem looks up the product, fixes the unit price at the license tier's
// rate and persists the updated cart.
func (s *CartService) AddItem(ctx context.Context, userID string, productID int64, license domain.License) (*domain.Cart, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	c, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	cart.AddItem(c, product, license)
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CartService) UpdateQuantity(ctx context.Context, userID string, productID int64, license domain.License, quantity int) (*domain.Cart, error) {
	c, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !cart.UpdateQuantity(c, productID, license, quantity) {
		return nil, repository.ErrCartNotFound
	}
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID string, productID int64, license domain.License) (*domain.Cart, error) {
	c, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !cart.RemoveItem(c, productID, license) {
		return nil, repository.ErrCartNotFound
	}
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	if err := s.repo.DeleteCart(ctx, userID); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		return err
	}
	s.invalidateCache(userID)
	return nil
}

// ApplyCoupon runs the synchronous local validation path.
func (s *CartService) ApplyCoupon(ctx context.Context, userID, code string) (*CouponResult, error) {
	c, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	hasPurchased, err := s.hasPurchasedLocal(ctx, userID, c)
	if err != nil {
		return nil, err
	}

	applied, errValidate := coupon.Validate(code, c.Coupon, hasPurchased)
	if errValidate != nil {
		return &CouponResult{Success: false, Message: errValidate.Error()}, nil
	}

	cart.SetCoupon(c, applied)
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}

	return &CouponResult{
		Success: true,
		Message: coupon.Describe(applied),
		Coupon:  applied,
	}, nil
}

// ApplyCouponAsync is the preferred apply path: validation is delegated to
// the backend with the current subtotal. Overlapping calls for the same user
// are serialized by sequence number and only the newest response is kept;
// transport failures degrade to the local table instead of erroring.
func (s *CartService) ApplyCouponAsync(ctx context.Context, userID, code, email string) (*CouponResult, error) {
	c, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	mySeq := s.beginValidation(userID)
	defer s.endValidation(userID, mySeq)

	result, errRemote := s.backend.ValidateCoupon(ctx, coupon.Normalize(code), cart.Subtotal(c), email)
	if errRemote != nil {
		if errors.Is(errRemote, backend.ErrUnavailable) {
			log.Warn().Err(errRemote).Str("user_id", userID).Msg("coupon validation degraded to local path")
			return s.ApplyCoupon(ctx, userID, code)
		}
		return nil, errRemote
	}

	if s.isStale(userID, mySeq) {
		// A newer apply has raced past this one; drop the response.
		return &CouponResult{Success: false, Message: "superseded by a newer coupon request"}, nil
	}

	if !result.Valid {
		msg := result.Message
		if msg == "" {
			msg = coupon.ErrUnknownCode.Error()
		}
		return &CouponResult{Success: false, Message: msg}, nil
	}

	applied := &domain.Coupon{
		Code:           result.Code,
		Discount:       result.Discount,
		Type:           result.Type,
		IsAutoApplied:  false,
		DiscountAmount: result.DiscountAmount,
	}
	cart.SetCoupon(c, applied)
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}

	msg := result.Message
	if msg == "" {
		msg = coupon.Describe(applied)
	}
	return &CouponResult{Success: true, Message: msg, Coupon: applied}, nil
}

func (s *CartService) RemoveCoupon(ctx context.Context, userID string) (*domain.Cart, error) {
	c, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	cart.RemoveCoupon(c)
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// CheckFirstTimeBuyer asks the backend (falling back to the local marker)
// and reconciles the welcome coupon: first-time buyers without an explicit
// coupon get it auto-applied, returning customers get a stale auto-applied
// coupon revoked.
func (s *CartService) CheckFirstTimeBuyer(ctx context.Context, userID, email string) (bool, error) {
	c, err := s.GetCart(ctx, userID)
	if err != nil {
		return false, err
	}

	var firstTime bool
	if email != "" {
		remote, errRemote := s.backend.CheckFirstTimeBuyer(ctx, email)
		if errRemote == nil {
			firstTime = remote
		} else {
			if !errors.Is(errRemote, backend.ErrUnavailable) {
				return false, errRemote
			}
			log.Warn().Err(errRemote).Str("user_id", userID).Msg("first-time check degraded to local marker")
			purchased, errLocal := s.hasPurchasedLocal(ctx, userID, c)
			if errLocal != nil {
				return false, errLocal
			}
			firstTime = !purchased
		}
	} else {
		purchased, errLocal := s.hasPurchasedLocal(ctx, userID, c)
		if errLocal != nil {
			return false, errLocal
		}
		firstTime = !purchased
	}

	changed := false
	switch {
	case firstTime && c.Coupon == nil:
		cart.SetCoupon(c, coupon.Welcome())
		changed = true
	case !firstTime && c.Coupon != nil && c.Coupon.IsAutoApplied:
		cart.RemoveCoupon(c)
		changed = true
	}

	if changed {
		if err := s.save(ctx, c); err != nil {
			return firstTime, err
		}
	}
	return firstTime, nil
}

// CompletePurchase is called once an order completes: the buyer is
// permanently marked as returning, any auto-applied coupon is revoked and
// the cart is emptied.
func (s *CartService) CompletePurchase(ctx context.Context, userID string) error {
	if err := s.customers.MarkPurchased(ctx, userID); err != nil {
		return fmt.Errorf("mark purchased: %w", err)
	}
	return s.ClearCart(ctx, userID)
}

// IsValidatingCoupon reports whether a coupon validation is in flight for
// the user, so the UI can show a pending state.
func (s *CartService) IsValidatingCoupon(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq[userID]%2 == 1
}

func (s *CartService) beginValidation(userID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Odd while in flight, even when settled.
	if s.seq[userID]%2 == 0 {
		s.seq[userID]++
	} else {
		s.seq[userID] += 2
	}
	return s.seq[userID]
}

func (s *CartService) endValidation(userID string, mySeq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq[userID] == mySeq {
		s.seq[userID]++
	}
}

func (s *CartService) isStale(userID string, mySeq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq[userID] != mySeq
}

func (s *CartService) hasPurchasedLocal(ctx context.Context, userID string, c *domain.Cart) (bool, error) {
	if c.HasPurchased {
		return true, nil
	}
	purchased, err := s.customers.HasPurchased(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("customer lookup: %w", err)
	}
	return purchased, nil
}

func (s *CartService) save(ctx context.Context, c *domain.Cart) error {
	if err := s.repo.UpsertCart(ctx, c); err != nil {
		log.Error().Err(err).Str("user_id", c.UserID).Msg("cart upsert failed")
		return err
	}
	s.invalidateCache(c.UserID)
	return nil
}

func (s *CartService) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("cart cache invalidate failed")
	}
}
