package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/digistore/storefront/internal/backend"
	"github.com/digistore/storefront/internal/cache"
	"github.com/digistore/storefront/internal/cart"
	"github.com/digistore/storefront/internal/catalog"
	"github.com/digistore/storefront/internal/coupon"
	"github.com/digistore/storefront/internal/domain"
	"github.com/digistore/storefront/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	m    sync.RWMutex
	cart *domain.Cart
	err  error
}

func (m *mockRepository) GetCart(context.Context, string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.cart == nil {
		return nil, repository.ErrCartNotFound
	}
	return m.cart, nil
}

func (m *mockRepository) UpsertCart(_ context.Context, c *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	m.cart = c
	return nil
}

func (m *mockRepository) DeleteCart(context.Context, string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.cart == nil {
		return repository.ErrCartNotFound
	}
	m.cart = nil
	return nil
}

func (m *mockRepository) getCart() *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.cart
}

type mockCustomers struct {
	m         sync.RWMutex
	purchased map[string]bool
	err       error
}

func (m *mockCustomers) HasPurchased(_ context.Context, userID string) (bool, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return false, m.err
	}
	return m.purchased[userID], nil
}

func (m *mockCustomers) MarkPurchased(_ context.Context, userID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.purchased == nil {
		m.purchased = make(map[string]bool)
	}
	m.purchased[userID] = true
	return nil
}

type mockCache struct {
	m    sync.RWMutex
	cart *domain.Cart
	err  error
}

func (m *mockCache) Get(context.Context, string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.cart == nil {
		return nil, cache.ErrCacheMiss
	}
	return m.cart, nil
}

func (m *mockCache) Set(_ context.Context, _ string, c *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.cart = c
	return m.err
}

func (m *mockCache) Delete(context.Context, string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.cart = nil
	return m.err
}

func (m *mockCache) getCart() *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.cart
}

type mockCatalog struct {
	products map[int64]*domain.Product
}

func (m *mockCatalog) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return p, nil
}

func (m *mockCatalog) ListProducts(context.Context) ([]*domain.Product, error) {
	var out []*domain.Product
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockCatalog) Close() error { return nil }

type mockBackend struct {
	m          sync.Mutex
	validation *backend.CouponValidation
	firstTime  bool
	err        error
	calls      int

	// When set, ValidateCoupon signals entered and then blocks until
	// release is closed, so tests can hold several calls in flight.
	entered chan struct{}
	release chan struct{}
}

func (m *mockBackend) ValidateCoupon(context.Context, string, float64, string) (*backend.CouponValidation, error) {
	m.m.Lock()
	m.calls++
	entered, release := m.entered, m.release
	m.m.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.validation, nil
}

func (m *mockBackend) CheckFirstTimeBuyer(context.Context, string) (bool, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.firstTime, nil
}

func newTestService(repo *mockRepository, customers *mockCustomers, c *mockCache, be *mockBackend) *CartService {
	if customers == nil {
		customers = &mockCustomers{}
	}
	if be == nil {
		be = &mockBackend{}
	}
	cat := &mockCatalog{products: map[int64]*domain.Product{
		1: {ID: 1, Name: "ebook", Price: 50},
		2: {ID: 2, Name: "theme", Price: 20},
	}}
	return NewCartService(repo, customers, c, cat, be)
}

func TestGetCart_CacheHit(t *testing.T) {
	cached := &domain.Cart{UserID: "123", Items: []domain.CartItem{{ProductID: 1, Quantity: 3}}}
	sut := newTestService(&mockRepository{}, nil, &mockCache{cart: cached}, nil)

	ret, err := sut.GetCart(context.Background(), "123")
	require.NoError(t, err)
	assert.Len(t, ret.Items, 1)
}

func TestGetCart_NotFoundReturnsEmptyCart(t *testing.T) {
	sut := newTestService(&mockRepository{}, nil, &mockCache{}, nil)

	ret, err := sut.GetCart(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "123", ret.UserID)
	assert.Empty(t, ret.Items)
}

func TestGetCart_RepoError(t *testing.T) {
	sut := newTestService(&mockRepository{err: fmt.Errorf("database error")}, nil, &mockCache{}, nil)

	ret, err := sut.GetCart(context.Background(), "123")
	require.ErrorContains(t, err, "database error")
	assert.Nil(t, ret)
}

func TestGetCart_SetsCacheAfterRepoHit(t *testing.T) {
	stored := &domain.Cart{UserID: "123", Items: []domain.CartItem{{ProductID: 1, Quantity: 1}}}
	mockC := &mockCache{}
	sut := newTestService(&mockRepository{cart: stored}, nil, mockC, nil)

	_, err := sut.GetCart(context.Background(), "123")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return mockC.getCart() != nil
	}, 100*time.Millisecond, 10*time.Millisecond, "cart was not set in cache")
}

func TestGetCart_ReturnsIndependentSnapshots(t *testing.T) {
	stored := &domain.Cart{UserID: "123", Items: []domain.CartItem{{ProductID: 1, Quantity: 1, UnitPrice: 50}}}
	sut := newTestService(&mockRepository{cart: stored}, nil, &mockCache{}, nil)

	first, err := sut.GetCart(context.Background(), "123")
	require.NoError(t, err)
	second, err := sut.GetCart(context.Background(), "123")
	require.NoError(t, err)

	// Mutating one caller's snapshot must not leak into another caller's
	// snapshot or the stored cart.
	first.Items[0].Quantity = 99
	first.Items = append(first.Items, domain.CartItem{ProductID: 2})

	assert.Len(t, second.Items, 1)
	assert.Equal(t, 1, second.Items[0].Quantity)
	assert.Equal(t, 1, stored.Items[0].Quantity)
}

func TestAddItem_ComputesLicensedPrice(t *testing.T) {
	repo := &mockRepository{}
	mockC := &mockCache{}
	sut := newTestService(repo, nil, mockC, nil)

	ret, err := sut.AddItem(context.Background(), "123", 1, domain.LicenseCommercial)
	require.NoError(t, err)
	require.Len(t, ret.Items, 1)
	assert.Equal(t, 150.0, ret.Items[0].UnitPrice)
	assert.NotNil(t, repo.getCart())

	// Cache must be invalidated after a write.
	require.Eventually(t, func() bool {
		return mockC.getCart() == nil
	}, 100*time.Millisecond, 10*time.Millisecond, "cache was not invalidated")
}

func TestAddItem_UnknownProduct(t *testing.T) {
	sut := newTestService(&mockRepository{}, nil, &mockCache{}, nil)

	_, err := sut.AddItem(context.Background(), "123", 99, domain.LicensePersonal)
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestUpdateQuantity_ZeroRemoves(t *testing.T) {
	repo := &mockRepository{}
	sut := newTestService(repo, nil, &mockCache{}, nil)

	_, err := sut.AddItem(context.Background(), "123", 1, domain.LicensePersonal)
	require.NoError(t, err)

	ret, err := sut.UpdateQuantity(context.Background(), "123", 1, domain.LicensePersonal, 0)
	require.NoError(t, err)
	assert.Empty(t, ret.Items)
}

func TestRemoveItem_MissingLine(t *testing.T) {
	sut := newTestService(&mockRepository{}, nil, &mockCache{}, nil)

	_, err := sut.RemoveItem(context.Background(), "123", 7, domain.LicensePersonal)
	assert.ErrorIs(t, err, repository.ErrCartNotFound)
}

func TestApplyCoupon_Local_Success(t *testing.T) {
	sut := newTestService(&mockRepository{}, nil, &mockCache{}, nil)

	_, err := sut.AddItem(context.Background(), "123", 1, domain.LicenseCommercial)
	require.NoError(t, err)

	result, err := sut.ApplyCoupon(context.Background(), "123", " save10 ")
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.Coupon)
	assert.Equal(t, "SAVE10", result.Coupon.Code)

	c, _ := sut.GetCart(context.Background(), "123")
	assert.Equal(t, 15.0, cart.Discount(c))
	assert.Equal(t, 135.0, cart.Total(c))
}

func TestApplyCoupon_Local_UnknownCode(t *testing.T) {
	sut := newTestService(&mockRepository{}, nil, &mockCache{}, nil)

	result, err := sut.ApplyCoupon(context.Background(), "123", "BOGUS")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, coupon.ErrUnknownCode.Error(), result.Message)
}

func TestApplyCoupon_WelcomeRejectedAfterPurchase(t *testing.T) {
	customers := &mockCustomers{purchased: map[string]bool{"123": true}}
	sut := newTestService(&mockRepository{}, customers, &mockCache{}, nil)

	result, err := sut.ApplyCoupon(context.Background(), "123", coupon.WelcomeCode)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, coupon.ErrFirstTimeOnly.Error(), result.Message)
}

func TestApplyCouponAsync_ServerConfirmed(t *testing.T) {
	be := &mockBackend{validation: &backend.CouponValidation{
		Valid:          true,
		Code:           "SAVE10",
		Discount:       10,
		Type:           domain.DiscountPercentage,
		DiscountAmount: 15,
	}}
	sut := newTestService(&mockRepository{}, nil, &mockCache{}, be)

	_, err := sut.AddItem(context.Background(), "123", 1, domain.LicenseCommercial)
	require.NoError(t, err)

	result, err := sut.ApplyCouponAsync(context.Background(), "123", "SAVE10", "a@b.com")
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.Coupon)
	assert.Equal(t, 15.0, result.Coupon.DiscountAmount)
	assert.False(t, result.Coupon.IsAutoApplied)
}

func TestApplyCouponAsync_FallsBackToLocalOnTransportFailure(t *testing.T) {
	be := &mockBackend{err: fmt.Errorf("%w: connection refused", backend.ErrUnavailable)}
	sut := newTestService(&mockRepository{}, nil, &mockCache{}, be)

	_, err := sut.AddItem(context.Background(), "123", 1, domain.LicensePersonal)
	require.NoError(t, err)

	result, err := sut.ApplyCouponAsync(context.Background(), "123", "SAVE20", "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "SAVE20", result.Coupon.Code)
}

func TestApplyCouponAsync_ServerRejection(t *testing.T) {
	be := &mockBackend{validation: &backend.CouponValidation{Valid: false, Message: "coupon expired"}}
	sut := newTestService(&mockRepository{}, nil, &mockCache{}, be)

	result, err := sut.ApplyCouponAsync(context.Background(), "123", "SAVE10", "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "coupon expired", result.Message)
}

func TestApplyCouponAsync_StaleResponseDiscarded(t *testing.T) {
	be := &mockBackend{
		validation: &backend.CouponValidation{Valid: true, Code: "SAVE10", Discount: 10, Type: domain.DiscountPercentage},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	sut := newTestService(&mockRepository{}, nil, &mockCache{}, be)

	var wg sync.WaitGroup
	results := make([]*CouponResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := sut.ApplyCouponAsync(context.Background(), "123", "SAVE10", "")
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}

	// Hold both validations in flight so their sequence numbers overlap
	// before either response lands.
	<-be.entered
	<-be.entered
	assert.True(t, sut.IsValidatingCoupon("123"))
	close(be.release)
	wg.Wait()

	// Only the newest of the two racing applies wins; the other response
	// is discarded as stale.
	wins := 0
	for _, r := range results {
		if r.Success {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
	assert.False(t, sut.IsValidatingCoupon("123"))
}

func TestCheckFirstTimeBuyer_AutoAppliesWelcome(t *testing.T) {
	be := &mockBackend{firstTime: true}
	repo := &mockRepository{}
	sut := newTestService(repo, nil, &mockCache{}, be)

	first, err := sut.CheckFirstTimeBuyer(context.Background(), "123", "new@b.com")
	require.NoError(t, err)
	assert.True(t, first)

	c, _ := sut.GetCart(context.Background(), "123")
	require.NotNil(t, c.Coupon)
	assert.Equal(t, coupon.WelcomeCode, c.Coupon.Code)
	assert.True(t, c.Coupon.IsAutoApplied)
}

func TestCheckFirstTimeBuyer_KeepsExplicitCoupon(t *testing.T) {
	be := &mockBackend{firstTime: true}
	sut := newTestService(&mockRepository{}, nil, &mockCache{}, be)

	_, err := sut.ApplyCoupon(context.Background(), "123", "SAVE10")
	require.NoError(t, err)

	_, err = sut.CheckFirstTimeBuyer(context.Background(), "123", "new@b.com")
	require.NoError(t, err)

	c, _ := sut.GetCart(context.Background(), "123")
	require.NotNil(t, c.Coupon)
	assert.Equal(t, "SAVE10", c.Coupon.Code)
}

func TestCheckFirstTimeBuyer_RevokesStaleAutoCoupon(t *testing.T) {
	be := &mockBackend{firstTime: true}
	sut := newTestService(&mockRepository{}, nil, &mockCache{}, be)

	_, err := sut.CheckFirstTimeBuyer(context.Background(), "123", "a@b.com")
	require.NoError(t, err)

	be.m.Lock()
	be.firstTime = false
	be.m.Unlock()

	_, err = sut.CheckFirstTimeBuyer(context.Background(), "123", "a@b.com")
	require.NoError(t, err)

	c, _ := sut.GetCart(context.Background(), "123")
	assert.Nil(t, c.Coupon)
}

func TestCheckFirstTimeBuyer_FallsBackToLocalMarker(t *testing.T) {
	be := &mockBackend{err: fmt.Errorf("%w: timeout", backend.ErrUnavailable)}
	customers := &mockCustomers{purchased: map[string]bool{"123": true}}
	sut := newTestService(&mockRepository{}, customers, &mockCache{}, be)

	first, err := sut.CheckFirstTimeBuyer(context.Background(), "123", "a@b.com")
	require.NoError(t, err)
	assert.False(t, first)
}

func TestCompletePurchase(t *testing.T) {
	repo := &mockRepository{}
	customers := &mockCustomers{}
	be := &mockBackend{firstTime: true}
	sut := newTestService(repo, customers, &mockCache{}, be)

	_, err := sut.AddItem(context.Background(), "123", 1, domain.LicensePersonal)
	require.NoError(t, err)
	_, err = sut.CheckFirstTimeBuyer(context.Background(), "123", "")
	require.NoError(t, err)

	require.NoError(t, sut.CompletePurchase(context.Background(), "123"))

	purchased, err := customers.HasPurchased(context.Background(), "123")
	require.NoError(t, err)
	assert.True(t, purchased)

	// Welcome coupon no longer valid for this buyer.
	result, err := sut.ApplyCoupon(context.Background(), "123", coupon.WelcomeCode)
	require.NoError(t, err)
	assert.False(t, result.Success)
}
