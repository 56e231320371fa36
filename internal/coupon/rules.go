// Package coupon holds the local coupon table and the validation rules the
// storefront falls back to when the commerce backend is unreachable.
package coupon

import (
	"errors"
	"fmt"
	"strings"

	"github.com/digistore/storefront/internal/domain"
)

// WelcomeCode is auto-applied for first-time buyers and is mutually
// exclusive with manually entered codes.
const WelcomeCode = "WELCOME30"

var (
	ErrUnknownCode    = errors.New("invalid coupon code")
	ErrAlreadyApplied = errors.New("coupon already applied")
	ErrFirstTimeOnly  = errors.New("coupon is only valid for first-time buyers")
)

var codes = map[string]domain.Coupon{
	WelcomeCode: {Code: WelcomeCode, Discount: 30, Type: domain.DiscountPercentage},
	"SAVE10":    {Code: "SAVE10", Discount: 10, Type: domain.DiscountPercentage},
	"SAVE20":    {Code: "SAVE20", Discount: 20, Type: domain.DiscountPercentage},
	"FLAT50":    {Code: "FLAT50", Discount: 50, Type: domain.DiscountFixed},
}

// Normalize canonicalizes user input: surrounding whitespace is dropped and
// codes compare case-insensitively.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Lookup returns a copy of the coupon for the normalized code.
func Lookup(code string) (domain.Coupon, bool) {
	c, ok := codes[Normalize(code)]
	return c, ok
}

// Validate runs the local validation path: the code must be known, must not
// already be applied, and the welcome code is rejected for buyers who have
// purchased before.
func Validate(code string, current *domain.Coupon, hasPurchased bool) (*domain.Coupon, error) {
	normalized := Normalize(code)

	c, ok := codes[normalized]
	if !ok {
		return nil, ErrUnknownCode
	}
	if normalized == WelcomeCode && hasPurchased {
		return nil, ErrFirstTimeOnly
	}
	if current != nil && current.Code == normalized {
		return nil, ErrAlreadyApplied
	}

	// An explicit apply never counts as auto-applied, even for the
	// welcome code.
	c.IsAutoApplied = false
	return &c, nil
}

// Welcome returns the auto-applied welcome coupon for first-time buyers.
func Welcome() *domain.Coupon {
	c := codes[WelcomeCode]
	c.IsAutoApplied = true
	return &c
}

// Describe renders the short confirmation shown after a successful apply.
func Describe(c *domain.Coupon) string {
	if c.Type == domain.DiscountPercentage {
		return fmt.Sprintf("Coupon %s applied: %.0f%% off", c.Code, c.Discount)
	}
	return fmt.Sprintf("Coupon %s applied: $%.2f off", c.Code, c.Discount)
}
