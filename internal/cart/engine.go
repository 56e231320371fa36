// Package cart holds the pricing engine: pure operations on a cart value.
// Persistence and remote validation live in the service layer; everything
// here is deterministic and recomputed from state on every call.
package cart

import (
	"time"

	"github.com/digistore/storefront/internal/domain"
)

// AddItem adds one unit of the product at the given license tier. If a line
// with the same (product, license) key already exists its quantity is
// incremented and the stored unit price is left untouched; otherwise a new
// line is appended with unit price = base price × license multiplier.
// Either way the transient OpenUI flag is raised so the client pops the
// cart panel.
func AddItem(c *domain.Cart, product *domain.Product, license domain.License) {
	if !license.Valid() {
		license = domain.LicensePersonal
	}
	now := time.Now()
	c.OpenUI = true
	for i := range c.Items {
		if c.Items[i].ProductID == product.ID && c.Items[i].License == license {
			c.Items[i].Quantity++
			c.UpdatedAt = now
			return
		}
	}
	c.Items = append(c.Items, domain.CartItem{
		ProductID: product.ID,
		Name:      product.Name,
		License:   license,
		Quantity:  1,
		UnitPrice: product.Price * license.Multiplier(),
		AddedAt:   now,
	})
	c.UpdatedAt = now
}

// RemoveItem deletes the line matching (productID, license). Removal is
// keyed by the full line key so the same product held at another license
// tier is not touched.
func RemoveItem(c *domain.Cart, productID int64, license domain.License) bool {
	for i, item := range c.Items {
		if item.ProductID == productID && item.License == license {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// UpdateQuantity sets the quantity on the matching line. A quantity of zero
// or less removes the line instead of retaining it empty.
func UpdateQuantity(c *domain.Cart, productID int64, license domain.License, quantity int) bool {
	if quantity <= 0 {
		return RemoveItem(c, productID, license)
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID && c.Items[i].License == license {
			c.Items[i].Quantity = quantity
			c.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// Clear drops all items and the active coupon.
func Clear(c *domain.Cart) {
	c.Items = nil
	c.Coupon = nil
	c.UpdatedAt = time.Now()
}

// SetCoupon replaces the active coupon. Explicitly applied coupons always
// carry IsAutoApplied=false even when the code matches the welcome code.
func SetCoupon(c *domain.Cart, coupon *domain.Coupon) {
	c.Coupon = coupon
	c.UpdatedAt = time.Now()
}

// RemoveCoupon clears the active coupon, if any.
func RemoveCoupon(c *domain.Cart) {
	c.Coupon = nil
	c.UpdatedAt = time.Now()
}

// Subtotal is the sum of unit price × quantity over all lines.
func Subtotal(c *domain.Cart) float64 {
	var total float64
	for _, item := range c.Items {
		total += item.UnitPrice * float64(item.Quantity)
	}
	return total
}

// Discount computes the active coupon's value against the current subtotal.
// Fixed discounts are clamped to the subtotal so the total never goes
// negative.
func Discount(c *domain.Cart) float64 {
	if c.Coupon == nil {
		return 0
	}
	subtotal := Subtotal(c)
	switch c.Coupon.Type {
	case domain.DiscountPercentage:
		return subtotal * c.Coupon.Discount / 100
	case domain.DiscountFixed:
		if c.Coupon.Discount > subtotal {
			return subtotal
		}
		return c.Coupon.Discount
	}
	return 0
}

// Total is always Subtotal − Discount.
func Total(c *domain.Cart) float64 {
	return Subtotal(c) - Discount(c)
}
