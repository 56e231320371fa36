package domain

import "time"

// License is the pricing tier a digital product is purchased under.
type License string

const (
	LicensePersonal   License = "personal"
	LicenseCommercial License = "commercial"
	LicenseExtended   License = "extended"
)

// Multiplier returns the price multiplier for the license tier.
// Unknown tiers fall back to the personal rate.
func (l License) Multiplier() float64 {
	switch l {
	case LicenseCommercial:
		return 3
	case LicenseExtended:
		return 5
	default:
		return 1
	}
}

func (l License) Valid() bool {
	switch l {
	case LicensePersonal, LicenseCommercial, LicenseExtended:
		return true
	}
	return false
}

type Cart struct {
	ID           string     `bson:"_id,omitempty" json:"id,omitempty"`
	UserID       string     `bson:"user_id" json:"user_id"`
	Items        []CartItem `bson:"items" json:"items"`
	Coupon       *Coupon    `bson:"coupon,omitempty" json:"coupon,omitempty"`
	HasPurchased bool       `bson:"has_purchased" json:"has_purchased"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updated_at"`

	// OpenUI signals the client to pop the cart panel after an add. It lives
	// only on the in-request snapshot and is never persisted.
	OpenUI bool `bson:"-" json:"-"`
}

// Clone returns an independent copy of the cart: mutating the clone's lines
// or coupon leaves the original untouched.
func (c *Cart) Clone() *Cart {
	out := *c
	out.Items = append([]CartItem(nil), c.Items...)
	if c.Coupon != nil {
		coupon := *c.Coupon
		out.Coupon = &coupon
	}
	return &out
}

// CartItem is a single line in a cart. UnitPrice is fixed at add time from
// the product's base price and the license multiplier; later catalog price
// changes do not retroactively affect carts.
type CartItem struct {
	ProductID int64     `bson:"product_id" json:"product_id"`
	Name      string    `bson:"name" json:"name"`
	License   License   `bson:"license" json:"license"`
	Quantity  int       `bson:"quantity" json:"quantity"`
	UnitPrice float64   `bson:"unit_price" json:"unit_price"`
	AddedAt   time.Time `bson:"added_at" json:"added_at"`
}
