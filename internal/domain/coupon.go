package domain

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Coupon is the single active discount on a cart. At most one coupon is
// applied at a time; applying a new one replaces the old.
type Coupon struct {
	Code           string       `bson:"code" json:"code"`
	Discount       float64      `bson:"discount" json:"discount"`
	Type           DiscountType `bson:"type" json:"type"`
	IsAutoApplied  bool         `bson:"is_auto_applied" json:"is_auto_applied"`
	DiscountAmount float64      `bson:"discount_amount,omitempty" json:"discount_amount,omitempty"`
}
