package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceTier maps a contiguous quantity range to a fixed unit price for one
// variant. MaxQty nil means the band is unbounded above. Sibling tiers must
// never overlap.
type PriceTier struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	VariantID uuid.UUID       `gorm:"column:variant_id;type:uuid;not null;index"`
	MinQty    int             `gorm:"column:min_qty;not null"`
	MaxQty    *int            `gorm:"column:max_qty"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// Covers reports whether qty falls inside the tier's range.
func (t PriceTier) Covers(qty int) bool {
	if qty < t.MinQty {
		return false
	}
	return t.MaxQty == nil || qty <= *t.MaxQty
}
