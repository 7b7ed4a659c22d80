package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// ProductVariant is a sellable SKU of a product.
type ProductVariant struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID    uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	SKU          string          `gorm:"column:sku;not null;uniqueIndex"`
	Title        string          `gorm:"column:title;not null"`
	Tags         pq.StringArray  `gorm:"column:tags;type:text[];not null;default:ARRAY[]::text[]"`
	RegularPrice decimal.Decimal `gorm:"column:regular_price;type:numeric(12,2);not null"`
	IsActive     bool            `gorm:"column:is_active;not null;default:true"`
	Stock        []StockRecord   `gorm:"foreignKey:VariantID;constraint:OnDelete:CASCADE"`
	PriceTiers   []PriceTier     `gorm:"foreignKey:VariantID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
