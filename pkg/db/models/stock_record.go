package models

import (
	"time"

	"github.com/google/uuid"
)

// StockRecord tracks on-hand/reserved counts per variant and location.
// Quantity is the total physically on hand; ReservedQty is the portion
// earmarked for unshipped orders.
type StockRecord struct {
	ID                 uuid.UUID    `gorm:"column:id;type:uuid;primaryKey"`
	VariantID          uuid.UUID    `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:ux_stock_records_variant_location"`
	LocationID         uuid.UUID    `gorm:"column:location_id;type:uuid;not null;uniqueIndex:ux_stock_records_variant_location"`
	Quantity           int          `gorm:"column:quantity;not null;default:0"`
	ReservedQty        int          `gorm:"column:reserved_qty;not null;default:0"`
	SellWhenOutOfStock bool         `gorm:"column:sell_when_out_of_stock;not null;default:false"`
	Batches            []StockBatch `gorm:"foreignKey:StockRecordID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

// Sellable returns the quantity available for new orders at this location.
func (r StockRecord) Sellable() int {
	free := r.Quantity - r.ReservedQty
	if free < 0 {
		return 0
	}
	return free
}
