package models

import (
	"time"

	"github.com/google/uuid"
)

// StockBatch is a dated sub-lot of a StockRecord. Batch quantities are
// advisory and are not reconciled against the parent record's quantity.
type StockBatch struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	StockRecordID uuid.UUID  `gorm:"column:stock_record_id;type:uuid;not null;uniqueIndex:ux_stock_batches_record_number"`
	BatchNumber   string     `gorm:"column:batch_number;not null;uniqueIndex:ux_stock_batches_record_number"`
	Quantity      int        `gorm:"column:quantity;not null;default:0"`
	ExpiresAt     *time.Time `gorm:"column:expires_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
