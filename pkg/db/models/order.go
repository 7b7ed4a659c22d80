package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/calderahq/backoffice-backend/pkg/enums"
)

type Order struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Reference   string            `gorm:"column:reference;uniqueIndex;not null"`
	Status      enums.OrderStatus `gorm:"column:status;not null;default:'pending'"`
	Total       decimal.Decimal   `gorm:"column:total;type:numeric(12,2);not null"`
	PlacedAt    time.Time         `gorm:"column:placed_at;not null"`
	CancelledAt *time.Time        `gorm:"column:cancelled_at"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`

	Items     []OrderItem `gorm:"foreignKey:OrderID"`
	Shipments []Shipment  `gorm:"foreignKey:OrderID"`
}
