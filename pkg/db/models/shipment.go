package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/calderahq/backoffice-backend/pkg/enums"
)

type Shipment struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	LocationID     uuid.UUID            `gorm:"column:location_id;type:uuid;not null"`
	Status         enums.ShipmentStatus `gorm:"column:status;not null;default:'pending'"`
	Carrier        string               `gorm:"column:carrier"`
	TrackingNumber string               `gorm:"column:tracking_number"`
	ShippedAt      *time.Time           `gorm:"column:shipped_at"`
	DeliveredAt    *time.Time           `gorm:"column:delivered_at"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`

	Order Order          `gorm:"foreignKey:OrderID"`
	Items []ShipmentItem `gorm:"foreignKey:ShipmentID"`
}

// ShipmentItem pins which order lines (and how many units of each) travel in
// a given shipment. Stock is decremented per shipment item, not per order item.
type ShipmentItem struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ShipmentID uuid.UUID `gorm:"column:shipment_id;type:uuid;not null;index"`
	VariantID  uuid.UUID `gorm:"column:variant_id;type:uuid;not null;index"`
	Qty        int       `gorm:"column:qty;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
