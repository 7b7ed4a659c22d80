package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/calderahq/backoffice-backend/pkg/enums"
)

// ShipmentStatusEvent is emitted whenever a shipment moves through its
// lifecycle (shipped, delivered, returned, cancelled).
type ShipmentStatusEvent struct {
	ShipmentID uuid.UUID            `json:"shipment_id"`
	OrderID    uuid.UUID            `json:"order_id"`
	LocationID uuid.UUID            `json:"location_id"`
	Status     enums.ShipmentStatus `json:"status"`
	ChangedAt  time.Time            `json:"changed_at"`
}

// OrderStatusChangedEvent surfaces order lifecycle transitions driven by
// shipment progress.
type OrderStatusChangedEvent struct {
	OrderID   uuid.UUID         `json:"order_id"`
	Reference string            `json:"reference"`
	Status    enums.OrderStatus `json:"status"`
	ChangedAt time.Time         `json:"changed_at"`
}

// StockMovementLine reports one variant's quantity change at a location.
type StockMovementLine struct {
	VariantID  uuid.UUID `json:"variant_id"`
	LocationID uuid.UUID `json:"location_id"`
	Qty        int       `json:"qty"`
	FromHeld   int       `json:"from_held"`
	FromFree   int       `json:"from_free"`
}

// StockDecrementedEvent is emitted after a shipment consumes inventory.
type StockDecrementedEvent struct {
	ShipmentID uuid.UUID           `json:"shipment_id"`
	Lines      []StockMovementLine `json:"lines"`
	MovedAt    time.Time           `json:"moved_at"`
}

// StockReleasedEvent is emitted when held units return to the free pool.
type StockReleasedEvent struct {
	VariantID  uuid.UUID `json:"variant_id"`
	LocationID uuid.UUID `json:"location_id"`
	Qty        int       `json:"qty"`
	ReleasedAt time.Time `json:"released_at"`
}

// PriceTierChangedEvent is emitted on tier create, update, or delete.
type PriceTierChangedEvent struct {
	TierID    uuid.UUID        `json:"tier_id"`
	VariantID uuid.UUID        `json:"variant_id"`
	Action    string           `json:"action"`
	MinQty    int              `json:"min_qty"`
	MaxQty    *int             `json:"max_qty,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}
