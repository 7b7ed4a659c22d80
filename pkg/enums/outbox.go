package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateShipment    OutboxAggregateType = "shipment"
	AggregateOrder       OutboxAggregateType = "order"
	AggregateStockRecord OutboxAggregateType = "stock_record"
	AggregatePriceTier   OutboxAggregateType = "price_tier"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateShipment,
	AggregateOrder,
	AggregateStockRecord,
	AggregatePriceTier,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventShipmentShipped    OutboxEventType = "shipment_shipped"
	EventShipmentDelivered  OutboxEventType = "shipment_delivered"
	EventShipmentReturned   OutboxEventType = "shipment_returned"
	EventShipmentCancelled  OutboxEventType = "shipment_cancelled"
	EventOrderStatusChanged OutboxEventType = "order_status_changed"
	EventStockDecremented   OutboxEventType = "stock_decremented"
	EventStockReleased      OutboxEventType = "stock_released"
	EventPriceTierChanged   OutboxEventType = "price_tier_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventShipmentShipped,
	EventShipmentDelivered,
	EventShipmentReturned,
	EventShipmentCancelled,
	EventOrderStatusChanged,
	EventStockDecremented,
	EventStockReleased,
	EventPriceTierChanged,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
