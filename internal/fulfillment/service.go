package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calderahq/backoffice-backend/internal/orders"
	"github.com/calderahq/backoffice-backend/internal/stockledger"
	"github.com/calderahq/backoffice-backend/pkg/db"
	"github.com/calderahq/backoffice-backend/pkg/db/models"
	"github.com/calderahq/backoffice-backend/pkg/enums"
	pkgerrors "github.com/calderahq/backoffice-backend/pkg/errors"
	"github.com/calderahq/backoffice-backend/pkg/logger"
	"github.com/calderahq/backoffice-backend/pkg/metrics"
	"github.com/calderahq/backoffice-backend/pkg/outbox"
	"github.com/calderahq/backoffice-backend/pkg/outbox/payloads"
)

// ShipmentLine is one (variant, qty) pair travelling in a shipment.
type ShipmentLine struct {
	VariantID uuid.UUID
	Qty       int
}

// CreateShipmentInput carries the validated payload for shipment creation.
// Empty Items defaults to one line per order item.
type CreateShipmentInput struct {
	LocationID     uuid.UUID
	Carrier        string
	TrackingNumber string
	Items          []ShipmentLine
}

// Service coordinates shipment lifecycle and the stock movements it drives.
type Service interface {
	CreateShipment(ctx context.Context, orderID uuid.UUID, input CreateShipmentInput) (*models.Shipment, error)
	GetShipment(ctx context.Context, shipmentID uuid.UUID) (*models.Shipment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error)
	Transition(ctx context.Context, shipmentID uuid.UUID, target enums.ShipmentStatus) (*models.Shipment, error)
	DeleteShipment(ctx context.Context, shipmentID uuid.UUID) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	shipments *Repository
	orders    *orders.Repository
	ledger    stockledger.Service
	dbClient  *db.Client
	events    eventEmitter
	metrics   *metrics.FulfillmentMetrics
	logg      *logger.Logger
	now       func() time.Time
}

// NewService constructs the fulfillment coordinator.
func NewService(
	shipments *Repository,
	orderRepo *orders.Repository,
	ledger stockledger.Service,
	dbClient *db.Client,
	events eventEmitter,
	fm *metrics.FulfillmentMetrics,
	logg *logger.Logger,
) (Service, error) {
	if shipments == nil {
		return nil, fmt.Errorf("shipment repository required")
	}
	if orderRepo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	return &service{
		shipments: shipments,
		orders:    orderRepo,
		ledger:    ledger,
		dbClient:  dbClient,
		events:    events,
		metrics:   fm,
		logg:      logg,
		now:       time.Now,
	}, nil
}

// allowedTransitions captures the shipment state machine. Returned and
// cancelled are reachable from any non-terminal state; delivered, returned,
// and cancelled have no exits.
var allowedTransitions = map[enums.ShipmentStatus][]enums.ShipmentStatus{
	enums.ShipmentStatusPending: {
		enums.ShipmentStatusShipped,
		enums.ShipmentStatusReturned,
		enums.ShipmentStatusCancelled,
	},
	enums.ShipmentStatusShipped: {
		enums.ShipmentStatusInTransit,
		enums.ShipmentStatusDelivered,
		enums.ShipmentStatusReturned,
		enums.ShipmentStatusCancelled,
	},
	enums.ShipmentStatusInTransit: {
		enums.ShipmentStatusDelivered,
		enums.ShipmentStatusReturned,
		enums.ShipmentStatusCancelled,
	},
}

func transitionAllowed(from, to enums.ShipmentStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func (s *service) CreateShipment(ctx context.Context, orderID uuid.UUID, input CreateShipmentInput) (*models.Shipment, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order is cancelled")
	}
	if input.LocationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "locationId is required")
	}

	lines := input.Items
	if len(lines) == 0 {
		lines = make([]ShipmentLine, 0, len(order.Items))
		for _, item := range order.Items {
			lines = append(lines, ShipmentLine{VariantID: item.VariantID, Qty: item.Qty})
		}
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment needs at least one item")
	}

	orderVariants := make(map[uuid.UUID]struct{}, len(order.Items))
	for _, item := range order.Items {
		orderVariants[item.VariantID] = struct{}{}
	}
	items := make([]models.ShipmentItem, 0, len(lines))
	for _, line := range lines {
		if line.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item qty must be positive")
		}
		if _, ok := orderVariants[line.VariantID]; !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("variant %s is not on the order", line.VariantID))
		}
		items = append(items, models.ShipmentItem{VariantID: line.VariantID, Qty: line.Qty})
	}

	shipment := &models.Shipment{
		OrderID:        orderID,
		LocationID:     input.LocationID,
		Status:         enums.ShipmentStatusPending,
		Carrier:        input.Carrier,
		TrackingNumber: input.TrackingNumber,
		Items:          items,
	}
	if err := s.shipments.Create(ctx, shipment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating shipment")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"shipment_id": shipment.ID.String(),
			"order_id":    orderID.String(),
			"items":       len(items),
		}), "shipment created")
	}
	return shipment, nil
}

func (s *service) GetShipment(ctx context.Context, shipmentID uuid.UUID) (*models.Shipment, error) {
	shipment, err := s.shipments.FindByID(ctx, shipmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading shipment")
	}
	return shipment, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error) {
	shipments, err := s.shipments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing shipments")
	}
	return shipments, nil
}

// Transition moves the shipment to the target status inside one transaction.
// The shipment row is locked first, so entering shipped decrements stock
// exactly once even under concurrent requests; a repeat request finds the row
// already shipped and fails the state check.
func (s *service) Transition(ctx context.Context, shipmentID uuid.UUID, target enums.ShipmentStatus) (*models.Shipment, error) {
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("unknown shipment status %q", target))
	}

	var result *models.Shipment
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		shipment, err := s.shipments.FindLockedTx(tx, shipmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading shipment")
		}
		if !transitionAllowed(shipment.Status, target) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition,
				fmt.Sprintf("cannot move shipment from %s to %s", shipment.Status, target)).
				WithDetails(map[string]any{
					"shipment_id": shipment.ID,
					"from":        shipment.Status,
					"to":          target,
				})
		}

		from := shipment.Status
		changedAt := s.now()

		switch target {
		case enums.ShipmentStatusShipped:
			if err := s.decrementStock(ctx, tx, shipment, changedAt); err != nil {
				return err
			}
			shipment.ShippedAt = &changedAt
		case enums.ShipmentStatusDelivered:
			shipment.DeliveredAt = &changedAt
		case enums.ShipmentStatusCancelled:
			if from == enums.ShipmentStatusPending {
				if err := s.releaseHeldStock(ctx, tx, shipment, changedAt); err != nil {
					return err
				}
			}
		}

		shipment.Status = target
		if err := s.shipments.SaveStatusTx(tx, shipment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving shipment status")
		}

		if err := s.advanceOrder(ctx, tx, shipment, target, changedAt); err != nil {
			return err
		}
		if err := s.emitShipmentEvent(ctx, tx, shipment, target, changedAt); err != nil {
			return err
		}

		if s.logg != nil {
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"shipment_id": shipment.ID.String(),
				"from":        from.String(),
				"to":          target.String(),
			}), "shipment transitioned")
		}
		result = shipment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteShipment removes a shipment that has not yet been delivered.
func (s *service) DeleteShipment(ctx context.Context, shipmentID uuid.UUID) error {
	return s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		shipment, err := s.shipments.FindLockedTx(tx, shipmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading shipment")
		}
		if shipment.Status == enums.ShipmentStatusDelivered {
			return pkgerrors.New(pkgerrors.CodeConflict, "delivered shipments cannot be deleted")
		}
		if err := s.shipments.DeleteTx(tx, shipmentID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting shipment")
		}
		return nil
	})
}

func (s *service) decrementStock(ctx context.Context, tx *gorm.DB, shipment *models.Shipment, movedAt time.Time) error {
	items := make([]stockledger.DecrementItem, 0, len(shipment.Items))
	for _, item := range shipment.Items {
		items = append(items, stockledger.DecrementItem{VariantID: item.VariantID, Qty: item.Qty})
	}

	location := shipment.LocationID.String()
	started := s.now()
	movements, err := s.ledger.DecrementForShipment(ctx, tx, items)
	s.metrics.ObserveDecrementDuration(location, s.now().Sub(started))
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeInsufficientStock {
			s.metrics.IncShortfall(location)
		}
		return err
	}
	s.metrics.IncDecrement(location)

	if s.events == nil {
		return nil
	}
	lines := make([]payloads.StockMovementLine, 0, len(movements))
	for _, m := range movements {
		lines = append(lines, payloads.StockMovementLine{
			VariantID:  m.VariantID,
			LocationID: m.LocationID,
			Qty:        m.Qty(),
			FromHeld:   m.FromHeld,
			FromFree:   m.FromFree,
		})
	}
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStockDecremented,
		AggregateType: enums.AggregateShipment,
		AggregateID:   shipment.ID,
		Data: payloads.StockDecrementedEvent{
			ShipmentID: shipment.ID,
			Lines:      lines,
			MovedAt:    movedAt,
		},
		Version:    1,
		OccurredAt: movedAt,
	})
}

// releaseHeldStock returns reserved units to the free pool when a pending
// shipment is cancelled. Variants with nothing reserved are skipped.
func (s *service) releaseHeldStock(ctx context.Context, tx *gorm.DB, shipment *models.Shipment, releasedAt time.Time) error {
	for _, item := range shipment.Items {
		movements, err := s.ledger.Release(ctx, tx, item.VariantID, item.Qty)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
				continue
			}
			return err
		}
		for _, m := range movements {
			s.metrics.IncRelease(m.LocationID.String())
			if s.events == nil {
				continue
			}
			err := s.events.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventStockReleased,
				AggregateType: enums.AggregateStockRecord,
				AggregateID:   m.RecordID,
				Data: payloads.StockReleasedEvent{
					VariantID:  m.VariantID,
					LocationID: m.LocationID,
					Qty:        m.Qty(),
					ReleasedAt: releasedAt,
				},
				Version:    1,
				OccurredAt: releasedAt,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing stock released event")
			}
		}
	}
	return nil
}

// advanceOrder keeps the parent order in step with shipment progress inside
// the same transaction.
func (s *service) advanceOrder(ctx context.Context, tx *gorm.DB, shipment *models.Shipment, target enums.ShipmentStatus, changedAt time.Time) error {
	order, err := s.orders.FindByIDTx(tx, shipment.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}

	var next enums.OrderStatus
	switch target {
	case enums.ShipmentStatusShipped:
		switch order.Status {
		case enums.OrderStatusPending, enums.OrderStatusProcessing, enums.OrderStatusLabelCreated:
			next = enums.OrderStatusShipped
		}
	case enums.ShipmentStatusDelivered:
		if order.Status == enums.OrderStatusShipped {
			next = enums.OrderStatusDelivered
		}
	}
	if next == "" {
		return nil
	}

	if err := s.orders.UpdateStatusTx(tx, order.ID, next); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating order status")
	}
	if s.events == nil {
		return nil
	}
	err = s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:   order.ID,
			Reference: order.Reference,
			Status:    next,
			ChangedAt: changedAt,
		},
		Version:    1,
		OccurredAt: changedAt,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing order status event")
	}
	return nil
}

func (s *service) emitShipmentEvent(ctx context.Context, tx *gorm.DB, shipment *models.Shipment, target enums.ShipmentStatus, changedAt time.Time) error {
	if s.events == nil {
		return nil
	}
	var eventType enums.OutboxEventType
	switch target {
	case enums.ShipmentStatusShipped:
		eventType = enums.EventShipmentShipped
	case enums.ShipmentStatusDelivered:
		eventType = enums.EventShipmentDelivered
	case enums.ShipmentStatusReturned:
		eventType = enums.EventShipmentReturned
	case enums.ShipmentStatusCancelled:
		eventType = enums.EventShipmentCancelled
	default:
		// in_transit is an internal hop with no collaborator interest.
		return nil
	}
	err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateShipment,
		AggregateID:   shipment.ID,
		Data: payloads.ShipmentStatusEvent{
			ShipmentID: shipment.ID,
			OrderID:    shipment.OrderID,
			LocationID: shipment.LocationID,
			Status:     target,
			ChangedAt:  changedAt,
		},
		Version:    1,
		OccurredAt: changedAt,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing shipment event")
	}
	return nil
}
