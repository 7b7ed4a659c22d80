package fulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/calderahq/backoffice-backend/internal/orders"
	"github.com/calderahq/backoffice-backend/internal/stockledger"
	"github.com/calderahq/backoffice-backend/pkg/db"
	"github.com/calderahq/backoffice-backend/pkg/db/models"
	"github.com/calderahq/backoffice-backend/pkg/enums"
	pkgerrors "github.com/calderahq/backoffice-backend/pkg/errors"
	"github.com/calderahq/backoffice-backend/pkg/metrics"
	"github.com/calderahq/backoffice-backend/pkg/outbox"
)

func TestCreateShipmentDefaultsToOrderItems(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variantA, variantB := uuid.New(), uuid.New()
	order := seedOrder(t, conn, enums.OrderStatusPending,
		models.OrderItem{VariantID: variantA, Qty: 2},
		models.OrderItem{VariantID: variantB, Qty: 1},
	)

	shipment, err := svc.CreateShipment(ctx, order.ID, CreateShipmentInput{
		LocationID: uuid.New(),
		Carrier:    "ups",
	})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	if shipment.Status != enums.ShipmentStatusPending {
		t.Fatalf("expected pending shipment, got %s", shipment.Status)
	}
	if len(shipment.Items) != 2 {
		t.Fatalf("expected items copied from order, got %d", len(shipment.Items))
	}
}

func TestCreateShipmentValidation(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variant := uuid.New()
	order := seedOrder(t, conn, enums.OrderStatusPending, models.OrderItem{VariantID: variant, Qty: 2})

	_, err := svc.CreateShipment(ctx, uuid.New(), CreateShipmentInput{LocationID: uuid.New()})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for unknown order, got %v", err)
	}

	_, err = svc.CreateShipment(ctx, order.ID, CreateShipmentInput{
		LocationID: uuid.New(),
		Items:      []ShipmentLine{{VariantID: uuid.New(), Qty: 1}},
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for foreign variant, got %v", err)
	}

	_, err = svc.CreateShipment(ctx, order.ID, CreateShipmentInput{
		LocationID: uuid.New(),
		Items:      []ShipmentLine{{VariantID: variant, Qty: 0}},
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for zero qty, got %v", err)
	}

	cancelled := seedOrder(t, conn, enums.OrderStatusCancelled, models.OrderItem{VariantID: variant, Qty: 1})
	_, err = svc.CreateShipment(ctx, cancelled.ID, CreateShipmentInput{LocationID: uuid.New()})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict for cancelled order, got %v", err)
	}
}

func TestTransitionToShippedDecrementsOnce(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variant := uuid.New()
	location := uuid.New()
	seedStock(t, conn, variant, location, 10, 3)
	order := seedOrder(t, conn, enums.OrderStatusProcessing, models.OrderItem{VariantID: variant, Qty: 4})

	shipment, err := svc.CreateShipment(ctx, order.ID, CreateShipmentInput{LocationID: location})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}

	shipped, err := svc.Transition(ctx, shipment.ID, enums.ShipmentStatusShipped)
	if err != nil {
		t.Fatalf("transition to shipped: %v", err)
	}
	if shipped.Status != enums.ShipmentStatusShipped || shipped.ShippedAt == nil {
		t.Fatalf("unexpected shipment after transition: %+v", shipped)
	}

	record := loadStock(t, conn, variant, location)
	if record.Quantity != 6 || record.ReservedQty != 0 {
		t.Fatalf("expected counters 6/0 after decrement, got %d/%d", record.Quantity, record.ReservedQty)
	}

	var reloadedOrder models.Order
	if err := conn.First(&reloadedOrder, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloadedOrder.Status != enums.OrderStatusShipped {
		t.Fatalf("expected order shipped, got %s", reloadedOrder.Status)
	}

	if got := countEvents(t, conn, enums.EventShipmentShipped); got != 1 {
		t.Fatalf("expected 1 shipment_shipped event, got %d", got)
	}
	if got := countEvents(t, conn, enums.EventStockDecremented); got != 1 {
		t.Fatalf("expected 1 stock_decremented event, got %d", got)
	}
	if got := countEvents(t, conn, enums.EventOrderStatusChanged); got != 1 {
		t.Fatalf("expected 1 order_status_changed event, got %d", got)
	}

	// A repeat request sees the row already shipped and must not decrement again.
	_, err = svc.Transition(ctx, shipment.ID, enums.ShipmentStatusShipped)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInvalidTransition {
		t.Fatalf("expected invalid transition on repeat, got %v", err)
	}
	record = loadStock(t, conn, variant, location)
	if record.Quantity != 6 {
		t.Fatalf("repeat transition changed stock: %d", record.Quantity)
	}
}

func TestTransitionRejectsIllegalHops(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variant := uuid.New()
	location := uuid.New()
	seedStock(t, conn, variant, location, 10, 0)
	order := seedOrder(t, conn, enums.OrderStatusPending, models.OrderItem{VariantID: variant, Qty: 1})
	shipment, err := svc.CreateShipment(ctx, order.ID, CreateShipmentInput{LocationID: location})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}

	_, err = svc.Transition(ctx, shipment.ID, enums.ShipmentStatusDelivered)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInvalidTransition {
		t.Fatalf("expected invalid transition pending->delivered, got %v", err)
	}

	for _, target := range []enums.ShipmentStatus{
		enums.ShipmentStatusShipped,
		enums.ShipmentStatusInTransit,
		enums.ShipmentStatusDelivered,
	} {
		if _, err := svc.Transition(ctx, shipment.ID, target); err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
	}

	_, err = svc.Transition(ctx, shipment.ID, enums.ShipmentStatusReturned)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInvalidTransition {
		t.Fatalf("expected terminal state to reject transitions, got %v", err)
	}
}

func TestTransitionShortfallRollsBack(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variant := uuid.New()
	location := uuid.New()
	seedStock(t, conn, variant, location, 2, 0)
	order := seedOrder(t, conn, enums.OrderStatusPending, models.OrderItem{VariantID: variant, Qty: 5})
	shipment, err := svc.CreateShipment(ctx, order.ID, CreateShipmentInput{LocationID: location})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}

	_, err = svc.Transition(ctx, shipment.ID, enums.ShipmentStatusShipped)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	record := loadStock(t, conn, variant, location)
	if record.Quantity != 2 {
		t.Fatalf("shortfall must not change stock, got %d", record.Quantity)
	}
	reloaded, err := svc.GetShipment(ctx, shipment.ID)
	if err != nil {
		t.Fatalf("reload shipment: %v", err)
	}
	if reloaded.Status != enums.ShipmentStatusPending {
		t.Fatalf("expected shipment still pending, got %s", reloaded.Status)
	}
	if got := countEvents(t, conn, enums.EventShipmentShipped); got != 0 {
		t.Fatalf("expected no events after rollback, got %d", got)
	}
}

func TestCancelPendingReleasesHeldUnits(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variant := uuid.New()
	location := uuid.New()
	seedStock(t, conn, variant, location, 10, 4)
	order := seedOrder(t, conn, enums.OrderStatusPending, models.OrderItem{VariantID: variant, Qty: 3})
	shipment, err := svc.CreateShipment(ctx, order.ID, CreateShipmentInput{LocationID: location})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}

	cancelled, err := svc.Transition(ctx, shipment.ID, enums.ShipmentStatusCancelled)
	if err != nil {
		t.Fatalf("cancel shipment: %v", err)
	}
	if cancelled.Status != enums.ShipmentStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	record := loadStock(t, conn, variant, location)
	if record.Quantity != 10 || record.ReservedQty != 1 {
		t.Fatalf("expected counters 10/1 after release, got %d/%d", record.Quantity, record.ReservedQty)
	}
	if got := countEvents(t, conn, enums.EventStockReleased); got != 1 {
		t.Fatalf("expected 1 stock_released event, got %d", got)
	}
	if got := countEvents(t, conn, enums.EventShipmentCancelled); got != 1 {
		t.Fatalf("expected 1 shipment_cancelled event, got %d", got)
	}
}

func TestDeliveredAdvancesOrder(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variant := uuid.New()
	location := uuid.New()
	seedStock(t, conn, variant, location, 5, 0)
	order := seedOrder(t, conn, enums.OrderStatusLabelCreated, models.OrderItem{VariantID: variant, Qty: 2})
	shipment, err := svc.CreateShipment(ctx, order.ID, CreateShipmentInput{LocationID: location})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}

	if _, err := svc.Transition(ctx, shipment.ID, enums.ShipmentStatusShipped); err != nil {
		t.Fatalf("ship: %v", err)
	}
	delivered, err := svc.Transition(ctx, shipment.ID, enums.ShipmentStatusDelivered)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if delivered.DeliveredAt == nil {
		t.Fatal("expected delivered timestamp")
	}

	var reloadedOrder models.Order
	if err := conn.First(&reloadedOrder, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloadedOrder.Status != enums.OrderStatusDelivered {
		t.Fatalf("expected order delivered, got %s", reloadedOrder.Status)
	}
}

func TestDeleteShipmentRejectedOnceDelivered(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	variant := uuid.New()
	location := uuid.New()
	seedStock(t, conn, variant, location, 5, 0)
	order := seedOrder(t, conn, enums.OrderStatusPending, models.OrderItem{VariantID: variant, Qty: 1})
	shipment, err := svc.CreateShipment(ctx, order.ID, CreateShipmentInput{LocationID: location})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}

	if _, err := svc.Transition(ctx, shipment.ID, enums.ShipmentStatusShipped); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if _, err := svc.Transition(ctx, shipment.ID, enums.ShipmentStatusDelivered); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	err = svc.DeleteShipment(ctx, shipment.ID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict deleting delivered shipment, got %v", err)
	}

	// An undelivered shipment can still be removed.
	second, err := svc.CreateShipment(ctx, order.ID, CreateShipmentInput{LocationID: location})
	if err != nil {
		t.Fatalf("create second shipment: %v", err)
	}
	if err := svc.DeleteShipment(ctx, second.ID); err != nil {
		t.Fatalf("delete pending shipment: %v", err)
	}
	if _, err := svc.GetShipment(ctx, second.ID); err == nil {
		t.Fatal("expected deleted shipment to disappear")
	}
}

func newTestService(t *testing.T, conn *gorm.DB) Service {
	t.Helper()
	dbClient := db.NewFromGorm(conn)
	ledger, err := stockledger.NewService(stockledger.NewRepository(conn), dbClient, nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	events := outbox.NewService(outbox.NewRepository(conn), nil)
	svc, err := NewService(
		NewRepository(conn),
		orders.NewRepository(conn),
		ledger,
		dbClient,
		events,
		metrics.NewFulfillmentMetrics(nil),
		nil,
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func seedOrder(t *testing.T, conn *gorm.DB, status enums.OrderStatus, items ...models.OrderItem) models.Order {
	t.Helper()
	order := models.Order{
		ID:        uuid.New(),
		Reference: "ORD-" + uuid.NewString()[:8],
		Status:    status,
		Total:     decimal.NewFromInt(100),
		PlacedAt:  time.Now(),
	}
	for i := range items {
		items[i].ID = uuid.New()
		items[i].OrderID = order.ID
		if items[i].UnitPrice.IsZero() {
			items[i].UnitPrice = decimal.NewFromInt(10)
		}
	}
	order.Items = items
	if err := conn.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func seedStock(t *testing.T, conn *gorm.DB, variantID, locationID uuid.UUID, quantity, reserved int) models.StockRecord {
	t.Helper()
	record := models.StockRecord{
		ID:          uuid.New(),
		VariantID:   variantID,
		LocationID:  locationID,
		Quantity:    quantity,
		ReservedQty: reserved,
	}
	if err := conn.Create(&record).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return record
}

func loadStock(t *testing.T, conn *gorm.DB, variantID, locationID uuid.UUID) models.StockRecord {
	t.Helper()
	var record models.StockRecord
	err := conn.Where("variant_id = ? AND location_id = ?", variantID, locationID).First(&record).Error
	if err != nil {
		t.Fatalf("load stock: %v", err)
	}
	return record
}

func countEvents(t *testing.T, conn *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	err := conn.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND published_at IS NULL", eventType).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	return count
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:fulfillment_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = conn.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
		&models.Shipment{},
		&models.ShipmentItem{},
		&models.StockRecord{},
		&models.OutboxEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}
