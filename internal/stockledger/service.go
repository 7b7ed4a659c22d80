package stockledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calderahq/backoffice-backend/pkg/db"
	"github.com/calderahq/backoffice-backend/pkg/db/models"
	pkgerrors "github.com/calderahq/backoffice-backend/pkg/errors"
	"github.com/calderahq/backoffice-backend/pkg/logger"
)

// DecrementItem is one order line to deduct when a shipment goes out.
type DecrementItem struct {
	VariantID uuid.UUID
	Qty       int
}

// Movement reports how a single stock record changed during a decrement or
// release. FromHeld units came out of the reservation pool, FromFree out of
// unreserved quantity.
type Movement struct {
	RecordID   uuid.UUID
	VariantID  uuid.UUID
	LocationID uuid.UUID
	FromHeld   int
	FromFree   int
}

// Qty returns the total units moved.
func (m Movement) Qty() int {
	return m.FromHeld + m.FromFree
}

// Availability is the aggregate answer for a variant across locations.
type Availability struct {
	VariantID uuid.UUID `json:"variant_id"`
	Units     int       `json:"units"`
	InStock   bool      `json:"in_stock"`
}

// UpsertStockInput carries validated counter values for one (variant, location).
type UpsertStockInput struct {
	VariantID          uuid.UUID
	LocationID         uuid.UUID
	Quantity           int
	ReservedQty        int
	SellWhenOutOfStock bool
}

// Service exposes the stock ledger operations.
type Service interface {
	Available(ctx context.Context, variantID uuid.UUID) (Availability, error)
	AvailableAt(ctx context.Context, variantID, locationID uuid.UUID) (int, error)
	UpsertStock(ctx context.Context, input UpsertStockInput) (*models.StockRecord, error)
	DecrementForShipment(ctx context.Context, tx *gorm.DB, items []DecrementItem) ([]Movement, error)
	Release(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) ([]Movement, error)
}

type service struct {
	repo     *Repository
	dbClient *db.Client
	logg     *logger.Logger
}

// NewService constructs the ledger service.
func NewService(repo *Repository, dbClient *db.Client, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	return &service{repo: repo, dbClient: dbClient, logg: logg}, nil
}

// Available sums sellable units across every location of the variant. Any
// record flagged sell_when_out_of_stock forces the in-stock answer even at
// zero count.
func (s *service) Available(ctx context.Context, variantID uuid.UUID) (Availability, error) {
	records, err := s.repo.ListByVariant(ctx, variantID)
	if err != nil {
		return Availability{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing stock records")
	}

	result := Availability{VariantID: variantID}
	for _, record := range records {
		result.Units += record.Sellable()
		if record.SellWhenOutOfStock {
			result.InStock = true
		}
	}
	if result.Units > 0 {
		result.InStock = true
	}
	return result, nil
}

// AvailableAt reports sellable units at one location.
func (s *service) AvailableAt(ctx context.Context, variantID, locationID uuid.UUID) (int, error) {
	record, err := s.repo.FindByVariantAndLocation(ctx, variantID, locationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stock record")
	}
	return record.Sellable(), nil
}

// UpsertStock writes the counter pair for a (variant, location).
func (s *service) UpsertStock(ctx context.Context, input UpsertStockInput) (*models.StockRecord, error) {
	if input.Quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be non-negative")
	}
	if input.ReservedQty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservedQty must be non-negative")
	}
	record := &models.StockRecord{
		VariantID:          input.VariantID,
		LocationID:         input.LocationID,
		Quantity:           input.Quantity,
		ReservedQty:        input.ReservedQty,
		SellWhenOutOfStock: input.SellWhenOutOfStock,
	}
	saved, err := s.repo.Upsert(ctx, record)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "upserting stock record")
	}
	return saved, nil
}

// DecrementForShipment runs the two-phase deduction for every order line
// inside the caller's transaction. Phase 1 consumes reservations (both
// counters drop together so held stock stays accurate for other orders),
// phase 2 consumes unreserved quantity. Any remainder after both phases
// fails the whole transaction.
func (s *service) DecrementForShipment(ctx context.Context, tx *gorm.DB, items []DecrementItem) ([]Movement, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if len(items) == 0 {
		return nil, nil
	}
	for _, item := range items {
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "decrement qty must be positive")
		}
	}

	variantIDs := make([]uuid.UUID, 0, len(items))
	seen := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.VariantID]; ok {
			continue
		}
		seen[item.VariantID] = struct{}{}
		variantIDs = append(variantIDs, item.VariantID)
	}
	// Deterministic lock order across concurrent shipments.
	sort.Slice(variantIDs, func(i, j int) bool {
		return variantIDs[i].String() < variantIDs[j].String()
	})

	records, err := s.repo.ListForVariantsLocked(tx, variantIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking stock records")
	}
	byVariant := make(map[uuid.UUID][]*models.StockRecord, len(variantIDs))
	for i := range records {
		record := &records[i]
		byVariant[record.VariantID] = append(byVariant[record.VariantID], record)
	}

	var movements []*Movement
	touched := make(map[uuid.UUID]*models.StockRecord)
	moved := make(map[uuid.UUID]*Movement)

	for _, item := range items {
		variantRecords := byVariant[item.VariantID]
		if len(variantRecords) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock,
				fmt.Sprintf("no stock records for variant %s", item.VariantID)).
				WithDetails(map[string]any{"variant_id": item.VariantID, "requested": item.Qty})
		}

		remaining := item.Qty

		// Phase 1: consume reservations.
		for _, record := range variantRecords {
			if remaining == 0 {
				break
			}
			toDeduct := min(remaining, max(0, record.ReservedQty))
			if toDeduct == 0 {
				continue
			}
			record.ReservedQty -= toDeduct
			record.Quantity -= toDeduct
			remaining -= toDeduct
			touched[record.ID] = record
			m := ensureMovement(moved, &movements, record)
			m.FromHeld += toDeduct
		}

		// Phase 2: consume unreserved stock.
		if remaining > 0 {
			for _, record := range variantRecords {
				if remaining == 0 {
					break
				}
				free := record.Quantity - record.ReservedQty
				toDeduct := min(remaining, max(0, free))
				if toDeduct == 0 {
					continue
				}
				record.Quantity -= toDeduct
				remaining -= toDeduct
				touched[record.ID] = record
				m := ensureMovement(moved, &movements, record)
				m.FromFree += toDeduct
			}
		}

		if remaining > 0 {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock,
				fmt.Sprintf("variant %s short by %d units", item.VariantID, remaining)).
				WithDetails(map[string]any{
					"variant_id": item.VariantID,
					"requested":  item.Qty,
					"short_by":   remaining,
				})
		}
	}

	for _, record := range touched {
		if record.Quantity < 0 || record.ReservedQty < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "decrement would drive counters negative")
		}
		if err := s.repo.SaveCounters(tx, record); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving stock counters")
		}
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"items":   len(items),
			"records": len(touched),
		}), "stock decremented for shipment")
	}
	result := make([]Movement, 0, len(movements))
	for _, m := range movements {
		result = append(result, *m)
	}
	return result, nil
}

// Release returns up to qty reserved units of the variant to the free pool,
// walking locations in the same deterministic order as the decrement path.
func (s *service) Release(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) ([]Movement, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "release qty must be positive")
	}

	records, err := s.repo.ListForVariantsLocked(tx, []uuid.UUID{variantID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking stock records")
	}
	if len(records) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no stock records for variant")
	}

	remaining := qty
	var movements []Movement
	for i := range records {
		if remaining == 0 {
			break
		}
		record := &records[i]
		toRelease := min(remaining, max(0, record.ReservedQty))
		if toRelease == 0 {
			continue
		}
		record.ReservedQty -= toRelease
		remaining -= toRelease
		if err := s.repo.SaveCounters(tx, record); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving stock counters")
		}
		movements = append(movements, Movement{
			RecordID:   record.ID,
			VariantID:  record.VariantID,
			LocationID: record.LocationID,
			FromHeld:   toRelease,
		})
	}
	return movements, nil
}

func ensureMovement(moved map[uuid.UUID]*Movement, movements *[]*Movement, record *models.StockRecord) *Movement {
	if m, ok := moved[record.ID]; ok {
		return m
	}
	m := &Movement{
		RecordID:   record.ID,
		VariantID:  record.VariantID,
		LocationID: record.LocationID,
	}
	*movements = append(*movements, m)
	moved[record.ID] = m
	return m
}
