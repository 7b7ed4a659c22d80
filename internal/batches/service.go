package batches

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calderahq/backoffice-backend/pkg/config"
	dbpkg "github.com/calderahq/backoffice-backend/pkg/db"
	"github.com/calderahq/backoffice-backend/pkg/db/models"
	pkgerrors "github.com/calderahq/backoffice-backend/pkg/errors"
	"github.com/calderahq/backoffice-backend/pkg/pagination"
)

// BatchInput carries the validated payload for batch create/update.
type BatchInput struct {
	BatchNumber string
	Quantity    int
	ExpiresAt   *time.Time
}

// BatchPage is one cursor page of batches.
type BatchPage struct {
	Batches    []models.StockBatch
	NextCursor string
}

type recordLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.StockRecord, error)
}

// Service tracks expiry batches. Batches are advisory: nothing here feeds
// back into the ledger counters.
type Service interface {
	CreateBatch(ctx context.Context, recordID uuid.UUID, input BatchInput) (*models.StockBatch, error)
	UpdateBatch(ctx context.Context, batchID uuid.UUID, input BatchInput) (*models.StockBatch, error)
	DeleteBatch(ctx context.Context, batchID uuid.UUID) error
	ListByRecord(ctx context.Context, recordID uuid.UUID, params pagination.Params) (*BatchPage, error)
	Expiring(ctx context.Context, withinDays int) ([]models.StockBatch, error)
	Expired(ctx context.Context) ([]models.StockBatch, error)
}

type service struct {
	repo    *Repository
	records recordLoader
	cfg     config.InventoryConfig
	now     func() time.Time
}

// NewService constructs the batch tracker.
func NewService(repo *Repository, records recordLoader, cfg config.InventoryConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	if records == nil {
		return nil, fmt.Errorf("stock record loader required")
	}
	return &service{repo: repo, records: records, cfg: cfg, now: time.Now}, nil
}

func (s *service) CreateBatch(ctx context.Context, recordID uuid.UUID, input BatchInput) (*models.StockBatch, error) {
	if err := validateBatchInput(input); err != nil {
		return nil, err
	}
	if _, err := s.records.FindByID(ctx, recordID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stock record")
	}

	batch := &models.StockBatch{
		StockRecordID: recordID,
		BatchNumber:   strings.TrimSpace(input.BatchNumber),
		Quantity:      input.Quantity,
		ExpiresAt:     input.ExpiresAt,
	}
	if err := s.repo.Create(ctx, batch); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_stock_batches_record_number") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "batch number already exists for this record")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating batch")
	}
	return batch, nil
}

func (s *service) UpdateBatch(ctx context.Context, batchID uuid.UUID, input BatchInput) (*models.StockBatch, error) {
	if err := validateBatchInput(input); err != nil {
		return nil, err
	}
	batch, err := s.repo.FindByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "batch not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading batch")
	}

	batch.BatchNumber = strings.TrimSpace(input.BatchNumber)
	batch.Quantity = input.Quantity
	batch.ExpiresAt = input.ExpiresAt
	if err := s.repo.Update(ctx, batch); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_stock_batches_record_number") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "batch number already exists for this record")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating batch")
	}
	return batch, nil
}

func (s *service) DeleteBatch(ctx context.Context, batchID uuid.UUID) error {
	if _, err := s.repo.FindByID(ctx, batchID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "batch not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading batch")
	}
	if err := s.repo.Delete(ctx, batchID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting batch")
	}
	return nil
}

func (s *service) ListByRecord(ctx context.Context, recordID uuid.UUID, params pagination.Params) (*BatchPage, error) {
	rows, err := s.repo.ListByRecord(ctx, recordID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing batches")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	page := &BatchPage{Batches: rows}
	if len(rows) > limit {
		page.Batches = rows[:limit]
		last := page.Batches[len(page.Batches)-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}

// Expiring returns batches due to expire within the window. Zero days falls
// back to the configured default; the window is capped.
func (s *service) Expiring(ctx context.Context, withinDays int) ([]models.StockBatch, error) {
	if withinDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "days must be non-negative")
	}
	if withinDays == 0 {
		withinDays = s.cfg.ExpiringBatchDefaultDays
	}
	if s.cfg.ExpiringBatchMaxDays > 0 && withinDays > s.cfg.ExpiringBatchMaxDays {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("days must not exceed %d", s.cfg.ExpiringBatchMaxDays))
	}

	now := s.now()
	rows, err := s.repo.ListExpiringBetween(ctx, now, now.AddDate(0, 0, withinDays))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing expiring batches")
	}
	return rows, nil
}

// Expired returns batches already past their expiry date.
func (s *service) Expired(ctx context.Context) ([]models.StockBatch, error) {
	rows, err := s.repo.ListExpiredBefore(ctx, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing expired batches")
	}
	return rows, nil
}

func validateBatchInput(input BatchInput) error {
	if strings.TrimSpace(input.BatchNumber) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "batchNumber is required")
	}
	if input.Quantity < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be non-negative")
	}
	return nil
}
