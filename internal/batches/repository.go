package batches

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/calderahq/backoffice-backend/pkg/db/models"
	"github.com/calderahq/backoffice-backend/pkg/pagination"
)

// Repository owns persistence for stock batches.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindByID loads one batch.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.StockBatch, error) {
	var batch models.StockBatch
	if err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// Create inserts a batch row.
func (r *Repository) Create(ctx context.Context, batch *models.StockBatch) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(batch).Error
}

// Update saves the mutable batch columns.
func (r *Repository) Update(ctx context.Context, batch *models.StockBatch) error {
	return r.db.WithContext(ctx).Model(&models.StockBatch{}).
		Where("id = ?", batch.ID).
		Updates(map[string]any{
			"batch_number": batch.BatchNumber,
			"quantity":     batch.Quantity,
			"expires_at":   batch.ExpiresAt,
		}).Error
}

// Delete removes a batch.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.StockBatch{}, "id = ?", id).Error
}

// ListByRecord returns a cursor page of batches for one stock record.
func (r *Repository) ListByRecord(ctx context.Context, recordID uuid.UUID, params pagination.Params) ([]models.StockBatch, error) {
	query := r.db.WithContext(ctx).
		Where("stock_record_id = ?", recordID).
		Order("created_at ASC").
		Order("id ASC").
		Limit(pagination.LimitWithBuffer(params.Limit))

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where(
			"(created_at > ?) OR (created_at = ? AND id > ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.StockBatch
	err = query.Find(&rows).Error
	return rows, err
}

// ListExpiringBetween returns batches whose expiry falls inside [from, to].
func (r *Repository) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]models.StockBatch, error) {
	var rows []models.StockBatch
	err := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at >= ? AND expires_at <= ?", from, to).
		Order("expires_at ASC").
		Find(&rows).Error
	return rows, err
}

// ListExpiredBefore returns batches already past their expiry.
func (r *Repository) ListExpiredBefore(ctx context.Context, now time.Time) ([]models.StockBatch, error) {
	var rows []models.StockBatch
	err := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Order("expires_at ASC").
		Find(&rows).Error
	return rows, err
}
