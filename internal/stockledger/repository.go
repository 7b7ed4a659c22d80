package stockledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/calderahq/backoffice-backend/pkg/db/models"
)

// Repository owns persistence for stock records.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ListByVariant loads all records for the variant ordered by location.
func (r *Repository) ListByVariant(ctx context.Context, variantID uuid.UUID) ([]models.StockRecord, error) {
	var records []models.StockRecord
	err := r.db.WithContext(ctx).
		Where("variant_id = ?", variantID).
		Order("location_id ASC").
		Find(&records).Error
	return records, err
}

// FindByVariantAndLocation loads a single counter pair.
func (r *Repository) FindByVariantAndLocation(ctx context.Context, variantID, locationID uuid.UUID) (*models.StockRecord, error) {
	var record models.StockRecord
	err := r.db.WithContext(ctx).
		Where("variant_id = ? AND location_id = ?", variantID, locationID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByID loads a record by primary key.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.StockRecord, error) {
	var record models.StockRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// ListForVariantsLocked loads every record for the given variants inside tx,
// row-locked on Postgres, in deterministic (variant, location) order so
// concurrent decrements acquire locks the same way.
func (r *Repository) ListForVariantsLocked(tx *gorm.DB, variantIDs []uuid.UUID) ([]models.StockRecord, error) {
	query := tx.
		Where("variant_id IN ?", variantIDs).
		Order("variant_id ASC").
		Order("location_id ASC")
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var records []models.StockRecord
	err := query.Find(&records).Error
	return records, err
}

// SaveCounters persists the quantity/reserved pair of an already loaded record.
func (r *Repository) SaveCounters(tx *gorm.DB, record *models.StockRecord) error {
	return tx.Model(&models.StockRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"quantity":     record.Quantity,
			"reserved_qty": record.ReservedQty,
		}).Error
}

// Upsert inserts the record or refreshes the counters on conflict with the
// (variant, location) unique key.
func (r *Repository) Upsert(ctx context.Context, record *models.StockRecord) (*models.StockRecord, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "variant_id"}, {Name: "location_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"quantity", "reserved_qty", "sell_when_out_of_stock", "updated_at",
			}),
		}).
		Create(record).Error
	if err != nil {
		return nil, err
	}
	return r.FindByVariantAndLocation(ctx, record.VariantID, record.LocationID)
}
