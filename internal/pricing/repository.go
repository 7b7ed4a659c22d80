package pricing

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/calderahq/backoffice-backend/pkg/db/models"
)

// Repository owns persistence for price tiers.
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

// ListByVariant returns the variant's tiers ordered by min qty.
func (r *Repository) ListByVariant(ctx context.Context, variantID uuid.UUID) ([]models.PriceTier, error) {
	var tiers []models.PriceTier
	err := r.db.WithContext(ctx).
		Where("variant_id = ?", variantID).
		Order("min_qty ASC").
		Find(&tiers).Error
	return tiers, err
}

// ListByVariantLocked loads the variant's tiers inside tx with row locks on
// Postgres, so concurrent overlap checks serialize on the same rows.
func (r *Repository) ListByVariantLocked(tx *gorm.DB, variantID uuid.UUID) ([]models.PriceTier, error) {
	query := tx.
		Where("variant_id = ?", variantID).
		Order("min_qty ASC")
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var tiers []models.PriceTier
	err := query.Find(&tiers).Error
	return tiers, err
}

// FindByID loads one tier.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PriceTier, error) {
	var tier models.PriceTier
	if err := r.db.WithContext(ctx).First(&tier, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &tier, nil
}

// Create inserts a tier inside tx.
func (r *Repository) Create(tx *gorm.DB, tier *models.PriceTier) error {
	if tier.ID == uuid.Nil {
		tier.ID = uuid.New()
	}
	return tx.Create(tier).Error
}

// Update saves the mutable tier columns inside tx.
func (r *Repository) Update(tx *gorm.DB, tier *models.PriceTier) error {
	return tx.Model(&models.PriceTier{}).
		Where("id = ?", tier.ID).
		Updates(map[string]any{
			"min_qty": tier.MinQty,
			"max_qty": tier.MaxQty,
			"price":   tier.Price,
		}).Error
}

// Delete removes a tier.
func (r *Repository) Delete(tx *gorm.DB, id uuid.UUID) error {
	return tx.Delete(&models.PriceTier{}, "id = ?", id).Error
}
