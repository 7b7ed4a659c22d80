package fulfillment

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/calderahq/backoffice-backend/pkg/db/models"
)

// Repository owns persistence for shipments and their items.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByID loads a shipment with its items.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&shipment, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// ListByOrder loads every shipment of the order, oldest first.
func (r *Repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error) {
	var shipments []models.Shipment
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&shipments).Error
	return shipments, err
}

// FindLockedTx loads the shipment row inside tx, row-locked on Postgres so a
// status transition is observed by at most one writer at a time. Items are
// loaded in a second query after the lock is held.
func (r *Repository) FindLockedTx(tx *gorm.DB, id uuid.UUID) (*models.Shipment, error) {
	query := tx.Where("id = ?", id)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var shipment models.Shipment
	if err := query.First(&shipment).Error; err != nil {
		return nil, err
	}
	var items []models.ShipmentItem
	if err := tx.Where("shipment_id = ?", id).Order("created_at ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	shipment.Items = items
	return &shipment, nil
}

// Create inserts the shipment and its items, assigning IDs where missing.
func (r *Repository) Create(ctx context.Context, shipment *models.Shipment) error {
	if shipment.ID == uuid.Nil {
		shipment.ID = uuid.New()
	}
	for i := range shipment.Items {
		if shipment.Items[i].ID == uuid.Nil {
			shipment.Items[i].ID = uuid.New()
		}
		shipment.Items[i].ShipmentID = shipment.ID
	}
	return r.db.WithContext(ctx).Create(shipment).Error
}

// SaveStatusTx persists the status and timestamp columns of an already loaded
// shipment inside the caller's transaction.
func (r *Repository) SaveStatusTx(tx *gorm.DB, shipment *models.Shipment) error {
	return tx.Model(&models.Shipment{}).
		Where("id = ?", shipment.ID).
		Updates(map[string]any{
			"status":       shipment.Status,
			"shipped_at":   shipment.ShippedAt,
			"delivered_at": shipment.DeliveredAt,
		}).Error
}

// DeleteTx removes the shipment and its items inside the caller's transaction.
func (r *Repository) DeleteTx(tx *gorm.DB, id uuid.UUID) error {
	if err := tx.Where("shipment_id = ?", id).Delete(&models.ShipmentItem{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", id).Delete(&models.Shipment{}).Error
}
