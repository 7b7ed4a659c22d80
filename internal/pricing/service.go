package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/calderahq/backoffice-backend/pkg/config"
	"github.com/calderahq/backoffice-backend/pkg/db"
	"github.com/calderahq/backoffice-backend/pkg/db/models"
	"github.com/calderahq/backoffice-backend/pkg/enums"
	pkgerrors "github.com/calderahq/backoffice-backend/pkg/errors"
	"github.com/calderahq/backoffice-backend/pkg/logger"
	"github.com/calderahq/backoffice-backend/pkg/outbox"
	"github.com/calderahq/backoffice-backend/pkg/outbox/payloads"
)

// Quote is the resolved unit price for a (variant, qty) pair.
type Quote struct {
	VariantID uuid.UUID       `json:"variant_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
	TierID    *uuid.UUID      `json:"tier_id,omitempty"`
}

// TierInput carries the validated payload for tier create/update.
type TierInput struct {
	MinQty int
	MaxQty *int
	Price  decimal.Decimal
}

// Service resolves tiered prices and manages the tier set per variant.
type Service interface {
	ListTiers(ctx context.Context, variantID uuid.UUID) ([]models.PriceTier, error)
	ApplicableTier(ctx context.Context, variantID uuid.UUID, qty int) (*models.PriceTier, error)
	PriceFor(ctx context.Context, variantID uuid.UUID, qty int, regularPrice decimal.Decimal) (Quote, error)
	CreateTier(ctx context.Context, variantID uuid.UUID, input TierInput) (*models.PriceTier, error)
	UpdateTier(ctx context.Context, tierID uuid.UUID, input TierInput) (*models.PriceTier, error)
	DeleteTier(ctx context.Context, tierID uuid.UUID) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo     *Repository
	dbClient *db.Client
	cfg      config.PricingConfig
	events   eventEmitter
	logg     *logger.Logger
}

// NewService constructs the pricing service.
func NewService(repo *Repository, dbClient *db.Client, cfg config.PricingConfig, events eventEmitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("pricing repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	return &service{repo: repo, dbClient: dbClient, cfg: cfg, events: events, logg: logg}, nil
}

func (s *service) ListTiers(ctx context.Context, variantID uuid.UUID) ([]models.PriceTier, error) {
	tiers, err := s.repo.ListByVariant(ctx, variantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing price tiers")
	}
	return tiers, nil
}

// ApplicableTier picks the covering tier with the largest min qty, the
// tightest lower bound for the requested quantity. Nil when no tier covers.
func (s *service) ApplicableTier(ctx context.Context, variantID uuid.UUID, qty int) (*models.PriceTier, error) {
	if qty < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be at least 1")
	}
	tiers, err := s.repo.ListByVariant(ctx, variantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing price tiers")
	}

	var best *models.PriceTier
	for i := range tiers {
		tier := &tiers[i]
		if !tier.Covers(qty) {
			continue
		}
		if best == nil || tier.MinQty > best.MinQty {
			best = tier
		}
	}
	return best, nil
}

// PriceFor resolves the unit price, falling back to the regular price when no
// tier covers the quantity.
func (s *service) PriceFor(ctx context.Context, variantID uuid.UUID, qty int, regularPrice decimal.Decimal) (Quote, error) {
	tier, err := s.ApplicableTier(ctx, variantID, qty)
	if err != nil {
		return Quote{}, err
	}

	quote := Quote{
		VariantID: variantID,
		Qty:       qty,
		UnitPrice: regularPrice,
	}
	if tier != nil {
		quote.UnitPrice = tier.Price
		quote.TierID = &tier.ID
	}
	quote.Total = quote.UnitPrice.Mul(decimal.NewFromInt(int64(qty)))
	return quote, nil
}

func (s *service) CreateTier(ctx context.Context, variantID uuid.UUID, input TierInput) (*models.PriceTier, error) {
	if err := validateTierInput(input); err != nil {
		return nil, err
	}

	tier := &models.PriceTier{
		VariantID: variantID,
		MinQty:    input.MinQty,
		MaxQty:    input.MaxQty,
		Price:     input.Price,
	}

	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		siblings, err := s.repo.ListByVariantLocked(tx, variantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking price tiers")
		}
		if s.cfg.MaxTiersPerVariant > 0 && len(siblings) >= s.cfg.MaxTiersPerVariant {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("variant already has %d tiers", len(siblings)))
		}
		if conflict := findOverlap(siblings, input.MinQty, input.MaxQty, uuid.Nil); conflict != nil {
			return overlapError(conflict)
		}
		if err := s.repo.Create(tx, tier); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating price tier")
		}
		return s.emitTierChanged(ctx, tx, tier, "created")
	})
	if err != nil {
		return nil, err
	}
	return tier, nil
}

func (s *service) UpdateTier(ctx context.Context, tierID uuid.UUID, input TierInput) (*models.PriceTier, error) {
	if err := validateTierInput(input); err != nil {
		return nil, err
	}

	var updated *models.PriceTier
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		tier, err := s.repo.WithTx(tx).FindByID(ctx, tierID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "price tier not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading price tier")
		}

		siblings, err := s.repo.ListByVariantLocked(tx, tier.VariantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking price tiers")
		}
		if conflict := findOverlap(siblings, input.MinQty, input.MaxQty, tier.ID); conflict != nil {
			return overlapError(conflict)
		}

		tier.MinQty = input.MinQty
		tier.MaxQty = input.MaxQty
		tier.Price = input.Price
		if err := s.repo.Update(tx, tier); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating price tier")
		}
		updated = tier
		return s.emitTierChanged(ctx, tx, tier, "updated")
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) DeleteTier(ctx context.Context, tierID uuid.UUID) error {
	return s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		tier, err := s.repo.WithTx(tx).FindByID(ctx, tierID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "price tier not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading price tier")
		}
		if err := s.repo.Delete(tx, tierID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting price tier")
		}
		return s.emitTierChanged(ctx, tx, tier, "deleted")
	})
}

func (s *service) emitTierChanged(ctx context.Context, tx *gorm.DB, tier *models.PriceTier, action string) error {
	if s.events == nil {
		return nil
	}
	price := tier.Price
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPriceTierChanged,
		AggregateType: enums.AggregatePriceTier,
		AggregateID:   tier.ID,
		Version:       1,
		Data: payloads.PriceTierChangedEvent{
			TierID:    tier.ID,
			VariantID: tier.VariantID,
			Action:    action,
			MinQty:    tier.MinQty,
			MaxQty:    tier.MaxQty,
			Price:     &price,
		},
	})
}

func validateTierInput(input TierInput) error {
	if input.MinQty < 1 {
		return pkgerrors.New(pkgerrors.CodeInvalidRange, "minQty must be at least 1")
	}
	if input.MaxQty != nil && input.MinQty >= *input.MaxQty {
		return pkgerrors.New(pkgerrors.CodeInvalidRange, "minQty must be below maxQty")
	}
	if input.Price.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must be non-negative")
	}
	return nil
}

// findOverlap checks the candidate range against every sibling except self.
// A nil max bound is treated as unbounded above.
func findOverlap(siblings []models.PriceTier, minQty int, maxQty *int, self uuid.UUID) *models.PriceTier {
	for i := range siblings {
		sibling := &siblings[i]
		if sibling.ID == self {
			continue
		}
		if rangesOverlap(minQty, maxQty, sibling.MinQty, sibling.MaxQty) {
			return sibling
		}
	}
	return nil
}

func rangesOverlap(aMin int, aMax *int, bMin int, bMax *int) bool {
	if aMax != nil && *aMax < bMin {
		return false
	}
	if bMax != nil && *bMax < aMin {
		return false
	}
	return true
}

func overlapError(conflict *models.PriceTier) error {
	return pkgerrors.New(pkgerrors.CodeTierOverlap, "tier range overlaps an existing tier").
		WithDetails(map[string]any{
			"conflicting_tier_id": conflict.ID,
			"min_qty":             conflict.MinQty,
			"max_qty":             conflict.MaxQty,
		})
}
