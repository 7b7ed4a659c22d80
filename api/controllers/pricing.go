package controllers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/calderahq/backoffice-backend/api/responses"
	"github.com/calderahq/backoffice-backend/api/validators"
	"github.com/calderahq/backoffice-backend/internal/catalog"
	"github.com/calderahq/backoffice-backend/internal/pricing"
	pkgerrors "github.com/calderahq/backoffice-backend/pkg/errors"
	"github.com/calderahq/backoffice-backend/pkg/logger"
)

type tierRequest struct {
	MinQty int             `json:"min_qty" validate:"required,min=1"`
	MaxQty *int            `json:"max_qty,omitempty" validate:"omitempty,min=2"`
	Price  decimal.Decimal `json:"price"`
}

func (t tierRequest) toInput() pricing.TierInput {
	return pricing.TierInput{MinQty: t.MinQty, MaxQty: t.MaxQty, Price: t.Price}
}

func ListPriceTiers(svc pricing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		variantID, err := validators.ParseUUIDParam(chi.URLParam(r, "variantID"), "variantID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tiers, err := svc.ListTiers(r.Context(), variantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, tiers)
	}
}

func CreatePriceTier(svc pricing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		variantID, err := validators.ParseUUIDParam(chi.URLParam(r, "variantID"), "variantID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload tierRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tier, err := svc.CreateTier(r.Context(), variantID, payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, tier)
	}
}

func UpdatePriceTier(svc pricing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tierID, err := validators.ParseUUIDParam(chi.URLParam(r, "tierID"), "tierID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload tierRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tier, err := svc.UpdateTier(r.Context(), tierID, payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, tier)
	}
}

func DeletePriceTier(svc pricing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tierID, err := validators.ParseUUIDParam(chi.URLParam(r, "tierID"), "tierID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteTier(r.Context(), tierID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

// QuotePrice resolves the unit price for a quantity, falling back to the
// variant's regular price when no tier covers it.
func QuotePrice(svc pricing.Service, variants *catalog.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		variantID, err := validators.ParseUUIDParam(chi.URLParam(r, "variantID"), "variantID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		qty, err := validators.ParseQueryInt(r, "qty", 0, 1, 1_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if qty == 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "qty query parameter required"))
			return
		}

		variant, err := variants.FindVariantByID(r.Context(), variantID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found"))
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading variant"))
			return
		}

		quote, err := svc.PriceFor(r.Context(), variantID, qty, variant.RegularPrice)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}
