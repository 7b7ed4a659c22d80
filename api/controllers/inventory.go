package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/calderahq/backoffice-backend/api/responses"
	"github.com/calderahq/backoffice-backend/api/validators"
	"github.com/calderahq/backoffice-backend/internal/stockledger"
	pkgerrors "github.com/calderahq/backoffice-backend/pkg/errors"
	"github.com/calderahq/backoffice-backend/pkg/logger"
)

// GetAvailability answers how many units of a variant can be sold, across all
// locations or at one location when locationId is supplied.
func GetAvailability(svc stockledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}

		variantID, err := validators.ParseUUIDParam(chi.URLParam(r, "variantID"), "variantID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		locationID, err := validators.ParseQueryUUID(r, "locationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if locationID != uuid.Nil {
			units, err := svc.AvailableAt(r.Context(), variantID, locationID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, map[string]any{
				"variant_id":  variantID,
				"location_id": locationID,
				"units":       units,
			})
			return
		}

		availability, err := svc.Available(r.Context(), variantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, availability)
	}
}

type upsertStockRequest struct {
	Quantity           int  `json:"quantity" validate:"min=0"`
	ReservedQty        int  `json:"reserved_qty" validate:"min=0"`
	SellWhenOutOfStock bool `json:"sell_when_out_of_stock"`
}

// UpsertStock writes the counter pair for one (variant, location).
func UpsertStock(svc stockledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock service unavailable"))
			return
		}

		variantID, err := validators.ParseUUIDParam(chi.URLParam(r, "variantID"), "variantID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		locationID, err := validators.ParseUUIDParam(chi.URLParam(r, "locationID"), "locationID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload upsertStockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.UpsertStock(r.Context(), stockledger.UpsertStockInput{
			VariantID:          variantID,
			LocationID:         locationID,
			Quantity:           payload.Quantity,
			ReservedQty:        payload.ReservedQty,
			SellWhenOutOfStock: payload.SellWhenOutOfStock,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}
