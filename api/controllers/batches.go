package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/calderahq/backoffice-backend/api/responses"
	"github.com/calderahq/backoffice-backend/api/validators"
	"github.com/calderahq/backoffice-backend/internal/batches"
	"github.com/calderahq/backoffice-backend/pkg/logger"
	"github.com/calderahq/backoffice-backend/pkg/pagination"
)

type batchRequest struct {
	BatchNumber string     `json:"batch_number" validate:"required"`
	Quantity    int        `json:"quantity" validate:"min=0"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (b batchRequest) toInput() batches.BatchInput {
	return batches.BatchInput{
		BatchNumber: strings.TrimSpace(b.BatchNumber),
		Quantity:    b.Quantity,
		ExpiresAt:   b.ExpiresAt,
	}
}

func ListBatches(svc batches.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recordID, err := validators.ParseUUIDParam(chi.URLParam(r, "recordID"), "recordID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		page, err := svc.ListByRecord(r.Context(), recordID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func CreateBatch(svc batches.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recordID, err := validators.ParseUUIDParam(chi.URLParam(r, "recordID"), "recordID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload batchRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		batch, err := svc.CreateBatch(r.Context(), recordID, payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, batch)
	}
}

func UpdateBatch(svc batches.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID, err := validators.ParseUUIDParam(chi.URLParam(r, "batchID"), "batchID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload batchRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		batch, err := svc.UpdateBatch(r.Context(), batchID, payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, batch)
	}
}

func DeleteBatch(svc batches.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID, err := validators.ParseUUIDParam(chi.URLParam(r, "batchID"), "batchID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteBatch(r.Context(), batchID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

// ExpiringBatches lists batches due to expire within the requested window.
func ExpiringBatches(svc batches.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, err := validators.ParseQueryInt(r, "days", 0, 0, 10_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.Expiring(r.Context(), days)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

func ExpiredBatches(svc batches.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.Expired(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}
