package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/calderahq/backoffice-backend/api/responses"
	"github.com/calderahq/backoffice-backend/api/validators"
	"github.com/calderahq/backoffice-backend/internal/fulfillment"
	"github.com/calderahq/backoffice-backend/pkg/enums"
	pkgerrors "github.com/calderahq/backoffice-backend/pkg/errors"
	"github.com/calderahq/backoffice-backend/pkg/logger"
)

type shipmentLineRequest struct {
	VariantID string `json:"variant_id" validate:"required"`
	Qty       int    `json:"qty" validate:"required,min=1"`
}

type createShipmentRequest struct {
	LocationID     string                `json:"location_id" validate:"required"`
	Carrier        string                `json:"carrier,omitempty"`
	TrackingNumber string                `json:"tracking_number,omitempty"`
	Items          []shipmentLineRequest `json:"items,omitempty" validate:"omitempty,dive"`
}

func (c createShipmentRequest) toInput() (fulfillment.CreateShipmentInput, error) {
	locationID, err := validators.ParseUUIDParam(c.LocationID, "location_id")
	if err != nil {
		return fulfillment.CreateShipmentInput{}, err
	}
	input := fulfillment.CreateShipmentInput{
		LocationID:     locationID,
		Carrier:        strings.TrimSpace(c.Carrier),
		TrackingNumber: strings.TrimSpace(c.TrackingNumber),
	}
	for _, line := range c.Items {
		variantID, err := validators.ParseUUIDParam(line.VariantID, "variant_id")
		if err != nil {
			return fulfillment.CreateShipmentInput{}, err
		}
		input.Items = append(input.Items, fulfillment.ShipmentLine{VariantID: variantID, Qty: line.Qty})
	}
	return input, nil
}

func CreateShipment(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(chi.URLParam(r, "orderID"), "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload createShipmentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipment, err := svc.CreateShipment(r.Context(), orderID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, shipment)
	}
}

func ListOrderShipments(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(chi.URLParam(r, "orderID"), "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipments, err := svc.ListByOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, shipments)
	}
}

func GetShipment(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shipmentID, err := validators.ParseUUIDParam(chi.URLParam(r, "shipmentID"), "shipmentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipment, err := svc.GetShipment(r.Context(), shipmentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, shipment)
	}
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

// TransitionShipment moves a shipment through its lifecycle. Entering shipped
// deducts stock, so the route sits behind the idempotency middleware.
func TransitionShipment(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shipmentID, err := validators.ParseUUIDParam(chi.URLParam(r, "shipmentID"), "shipmentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload transitionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseShipmentStatus(strings.TrimSpace(payload.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}
		shipment, err := svc.Transition(r.Context(), shipmentID, target)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, shipment)
	}
}

func DeleteShipment(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shipmentID, err := validators.ParseUUIDParam(chi.URLParam(r, "shipmentID"), "shipmentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteShipment(r.Context(), shipmentID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}
