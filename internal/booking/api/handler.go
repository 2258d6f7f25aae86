package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"studio-booking/internal/auth"
	"studio-booking/internal/booking"
	"studio-booking/internal/utils"
)

type Handler struct {
	BookingService *booking.Service
}

// actorFrom assembles the caller identity: OIDC session (if any) plus the
// guest manage token from header or query string.
func actorFrom(r *http.Request) auth.Actor {
	token := r.Header.Get("X-Guest-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return auth.Actor{
		UserID:     auth.UserID(r.Context()),
		GuestToken: token,
	}
}

func reservationID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "reservationId"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the service error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation *booking.ValidationError
		unauth     *booking.UnauthorizedError
		notFound   *booking.NotFoundError
		conflict   *booking.ConflictError
		rule       *booking.BusinessRuleError
		partial    *booking.PartialFailureError
		upstream   *booking.UpstreamError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request", err.Error()))
	case errors.As(err, &unauth):
		writeJSON(w, http.StatusForbidden, utils.ErrorResponse("not allowed", err.Error()))
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("not found", err.Error()))
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, utils.ErrorResponse("conflict", err.Error()))
	case errors.As(err, &rule):
		writeJSON(w, http.StatusUnprocessableEntity, utils.ErrorResponse("rejected", err.Error()))
	case errors.As(err, &partial):
		writeJSON(w, http.StatusConflict, utils.ErrorResponse("needs reconciliation", err.Error()))
	case errors.As(err, &upstream):
		writeJSON(w, http.StatusBadGateway, utils.ErrorResponse("upstream failure", err.Error()))
	default:
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("internal error", err.Error()))
	}
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request", "malformed JSON body: "+err.Error()))
		return
	}

	result, err := h.BookingService.CreateBooking(r.Context(), actorFrom(r), &req)
	if err != nil {
		// A partial failure still created the reservation; report both.
		var partial *booking.PartialFailureError
		if errors.As(err, &partial) && result != nil {
			writeJSON(w, http.StatusCreated, utils.SuccessResponse("booking created, points need reconciliation", result))
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, utils.SuccessResponse("booking created", result))
}

func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request", "date query parameter is required"))
		return
	}

	slots, price, err := h.BookingService.CheckAvailability(r.Context(), date)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("availability", map[string]interface{}{
		"date":     date,
		"price":    price,
		"occupied": slots,
	}))
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := reservationID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request", "reservation id must be numeric"))
		return
	}

	reservation, err := h.BookingService.GetReservation(r.Context(), actorFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("reservation", reservation))
}

func (h *Handler) RequestReschedule(w http.ResponseWriter, r *http.Request) {
	id, err := reservationID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request", "reservation id must be numeric"))
		return
	}

	var req booking.RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request", "malformed JSON body: "+err.Error()))
		return
	}
	req.ReservationID = id

	result, err := h.BookingService.RequestReschedule(r.Context(), actorFrom(r), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	if result.PaymentRequired {
		writeJSON(w, http.StatusAccepted, utils.SuccessResponse("additional payment required", result))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("reservation rescheduled", result))
}

func (h *Handler) CompleteReschedule(w http.ResponseWriter, r *http.Request) {
	id, err := reservationID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request", "reservation id must be numeric"))
		return
	}

	var req booking.RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request", "malformed JSON body: "+err.Error()))
		return
	}
	req.ReservationID = id

	result, err := h.BookingService.CompleteReschedule(r.Context(), actorFrom(r), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("reservation rescheduled", result))
}

func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id, err := reservationID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request", "reservation id must be numeric"))
		return
	}

	reservation, err := h.BookingService.CancelReservation(r.Context(), actorFrom(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("reservation cancelled", reservation))
}

func (h *Handler) ConsumePoints(w http.ResponseWriter, r *http.Request) {
	id, err := reservationID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request", "reservation id must be numeric"))
		return
	}

	var req struct {
		Points int `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request", "malformed JSON body: "+err.Error()))
		return
	}

	if err := h.BookingService.ConsumeLoyaltyPoints(r.Context(), actorFrom(r), id, req.Points); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("points applied", nil))
}

func (h *Handler) LoyaltyBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.BookingService.LoyaltyBalance(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("loyalty balance", map[string]int{"balance": balance}))
}

func (h *Handler) SettleRefund(w http.ResponseWriter, r *http.Request) {
	id, err := reservationID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request", "reservation id must be numeric"))
		return
	}

	var req struct {
		RefundID string `json:"refund_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request", "malformed JSON body: "+err.Error()))
		return
	}

	if err := h.BookingService.SettleRefund(r.Context(), actorFrom(r), id, req.RefundID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("refund settled", nil))
}
