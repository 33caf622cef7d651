package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/go_cart/reservation-service/internal/service"
)

type ErrorResponse struct {
	Error      string  `json:"error"`
	Code       string  `json:"code,omitempty"`
	Details    string  `json:"details,omitempty"`
	ProductIDs []int64 `json:"product_ids,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError maps service errors onto HTTP statuses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var stock *service.StockChangedError
	if errors.As(err, &stock) {
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:      err.Error(),
			Code:       "stock_changed",
			ProductIDs: stock.ProductIDs,
		})
		return
	}

	var httpStatus int
	var code string

	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		httpStatus, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, service.ErrForbidden):
		httpStatus, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrTransitionDenied):
		httpStatus, code = http.StatusForbidden, "transition_denied"
	case errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidContactMethod),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrNotesTooLong),
		errors.Is(err, service.ErrInvalidNotification),
		errors.Is(err, service.ErrInvalidProduct):
		httpStatus, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrLineNotFound),
		errors.Is(err, service.ErrCartNotFound),
		errors.Is(err, service.ErrReservationNotFound),
		errors.Is(err, service.ErrNotificationNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrProductUnavailable):
		httpStatus, code = http.StatusConflict, "product_unavailable"
	case errors.Is(err, service.ErrIllegalTransition):
		httpStatus, code = http.StatusConflict, "illegal_transition"
	case errors.Is(err, service.ErrConcurrentUpdate):
		httpStatus, code = http.StatusPreconditionFailed, "concurrent_update"
	case errors.Is(err, service.ErrEmptyCart):
		httpStatus, code = http.StatusUnprocessableEntity, "empty_cart"
	case errors.Is(err, service.ErrPersistence):
		httpStatus, code = http.StatusInternalServerError, "persistence_error"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus, code = http.StatusGatewayTimeout, "timeout"
	default:
		slog.ErrorContext(r.Context(), "unhandled error", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	if httpStatus >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	respondError(w, httpStatus, code, err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
