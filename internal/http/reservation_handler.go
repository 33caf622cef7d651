package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/service"
)

type ReservationService interface {
	Convert(ctx context.Context, req service.ConvertRequest) (*domain.Reservation, error)
	SetStatus(ctx context.Context, actor domain.Actor, id, status string, expectedVersion *int) (*domain.Reservation, error)
	UpdateNotes(ctx context.Context, actor domain.Actor, id, notes string, expectedVersion *int) (*domain.Reservation, error)
	Get(ctx context.Context, actor domain.Actor, id string) (*domain.Reservation, error)
	ListMine(ctx context.Context, actor domain.Actor, limit int) ([]*domain.Reservation, error)
}

type ReservationHandler struct {
	reservations ReservationService
	timeout      time.Duration
}

func NewReservationHandler(reservations ReservationService, timeout time.Duration) *ReservationHandler {
	return &ReservationHandler{
		reservations: reservations,
		timeout:      timeout,
	}
}

type CreateReservationRequestDTO struct {
	CartID        string  `json:"cart_id,omitempty"`
	ConsultantID  *string `json:"consultant_id,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	ContactMethod string  `json:"contact_method,omitempty"`
}

type UpdateStatusRequestDTO struct {
	Status  string `json:"status"`
	Version *int   `json:"version,omitempty"`
}

type UpdateNotesRequestDTO struct {
	Notes   string `json:"notes"`
	Version *int   `json:"version,omitempty"`
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	// an empty body converts with defaults
	var req CreateReservationRequestDTO
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	res, err := h.reservations.Convert(ctx, service.ConvertRequest{
		ProfileID:     actorFromContext(r.Context()).ProfileID,
		CartID:        req.CartID,
		ConsultantID:  req.ConsultantID,
		Notes:         req.Notes,
		ContactMethod: req.ContactMethod,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondReservation(w, http.StatusCreated, res)
}

func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	list, err := h.reservations.ListMine(ctx, actorFromContext(r.Context()), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reservations": list})
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.reservations.Get(ctx, actorFromContext(r.Context()), chi.URLParam(r, "reservation_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondReservation(w, http.StatusOK, res)
}

func (h *ReservationHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateStatusRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	version, ok := expectedVersion(w, r, req.Version)
	if !ok {
		return
	}

	res, err := h.reservations.SetStatus(ctx, actorFromContext(r.Context()), chi.URLParam(r, "reservation_id"), req.Status, version)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondReservation(w, http.StatusOK, res)
}

func (h *ReservationHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateNotesRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	version, ok := expectedVersion(w, r, req.Version)
	if !ok {
		return
	}

	res, err := h.reservations.UpdateNotes(ctx, actorFromContext(r.Context()), chi.URLParam(r, "reservation_id"), req.Notes, version)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondReservation(w, http.StatusOK, res)
}

func respondReservation(w http.ResponseWriter, status int, res *domain.Reservation) {
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(res.Version)))
	respondJSON(w, status, res)
}

// expectedVersion prefers If-Match over the body. Both absent means no precondition.
func expectedVersion(w http.ResponseWriter, r *http.Request, body *int) (*int, bool) {
	h := strings.TrimSpace(r.Header.Get("If-Match"))
	if h == "" || h == "*" {
		return body, true
	}
	h = strings.Trim(strings.TrimPrefix(h, "W/"), `"`)
	v, err := strconv.Atoi(h)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_if_match", "If-Match must carry the reservation version")
		return nil, false
	}
	return &v, true
}

// queryLimit reads ?limit=; zero lets the service pick its default.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
