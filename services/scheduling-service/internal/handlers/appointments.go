package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/careloop/caresched/services/scheduling-service/internal/booking"
	"github.com/careloop/caresched/services/scheduling-service/internal/directory"
	"github.com/careloop/caresched/services/scheduling-service/internal/lifecycle"
	"github.com/careloop/caresched/services/scheduling-service/internal/model"
	"github.com/careloop/caresched/services/scheduling-service/internal/slot"
)

type AppointmentHandler struct {
	svc       *booking.Service
	logger    *slog.Logger
	jwtSecret string
}

func NewAppointmentHandler(svc *booking.Service, logger *slog.Logger, jwtSecret string) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger, jwtSecret: jwtSecret}
}

func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/appointments", h.appointments)
	mux.HandleFunc("/api/v1/appointments/get", h.get)
	mux.HandleFunc("/api/v1/appointments/status", h.updateStatus)
	mux.HandleFunc("/api/v1/providers/slots", h.slots)
}

type createRequest struct {
	ClientID    string `json:"client_id"`
	ProviderID  string `json:"provider_id"`
	ServiceType string `json:"service_type"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

type appointmentResponse struct {
	AppointmentID      string `json:"appointment_id"`
	ClientID           string `json:"client_id"`
	ProviderID         string `json:"provider_id"`
	ServiceType        string `json:"service_type"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	DurationMinutes    int    `json:"duration_minutes"`
	Status             string `json:"status"`
	HourlyRateCents    int64  `json:"hourly_rate_cents"`
	TotalAmountCents   int64  `json:"total_amount_cents"`
	PaymentStatus      string `json:"payment_status"`
	CancelledAt        string `json:"cancelled_at,omitempty"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
	CreatedAt          string `json:"created_at"`
}

func toResponse(appt model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID:      appt.ID,
		ClientID:           appt.ClientID,
		ProviderID:         appt.ProviderID,
		ServiceType:        string(appt.ServiceType),
		StartTime:          appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:            appt.EndTime.UTC().Format(time.RFC3339),
		DurationMinutes:    appt.DurationMinutes,
		Status:             string(appt.Status),
		HourlyRateCents:    appt.HourlyRateCents,
		TotalAmountCents:   appt.TotalAmountCents,
		PaymentStatus:      appt.PaymentStatus,
		CancellationReason: appt.CancellationReason,
		CreatedAt:          appt.CreatedAt.UTC().Format(time.RFC3339),
	}
	if appt.CancelledAt != nil {
		resp.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// appointments dispatches POST (create) and GET (list) on the collection.
func (h *AppointmentHandler) appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *AppointmentHandler) create(w http.ResponseWriter, r *http.Request) {
	caller, err := h.caller(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.ClientID == "" {
		// Clients book for themselves unless stated otherwise.
		req.ClientID = caller.ID
	}
	if req.ProviderID == "" {
		writeJSONError(w, http.StatusBadRequest, "provider_id required")
		return
	}
	serviceType, ok := model.ParseServiceType(strings.TrimSpace(req.ServiceType))
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "unknown service_type")
		return
	}
	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid start_time")
		return
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid end_time")
		return
	}

	appt, err := h.svc.CreateAppointment(r.Context(), caller, booking.CreateRequest{
		ClientID:    req.ClientID,
		ProviderID:  req.ProviderID,
		ServiceType: serviceType,
		StartTime:   startTime,
		EndTime:     endTime,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(appt))
}

type updateStatusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
}

func (h *AppointmentHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller, err := h.caller(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		writeJSONError(w, http.StatusBadRequest, "appointment_id required")
		return
	}
	status, ok := model.ParseStatus(strings.TrimSpace(req.Status))
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "unknown status")
		return
	}

	appt, err := h.svc.UpdateStatus(r.Context(), caller, req.AppointmentID, status, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	caller, err := h.caller(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "id required")
		return
	}

	appt, err := h.svc.Get(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) list(w http.ResponseWriter, r *http.Request) {
	caller, err := h.caller(r)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}

	filter := booking.ListFilter{
		ClientID:   strings.TrimSpace(r.URL.Query().Get("client_id")),
		ProviderID: strings.TrimSpace(r.URL.Query().Get("provider_id")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if filter.ClientID == "" && filter.ProviderID == "" && caller.Role == model.RoleClient {
		filter.ClientID = caller.ID
	}

	appts, err := h.svc.List(r.Context(), caller, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := make([]appointmentResponse, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toResponse(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// slots lists free start times for a provider on a given day. Public:
// browsing availability needs no account.
func (h *AppointmentHandler) slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if providerID == "" || dateStr == "" {
		writeJSONError(w, http.StatusBadRequest, "provider_id and date are required")
		return
	}
	day, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid date")
		return
	}

	durationMins := queryInt(r, "duration_minutes", 50, 8*60)
	stepMins := queryInt(r, "step_minutes", 15, 120)
	dayStart, err1 := clockOn(day, strings.TrimSpace(r.URL.Query().Get("day_start")), "09:00")
	dayEnd, err2 := clockOn(day, strings.TrimSpace(r.URL.Query().Get("day_end")), "17:00")
	if err1 != nil || err2 != nil || !dayEnd.After(dayStart) {
		writeJSONError(w, http.StatusBadRequest, "invalid day window")
		return
	}

	starts, err := h.svc.FreeSlots(r.Context(), providerID, dayStart, dayEnd,
		time.Duration(durationMins)*time.Minute, time.Duration(stepMins)*time.Minute)
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]slotItem, 0, len(starts))
	for _, s := range starts {
		items = append(items, slotItem{
			StartTime: s.UTC().Format(time.RFC3339),
			EndTime:   s.Add(time.Duration(durationMins) * time.Minute).UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AppointmentHandler) writeError(w http.ResponseWriter, err error) {
	var conflict *booking.ConflictError
	var transition *lifecycle.TransitionError

	switch {
	case errors.Is(err, slot.ErrInvalidInterval),
		errors.Is(err, slot.ErrPastBooking),
		errors.Is(err, slot.ErrBookingTooFarOut):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":                      "requested slot is not available",
			"conflicting_appointment_id": conflict.ConflictingID,
		})
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":            transition.Error(),
			"current_status":   string(transition.From),
			"requested_status": string(transition.To),
		})
	case errors.Is(err, booking.ErrProviderNotEligible):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, directory.ErrProviderUnknown):
		writeJSONError(w, http.StatusNotFound, "provider not found")
	case errors.Is(err, booking.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "appointment not found")
	case errors.Is(err, booking.ErrForbidden), errors.Is(err, booking.ErrEmailNotVerified):
		writeJSONError(w, http.StatusForbidden, err.Error())
	default:
		h.logger.Error("request failed", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, fallback, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > max {
		return fallback
	}
	return n
}

func clockOn(day time.Time, raw, fallback string) (time.Time, error) {
	if raw == "" {
		raw = fallback
	}
	clock, err := time.Parse("15:04", raw)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, time.UTC), nil
}
