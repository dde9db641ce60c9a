package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pressroom/newsletter-service/internal/newsletter/app"
	"github.com/pressroom/newsletter-service/internal/newsletter/domain"
)

// TenantHeader identifies the tenant on every admin request. The admin UI
// authenticates upstream; by the time a request reaches this core the
// tenant is trusted.
const TenantHeader = "X-Tenant-ID"

// ScheduleService is the schedule/run-history surface the handler consumes.
type ScheduleService interface {
	GetSchedule(ctx context.Context, tenantID string) (*domain.Schedule, error)
	SaveSchedule(ctx context.Context, tenantID string, draft app.ScheduleDraft) (*domain.Schedule, error)
	SetScheduleActive(ctx context.Context, tenantID string, active bool) (*domain.Schedule, error)
	ListRuns(ctx context.Context, tenantID string, page, pageSize int) (*app.RunPage, error)
}

// RunTriggerer starts manual/API delivery runs.
type RunTriggerer interface {
	TriggerRun(ctx context.Context, tenantID string, trigger domain.RunTrigger) (*domain.DeliveryRun, error)
}

// NewsletterHandler serves the four admin operations: get schedule, save
// schedule, list runs, trigger run (plus the activation toggle).
type NewsletterHandler struct {
	service   ScheduleService
	triggerer RunTriggerer
	logger    *slog.Logger
	validate  *validator.Validate
}

func NewNewsletterHandler(service ScheduleService, triggerer RunTriggerer, logger *slog.Logger, validate *validator.Validate) *NewsletterHandler {
	return &NewsletterHandler{
		service:   service,
		triggerer: triggerer,
		logger:    logger.With("component", "newsletter_handler"),
		validate:  validate,
	}
}

// RegisterRoutes mounts the handler under /api/v1.
func (h *NewsletterHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/schedule", h.GetSchedule)
		r.Put("/schedule", h.SaveSchedule)
		r.Post("/schedule/activation", h.SetScheduleActive)
		r.Get("/runs", h.ListRuns)
		r.Post("/runs", h.TriggerRun)
	})
}

func (h *NewsletterHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	sched, err := h.service.GetSchedule(ctx, tenantID)
	if err != nil {
		h.writeError(ctx, w, err, "GetSchedule", tenantID)
		return
	}
	h.respondJSON(ctx, w, http.StatusOK, toScheduleDTO(sched))
}

func (h *NewsletterHandler) SaveSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req SaveScheduleRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode SaveSchedule body", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		http.Error(w, fmt.Sprintf("Validation error: %s", err), http.StatusBadRequest)
		return
	}

	sched, err := h.service.SaveSchedule(ctx, tenantID, app.ScheduleDraft{
		Frequency:  domain.Frequency(req.Frequency),
		Hour:       req.Hour,
		Minute:     req.Minute,
		DayOfWeek:  req.DayOfWeek,
		DayOfMonth: req.DayOfMonth,
		IsActive:   req.IsActive,
	})
	if err != nil {
		h.writeError(ctx, w, err, "SaveSchedule", tenantID)
		return
	}
	h.respondJSON(ctx, w, http.StatusOK, toScheduleDTO(sched))
}

func (h *NewsletterHandler) SetScheduleActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req SetScheduleActiveRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		http.Error(w, fmt.Sprintf("Validation error: %s", err), http.StatusBadRequest)
		return
	}

	sched, err := h.service.SetScheduleActive(ctx, tenantID, *req.IsActive)
	if err != nil {
		h.writeError(ctx, w, err, "SetScheduleActive", tenantID)
		return
	}
	h.respondJSON(ctx, w, http.StatusOK, toScheduleDTO(sched))
}

func (h *NewsletterHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 0)

	result, err := h.service.ListRuns(ctx, tenantID, page, pageSize)
	if err != nil {
		h.writeError(ctx, w, err, "ListRuns", tenantID)
		return
	}

	resp := ListRunsResponseDTO{
		Runs:       make([]DeliveryRunDTO, 0, len(result.Runs)),
		TotalCount: result.TotalCount,
		Page:       result.Page,
		PageSize:   result.PageSize,
	}
	for _, run := range result.Runs {
		resp.Runs = append(resp.Runs, toDeliveryRunDTO(run))
	}
	h.respondJSON(ctx, w, http.StatusOK, resp)
}

func (h *NewsletterHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req TriggerRunRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		http.Error(w, fmt.Sprintf("Validation error: %s", err), http.StatusBadRequest)
		return
	}

	run, err := h.triggerer.TriggerRun(ctx, tenantID, domain.RunTrigger(req.Trigger))
	if err != nil {
		h.writeError(ctx, w, err, "TriggerRun", tenantID)
		return
	}
	h.respondJSON(ctx, w, http.StatusAccepted, toDeliveryRunDTO(run))
}

func (h *NewsletterHandler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := r.Header.Get(TenantHeader)
	if tenantID == "" {
		http.Error(w, TenantHeader+" header is required", http.StatusBadRequest)
		return "", false
	}
	return tenantID, true
}

// writeError maps domain errors to HTTP status codes.
func (h *NewsletterHandler) writeError(ctx context.Context, w http.ResponseWriter, err error, operation, tenantID string) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		http.Error(w, validationErr.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrScheduleNotFound), errors.Is(err, domain.ErrRunNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrLeaseHeld):
		http.Error(w, "A delivery run is already in progress", http.StatusConflict)
	case errors.Is(err, domain.ErrScheduleLimit):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrNoIssue):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.ErrorContext(ctx, "Unhandled error in handler",
			"error", err, "operation", operation, "tenant_id", tenantID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *NewsletterHandler) respondJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode response", "error", err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
