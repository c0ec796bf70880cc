package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	insights domain.InsightRepository
	catalog  *rules.Catalog
	scanner  Scanner
	cache    domain.Cache
	bus      domain.EventBus
	baseCtx  context.Context
	version  string
	logger   *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx := deps.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Handler{
		insights: deps.Insights,
		catalog:  deps.Catalog,
		scanner:  deps.Scanner,
		cache:    deps.Cache,
		bus:      deps.Bus,
		baseCtx:  baseCtx,
		version:  version,
		logger:   logger,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	if h.insights != nil {
		check("repository", h.insights.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("eventBus", h.bus.Ping)
	}

	resp := map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	}
	if c, ok := h.cache.(interface{ Stats() cache.Stats }); ok {
		resp["cache"] = c.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ready reports whether the repository is reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.insights == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	if err := h.insights.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// ListInsights handles GET /insights.
func (h *Handler) ListInsights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.InsightFilter{
		Module:     q.Get("module"),
		Severity:   domain.Severity(q.Get("severity")),
		Status:     domain.Status(q.Get("status")),
		Owner:      q.Get("owner"),
		AssignedTo: q.Get("assignedTo"),
		EntityID:   q.Get("entityId"),
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if filter.Module != "" && !domain.KnownModule(filter.Module) {
		writeError(w, h.logger, invalid("unknown module %q", filter.Module))
		return
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		writeError(w, h.logger, invalid("unknown severity %q", filter.Severity))
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, h.logger, invalid("unknown status %q", filter.Status))
		return
	}

	page, err := h.insights.ListInsights(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Summary handles GET /insights/summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.insights.SummarizeInsights(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// TopInsights handles GET /insights/top.
func (h *Handler) TopInsights(w http.ResponseWriter, r *http.Request) {
	module := r.URL.Query().Get("module")
	if module != "" && !domain.KnownModule(module) {
		writeError(w, h.logger, invalid("unknown module %q", module))
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	top, err := h.insights.TopInsights(r.Context(), module, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"insights": top,
		"count":    len(top),
	})
}

// GetInsight handles GET /insights/{id}.
func (h *Handler) GetInsight(w http.ResponseWriter, r *http.Request) {
	insight, err := h.insights.GetInsight(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

// AssignRequest is the request body for POST /insights/{id}/assign.
type AssignRequest struct {
	Assignee string `json:"assignee"`
}

// ResolutionRequest is the optional body for resolve and dismiss.
type ResolutionRequest struct {
	Notes string `json:"notes"`
}

// Acknowledge handles POST /insights/{id}/acknowledge.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	insight, err := h.insights.Acknowledge(r.Context(), chi.URLParam(r, "id"), GetActor(r.Context()))
	h.writeTransition(w, "acknowledged", insight, err)
}

// Assign handles POST /insights/{id}/assign.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	insight, err := h.insights.Assign(r.Context(), chi.URLParam(r, "id"), GetActor(r.Context()), req.Assignee)
	h.writeTransition(w, "assigned", insight, err)
}

// Resolve handles POST /insights/{id}/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolutionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	insight, err := h.insights.Resolve(r.Context(), chi.URLParam(r, "id"), GetActor(r.Context()), req.Notes)
	h.writeTransition(w, "resolved", insight, err)
}

// Dismiss handles POST /insights/{id}/dismiss.
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	var req ResolutionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	insight, err := h.insights.Dismiss(r.Context(), chi.URLParam(r, "id"), GetActor(r.Context()), req.Notes)
	h.writeTransition(w, "dismissed", insight, err)
}

func (h *Handler) writeTransition(w http.ResponseWriter, action string, insight *domain.Insight, err error) {
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("insight "+action,
		"insight_id", insight.ID,
		"status", insight.Status,
		"actor", insight.UpdatedBy,
	)
	writeJSON(w, http.StatusOK, insight)
}

// ScanEntity handles POST /scan/{module}/{entityId}.
func (h *Handler) ScanEntity(w http.ResponseWriter, r *http.Request) {
	module := chi.URLParam(r, "module")
	entityID := chi.URLParam(r, "entityId")

	insights, err := h.scanner.ScanEntity(r.Context(), module, entityID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if insights == nil {
		insights = []*domain.Insight{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"module":   module,
		"entityId": entityID,
		"insights": insights,
		"count":    len(insights),
	})
}

// StartScanner handles POST /scanner/start.
func (h *Handler) StartScanner(w http.ResponseWriter, r *http.Request) {
	h.scanner.Start(h.baseCtx)
	writeJSON(w, http.StatusOK, h.scanner.Status())
}

// StopScanner handles POST /scanner/stop.
func (h *Handler) StopScanner(w http.ResponseWriter, r *http.Request) {
	h.scanner.Stop()
	writeJSON(w, http.StatusOK, h.scanner.Status())
}

// ScannerStatus handles GET /scanner/status.
func (h *Handler) ScannerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scanner.Status())
}

// RunScan handles POST /scanner/run with a synchronous full pass.
func (h *Handler) RunScan(w http.ResponseWriter, r *http.Request) {
	report, err := h.scanner.Scan(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	byModule := make(map[string][]*domain.Rule)
	for _, module := range h.catalog.Modules() {
		byModule[module] = h.catalog.Rules(module)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"modules": byModule,
		"count":   h.catalog.Count(),
	})
}

// ModuleRules handles GET /rules/{module}.
func (h *Handler) ModuleRules(w http.ResponseWriter, r *http.Request) {
	module := chi.URLParam(r, "module")
	if !h.catalog.HasModule(module) {
		writeError(w, h.logger, domain.ErrUnknownModule)
		return
	}
	list := h.catalog.Rules(module)
	writeJSON(w, http.StatusOK, map[string]any{
		"module": module,
		"rules":  list,
		"count":  len(list),
	})
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, invalid("expected a non-negative integer, got %q", v)
	}
	return n, nil
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return invalid("invalid JSON request body")
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrScanInProgress):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
