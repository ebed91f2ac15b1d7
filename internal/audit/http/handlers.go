package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// SearchService defines the read contract for the audit log.
type SearchService interface {
	Search(ctx context.Context, tenantID string, filter audit.Filter) ([]audit.Entry, error)
	EntityHistory(ctx context.Context, tenantID, entityType, entityID string) ([]audit.Entry, error)
}

// Handler serves audit log reads.
type Handler struct {
	logger  *slog.Logger
	service SearchService
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service SearchService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.Search(r.Context(), id.TenantID, filter)
	if err != nil {
		h.respond(w, "search audit log", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewPage(entries))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.EntityHistory(r.Context(), id.TenantID, chi.URLParam(r, "entityType"), chi.URLParam(r, "entityID"))
	if err != nil {
		h.respond(w, "load entity history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewPage(entries))
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		EntityType:  strings.TrimSpace(q.Get("entity_type")),
		EntityID:    strings.TrimSpace(q.Get("entity_id")),
		Action:      strings.TrimSpace(q.Get("action")),
		PerformedBy: strings.TrimSpace(q.Get("performed_by")),
	}
	var err error
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		return audit.Filter{}, err
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		return audit.Filter{}, err
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			return audit.Filter{}, httpx.ErrValidation
		}
		filter.Limit = n
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			return audit.Filter{}, httpx.ErrValidation
		}
		filter.Offset = n
	}
	return filter, nil
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, httpx.ErrValidation
	}
	return t, nil
}
