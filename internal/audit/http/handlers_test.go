package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type stubSearchService struct {
	entries    []audit.Entry
	lastTenant string
	lastFilter audit.Filter
	lastEntity [2]string
}

func (s *stubSearchService) Search(ctx context.Context, tenantID string, filter audit.Filter) ([]audit.Entry, error) {
	s.lastTenant = tenantID
	s.lastFilter = filter
	return s.entries, nil
}

func (s *stubSearchService) EntityHistory(ctx context.Context, tenantID, entityType, entityID string) ([]audit.Entry, error) {
	s.lastTenant = tenantID
	s.lastEntity = [2]string{entityType, entityID}
	return s.entries, nil
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func withTenant(req *http.Request, tenant string) *http.Request {
	ctx := shared.ContextWithIdentity(req.Context(), shared.Identity{TenantID: tenant, PerformedBy: "auditor"})
	return req.WithContext(ctx)
}

func TestSearchRequiresIdentity(t *testing.T) {
	h := NewHandler(nil, &stubSearchService{})
	rr := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSearchPassesFilters(t *testing.T) {
	at := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	svc := &stubSearchService{entries: []audit.Entry{{ID: "a1", TenantID: "t1", EntityType: audit.EntityStockLevel, EntityID: "t1/p/l", Action: "sell", CreatedAt: at}}}
	h := NewHandler(nil, svc)

	req := withTenant(httptest.NewRequest(http.MethodGet, "/audit?entity_type=stock_level&action=sell&from=2026-03-01&limit=5&offset=10", nil), "t1")
	rr := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "t1", svc.lastTenant)
	require.Equal(t, audit.EntityStockLevel, svc.lastFilter.EntityType)
	require.Equal(t, "sell", svc.lastFilter.Action)
	require.Equal(t, 5, svc.lastFilter.Limit)
	require.Equal(t, 10, svc.lastFilter.Offset)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), svc.lastFilter.From)

	var page httpx.Page[audit.Entry]
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Equal(t, 1, page.Count)
	require.Equal(t, "a1", page.Items[0].ID)
}

func TestSearchRejectsBadDate(t *testing.T) {
	h := NewHandler(nil, &stubSearchService{})
	req := withTenant(httptest.NewRequest(http.MethodGet, "/audit?from=yesterday", nil), "t1")
	rr := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHistoryUsesPathParams(t *testing.T) {
	svc := &stubSearchService{}
	h := NewHandler(nil, svc)
	req := withTenant(httptest.NewRequest(http.MethodGet, "/audit/stock_transfer/tr-1", nil), "t9")
	rr := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "t9", svc.lastTenant)
	require.Equal(t, [2]string{"stock_transfer", "tr-1"}, svc.lastEntity)
	require.JSONEq(t, `{"items":[],"count":0}`, rr.Body.String())
}
