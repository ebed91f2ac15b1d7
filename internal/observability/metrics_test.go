package observability

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `stockledger_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `stockledger_http_request_duration_seconds_bucket{route="/test"`)
}

func TestLedgerMetricsCountOutcomes(t *testing.T) {
	metrics := NewMetrics()
	ledger := metrics.Ledger()

	ledger.AddMovement("sale")
	ledger.AddMovement("sale")
	ledger.ObserveOperation("sell", nil, time.Millisecond)
	ledger.ObserveOperation("sell", fmt.Errorf("inventory: %w", shared.ErrInsufficientStock), time.Millisecond)
	ledger.ObserveDelivery("failed")

	body := scrape(t, metrics)
	require.Contains(t, body, `stockledger_movements_total{type="sale"} 2`)
	require.Contains(t, body, `stockledger_operations_total{operation="sell",outcome="ok"} 1`)
	require.Contains(t, body, `stockledger_operations_total{operation="sell",outcome="insufficient_stock"} 1`)
	require.Contains(t, body, `stockledger_event_deliveries_total{outcome="failed"} 1`)
}

func TestNewRegistryResetsCounters(t *testing.T) {
	first := NewMetrics()
	first.Ledger().AddMovement("receipt")

	second := NewMetrics()
	require.False(t, strings.Contains(scrape(t, second), `stockledger_movements_total{type="receipt"}`))
}

func TestNilLedgerMetricsIsNoop(t *testing.T) {
	var m *LedgerMetrics
	m.AddMovement("sale")
	m.ObserveOperation("sell", nil, 0)
	m.ObserveDelivery("ok")
}

func TestOutcomeLabels(t *testing.T) {
	require.Equal(t, "ok", Outcome(nil))
	require.Equal(t, "not_found", Outcome(shared.ErrNotFound))
	require.Equal(t, "conflict", Outcome(shared.ErrIdempotencyConflict))
	require.Equal(t, "error", Outcome(fmt.Errorf("boom")))
}

func TestSetupTracingWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "", "stockledger")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
