package eventshttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/events"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

func newServer() (http.Handler, *events.MemoryStore) {
	store := events.NewMemoryStore(nil)
	h := NewHandler(nil, events.NewService(store, nil))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if tenant := req.Header.Get("X-Tenant-ID"); tenant != "" {
				req = req.WithContext(shared.ContextWithIdentity(req.Context(), shared.Identity{TenantID: tenant, PerformedBy: "ops"}))
			}
			next.ServeHTTP(w, req)
		})
	})
	h.MountRoutes(r)
	return r, store
}

func do(t *testing.T, h http.Handler, method, path, tenant, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestChannelSubscriptionLifecycle(t *testing.T) {
	srv, _ := newServer()

	rr := do(t, srv, http.MethodPost, "/channels", "t1", `{"name":"web","webhook_url":"https://shop.example/hook","secret":"k"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var ch events.Channel
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ch))
	require.NotContains(t, rr.Body.String(), `"k"`)

	rr = do(t, srv, http.MethodPost, "/channels/"+ch.ID+"/subscriptions", "t1", `{"event_types":["stock_low","stock_out"]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var sub events.Subscription
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sub))
	require.Equal(t, events.SubscriptionActive, sub.Status)

	rr = do(t, srv, http.MethodPatch, "/subscriptions/"+sub.ID, "t1", `{"status":"paused"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, srv, http.MethodGet, "/subscriptions", "t1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":"paused"`)

	rr = do(t, srv, http.MethodPatch, "/subscriptions/"+sub.ID, "t2", `{"status":"active"}`)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestCreateChannelValidation(t *testing.T) {
	srv, _ := newServer()
	rr := do(t, srv, http.MethodPost, "/channels", "t1", `{"webhook_url":"https://x.example"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, srv, http.MethodPost, "/channels", "", `{"name":"x"}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestListEventsRejectsUnknownType(t *testing.T) {
	srv, _ := newServer()
	rr := do(t, srv, http.MethodGet, "/events?type=price_changed", "t1", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, srv, http.MethodGet, "/events", "t1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"items":[],"count":0}`, rr.Body.String())
}
