package inventory_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

func (f *fixture) server() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if tenant := req.Header.Get("X-Tenant-ID"); tenant != "" {
				req = req.WithContext(shared.ContextWithIdentity(req.Context(), shared.Identity{TenantID: tenant, PerformedBy: actor}))
			}
			next.ServeHTTP(w, req)
		})
	})
	inventory.NewHandler(nil, f.svc).MountRoutes(r)
	return r
}

func call(t *testing.T, h http.Handler, method, path, tenant, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHandlerReceiveSellFlow(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.server()

	rr := call(t, srv, http.MethodPost, "/products", tenantA, `{"sku":"MUG-1","name":"Mug","inventory_strategy":"fifo","reorder_point":"5"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	p := decode[inventory.Product](t, rr)
	require.Equal(t, inventory.StrategyFIFO, p.Strategy)
	require.True(t, p.TrackInventory)

	rr = call(t, srv, http.MethodPost, "/stock/receive", tenantA,
		`{"product_id":"`+p.ID+`","location_id":"`+f.warehouse+`","quantity":"10","cost_per_unit":"2.5"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	received := decode[inventory.ReceiveResult](t, rr)
	requireLevel(t, received.Level, "10", "0", "0")

	rr = call(t, srv, http.MethodPost, "/stock/sell", tenantA,
		`{"product_id":"`+p.ID+`","location_id":"`+f.warehouse+`","quantity":4,"channel_id":"pos"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sold := decode[inventory.SellResult](t, rr)
	requireDecimal(t, "10", sold.TotalCost)

	rr = call(t, srv, http.MethodGet, "/stock/levels/"+p.ID+"/"+f.warehouse, tenantA, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"quantity_available":"6"`)

	rr = call(t, srv, http.MethodGet, "/stock/movements?product_id="+p.ID+"&type=sale,receipt&order=asc", tenantA, "")
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[httpx.Page[inventory.StockMovement]](t, rr)
	require.Equal(t, 2, page.Count)
	require.Equal(t, inventory.MovementReceipt, page.Items[0].Type)
}

func TestHandlerMapsBusinessErrors(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.server()
	p := f.product(inventory.ProductInput{})
	f.receive(p.ID, f.warehouse, "1", "1", jan(1))

	rr := call(t, srv, http.MethodPost, "/stock/sell", tenantA,
		`{"product_id":"`+p.ID+`","location_id":"`+f.warehouse+`","quantity":"2"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	problem := decode[httpx.ProblemDetail](t, rr)
	require.Equal(t, "Insufficient Stock", problem.Title)

	rr = call(t, srv, http.MethodGet, "/products/"+p.ID, tenantB, "")
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = call(t, srv, http.MethodGet, "/products/unknown", tenantA, "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = call(t, srv, http.MethodGet, "/products", "", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = call(t, srv, http.MethodPost, "/stock/adjust", tenantA,
		`{"product_id":"`+p.ID+`","location_id":"`+f.warehouse+`","delta":"1"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code, "reason is required")

	rr = call(t, srv, http.MethodPost, "/transfers", tenantA,
		`{"product_id":"`+p.ID+`","from_location_id":"`+f.warehouse+`","to_location_id":"`+f.warehouse+`","quantity":"1"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(t, srv, http.MethodGet, "/stock/movements?from=yesterday", tenantA, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerTransferAndReservationSteps(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.server()
	p := f.product(inventory.ProductInput{})
	f.receive(p.ID, f.warehouse, "10", "1", jan(1))

	rr := call(t, srv, http.MethodPost, "/transfers", tenantA,
		`{"product_id":"`+p.ID+`","from_location_id":"`+f.warehouse+`","to_location_id":"`+f.store2+`","quantity":"3","require_approval":true}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	tr := decode[inventory.TransferResult](t, rr).Transfer
	require.Equal(t, inventory.TransferPending, tr.Status)

	rr = call(t, srv, http.MethodPost, "/transfers/"+tr.ID+"/dispatch", tenantA, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = call(t, srv, http.MethodPost, "/transfers/"+tr.ID+"/complete", tenantA, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, inventory.TransferCompleted, decode[inventory.TransferResult](t, rr).Transfer.Status)
	rr = call(t, srv, http.MethodPost, "/transfers/"+tr.ID+"/cancel", tenantA, "")
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = call(t, srv, http.MethodPost, "/reservations", tenantA,
		`{"product_id":"`+p.ID+`","location_id":"`+f.warehouse+`","quantity":"2","channel_id":"web"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[inventory.ReservationResult](t, rr).Reservation

	rr = call(t, srv, http.MethodPost, "/reservations/"+res.ID+"/fulfill", tenantA, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	requireLevel(t, f.level(p.ID, f.warehouse), "5", "0", "0")

	rr = call(t, srv, http.MethodGet, "/reservations?status=fulfilled", tenantA, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, decode[httpx.Page[inventory.Reservation]](t, rr).Count)
}

func TestHandlerFlagsDeliveryFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.publisher.err = errBroker
	srv := f.server()
	p := f.product(inventory.ProductInput{})

	rr := call(t, srv, http.MethodPost, "/stock/receive", tenantA,
		`{"product_id":"`+p.ID+`","location_id":"`+f.warehouse+`","quantity":"1","cost_per_unit":"1"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "failed", rr.Header().Get("X-Event-Delivery"))
	requireLevel(t, f.level(p.ID, f.warehouse), "1", "0", "0")
}
