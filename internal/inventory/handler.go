package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// IdempotencyHeader carries the client supplied key for stock mutations.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Post("/", h.handleCreateProduct)
		r.Get("/", h.handleListProducts)
		r.Get("/{productID}", h.handleGetProduct)
		r.Patch("/{productID}", h.handleUpdateProduct)
	})
	r.Route("/locations", func(r chi.Router) {
		r.Post("/", h.handleCreateLocation)
		r.Get("/", h.handleListLocations)
		r.Get("/{locationID}", h.handleGetLocation)
	})
	r.Route("/stock", func(r chi.Router) {
		r.Post("/receive", h.handleReceive)
		r.Post("/sell", h.handleSell)
		r.Post("/adjust", h.handleAdjust)
		r.Get("/levels", h.handleListLevels)
		r.Get("/levels/{productID}/{locationID}", h.handleGetLevel)
		r.Get("/movements", h.handleMovements)
		r.Get("/batches", h.handleBatches)
	})
	r.Route("/transfers", func(r chi.Router) {
		r.Post("/", h.handleCreateTransfer)
		r.Get("/", h.handleListTransfers)
		r.Get("/{transferID}", h.handleGetTransfer)
		r.Post("/{transferID}/dispatch", h.handleTransferStep(h.service.DispatchTransfer))
		r.Post("/{transferID}/complete", h.handleTransferStep(h.service.CompleteTransfer))
		r.Post("/{transferID}/cancel", h.handleTransferStep(h.service.CancelTransfer))
	})
	r.Route("/reservations", func(r chi.Router) {
		r.Post("/", h.handleCreateReservation)
		r.Get("/", h.handleListReservations)
		r.Get("/{reservationID}", h.handleGetReservation)
		r.Post("/{reservationID}/fulfill", h.handleReservationStep(h.service.FulfillReservation))
		r.Post("/{reservationID}/cancel", h.handleReservationStep(h.service.CancelReservation))
		r.Post("/{reservationID}/expire", h.handleReservationStep(h.service.ExpireReservation))
	})
}

type productRequest struct {
	SKU                string           `json:"sku" validate:"required,max=100"`
	Name               string           `json:"name" validate:"required,max=200"`
	UnitOfMeasure      string           `json:"unit_of_measure" validate:"max=20"`
	TrackInventory     *bool            `json:"track_inventory"`
	AllowNegativeStock bool             `json:"allow_negative_stock"`
	Strategy           string           `json:"inventory_strategy"`
	ReorderPoint       *decimal.Decimal `json:"reorder_point"`
	ReorderQuantity    *decimal.Decimal `json:"reorder_quantity"`
}

type productPatchRequest struct {
	Name               *string          `json:"name" validate:"omitempty,min=1,max=200"`
	UnitOfMeasure      *string          `json:"unit_of_measure" validate:"omitempty,min=1,max=20"`
	AllowNegativeStock *bool            `json:"allow_negative_stock"`
	ReorderPoint       *decimal.Decimal `json:"reorder_point"`
	ReorderQuantity    *decimal.Decimal `json:"reorder_quantity"`
	ClearReorderPoint  bool             `json:"clear_reorder_point"`
}

type locationRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Type     string `json:"location_type"`
	ParentID string `json:"parent_id"`
}

type receiveRequest struct {
	ProductID     string          `json:"product_id" validate:"required"`
	LocationID    string          `json:"location_id" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity"`
	CostPerUnit   decimal.Decimal `json:"cost_per_unit"`
	BatchNumber   string          `json:"batch_number" validate:"max=100"`
	ExpiryDate    *time.Time      `json:"expiry_date"`
	ReceivedAt    *time.Time      `json:"received_at"`
	ReferenceType string          `json:"reference_type" validate:"max=50"`
	ReferenceID   string          `json:"reference_id" validate:"max=100"`
}

type sellRequest struct {
	ProductID     string          `json:"product_id" validate:"required"`
	LocationID    string          `json:"location_id" validate:"required"`
	ChannelID     string          `json:"channel_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	BatchID       string          `json:"batch_id"`
	ReferenceType string          `json:"reference_type" validate:"max=50"`
	ReferenceID   string          `json:"reference_id" validate:"max=100"`
}

type adjustRequest struct {
	ProductID     string           `json:"product_id" validate:"required"`
	LocationID    string           `json:"location_id" validate:"required"`
	Delta         decimal.Decimal  `json:"delta"`
	Reason        string           `json:"reason" validate:"required,max=500"`
	CostPerUnit   *decimal.Decimal `json:"cost_per_unit"`
	BatchID       string           `json:"batch_id"`
	Type          string           `json:"movement_type" validate:"omitempty,oneof=adjustment return write_off"`
	ReferenceType string           `json:"reference_type" validate:"max=50"`
	ReferenceID   string           `json:"reference_id" validate:"max=100"`
}

type transferRequest struct {
	ProductID       string          `json:"product_id" validate:"required"`
	FromLocationID  string          `json:"from_location_id" validate:"required"`
	ToLocationID    string          `json:"to_location_id" validate:"required,nefield=FromLocationID"`
	Quantity        decimal.Decimal `json:"quantity"`
	BatchID         string          `json:"batch_id"`
	RequireApproval bool            `json:"require_approval"`
	Note            string          `json:"note" validate:"max=500"`
}

type reservationRequest struct {
	ProductID     string          `json:"product_id" validate:"required"`
	LocationID    string          `json:"location_id" validate:"required"`
	ChannelID     string          `json:"channel_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	BatchID       string          `json:"batch_id"`
	ReferenceType string          `json:"reference_type" validate:"max=50"`
	ReferenceID   string          `json:"reference_id" validate:"max=100"`
	ExpiresAt     *time.Time      `json:"expires_at"`
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	id, ok := h.bind(w, r, &req)
	if !ok {
		return
	}
	track := true
	if req.TrackInventory != nil {
		track = *req.TrackInventory
	}
	p, err := h.service.CreateProduct(r.Context(), ProductInput{
		TenantID:           id.TenantID,
		SKU:                req.SKU,
		Name:               req.Name,
		UnitOfMeasure:      req.UnitOfMeasure,
		TrackInventory:     track,
		AllowNegativeStock: req.AllowNegativeStock,
		Strategy:           Strategy(strings.ToUpper(req.Strategy)),
		ReorderPoint:       req.ReorderPoint,
		ReorderQuantity:    req.ReorderQuantity,
		PerformedBy:        id.PerformedBy,
	})
	if err != nil {
		h.fail(w, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bind(w, r, nil)
	if !ok {
		return
	}
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListProducts(r.Context(), id.TenantID, limit)
	if err != nil {
		h.fail(w, "list products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewPage(list))
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bind(w, r, nil)
	if !ok {
		return
	}
	p, err := h.service.GetProduct(r.Context(), id.TenantID, chi.URLParam(r, "productID"))
	if err != nil {
		h.fail(w, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req productPatchRequest
	id, ok := h.bind(w, r, &req)
	if !ok {
		return
	}
	p, err := h.service.UpdateProduct(r.Context(), ProductUpdate{
		TenantID:           id.TenantID,
		ProductID:          chi.URLParam(r, "productID"),
		Name:               req.Name,
		UnitOfMeasure:      req.UnitOfMeasure,
		AllowNegativeStock: req.AllowNegativeStock,
		ReorderPoint:       req.ReorderPoint,
		ReorderQuantity:    req.ReorderQuantity,
		ClearReorderPoint:  req.ClearReorderPoint,
		PerformedBy:        id.PerformedBy,
	})
	if err != nil {
		h.fail(w, "update product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	id, ok := h.bind(w, r, &req)
	if !ok {
		return
	}
	loc, err := h.service.CreateLocation(r.Context(), LocationInput{
		TenantID:    id.TenantID,
		Name:        req.Name,
		Type:        LocationType(req.Type),
		ParentID:    req.ParentID,
		PerformedBy: id.PerformedBy,
	})
	if err != nil {
		h.fail(w, "create location", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, loc)
}

func (h *Handler) handleListLocations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bind(w, r, nil)
	if !ok {
		return
	}
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListLocations(r.Context(), id.TenantID, limit)
	if err != nil {
		h.fail(w, "list locations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewPage(list))
}

func (h *Handler) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bind(w, r, nil)
	if !ok {
		return
	}
	loc, err := h.service.GetLocation(r.Context(), id.TenantID, chi.URLParam(r, "locationID"))
	if err != nil {
		h.fail(w, "get location", err)
		return
	}
	httpx.JSON(w, http.StatusOK, loc)
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	id, ok := h.bind(w, r, &req)
	if !ok {
		return
	}
	in := ReceiveInput{
		TenantID:       id.TenantID,
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		Quantity:       req.Quantity,
		CostPerUnit:    req.CostPerUnit,
		BatchNumber:    req.BatchNumber,
		ExpiryDate:     req.ExpiryDate,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		PerformedBy:    id.PerformedBy,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	}
	if req.ReceivedAt != nil {
		in.ReceivedAt = *req.ReceivedAt
	}
	res, err := h.service.ReceiveStock(r.Context(), in)
	if err != nil {
		h.fail(w, "receive stock", err)
		return
	}
	h.respond(w, http.StatusCreated, res.Outcome, res)
}

func (h *Handler) handleSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	id, ok := h.bind(w, r, &req)
	if !ok {
		return
	}
	res, err := h.service.SellStock(r.Context(), SellInput{
		TenantID:       id.TenantID,
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		ChannelID:      req.ChannelID,
		Quantity:       req.Quantity,
		BatchID:        req.BatchID,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		PerformedBy:    id.PerformedBy,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.fail(w, "sell stock", err)
		return
	}
	h.respond(w, http.StatusOK, res.Outcome, res)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	id, ok := h.bind(w, r, &req)
	if !ok {
		return
	}
	res, err := h.service.AdjustStock(r.Context(), AdjustInput{
		TenantID:       id.TenantID,
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		Delta:          req.Delta,
		Reason:         req.Reason,
		CostPerUnit:    req.CostPerUnit,
		BatchID:        req.BatchID,
		Type:           MovementType(req.Type),
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		PerformedBy:    id.PerformedBy,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.fail(w, "adjust stock", err)
		return
	}
	h.respond(w, http.StatusOK, res.Outcome, res)
}

func (h *Handler) handleListLevels(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bind(w, r, nil)
	if !ok {
		return
	}
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	list, err := h.service.ListStockLevels(r.Context(), StockLevelFilter{
		TenantID:   id.TenantID,
		ProductID:  q.Get("product_id"),
		LocationID: q.Get("location_id"),
		Limit:      limit,
	})
	if err != nil {
		h.fail(w, "list stock levels", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewPage(list))
}

func (h *Handler) handleGetLevel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bind(w, r, nil)
	if !ok {
		return
	}
	lvl, err := h.service.GetStockLevel(r.Context(), id.TenantID, chi.URLParam(r, "productID"), chi.URLParam(r, "locationID"))
	if err != nil {
		h.fail(w, "get stock level", err)
		return
	}
	httpx.JSON(w, http.StatusOK, levelView{StockLevel: lvl, Available: lvl.Available()})
}

// levelView adds the derived available quantity to a level.
type levelView struct {
	StockLevel
	Available decimal.Decimal `json:"quantity_available"`
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bind(w, r, nil)
	if !ok {
		return
	}
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := MovementFilter{
		TenantID:      id.TenantID,
		ProductID:     q.Get("product_id"),
		LocationID:    q.Get("location_id"),
		ReferenceType: q.Get("reference_type"),
		ReferenceID:   q.Get("reference_id"),
		Ascending:     q.Get("order") == "asc",
		Limit:         limit,
	}
	for _, raw := range q["type"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, MovementType(t))
			}
		}
	}
	var err error
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.GetMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewPage(list))
}

func (h *Handler) handleBatches(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bind(w, r, nil)
	if !ok {
		return
	}
	q := r.URL.Query()
	list, err := h.service.ListBatches(r.Context(), id.TenantID, q.Get("product_id"), q.Get("location_id"))
	if err != nil {
		h.fail(w, "list batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewPage(list))
}

func (h *Handler) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	id, ok := h.bind(w, r, &req)
	if !ok {
		return
	}
	res, err := h.service.CreateTransfer(r.Context(), TransferInput{
		TenantID:        id.TenantID,
		ProductID:       req.ProductID,
		FromLocationID:  req.FromLocationID,
		ToLocationID:    req.ToLocationID,
		Quantity:        req.Quantity,
		BatchID:         req.BatchID,
		RequireApproval: req.RequireApproval,
		Note:            req.Note,
		PerformedBy:     id.PerformedBy,
	})
	if err != nil {
		h.fail(w, "create transfer", err)
		return
	}
	h.respond(w, http.StatusCreated, res.Outcome, res)
}

func (h *Handler) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bind(w, r, nil)
	if !ok {
		return
	}
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	list, err := h.service.ListTransfers(r.Context(), TransferFilter{
		TenantID:   id.TenantID,
		ProductID:  q.Get("product_id"),
		LocationID: q.Get("location_id"),
		Status:     TransferStatus(q.Get("status")),
		Limit:      limit,
	})
	if err != nil {
		h.fail(w, "list transfers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewPage(list))
}

func (h *Handler) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bind(w, r, nil)
	if !ok {
		return
	}
	t, err := h.service.GetTransfer(r.Context(), id.TenantID, chi.URLParam(r, "transferID"))
	if err != nil {
		h.fail(w, "get transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

type transferStepFunc func(ctx context.Context, tenantID, transferID, performedBy string) (TransferResult, error)

func (h *Handler) handleTransferStep(step transferStepFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.bind(w, r, nil)
		if !ok {
			return
		}
		res, err := step(r.Context(), id.TenantID, chi.URLParam(r, "transferID"), id.PerformedBy)
		if err != nil {
			h.fail(w, "transfer transition", err)
			return
		}
		h.respond(w, http.StatusOK, res.Outcome, res)
	}
}

func (h *Handler) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	id, ok := h.bind(w, r, &req)
	if !ok {
		return
	}
	res, err := h.service.CreateReservation(r.Context(), ReservationInput{
		TenantID:      id.TenantID,
		ProductID:     req.ProductID,
		LocationID:    req.LocationID,
		ChannelID:     req.ChannelID,
		Quantity:      req.Quantity,
		BatchID:       req.BatchID,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		ExpiresAt:     req.ExpiresAt,
		PerformedBy:   id.PerformedBy,
	})
	if err != nil {
		h.fail(w, "create reservation", err)
		return
	}
	h.respond(w, http.StatusCreated, res.Outcome, res)
}

func (h *Handler) handleListReservations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bind(w, r, nil)
	if !ok {
		return
	}
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	list, err := h.service.ListReservations(r.Context(), ReservationFilter{
		TenantID:   id.TenantID,
		ProductID:  q.Get("product_id"),
		LocationID: q.Get("location_id"),
		ChannelID:  q.Get("channel_id"),
		Status:     ReservationStatus(q.Get("status")),
		Limit:      limit,
	})
	if err != nil {
		h.fail(w, "list reservations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewPage(list))
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bind(w, r, nil)
	if !ok {
		return
	}
	res, err := h.service.GetReservation(r.Context(), id.TenantID, chi.URLParam(r, "reservationID"))
	if err != nil {
		h.fail(w, "get reservation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type reservationStepFunc func(ctx context.Context, tenantID, reservationID, performedBy string) (ReservationResult, error)

func (h *Handler) handleReservationStep(step reservationStepFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.bind(w, r, nil)
		if !ok {
			return
		}
		res, err := step(r.Context(), id.TenantID, chi.URLParam(r, "reservationID"), id.PerformedBy)
		if err != nil {
			h.fail(w, "reservation transition", err)
			return
		}
		h.respond(w, http.StatusOK, res.Outcome, res)
	}
}

// bind resolves the caller identity and, when target is set, decodes the body.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, target any) (shared.Identity, bool) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Identity{}, false
	}
	if target != nil {
		if err := httpx.Bind(r, h.validator, target); err != nil {
			httpx.RespondError(w, err)
			return shared.Identity{}, false
		}
	}
	return id, true
}

func (h *Handler) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		httpx.RespondError(w, fmt.Errorf("%w: limit must be a non-negative integer", httpx.ErrValidation))
		return 0, false
	}
	return n, true
}

// respond writes a committed result. Delivery failures are surfaced as a
// header since the ledger change already stands.
func (h *Handler) respond(w http.ResponseWriter, status int, outcome Outcome, body any) {
	if outcome.DeliveryErr != nil {
		w.Header().Set("X-Event-Delivery", "failed")
	}
	httpx.JSON(w, status, body)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.IsBusiness(err) {
		h.logger.Info(op, slog.Any("error", err))
	} else {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not an RFC3339 time", httpx.ErrValidation, raw)
	}
	return t, nil
}
