package eventshttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockledger/internal/events"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// AdminService is the channel administration contract.
type AdminService interface {
	CreateChannel(ctx context.Context, in events.ChannelInput) (events.Channel, error)
	Subscribe(ctx context.Context, in events.SubscriptionInput) (events.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, tenantID, id string, status events.SubscriptionStatus, performedBy string) (events.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID, channelID string) ([]events.Subscription, error)
	ListEvents(ctx context.Context, filter events.EventFilter) ([]events.Event, error)
}

// Handler serves channel administration.
type Handler struct {
	logger    *slog.Logger
	service   AdminService
	validator *validator.Validate
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service AdminService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

type channelRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	WebhookURL string `json:"webhook_url" validate:"omitempty,url"`
	Secret     string `json:"secret" validate:"required_with=WebhookURL"`
}

type subscriptionRequest struct {
	ProductID  string   `json:"product_id"`
	LocationID string   `json:"location_id"`
	EventTypes []string `json:"event_types" validate:"required,min=1,dive,required"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active paused cancelled"`
}

func (h *Handler) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req channelRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ch, err := h.service.CreateChannel(r.Context(), events.ChannelInput{
		TenantID:    id.TenantID,
		Name:        req.Name,
		WebhookURL:  req.WebhookURL,
		Secret:      req.Secret,
		PerformedBy: id.PerformedBy,
	})
	if err != nil {
		h.fail(w, "create channel", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ch)
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req subscriptionRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	types := make([]events.Type, len(req.EventTypes))
	for i, t := range req.EventTypes {
		types[i] = events.Type(t)
	}
	sub, err := h.service.Subscribe(r.Context(), events.SubscriptionInput{
		TenantID:    id.TenantID,
		ChannelID:   chi.URLParam(r, "channelID"),
		ProductID:   req.ProductID,
		LocationID:  req.LocationID,
		EventTypes:  types,
		PerformedBy: id.PerformedBy,
	})
	if err != nil {
		h.fail(w, "subscribe", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sub)
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	subs, err := h.service.ListSubscriptions(r.Context(), id.TenantID, r.URL.Query().Get("channel_id"))
	if err != nil {
		h.fail(w, "list subscriptions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewPage(subs))
}

func (h *Handler) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req statusRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sub, err := h.service.UpdateSubscriptionStatus(r.Context(), id.TenantID, chi.URLParam(r, "subscriptionID"), events.SubscriptionStatus(req.Status), id.PerformedBy)
	if err != nil {
		h.fail(w, "update subscription", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sub)
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Identity(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := events.EventFilter{
		TenantID:    id.TenantID,
		Type:        events.Type(strings.TrimSpace(q.Get("type"))),
		ProductID:   q.Get("product_id"),
		LocationID:  q.Get("location_id"),
		OnlyPending: q.Get("pending") == "true",
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpx.RespondError(w, httpx.ErrValidation)
			return
		}
		filter.Limit = n
	}
	list, err := h.service.ListEvents(r.Context(), filter)
	if err != nil {
		h.fail(w, "list events", err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.NewPage(list))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
