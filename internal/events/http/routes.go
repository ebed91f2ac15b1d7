package eventshttp

import "github.com/go-chi/chi/v5"

// MountRoutes registers channel, subscription and event endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Post("/channels", h.handleCreateChannel)
	r.Post("/channels/{channelID}/subscriptions", h.handleSubscribe)
	r.Get("/subscriptions", h.handleListSubscriptions)
	r.Patch("/subscriptions/{subscriptionID}", h.handleUpdateSubscription)
	r.Get("/events", h.handleListEvents)
}
