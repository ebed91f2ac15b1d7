package events

import (
	"slices"
	"time"
)

// Channel is a sales or integration endpoint that receives webhooks.
type Channel struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Name       string    `json:"name"`
	WebhookURL string    `json:"webhook_url,omitempty"`
	Secret     string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// SubscriptionStatus is the lifecycle of a ChannelSubscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	return s == SubscriptionActive || s == SubscriptionPaused || s == SubscriptionCancelled
}

// Subscription filters events for a channel. Empty ProductID or LocationID
// match every product or location.
type Subscription struct {
	ID         string             `json:"id"`
	TenantID   string             `json:"tenant_id"`
	ChannelID  string             `json:"channel_id"`
	ProductID  string             `json:"product_id,omitempty"`
	LocationID string             `json:"location_id,omitempty"`
	EventTypes []Type             `json:"event_types"`
	Status     SubscriptionStatus `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Matches reports whether e should be delivered under s.
func (s Subscription) Matches(e Event) bool {
	if s.Status != SubscriptionActive || s.TenantID != e.TenantID {
		return false
	}
	if s.ProductID != "" && s.ProductID != e.ProductID {
		return false
	}
	if s.LocationID != "" && s.LocationID != e.LocationID {
		return false
	}
	return slices.Contains(s.EventTypes, e.Type)
}

// Target pairs an active subscription with its channel.
type Target struct {
	Subscription Subscription
	Channel      Channel
}
