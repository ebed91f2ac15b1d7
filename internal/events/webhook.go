package events

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSender posts deliveries over HTTP.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender builds a sender with the given per-request timeout.
func NewWebhookSender(timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{client: &http.Client{Timeout: timeout}}
}

// Dispatch posts d and treats any non-2xx response as a failure.
func (s *WebhookSender) Dispatch(ctx context.Context, d Delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Body))
	if err != nil {
		return fmt.Errorf("events: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, SignatureValue(d.Signature))
	req.Header.Set(EventTypeHeader, string(d.EventType))
	req.Header.Set(DeliveryHeader, d.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("events: post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("events: webhook responded %d", resp.StatusCode)
	}
	return nil
}
