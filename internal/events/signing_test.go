package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeysAtEveryDepth(t *testing.T) {
	body, err := CanonicalJSON(map[string]any{
		"zeta":  1,
		"alpha": map[string]any{"b": true, "a": []any{map[string]any{"y": 2, "x": 1.50}}},
	})
	require.NoError(t, err)
	require.Equal(t, `{"alpha":{"a":[{"x":1.5,"y":2}],"b":true},"zeta":1}`, string(body))
}

func TestCanonicalJSONIsStableForEvents(t *testing.T) {
	e := Event{
		ID:         "e1",
		TenantID:   "t1",
		Type:       TypeTransferInitiated,
		ProductID:  "p1",
		LocationID: "l1",
		Payload: TransferPayload{
			TransferID:     "tr1",
			FromLocationID: "l1",
			ToLocationID:   "l2",
			Quantity:       decimal.RequireFromString("25"),
			Status:         "in_transit",
		},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	a, err := CanonicalJSON(e)
	require.NoError(t, err)
	b, err := CanonicalJSON(e)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Contains(t, string(a), `"created_at":"2026-01-01T00:00:00Z","event_type":"transfer_initiated","id":"e1"`)

	var decoded Event
	require.NoError(t, json.Unmarshal(a, &decoded))
	payload, ok := decoded.Payload.(TransferPayload)
	require.True(t, ok)
	require.Equal(t, "tr1", payload.TransferID)
	require.True(t, payload.Quantity.Equal(decimal.NewFromInt(25)))
}

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign("s3cret", body)
	require.Len(t, sig, 64)
	require.Equal(t, sig, Sign("s3cret", body))
	require.NotEqual(t, sig, Sign("other", body))

	header := SignatureValue(sig)
	require.True(t, Verify("s3cret", body, header))
	require.False(t, Verify("s3cret", []byte(`{"a":2}`), header))
	require.False(t, Verify("s3cret", body, sig))
}

func TestDecodePayloadRejectsUnknownType(t *testing.T) {
	_, err := DecodePayload("price_changed", []byte(`{}`))
	require.Error(t, err)
}
