package events

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Delivery headers.
const (
	SignatureHeader = "X-Stockledger-Signature"
	EventTypeHeader = "X-Stockledger-Event"
	DeliveryHeader  = "X-Stockledger-Delivery"
	signaturePrefix = "sha256="
)

// CanonicalJSON encodes v with object keys sorted at every depth, no
// insignificant whitespace and numbers kept verbatim.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("events: marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("events: canonicalise: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("events: canonicalise: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureValue renders the header value for a signature.
func SignatureValue(signature string) string {
	return signaturePrefix + signature
}

// Verify checks a header value produced by SignatureValue against body.
func Verify(secret string, body []byte, header string) bool {
	got, ok := strings.CutPrefix(strings.TrimSpace(header), signaturePrefix)
	if !ok {
		return false
	}
	want := Sign(secret, body)
	return hmac.Equal([]byte(got), []byte(want))
}
