package httpx

import (
	"net/http"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Identity returns the caller identity placed on the request by the identity
// middleware.
func Identity(r *http.Request) (shared.Identity, error) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok || id.TenantID == "" {
		return shared.Identity{}, ErrUnauthorized
	}
	return id, nil
}
