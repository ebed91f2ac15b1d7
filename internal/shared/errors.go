package shared

import "errors"

// Business error kinds surfaced by the ledger. Each is detected before any
// mutation, so a returned kind never leaves partial state behind.
var (
	// ErrNotFound indicates an unknown product, location, transfer, reservation or channel.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates a consuming quantity exceeds what is available.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidStateTransition indicates the entity status does not permit the operation.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrInvalidStrategyConfiguration indicates a SPECIFIC consumption without a usable batch.
	ErrInvalidStrategyConfiguration = errors.New("invalid strategy configuration")
	// ErrTenantMismatch indicates an identifier resolved to another tenant.
	ErrTenantMismatch = errors.New("tenant mismatch")
	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict indicates a uniqueness violation (duplicate SKU, open transfer).
	ErrConflict = errors.New("conflict")
)

// IsBusiness reports whether err carries one of the business error kinds.
func IsBusiness(err error) bool {
	for _, kind := range []error{
		ErrNotFound, ErrInsufficientStock, ErrInvalidStateTransition,
		ErrInvalidStrategyConfiguration, ErrTenantMismatch, ErrInvalidInput,
		ErrConflict, ErrIdempotencyConflict,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
