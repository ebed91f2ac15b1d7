package shared

// DefaultLimit applies when a listing filter leaves Limit unset.
const DefaultLimit = 200

// MaxLimit caps listing filters.
const MaxLimit = 1000

// ClampLimit normalises a requested page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
