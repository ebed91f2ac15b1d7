package shared

import (
	"fmt"
	"sort"
)

// AggregateKey identifies one stock level aggregate, the unit of serializability.
type AggregateKey struct {
	TenantID   string
	ProductID  string
	LocationID string
}

// String renders the key in lock order form.
func (k AggregateKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TenantID, k.ProductID, k.LocationID)
}

// Less orders keys lexicographically on (tenant, product, location).
func (k AggregateKey) Less(other AggregateKey) bool {
	if k.TenantID != other.TenantID {
		return k.TenantID < other.TenantID
	}
	if k.ProductID != other.ProductID {
		return k.ProductID < other.ProductID
	}
	return k.LocationID < other.LocationID
}

// LockOrder returns the distinct keys sorted in acquisition order. Every
// multi-aggregate operation acquires locks in this order so two opposite
// transfers cannot deadlock.
func LockOrder(keys ...AggregateKey) []AggregateKey {
	seen := make(map[AggregateKey]struct{}, len(keys))
	out := make([]AggregateKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
