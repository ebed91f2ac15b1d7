package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Recorder turns changes into entries and appends them through the caller's
// transaction so the audit row commits or rolls back with the mutation.
type Recorder struct {
	now   func() time.Time
	newID func() string
}

// NewRecorder constructs a Recorder. A nil clock uses time.Now.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now, newID: uuid.NewString}
}

// Record serialises c and appends it through dst.
func (r *Recorder) Record(ctx context.Context, dst Appender, c Change) (Entry, error) {
	if dst == nil {
		return Entry{}, fmt.Errorf("audit: appender not configured")
	}
	entry, err := r.Build(c)
	if err != nil {
		return Entry{}, err
	}
	if err := dst.AppendAudit(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("audit: append: %w", err)
	}
	return entry, nil
}

// Build serialises c into an entry without writing it, for stores that
// persist the entry alongside their own row.
func (r *Recorder) Build(c Change) (Entry, error) {
	if c.TenantID == "" || c.EntityType == "" || c.EntityID == "" || c.Action == "" {
		return Entry{}, fmt.Errorf("audit: tenant, entity and action required: %w", shared.ErrInvalidInput)
	}
	prev, err := marshalState(c.Previous)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encode previous state: %w", err)
	}
	next, err := marshalState(c.Next)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encode new state: %w", err)
	}
	return Entry{
		ID:            r.newID(),
		TenantID:      c.TenantID,
		EntityType:    c.EntityType,
		EntityID:      c.EntityID,
		Action:        c.Action,
		PreviousState: prev,
		NewState:      next,
		PerformedBy:   c.PerformedBy,
		Reason:        c.Reason,
		CreatedAt:     r.now().UTC(),
	}, nil
}

func marshalState(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// Service exposes read access to the audit log.
type Service struct {
	repo Reader
}

// NewService builds the read service.
func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

// Search returns tenant scoped entries oldest first.
func (s *Service) Search(ctx context.Context, tenantID string, filter Filter) ([]Entry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("audit: tenant required: %w", shared.ErrInvalidInput)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, fmt.Errorf("audit: from after to: %w", shared.ErrInvalidInput)
	}
	if filter.Offset < 0 {
		return nil, fmt.Errorf("audit: negative offset: %w", shared.ErrInvalidInput)
	}
	filter.TenantID = tenantID
	filter.Limit = shared.ClampLimit(filter.Limit)
	entries, err := s.repo.SearchAudit(ctx, filter)
	if err != nil {
		return nil, err
	}
	sortChronological(entries)
	return entries, nil
}

// EntityHistory returns every entry for one entity oldest first. It reads
// the log a page at a time until a short page.
func (s *Service) EntityHistory(ctx context.Context, tenantID, entityType, entityID string) ([]Entry, error) {
	if strings.TrimSpace(entityType) == "" || strings.TrimSpace(entityID) == "" {
		return nil, fmt.Errorf("audit: entity type and id required: %w", shared.ErrInvalidInput)
	}
	filter := Filter{EntityType: entityType, EntityID: entityID, Limit: shared.MaxLimit}
	var history []Entry
	for {
		page, err := s.Search(ctx, tenantID, filter)
		if err != nil {
			return nil, err
		}
		history = append(history, page...)
		if len(page) < filter.Limit {
			break
		}
		filter.Offset += len(page)
	}
	sortChronological(history)
	return history, nil
}

func sortChronological(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

// Matches reports whether e satisfies f. Stores without a query language use it.
func (f Filter) Matches(e Entry) bool {
	if e.TenantID != f.TenantID {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.PerformedBy != "" && e.PerformedBy != f.PerformedBy {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	return true
}
