package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/events"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const referenceTransfer = "transfer"

// TransferResult is returned by every transfer transition.
type TransferResult struct {
	Outcome
	Transfer    StockTransfer   `json:"transfer"`
	Source      StockLevel      `json:"source"`
	Destination StockLevel      `json:"destination"`
	Movements   []StockMovement `json:"movements,omitempty"`
}

// CreateTransfer opens a transfer. Unless approval is required the stock
// leaves the source immediately and the transfer starts in transit.
func (s *Service) CreateTransfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if err := requireIdentity(in.TenantID, in.PerformedBy); err != nil {
		return TransferResult{}, err
	}
	if in.ProductID == "" || in.FromLocationID == "" || in.ToLocationID == "" {
		return TransferResult{}, errProductLocationRequired
	}
	if in.FromLocationID == in.ToLocationID {
		return TransferResult{}, fmt.Errorf("inventory: transfer source and destination must differ: %w", shared.ErrInvalidInput)
	}
	if !in.Quantity.IsPositive() {
		return TransferResult{}, errZeroQuantity
	}
	var res TransferResult
	outcome, err := s.run(ctx, "transfer_create", in.TenantID, in.PerformedBy, func(ctx context.Context, uow *unitOfWork) error {
		product, err := uow.resolve(ctx, in.TenantID, in.ProductID, in.FromLocationID)
		if err != nil {
			return err
		}
		if _, err := uow.location(ctx, in.TenantID, in.ToLocationID); err != nil {
			return err
		}
		t := StockTransfer{
			ID:             uow.svc.newID(),
			TenantID:       in.TenantID,
			ProductID:      in.ProductID,
			FromLocationID: in.FromLocationID,
			ToLocationID:   in.ToLocationID,
			Quantity:       in.Quantity,
			Status:         TransferPending,
			BatchID:        in.BatchID,
			InitiatedBy:    in.PerformedBy,
			InitiatedAt:    uow.now,
			Note:           in.Note,
		}
		levels, err := uow.tx.LockStockLevels(ctx, t.SourceKey(), t.DestinationKey())
		if err != nil {
			return err
		}
		open, err := uow.tx.FindOpenTransfer(ctx, t.TenantID, t.ProductID, t.FromLocationID, t.ToLocationID)
		switch {
		case err == nil:
			return fmt.Errorf("inventory: transfer %s is already open on this route: %w", open.ID, shared.ErrConflict)
		case !errors.Is(err, ErrTransferNotFound):
			return err
		}

		res.Source, res.Destination = levels[t.SourceKey()], levels[t.DestinationKey()]
		if !in.RequireApproval {
			if err := uow.dispatch(ctx, product, &t, &res, levels); err != nil {
				return err
			}
		}
		if err := uow.tx.InsertTransfer(ctx, t); err != nil {
			return err
		}
		res.Transfer = t
		return uow.record(ctx, audit.Change{
			TenantID:    t.TenantID,
			EntityType:  audit.EntityTransfer,
			EntityID:    t.ID,
			Action:      "create",
			Next:        t,
			PerformedBy: in.PerformedBy,
			Reason:      in.Note,
		})
	})
	if err != nil {
		return TransferResult{}, err
	}
	res.Outcome = outcome
	return res, nil
}

// DispatchTransfer moves an approved pending transfer into transit.
func (s *Service) DispatchTransfer(ctx context.Context, tenantID, transferID, performedBy string) (TransferResult, error) {
	return s.transition(ctx, "transfer_dispatch", tenantID, transferID, performedBy, func(ctx context.Context, uow *unitOfWork, p Product, t *StockTransfer, res *TransferResult, levels map[shared.AggregateKey]StockLevel) error {
		if t.Status != TransferPending {
			return invalidTransfer(*t, "dispatch")
		}
		return uow.dispatch(ctx, p, t, res, levels)
	})
}

// CompleteTransfer receives an in-transit transfer at its destination.
func (s *Service) CompleteTransfer(ctx context.Context, tenantID, transferID, performedBy string) (TransferResult, error) {
	return s.transition(ctx, "transfer_complete", tenantID, transferID, performedBy, func(ctx context.Context, uow *unitOfWork, p Product, t *StockTransfer, res *TransferResult, levels map[shared.AggregateKey]StockLevel) error {
		if t.Status != TransferInTransit {
			return invalidTransfer(*t, "complete")
		}
		dstBefore := levels[t.DestinationKey()]
		dstAfter := dstBefore
		dstAfter.InTransit = dstBefore.InTransit.Sub(t.Quantity)
		dstAfter.OnHand = dstBefore.OnHand.Add(t.Quantity)

		template := StockMovement{
			TenantID:      t.TenantID,
			ProductID:     t.ProductID,
			LocationID:    t.ToLocationID,
			Type:          MovementTransferIn,
			ReferenceType: referenceTransfer,
			ReferenceID:   t.ID,
		}
		movements := make([]StockMovement, 0, len(t.Segments))
		onHand := dstBefore.OnHand
		for _, seg := range carriedSegments(*t) {
			remaining := unsettled(onHand, seg.Quantity)
			onHand = onHand.Add(seg.Quantity)
			batch, err := uow.createBatch(ctx, t.DestinationKey(), seg.Quantity, remaining, seg.CostPerUnit, "", "TRF", uow.now, nil)
			if err != nil {
				return err
			}
			m := template
			cost := seg.CostPerUnit
			m.Quantity, m.CostPerUnit, m.BatchID = seg.Quantity, &cost, batch.ID
			movements = append(movements, m)
		}
		movements, err := uow.appendMovements(ctx, movements...)
		if err != nil {
			return err
		}
		if res.Destination, err = uow.writeLevel(ctx, p, dstBefore, dstAfter, "transfer_receive", ""); err != nil {
			return err
		}
		res.Movements = movements

		completed := uow.now
		t.Status = TransferCompleted
		t.CompletedAt = &completed
		uow.emit(transferEvent(*t, events.TypeTransferCompleted, t.ToLocationID))
		return nil
	})
}

// CancelTransfer abandons an open transfer. Stock in transit returns to the
// source and the source batches it was taken from are restored.
func (s *Service) CancelTransfer(ctx context.Context, tenantID, transferID, performedBy string) (TransferResult, error) {
	return s.transition(ctx, "transfer_cancel", tenantID, transferID, performedBy, func(ctx context.Context, uow *unitOfWork, p Product, t *StockTransfer, res *TransferResult, levels map[shared.AggregateKey]StockLevel) error {
		if !t.Status.Open() {
			return invalidTransfer(*t, "cancel")
		}
		wasInTransit := t.Status == TransferInTransit
		cancelled := uow.now
		t.Status = TransferCancelled
		t.CancelledAt = &cancelled
		if !wasInTransit {
			return nil
		}

		srcBefore, dstBefore := levels[t.SourceKey()], levels[t.DestinationKey()]
		srcAfter, dstAfter := srcBefore, dstBefore
		srcAfter.OnHand = srcBefore.OnHand.Add(t.Quantity)
		dstAfter.InTransit = dstBefore.InTransit.Sub(t.Quantity)

		batches, err := uow.tx.ListBatchesForUpdate(ctx, t.SourceKey())
		if err != nil {
			return err
		}
		byID := make(map[string]StockBatch, len(batches))
		for _, b := range batches {
			byID[b.ID] = b
		}
		onHand := srcBefore.OnHand
		for _, seg := range t.Segments {
			restore := unsettled(onHand, seg.Quantity)
			onHand = onHand.Add(seg.Quantity)
			if seg.BatchID == "" || restore.IsZero() {
				continue
			}
			b, ok := byID[seg.BatchID]
			if !ok {
				return fmt.Errorf("inventory: transfer %s source batch %s: %w", t.ID, seg.BatchID, ErrBatchNotFound)
			}
			if err := uow.adjustBatch(ctx, b, restore, "restore"); err != nil {
				return err
			}
		}
		movements := segmentMovements(carriedSegments(*t), StockMovement{
			TenantID:      t.TenantID,
			ProductID:     t.ProductID,
			LocationID:    t.FromLocationID,
			Type:          MovementTransferIn,
			ReferenceType: referenceTransfer,
			ReferenceID:   t.ID,
			Reason:        "transfer cancelled",
		})
		if res.Movements, err = uow.appendMovements(ctx, movements...); err != nil {
			return err
		}
		if res.Source, err = uow.writeLevel(ctx, p, srcBefore, srcAfter, "transfer_cancel", ""); err != nil {
			return err
		}
		if res.Destination, err = uow.writeLevel(ctx, p, dstBefore, dstAfter, "transfer_cancel", ""); err != nil {
			return err
		}
		uow.emit(transferEvent(*t, events.TypeTransferCancelled, t.FromLocationID))
		return nil
	})
}

// GetTransfer returns one transfer of the tenant.
func (s *Service) GetTransfer(ctx context.Context, tenantID, id string) (StockTransfer, error) {
	if tenantID == "" {
		return StockTransfer{}, errTenantRequired
	}
	return s.repo.GetTransfer(ctx, tenantID, id)
}

// ListTransfers returns tenant scoped transfers, newest first.
func (s *Service) ListTransfers(ctx context.Context, filter TransferFilter) ([]StockTransfer, error) {
	if filter.TenantID == "" {
		return nil, errTenantRequired
	}
	if filter.Status != "" && !filter.Status.Open() && filter.Status != TransferCompleted && filter.Status != TransferCancelled {
		return nil, fmt.Errorf("inventory: unknown transfer status %q: %w", filter.Status, shared.ErrInvalidInput)
	}
	filter.Limit = shared.ClampLimit(filter.Limit)
	return s.repo.ListTransfers(ctx, filter)
}

type transferStep func(ctx context.Context, uow *unitOfWork, p Product, t *StockTransfer, res *TransferResult, levels map[shared.AggregateKey]StockLevel) error

// transition loads and locks a transfer with both aggregates, applies step and
// persists the new transfer state with its audit entry.
func (s *Service) transition(ctx context.Context, op, tenantID, transferID, performedBy string, step transferStep) (TransferResult, error) {
	if err := requireIdentity(tenantID, performedBy); err != nil {
		return TransferResult{}, err
	}
	if transferID == "" {
		return TransferResult{}, fmt.Errorf("inventory: transfer id required: %w", shared.ErrInvalidInput)
	}
	var res TransferResult
	outcome, err := s.run(ctx, op, tenantID, performedBy, func(ctx context.Context, uow *unitOfWork) error {
		t, err := uow.tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if t.TenantID != tenantID {
			return fmt.Errorf("inventory: transfer %s: %w", transferID, shared.ErrTenantMismatch)
		}
		product, err := uow.product(ctx, tenantID, t.ProductID)
		if err != nil {
			return err
		}
		levels, err := uow.tx.LockStockLevels(ctx, t.SourceKey(), t.DestinationKey())
		if err != nil {
			return err
		}
		res.Source, res.Destination = levels[t.SourceKey()], levels[t.DestinationKey()]

		before := t
		if err := step(ctx, uow, product, &t, &res, levels); err != nil {
			return err
		}
		if err := uow.tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		res.Transfer = t
		return uow.record(ctx, audit.Change{
			TenantID:    t.TenantID,
			EntityType:  audit.EntityTransfer,
			EntityID:    t.ID,
			Action:      string(t.Status),
			Previous:    before,
			Next:        t,
			PerformedBy: performedBy,
		})
	})
	if err != nil {
		return TransferResult{}, err
	}
	res.Outcome = outcome
	return res, nil
}

// dispatch takes the transfer quantity out of the source through the costing
// engine and holds it in transit at the destination. A transfer never drives
// the source negative.
func (u *unitOfWork) dispatch(ctx context.Context, p Product, t *StockTransfer, res *TransferResult, levels map[shared.AggregateKey]StockLevel) error {
	srcBefore, dstBefore := levels[t.SourceKey()], levels[t.DestinationKey()]
	if srcBefore.Available().LessThan(t.Quantity) {
		return insufficientAvailable(t.Quantity, srcBefore.Available())
	}
	segments, err := u.consume(ctx, p, t.SourceKey(), t.Quantity, t.BatchID, false, nil)
	if err != nil {
		return err
	}
	srcAfter, dstAfter := srcBefore, dstBefore
	srcAfter.OnHand = srcBefore.OnHand.Sub(t.Quantity)
	dstAfter.InTransit = dstBefore.InTransit.Add(t.Quantity)

	movements := segmentMovements(segments, StockMovement{
		TenantID:      t.TenantID,
		ProductID:     t.ProductID,
		LocationID:    t.FromLocationID,
		Type:          MovementTransferOut,
		ReferenceType: referenceTransfer,
		ReferenceID:   t.ID,
		Reason:        t.Note,
	})
	if res.Movements, err = u.appendMovements(ctx, movements...); err != nil {
		return err
	}
	if res.Source, err = u.writeLevel(ctx, p, srcBefore, srcAfter, "transfer_out", ""); err != nil {
		return err
	}
	if res.Destination, err = u.writeLevel(ctx, p, dstBefore, dstAfter, "transfer_in_transit", ""); err != nil {
		return err
	}
	dispatched := u.now
	t.Status = TransferInTransit
	t.Segments = segments
	t.DispatchedAt = &dispatched
	u.emit(transferEvent(*t, events.TypeTransferInitiated, t.FromLocationID))
	return nil
}

// carriedSegments returns the cost segments a transfer carries, or one
// zero-cost segment for the whole quantity when none were recorded.
func carriedSegments(t StockTransfer) []CostSegment {
	if len(t.Segments) > 0 {
		return t.Segments
	}
	return []CostSegment{{Quantity: t.Quantity}}
}

func transferEvent(t StockTransfer, typ events.Type, locationID string) events.Event {
	return events.Event{
		TenantID:   t.TenantID,
		Type:       typ,
		ProductID:  t.ProductID,
		LocationID: locationID,
		Payload: events.TransferPayload{
			TransferID:     t.ID,
			FromLocationID: t.FromLocationID,
			ToLocationID:   t.ToLocationID,
			Quantity:       t.Quantity,
			Status:         string(t.Status),
		},
	}
}

func invalidTransfer(t StockTransfer, action string) error {
	return fmt.Errorf("inventory: cannot %s transfer %s in status %s: %w", action, t.ID, t.Status, shared.ErrInvalidStateTransition)
}
