package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/events"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const (
	referenceReservation = "reservation"
	// SweepActor performs expiries driven by the reservation sweep.
	SweepActor = "system:reservation-sweep"
)

// ReservationResult is returned by every reservation transition.
type ReservationResult struct {
	Outcome
	Reservation Reservation     `json:"reservation"`
	Level       StockLevel      `json:"stock_level"`
	Movements   []StockMovement `json:"movements"`
	Segments    []CostSegment   `json:"segments,omitempty"`
	TotalCost   decimal.Decimal `json:"total_cost"`
}

// CreateReservation holds available stock. Reservations never overcommit,
// even for products that allow negative stock.
func (s *Service) CreateReservation(ctx context.Context, in ReservationInput) (ReservationResult, error) {
	if err := requireIdentity(in.TenantID, in.PerformedBy); err != nil {
		return ReservationResult{}, err
	}
	if in.ProductID == "" || in.LocationID == "" {
		return ReservationResult{}, errProductLocationRequired
	}
	if !in.Quantity.IsPositive() {
		return ReservationResult{}, errZeroQuantity
	}
	var res ReservationResult
	outcome, err := s.run(ctx, "reservation_create", in.TenantID, in.PerformedBy, func(ctx context.Context, uow *unitOfWork) error {
		product, err := uow.resolve(ctx, in.TenantID, in.ProductID, in.LocationID)
		if err != nil {
			return err
		}
		if in.ExpiresAt != nil && !in.ExpiresAt.After(uow.now) {
			return fmt.Errorf("inventory: reservation expiry must be in the future: %w", shared.ErrInvalidInput)
		}
		key := shared.AggregateKey{TenantID: in.TenantID, ProductID: in.ProductID, LocationID: in.LocationID}
		levels, err := uow.tx.LockStockLevels(ctx, key)
		if err != nil {
			return err
		}
		before := levels[key]
		if before.Available().LessThan(in.Quantity) {
			return insufficientAvailable(in.Quantity, before.Available())
		}
		if product.Strategy == StrategySpecific {
			if err := uow.checkBatch(ctx, product, key, in.BatchID, in.Quantity); err != nil {
				return err
			}
		}

		r := Reservation{
			ID:            uow.svc.newID(),
			TenantID:      in.TenantID,
			ProductID:     in.ProductID,
			LocationID:    in.LocationID,
			ChannelID:     in.ChannelID,
			Quantity:      in.Quantity,
			Status:        ReservationActive,
			BatchID:       in.BatchID,
			ReferenceType: in.ReferenceType,
			ReferenceID:   in.ReferenceID,
			ExpiresAt:     in.ExpiresAt,
			CreatedBy:     in.PerformedBy,
			CreatedAt:     uow.now,
		}
		if err := uow.tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		if err := uow.record(ctx, audit.Change{
			TenantID:    r.TenantID,
			EntityType:  audit.EntityReservation,
			EntityID:    r.ID,
			Action:      "create",
			Next:        r,
			PerformedBy: in.PerformedBy,
		}); err != nil {
			return err
		}

		after := before
		after.Reserved = before.Reserved.Add(in.Quantity)
		movements, err := uow.appendMovements(ctx, reservationMovement(r, MovementReservation))
		if err != nil {
			return err
		}
		if after, err = uow.writeLevel(ctx, product, before, after, "reserve", ""); err != nil {
			return err
		}
		uow.emit(reservationEvent(r, events.TypeReservationCreated))
		res.Reservation, res.Level, res.Movements = r, after, movements
		return nil
	})
	if err != nil {
		return ReservationResult{}, err
	}
	res.Outcome = outcome
	return res, nil
}

// FulfillReservation turns a hold into a sale. On-hand and reserved drop
// together and the sold units are costed like any other sale.
func (s *Service) FulfillReservation(ctx context.Context, tenantID, reservationID, performedBy string) (ReservationResult, error) {
	return s.resolveReservation(ctx, "reservation_fulfill", tenantID, reservationID, performedBy, ReservationFulfilled,
		func(ctx context.Context, uow *unitOfWork, p Product, r Reservation, before StockLevel, res *ReservationResult) (StockLevel, error) {
			segments, err := uow.consume(ctx, p, r.Key(), r.Quantity, r.BatchID, p.AllowNegativeStock, &r)
			if err != nil {
				return StockLevel{}, err
			}
			after := before
			after.OnHand = before.OnHand.Sub(r.Quantity)
			after.Reserved = before.Reserved.Sub(r.Quantity)

			movements := segmentMovements(segments, StockMovement{
				TenantID:      r.TenantID,
				ProductID:     r.ProductID,
				LocationID:    r.LocationID,
				Type:          MovementSale,
				ChannelID:     r.ChannelID,
				ReferenceType: referenceReservation,
				ReferenceID:   r.ID,
			})
			if res.Movements, err = uow.appendMovements(ctx, movements...); err != nil {
				return StockLevel{}, err
			}
			res.Segments, res.TotalCost = segments, TotalCost(segments)
			return after, nil
		})
}

// CancelReservation releases a hold back to available stock.
func (s *Service) CancelReservation(ctx context.Context, tenantID, reservationID, performedBy string) (ReservationResult, error) {
	return s.resolveReservation(ctx, "reservation_cancel", tenantID, reservationID, performedBy, ReservationCancelled, release)
}

// ExpireReservation releases a hold whose expiry has passed.
func (s *Service) ExpireReservation(ctx context.Context, tenantID, reservationID, performedBy string) (ReservationResult, error) {
	return s.resolveReservation(ctx, "reservation_expire", tenantID, reservationID, performedBy, ReservationExpired,
		func(ctx context.Context, uow *unitOfWork, p Product, r Reservation, before StockLevel, res *ReservationResult) (StockLevel, error) {
			if r.ExpiresAt == nil || r.ExpiresAt.After(uow.now) {
				return StockLevel{}, fmt.Errorf("inventory: reservation %s is not due: %w", r.ID, shared.ErrInvalidStateTransition)
			}
			return release(ctx, uow, p, r, before, res)
		})
}

// ExpireDue expires every active reservation whose expiry is at or before
// now. Each reservation is expired in its own transaction; reservations
// resolved concurrently are skipped. It returns the number expired.
func (s *Service) ExpireDue(ctx context.Context, now time.Time, batchSize int) (int, error) {
	due, err := s.repo.ListDueReservations(ctx, now, shared.ClampLimit(batchSize))
	if err != nil {
		return 0, fmt.Errorf("inventory: list due reservations: %w", err)
	}
	expired := 0
	var errs []error
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		_, err := s.ExpireReservation(ctx, r.TenantID, r.ID, SweepActor)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, shared.ErrInvalidStateTransition):
			s.logger.Debug("reservation already resolved", slog.String("reservation_id", r.ID))
		default:
			s.logger.Warn("expire reservation",
				slog.String("tenant_id", r.TenantID),
				slog.String("reservation_id", r.ID),
				slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return expired, errors.Join(errs...)
}

// GetReservation returns one reservation of the tenant.
func (s *Service) GetReservation(ctx context.Context, tenantID, id string) (Reservation, error) {
	if tenantID == "" {
		return Reservation{}, errTenantRequired
	}
	return s.repo.GetReservation(ctx, tenantID, id)
}

// ListReservations returns tenant scoped reservations, newest first.
func (s *Service) ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	if filter.TenantID == "" {
		return nil, errTenantRequired
	}
	switch filter.Status {
	case "", ReservationActive, ReservationFulfilled, ReservationCancelled, ReservationExpired:
	default:
		return nil, fmt.Errorf("inventory: unknown reservation status %q: %w", filter.Status, shared.ErrInvalidInput)
	}
	filter.Limit = shared.ClampLimit(filter.Limit)
	return s.repo.ListReservations(ctx, filter)
}

type reservationStep func(ctx context.Context, uow *unitOfWork, p Product, r Reservation, before StockLevel, res *ReservationResult) (StockLevel, error)

// resolveReservation moves an active reservation into a terminal status.
// step computes the level after resolution and appends the movements.
func (s *Service) resolveReservation(ctx context.Context, op, tenantID, reservationID, performedBy string, status ReservationStatus, step reservationStep) (ReservationResult, error) {
	if err := requireIdentity(tenantID, performedBy); err != nil {
		return ReservationResult{}, err
	}
	if reservationID == "" {
		return ReservationResult{}, fmt.Errorf("inventory: reservation id required: %w", shared.ErrInvalidInput)
	}
	var res ReservationResult
	outcome, err := s.run(ctx, op, tenantID, performedBy, func(ctx context.Context, uow *unitOfWork) error {
		r, err := uow.tx.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.TenantID != tenantID {
			return fmt.Errorf("inventory: reservation %s: %w", reservationID, shared.ErrTenantMismatch)
		}
		if r.Status != ReservationActive {
			return fmt.Errorf("inventory: reservation %s is %s: %w", r.ID, r.Status, shared.ErrInvalidStateTransition)
		}
		product, err := uow.product(ctx, tenantID, r.ProductID)
		if err != nil {
			return err
		}
		levels, err := uow.tx.LockStockLevels(ctx, r.Key())
		if err != nil {
			return err
		}
		before := levels[r.Key()]
		after, err := step(ctx, uow, product, r, before, &res)
		if err != nil {
			return err
		}

		prev := r
		resolved := uow.now
		r.Status = status
		r.ResolvedAt = &resolved
		if err := uow.tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		if err := uow.record(ctx, audit.Change{
			TenantID:    r.TenantID,
			EntityType:  audit.EntityReservation,
			EntityID:    r.ID,
			Action:      string(status),
			Previous:    prev,
			Next:        r,
			PerformedBy: performedBy,
		}); err != nil {
			return err
		}
		if res.Level, err = uow.writeLevel(ctx, product, before, after, op, ""); err != nil {
			return err
		}
		uow.emit(reservationEvent(r, reservationEventType(status)))
		res.Reservation = r
		return nil
	})
	if err != nil {
		return ReservationResult{}, err
	}
	res.Outcome = outcome
	return res, nil
}

// release returns the held quantity to available stock.
func release(ctx context.Context, uow *unitOfWork, _ Product, r Reservation, before StockLevel, res *ReservationResult) (StockLevel, error) {
	after := before
	after.Reserved = before.Reserved.Sub(r.Quantity)
	movements, err := uow.appendMovements(ctx, reservationMovement(r, MovementReservationRelease))
	if err != nil {
		return StockLevel{}, err
	}
	res.Movements = movements
	return after, nil
}

// checkBatch verifies batchID names a batch of key with qty units not
// already held by other reservations.
func (u *unitOfWork) checkBatch(ctx context.Context, p Product, key shared.AggregateKey, batchID string, qty decimal.Decimal) error {
	if batchID == "" {
		return fmt.Errorf("inventory: SPECIFIC reservation requires a batch: %w", shared.ErrInvalidStrategyConfiguration)
	}
	batches, err := u.tx.ListBatchesForUpdate(ctx, key)
	if err != nil {
		return err
	}
	free, err := u.unheld(ctx, p, key, batches, nil)
	if err != nil {
		return err
	}
	for _, b := range free {
		if b.ID != batchID {
			continue
		}
		if b.Remaining.LessThan(qty) {
			return insufficient(qty, b.Remaining)
		}
		return nil
	}
	return fmt.Errorf("inventory: batch %s does not belong to this stock level: %w", batchID, shared.ErrInvalidStrategyConfiguration)
}

func reservationMovement(r Reservation, t MovementType) StockMovement {
	return StockMovement{
		TenantID:      r.TenantID,
		ProductID:     r.ProductID,
		LocationID:    r.LocationID,
		Type:          t,
		Quantity:      r.Quantity,
		BatchID:       r.BatchID,
		ChannelID:     r.ChannelID,
		ReferenceType: referenceReservation,
		ReferenceID:   r.ID,
	}
}

func reservationEventType(status ReservationStatus) events.Type {
	switch status {
	case ReservationFulfilled:
		return events.TypeReservationFulfilled
	case ReservationExpired:
		return events.TypeReservationExpired
	case ReservationCancelled:
		return events.TypeReservationCancelled
	}
	return events.TypeReservationCreated
}

func reservationEvent(r Reservation, typ events.Type) events.Event {
	return events.Event{
		TenantID:   r.TenantID,
		Type:       typ,
		ProductID:  r.ProductID,
		LocationID: r.LocationID,
		ChannelID:  r.ChannelID,
		Payload: events.ReservationPayload{
			ReservationID: r.ID,
			Quantity:      r.Quantity,
			Status:        string(r.Status),
			ReferenceType: r.ReferenceType,
			ReferenceID:   r.ReferenceID,
		},
	}
}
