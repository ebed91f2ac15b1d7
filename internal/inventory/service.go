package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/events"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const idempotencyModule = "inventory"

// Service coordinates inventory operations. It is the only writer of stock
// level quantities.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	publisher   EventPort
	idempotency IdempotencyPort
	precision   int32
	now         func() time.Time
	newID       func() string
	logger      *slog.Logger
	metrics     *observability.LedgerMetrics
	tracer      trace.Tracer
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// AveragePrecision rounds AVERAGE unit costs. Zero means DefaultAveragePrecision.
	AveragePrecision int32
	Now              func() time.Time
	Logger           *slog.Logger
	Metrics          *observability.LedgerMetrics
}

// NewService builds Service. publisher and idem may be nil.
func NewService(repo RepositoryPort, auditor AuditPort, publisher EventPort, idem IdempotencyPort, cfg ServiceConfig) *Service {
	if auditor == nil {
		auditor = audit.NewRecorder(cfg.Now)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AveragePrecision <= 0 {
		cfg.AveragePrecision = DefaultAveragePrecision
	}
	return &Service{
		repo:        repo,
		audit:       auditor,
		publisher:   publisher,
		idempotency: idem,
		precision:   cfg.AveragePrecision,
		now:         cfg.Now,
		newID:       uuid.NewString,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		tracer:      otel.Tracer("github.com/odyssey-erp/stockledger/internal/inventory"),
	}
}

// Outcome reports what a committed operation published. DeliveryErr carries
// event delivery failures, which never undo the operation.
type Outcome struct {
	Events      []events.Event `json:"events,omitempty"`
	DeliveryErr error          `json:"-"`
}

// ReceiveResult is returned by ReceiveStock.
type ReceiveResult struct {
	Outcome
	Level    StockLevel    `json:"stock_level"`
	Batch    StockBatch    `json:"batch"`
	Movement StockMovement `json:"movement"`
}

// SellResult is returned by SellStock.
type SellResult struct {
	Outcome
	Level     StockLevel      `json:"stock_level"`
	Segments  []CostSegment   `json:"segments"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Movements []StockMovement `json:"movements"`
}

// AdjustResult is returned by AdjustStock. Batch is set for increases.
type AdjustResult struct {
	Outcome
	Level     StockLevel      `json:"stock_level"`
	Batch     *StockBatch     `json:"batch,omitempty"`
	Segments  []CostSegment   `json:"segments,omitempty"`
	Movements []StockMovement `json:"movements"`
}

// ReceiveStock records a receipt as a new batch.
func (s *Service) ReceiveStock(ctx context.Context, in ReceiveInput) (ReceiveResult, error) {
	if err := requireIdentity(in.TenantID, in.PerformedBy); err != nil {
		return ReceiveResult{}, err
	}
	if in.ProductID == "" || in.LocationID == "" {
		return ReceiveResult{}, errProductLocationRequired
	}
	if !in.Quantity.IsPositive() {
		return ReceiveResult{}, errZeroQuantity
	}
	if in.CostPerUnit.IsNegative() {
		return ReceiveResult{}, fmt.Errorf("inventory: cost per unit must not be negative: %w", shared.ErrInvalidInput)
	}
	release, err := s.claim(ctx, in.TenantID, in.IdempotencyKey)
	if err != nil {
		return ReceiveResult{}, err
	}
	var res ReceiveResult
	outcome, err := s.run(ctx, "receive", in.TenantID, in.PerformedBy, func(ctx context.Context, uow *unitOfWork) error {
		product, err := uow.resolve(ctx, in.TenantID, in.ProductID, in.LocationID)
		if err != nil {
			return err
		}
		key := shared.AggregateKey{TenantID: in.TenantID, ProductID: in.ProductID, LocationID: in.LocationID}
		levels, err := uow.tx.LockStockLevels(ctx, key)
		if err != nil {
			return err
		}
		before := levels[key]

		receivedAt := in.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = uow.now
		}
		batch, err := uow.createBatch(ctx, key, in.Quantity, unsettled(before.OnHand, in.Quantity), in.CostPerUnit, in.BatchNumber, "RCV", receivedAt, in.ExpiryDate)
		if err != nil {
			return err
		}
		after := before
		after.OnHand = before.OnHand.Add(in.Quantity)

		cost := in.CostPerUnit
		moved, err := uow.appendMovements(ctx, StockMovement{
			TenantID:      in.TenantID,
			ProductID:     in.ProductID,
			LocationID:    in.LocationID,
			Type:          MovementReceipt,
			Quantity:      in.Quantity,
			CostPerUnit:   &cost,
			BatchID:       batch.ID,
			ReferenceType: in.ReferenceType,
			ReferenceID:   in.ReferenceID,
			PerformedBy:   in.PerformedBy,
		})
		if err != nil {
			return err
		}
		if after, err = uow.writeLevel(ctx, product, before, after, "receive", ""); err != nil {
			return err
		}
		res.Level, res.Batch, res.Movement = after, batch, moved[0]
		return nil
	})
	release(err)
	if err != nil {
		return ReceiveResult{}, err
	}
	res.Outcome = outcome
	return res, nil
}

// SellStock consumes available stock and costs it with the product strategy.
func (s *Service) SellStock(ctx context.Context, in SellInput) (SellResult, error) {
	if err := requireIdentity(in.TenantID, in.PerformedBy); err != nil {
		return SellResult{}, err
	}
	if in.ProductID == "" || in.LocationID == "" {
		return SellResult{}, errProductLocationRequired
	}
	if !in.Quantity.IsPositive() {
		return SellResult{}, errZeroQuantity
	}
	release, err := s.claim(ctx, in.TenantID, in.IdempotencyKey)
	if err != nil {
		return SellResult{}, err
	}
	var res SellResult
	outcome, err := s.run(ctx, "sell", in.TenantID, in.PerformedBy, func(ctx context.Context, uow *unitOfWork) error {
		product, err := uow.resolve(ctx, in.TenantID, in.ProductID, in.LocationID)
		if err != nil {
			return err
		}
		key := shared.AggregateKey{TenantID: in.TenantID, ProductID: in.ProductID, LocationID: in.LocationID}
		levels, err := uow.tx.LockStockLevels(ctx, key)
		if err != nil {
			return err
		}
		before := levels[key]
		if !product.AllowNegativeStock && before.Available().LessThan(in.Quantity) {
			return insufficientAvailable(in.Quantity, before.Available())
		}
		segments, err := uow.consume(ctx, product, key, in.Quantity, in.BatchID, product.AllowNegativeStock, nil)
		if err != nil {
			return err
		}
		after := before
		after.OnHand = before.OnHand.Sub(in.Quantity)

		movements := segmentMovements(segments, StockMovement{
			TenantID:      in.TenantID,
			ProductID:     in.ProductID,
			LocationID:    in.LocationID,
			Type:          MovementSale,
			ChannelID:     in.ChannelID,
			ReferenceType: in.ReferenceType,
			ReferenceID:   in.ReferenceID,
			PerformedBy:   in.PerformedBy,
		})
		if movements, err = uow.appendMovements(ctx, movements...); err != nil {
			return err
		}
		if after, err = uow.writeLevel(ctx, product, before, after, "sell", ""); err != nil {
			return err
		}
		res.Level, res.Segments, res.TotalCost, res.Movements = after, segments, TotalCost(segments), movements
		return nil
	})
	release(err)
	if err != nil {
		return SellResult{}, err
	}
	res.Outcome = outcome
	return res, nil
}

// AdjustStock applies a signed correction to on-hand stock. Increases always
// create a synthetic batch priced at the supplied cost, else the latest batch
// cost, so later FIFO and LIFO costing sees the stock.
func (s *Service) AdjustStock(ctx context.Context, in AdjustInput) (AdjustResult, error) {
	if err := requireIdentity(in.TenantID, in.PerformedBy); err != nil {
		return AdjustResult{}, err
	}
	if in.ProductID == "" || in.LocationID == "" {
		return AdjustResult{}, errProductLocationRequired
	}
	if in.Delta.IsZero() {
		return AdjustResult{}, fmt.Errorf("inventory: adjustment delta must not be zero: %w", shared.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return AdjustResult{}, fmt.Errorf("inventory: adjustment reason required: %w", shared.ErrInvalidInput)
	}
	if in.CostPerUnit != nil && in.CostPerUnit.IsNegative() {
		return AdjustResult{}, fmt.Errorf("inventory: cost per unit must not be negative: %w", shared.ErrInvalidInput)
	}
	movementType, err := adjustmentType(in.Type, in.Delta)
	if err != nil {
		return AdjustResult{}, err
	}
	release, err := s.claim(ctx, in.TenantID, in.IdempotencyKey)
	if err != nil {
		return AdjustResult{}, err
	}
	var res AdjustResult
	outcome, err := s.run(ctx, "adjust", in.TenantID, in.PerformedBy, func(ctx context.Context, uow *unitOfWork) error {
		product, err := uow.resolve(ctx, in.TenantID, in.ProductID, in.LocationID)
		if err != nil {
			return err
		}
		key := shared.AggregateKey{TenantID: in.TenantID, ProductID: in.ProductID, LocationID: in.LocationID}
		levels, err := uow.tx.LockStockLevels(ctx, key)
		if err != nil {
			return err
		}
		before := levels[key]
		after := before
		template := StockMovement{
			TenantID:      in.TenantID,
			ProductID:     in.ProductID,
			LocationID:    in.LocationID,
			Type:          movementType,
			Reason:        in.Reason,
			ReferenceType: in.ReferenceType,
			ReferenceID:   in.ReferenceID,
			PerformedBy:   in.PerformedBy,
		}
		var movements []StockMovement

		if in.Delta.IsNegative() {
			qty := in.Delta.Neg()
			if !product.AllowNegativeStock && before.Available().LessThan(qty) {
				return insufficientAvailable(qty, before.Available())
			}
			segments, err := uow.consume(ctx, product, key, qty, in.BatchID, product.AllowNegativeStock, nil)
			if err != nil {
				return err
			}
			after.OnHand = before.OnHand.Sub(qty)
			movements = segmentMovements(segments, template)
			res.Segments = segments
		} else {
			cost := decimal.Zero
			if in.CostPerUnit != nil {
				cost = *in.CostPerUnit
			} else {
				batches, err := uow.tx.ListBatchesForUpdate(ctx, key)
				if err != nil {
					return err
				}
				if latest, ok := LatestCost(batches); ok {
					cost = latest
				}
			}
			batch, err := uow.createBatch(ctx, key, in.Delta, unsettled(before.OnHand, in.Delta), cost, "", "ADJ", uow.now, nil)
			if err != nil {
				return err
			}
			after.OnHand = before.OnHand.Add(in.Delta)
			template.Quantity = in.Delta
			template.CostPerUnit = &cost
			template.BatchID = batch.ID
			movements = []StockMovement{template}
			res.Batch = &batch
		}
		if movements, err = uow.appendMovements(ctx, movements...); err != nil {
			return err
		}
		if after, err = uow.writeLevel(ctx, product, before, after, "adjust", in.Reason); err != nil {
			return err
		}
		res.Level, res.Movements = after, movements
		return nil
	})
	release(err)
	if err != nil {
		return AdjustResult{}, err
	}
	res.Outcome = outcome
	return res, nil
}

// GetStockLevel returns the level of one aggregate. A pair that has never
// moved reads as zero.
func (s *Service) GetStockLevel(ctx context.Context, tenantID, productID, locationID string) (StockLevel, error) {
	if tenantID == "" || productID == "" || locationID == "" {
		return StockLevel{}, errProductLocationRequired
	}
	if _, err := s.GetProduct(ctx, tenantID, productID); err != nil {
		return StockLevel{}, err
	}
	if _, err := s.GetLocation(ctx, tenantID, locationID); err != nil {
		return StockLevel{}, err
	}
	key := shared.AggregateKey{TenantID: tenantID, ProductID: productID, LocationID: locationID}
	level, err := s.repo.GetStockLevel(ctx, key)
	if errors.Is(err, ErrStockLevelNotFound) {
		return NewStockLevel(key), nil
	}
	return level, err
}

// ListStockLevels returns tenant scoped levels.
func (s *Service) ListStockLevels(ctx context.Context, filter StockLevelFilter) ([]StockLevel, error) {
	if filter.TenantID == "" {
		return nil, errTenantRequired
	}
	filter.Limit = shared.ClampLimit(filter.Limit)
	return s.repo.ListStockLevels(ctx, filter)
}

// GetMovements returns tenant scoped movements, newest first unless
// filter.Ascending.
func (s *Service) GetMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	if filter.TenantID == "" {
		return nil, errTenantRequired
	}
	for _, t := range filter.Types {
		if !t.Valid() {
			return nil, fmt.Errorf("inventory: unknown movement type %q: %w", t, shared.ErrInvalidInput)
		}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, fmt.Errorf("inventory: from after to: %w", shared.ErrInvalidInput)
	}
	filter.Limit = shared.ClampLimit(filter.Limit)
	return s.repo.ListMovements(ctx, filter)
}

// ListBatches returns the batches of one aggregate oldest first.
func (s *Service) ListBatches(ctx context.Context, tenantID, productID, locationID string) ([]StockBatch, error) {
	if tenantID == "" || productID == "" || locationID == "" {
		return nil, errProductLocationRequired
	}
	if _, err := s.GetProduct(ctx, tenantID, productID); err != nil {
		return nil, err
	}
	return s.repo.ListBatches(ctx, shared.AggregateKey{TenantID: tenantID, ProductID: productID, LocationID: locationID})
}

// run executes fn in one transaction and publishes the collected events
// after commit, outside any lock.
func (s *Service) run(ctx context.Context, op, tenantID, actor string, fn func(context.Context, *unitOfWork) error) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "inventory."+op, trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()
	start := time.Now()

	var uow *unitOfWork
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		uow = &unitOfWork{svc: s, tx: tx, actor: actor, now: s.now().UTC()}
		return fn(ctx, uow)
	})
	s.metrics.ObserveOperation(op, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, err
	}
	for _, m := range uow.movements {
		s.metrics.AddMovement(string(m.Type))
	}
	return s.publish(ctx, uow.events), nil
}

func (s *Service) publish(ctx context.Context, evts []events.Event) Outcome {
	if s.publisher == nil || len(evts) == 0 {
		return Outcome{Events: evts}
	}
	published, err := s.publisher.Publish(ctx, evts)
	if err != nil {
		s.logger.Warn("publish inventory events",
			slog.String("tenant_id", evts[0].TenantID),
			slog.Int("events", len(evts)),
			slog.Any("error", err))
	}
	return Outcome{Events: published, DeliveryErr: err}
}

// claim records an idempotency key scoped to the tenant. The returned release
// removes the key again when the operation fails.
func (s *Service) claim(ctx context.Context, tenantID, key string) (func(error), error) {
	noop := func(error) {}
	if key == "" || s.idempotency == nil {
		return noop, nil
	}
	scoped := tenantID + ":" + key
	if err := s.idempotency.CheckAndInsert(ctx, scoped, idempotencyModule); err != nil {
		return noop, err
	}
	return func(opErr error) {
		if opErr == nil {
			return
		}
		if err := s.idempotency.Delete(context.WithoutCancel(ctx), scoped, idempotencyModule); err != nil {
			s.logger.Warn("release idempotency key", slog.String("key", scoped), slog.Any("error", err))
		}
	}, nil
}

// unitOfWork collects the side effects of one transaction.
type unitOfWork struct {
	svc       *Service
	tx        TxRepository
	actor     string
	now       time.Time
	events    []events.Event
	movements []StockMovement
}

func (u *unitOfWork) product(ctx context.Context, tenantID, id string) (Product, error) {
	p, err := u.tx.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if p.TenantID != tenantID {
		return Product{}, fmt.Errorf("inventory: product %s: %w", id, shared.ErrTenantMismatch)
	}
	return p, nil
}

func (u *unitOfWork) location(ctx context.Context, tenantID, id string) (Location, error) {
	l, err := u.tx.GetLocation(ctx, id)
	if err != nil {
		return Location{}, err
	}
	if l.TenantID != tenantID {
		return Location{}, fmt.Errorf("inventory: location %s: %w", id, shared.ErrTenantMismatch)
	}
	return l, nil
}

// resolve loads a tracked product and checks the location belongs to the tenant.
func (u *unitOfWork) resolve(ctx context.Context, tenantID, productID, locationID string) (Product, error) {
	p, err := u.product(ctx, tenantID, productID)
	if err != nil {
		return Product{}, err
	}
	if !p.TrackInventory {
		return Product{}, fmt.Errorf("inventory: product %s does not track inventory: %w", productID, shared.ErrInvalidInput)
	}
	if _, err := u.location(ctx, tenantID, locationID); err != nil {
		return Product{}, err
	}
	return p, nil
}

func (u *unitOfWork) record(ctx context.Context, c audit.Change) error {
	_, err := u.svc.audit.Record(ctx, u.tx, c)
	return err
}

// createBatch inserts a batch of qty units of which remaining are still on
// the shelf. See unsettled.
func (u *unitOfWork) createBatch(ctx context.Context, key shared.AggregateKey, qty, remaining, cost decimal.Decimal, number, prefix string, receivedAt time.Time, expiry *time.Time) (StockBatch, error) {
	id := u.svc.newID()
	if number == "" {
		number = fmt.Sprintf("%s-%s-%s", prefix, u.now.Format("20060102"), strings.ToUpper(id[:8]))
	}
	batch := StockBatch{
		ID:          id,
		TenantID:    key.TenantID,
		ProductID:   key.ProductID,
		LocationID:  key.LocationID,
		BatchNumber: number,
		Quantity:    qty,
		Remaining:   remaining,
		CostPerUnit: cost,
		ReceivedAt:  receivedAt.UTC(),
		ExpiryDate:  expiry,
	}
	if err := u.tx.InsertBatch(ctx, batch); err != nil {
		return StockBatch{}, err
	}
	return batch, u.record(ctx, audit.Change{
		TenantID:    key.TenantID,
		EntityType:  audit.EntityBatch,
		EntityID:    batch.ID,
		Action:      "create",
		Next:        batch,
		PerformedBy: u.actor,
	})
}

// unsettled returns the part of an inbound qty left once a negative onHand
// is covered. Units sold into a shortfall were never drawn from a batch, so
// the inbound units that cover them leave the shelf on arrival.
func unsettled(onHand, qty decimal.Decimal) decimal.Decimal {
	if !onHand.IsNegative() {
		return qty
	}
	return decimal.Max(qty.Add(onHand), decimal.Zero)
}

// consume selects batches for qty under the product strategy and depletes
// the batches it took from. Units held by active SPECIFIC reservations are
// not available to it, except those of own when fulfilling own.
func (u *unitOfWork) consume(ctx context.Context, p Product, key shared.AggregateKey, qty decimal.Decimal, batchID string, allowShortfall bool, own *Reservation) ([]CostSegment, error) {
	batches, err := u.tx.ListBatchesForUpdate(ctx, key)
	if err != nil {
		return nil, err
	}
	free, err := u.unheld(ctx, p, key, batches, own)
	if err != nil {
		return nil, err
	}
	fallback, _ := LatestCost(batches)
	segments, err := SelectBatches(free, CostRequest{
		Strategy:       p.Strategy,
		Quantity:       qty,
		BatchID:        batchID,
		Precision:      u.svc.precision,
		AllowShortfall: allowShortfall,
		FallbackCost:   fallback,
	})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]StockBatch, len(batches))
	for _, b := range batches {
		byID[b.ID] = b
	}
	for _, seg := range segments {
		if seg.BatchID == "" {
			continue
		}
		if err := u.adjustBatch(ctx, byID[seg.BatchID], seg.Quantity.Neg(), "consume"); err != nil {
			return nil, err
		}
	}
	return segments, nil
}

// unheld returns a copy of batches with the SPECIFIC reservation holds
// taken out of Remaining. Other strategies hold at the level only.
func (u *unitOfWork) unheld(ctx context.Context, p Product, key shared.AggregateKey, batches []StockBatch, own *Reservation) ([]StockBatch, error) {
	if p.Strategy != StrategySpecific {
		return batches, nil
	}
	holds, err := u.tx.BatchHolds(ctx, key)
	if err != nil {
		return nil, err
	}
	if own != nil && own.BatchID != "" {
		holds[own.BatchID] = holds[own.BatchID].Sub(own.Quantity)
	}
	out := make([]StockBatch, len(batches))
	for i, b := range batches {
		if h, ok := holds[b.ID]; ok && h.IsPositive() {
			b.Remaining = decimal.Max(b.Remaining.Sub(h), decimal.Zero)
		}
		out[i] = b
	}
	return out, nil
}

func (u *unitOfWork) adjustBatch(ctx context.Context, b StockBatch, delta decimal.Decimal, action string) error {
	next := b
	next.Remaining = b.Remaining.Add(delta)
	if next.Remaining.IsNegative() || next.Remaining.GreaterThan(b.Quantity) {
		return fmt.Errorf("inventory: batch %s remaining %s out of range: %w", b.ID, next.Remaining, shared.ErrInsufficientStock)
	}
	if err := u.tx.UpdateBatchRemaining(ctx, b.ID, next.Remaining); err != nil {
		return err
	}
	return u.record(ctx, audit.Change{
		TenantID:    b.TenantID,
		EntityType:  audit.EntityBatch,
		EntityID:    b.ID,
		Action:      action,
		Previous:    map[string]decimal.Decimal{"remaining_quantity": b.Remaining},
		Next:        map[string]decimal.Decimal{"remaining_quantity": next.Remaining},
		PerformedBy: u.actor,
	})
}

func (u *unitOfWork) appendMovements(ctx context.Context, ms ...StockMovement) ([]StockMovement, error) {
	for i := range ms {
		ms[i].ID = u.svc.newID()
		ms[i].CreatedAt = u.now
		if ms[i].PerformedBy == "" {
			ms[i].PerformedBy = u.actor
		}
	}
	if err := u.tx.InsertMovements(ctx, ms); err != nil {
		return nil, err
	}
	u.movements = append(u.movements, ms...)
	return ms, nil
}

// writeLevel validates and saves after, audits the change and derives the
// level events.
func (u *unitOfWork) writeLevel(ctx context.Context, p Product, before, after StockLevel, action, reason string) (StockLevel, error) {
	if err := checkLevel(p, after); err != nil {
		return StockLevel{}, err
	}
	after.UpdatedAt = u.now
	if err := u.tx.SaveStockLevel(ctx, after); err != nil {
		return StockLevel{}, err
	}
	if err := u.record(ctx, audit.Change{
		TenantID:    after.TenantID,
		EntityType:  audit.EntityStockLevel,
		EntityID:    after.Key().String(),
		Action:      action,
		Previous:    before,
		Next:        after,
		PerformedBy: u.actor,
		Reason:      reason,
	}); err != nil {
		return StockLevel{}, err
	}
	th := events.Thresholds{ReorderPoint: p.ReorderPoint, ReorderQuantity: p.ReorderQuantity}
	u.events = append(u.events, events.StockTransition(eventLevel(before), eventLevel(after), th, u.now)...)
	return after, nil
}

func (u *unitOfWork) emit(e events.Event) {
	e.CreatedAt = u.now
	u.events = append(u.events, e)
}

func checkLevel(p Product, l StockLevel) error {
	if l.Reserved.IsNegative() || l.InTransit.IsNegative() {
		return fmt.Errorf("inventory: level %s reserved or in-transit below zero: %w", l.Key(), shared.ErrInvalidStateTransition)
	}
	if p.AllowNegativeStock {
		return nil
	}
	if l.OnHand.IsNegative() || l.Reserved.GreaterThan(l.OnHand) {
		return fmt.Errorf("inventory: level %s would drop below reserved stock: %w", l.Key(), shared.ErrInsufficientStock)
	}
	return nil
}

func eventLevel(l StockLevel) events.Level {
	return events.Level{
		TenantID:   l.TenantID,
		ProductID:  l.ProductID,
		LocationID: l.LocationID,
		OnHand:     l.OnHand,
		Reserved:   l.Reserved,
		InTransit:  l.InTransit,
	}
}

// segmentMovements expands template into one movement per cost segment.
func segmentMovements(segments []CostSegment, template StockMovement) []StockMovement {
	out := make([]StockMovement, 0, len(segments))
	for _, seg := range segments {
		m := template
		cost := seg.CostPerUnit
		m.Quantity = seg.Quantity
		m.CostPerUnit = &cost
		m.BatchID = seg.BatchID
		out = append(out, m)
	}
	return out
}

func adjustmentType(requested MovementType, delta decimal.Decimal) (MovementType, error) {
	switch {
	case requested == "" && delta.IsPositive():
		return MovementAdjustmentIncrease, nil
	case requested == "":
		return MovementAdjustmentDecrease, nil
	case requested == MovementAdjustmentIncrease || requested == MovementReturn:
		if delta.IsPositive() {
			return requested, nil
		}
	case requested == MovementAdjustmentDecrease || requested == MovementWriteOff:
		if delta.IsNegative() {
			return requested, nil
		}
	default:
		return "", fmt.Errorf("inventory: %q is not an adjustment type: %w", requested, shared.ErrInvalidInput)
	}
	return "", fmt.Errorf("inventory: %s does not match the sign of delta: %w", requested, shared.ErrInvalidInput)
}

func requireIdentity(tenantID, performedBy string) error {
	if tenantID == "" {
		return errTenantRequired
	}
	if strings.TrimSpace(performedBy) == "" {
		return fmt.Errorf("inventory: performed by required: %w", shared.ErrInvalidInput)
	}
	return nil
}

func insufficientAvailable(requested, available decimal.Decimal) error {
	return fmt.Errorf("inventory: requested %s, %s available: %w", requested, available, shared.ErrInsufficientStock)
}

var (
	errTenantRequired          = fmt.Errorf("inventory: tenant required: %w", shared.ErrInvalidInput)
	errProductLocationRequired = fmt.Errorf("inventory: tenant, product and location required: %w", shared.ErrInvalidInput)
)
