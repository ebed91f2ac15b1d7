package inventory_test

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/events"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

func (f *fixture) transfer(productID, from, to, qty string) inventory.TransferResult {
	f.t.Helper()
	res, err := f.svc.CreateTransfer(f.ctx, inventory.TransferInput{
		TenantID:       tenantA,
		ProductID:      productID,
		FromLocationID: from,
		ToLocationID:   to,
		Quantity:       dec(qty),
		PerformedBy:    actor,
	})
	require.NoError(f.t, err)
	return res
}

func TestTransferConservesQuantity(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(inventory.ProductInput{})
	f.receive(p.ID, f.warehouse, "60", "4", jan(1))
	f.receive(p.ID, f.warehouse, "40", "5", jan(2))
	f.publisher.reset()

	started := f.transfer(p.ID, f.warehouse, f.store2, "25")
	require.Equal(t, inventory.TransferInTransit, started.Transfer.Status)
	requireLevel(t, started.Source, "75", "0", "0")
	requireLevel(t, started.Destination, "0", "0", "25")
	require.Len(t, started.Movements, 1)
	require.Equal(t, inventory.MovementTransferOut, started.Movements[0].Type)
	require.Equal(t, started.Transfer.ID, started.Movements[0].ReferenceID)
	require.Contains(t, f.publisher.types(), events.TypeTransferInitiated)

	done, err := f.svc.CompleteTransfer(f.ctx, tenantA, started.Transfer.ID, actor)
	require.NoError(t, err)
	require.Equal(t, inventory.TransferCompleted, done.Transfer.Status)
	require.NotNil(t, done.Transfer.CompletedAt)
	requireLevel(t, f.level(p.ID, f.warehouse), "75", "0", "0")
	requireLevel(t, f.level(p.ID, f.store2), "25", "0", "0")
	require.Contains(t, f.publisher.types(), events.TypeTransferCompleted)

	dest, err := f.svc.ListBatches(f.ctx, tenantA, p.ID, f.store2)
	require.NoError(t, err)
	require.Len(t, dest, 1)
	requireDecimal(t, "25", dest[0].Remaining)
	requireDecimal(t, "4", dest[0].CostPerUnit)

	in, err := f.svc.GetMovements(f.ctx, inventory.MovementFilter{TenantID: tenantA, LocationID: f.store2, Types: []inventory.MovementType{inventory.MovementTransferIn}})
	require.NoError(t, err)
	require.Len(t, in, 1)
	require.Equal(t, dest[0].ID, in[0].BatchID)
}

func TestTransferCarriesSegmentCosts(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(inventory.ProductInput{})
	f.receive(p.ID, f.warehouse, "10", "100", jan(1))
	f.receive(p.ID, f.warehouse, "10", "110", jan(15))

	started := f.transfer(p.ID, f.warehouse, f.store2, "15")
	require.Len(t, started.Transfer.Segments, 2)
	_, err := f.svc.CompleteTransfer(f.ctx, tenantA, started.Transfer.ID, actor)
	require.NoError(t, err)

	sold, err := f.svc.SellStock(f.ctx, inventory.SellInput{TenantID: tenantA, ProductID: p.ID, LocationID: f.store2, Quantity: dec("15"), PerformedBy: actor})
	require.NoError(t, err)
	requireDecimal(t, "1550", sold.TotalCost)
}

func TestTransferStateMachine(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(inventory.ProductInput{})
	f.receive(p.ID, f.warehouse, "10", "1", jan(1))

	tr := f.transfer(p.ID, f.warehouse, f.store2, "4").Transfer
	_, err := f.svc.DispatchTransfer(f.ctx, tenantA, tr.ID, actor)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition, "already in transit")

	_, err = f.svc.CompleteTransfer(f.ctx, tenantA, tr.ID, actor)
	require.NoError(t, err)
	_, err = f.svc.CompleteTransfer(f.ctx, tenantA, tr.ID, actor)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	_, err = f.svc.CancelTransfer(f.ctx, tenantA, tr.ID, actor)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	_, err = f.svc.CompleteTransfer(f.ctx, tenantB, tr.ID, actor)
	require.ErrorIs(t, err, shared.ErrTenantMismatch)
	_, err = f.svc.CompleteTransfer(f.ctx, tenantA, "missing", actor)
	require.ErrorIs(t, err, shared.ErrNotFound)

	history, err := f.audit.EntityHistory(f.ctx, tenantA, audit.EntityTransfer, tr.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "create", history[0].Action)
	require.Equal(t, string(inventory.TransferCompleted), history[1].Action)
}

func TestCancelInTransitRestoresSource(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(inventory.ProductInput{})
	b := f.receive(p.ID, f.warehouse, "10", "3", jan(1)).Batch

	tr := f.transfer(p.ID, f.warehouse, f.store2, "6").Transfer
	f.publisher.reset()
	res, err := f.svc.CancelTransfer(f.ctx, tenantA, tr.ID, actor)
	require.NoError(t, err)
	require.Equal(t, inventory.TransferCancelled, res.Transfer.Status)
	require.NotNil(t, res.Transfer.CancelledAt)
	requireLevel(t, res.Source, "10", "0", "0")
	requireLevel(t, res.Destination, "0", "0", "0")
	require.Equal(t, inventory.MovementTransferIn, res.Movements[0].Type)
	require.Equal(t, f.warehouse, res.Movements[0].LocationID)
	require.Contains(t, f.publisher.types(), events.TypeTransferCancelled)

	batches, err := f.svc.ListBatches(f.ctx, tenantA, p.ID, f.warehouse)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, b.ID, batches[0].ID)
	requireDecimal(t, "10", batches[0].Remaining)
}

func TestApprovalGateHoldsStockUntilDispatch(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(inventory.ProductInput{})
	f.receive(p.ID, f.warehouse, "10", "1", jan(1))
	f.publisher.reset()

	res, err := f.svc.CreateTransfer(f.ctx, inventory.TransferInput{
		TenantID:        tenantA,
		ProductID:       p.ID,
		FromLocationID:  f.warehouse,
		ToLocationID:    f.store2,
		Quantity:        dec("3"),
		RequireApproval: true,
		PerformedBy:     actor,
	})
	require.NoError(t, err)
	require.Equal(t, inventory.TransferPending, res.Transfer.Status)
	requireLevel(t, f.level(p.ID, f.warehouse), "10", "0", "0")
	require.Empty(t, f.publisher.types())

	_, err = f.svc.CompleteTransfer(f.ctx, tenantA, res.Transfer.ID, actor)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition, "no state may be skipped")

	dispatched, err := f.svc.DispatchTransfer(f.ctx, tenantA, res.Transfer.ID, actor)
	require.NoError(t, err)
	require.Equal(t, inventory.TransferInTransit, dispatched.Transfer.Status)
	requireLevel(t, dispatched.Source, "7", "0", "0")
	requireLevel(t, dispatched.Destination, "0", "0", "3")

	pending, err := f.svc.CreateTransfer(f.ctx, inventory.TransferInput{
		TenantID:        tenantA,
		ProductID:       p.ID,
		FromLocationID:  f.store2,
		ToLocationID:    f.warehouse,
		Quantity:        dec("1"),
		RequireApproval: true,
		PerformedBy:     actor,
	})
	require.NoError(t, err)
	cancelled, err := f.svc.CancelTransfer(f.ctx, tenantA, pending.Transfer.ID, actor)
	require.NoError(t, err)
	require.Equal(t, inventory.TransferCancelled, cancelled.Transfer.Status)
}

func TestTransferRejections(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(inventory.ProductInput{})
	f.receive(p.ID, f.warehouse, "10", "1", jan(1))

	_, err := f.svc.CreateTransfer(f.ctx, inventory.TransferInput{TenantID: tenantA, ProductID: p.ID, FromLocationID: f.warehouse, ToLocationID: f.warehouse, Quantity: dec("1"), PerformedBy: actor})
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = f.svc.CreateTransfer(f.ctx, inventory.TransferInput{TenantID: tenantA, ProductID: p.ID, FromLocationID: f.warehouse, ToLocationID: f.store2, Quantity: dec("11"), PerformedBy: actor})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	requireLevel(t, f.level(p.ID, f.warehouse), "10", "0", "0")

	f.transfer(p.ID, f.warehouse, f.store2, "2")
	_, err = f.svc.CreateTransfer(f.ctx, inventory.TransferInput{TenantID: tenantA, ProductID: p.ID, FromLocationID: f.warehouse, ToLocationID: f.store2, Quantity: dec("1"), PerformedBy: actor})
	require.ErrorIs(t, err, shared.ErrConflict)

	transfers, err := f.svc.ListTransfers(f.ctx, inventory.TransferFilter{TenantID: tenantA, Status: inventory.TransferInTransit})
	require.NoError(t, err)
	require.Len(t, transfers, 1)
}

func TestOppositeTransfersDoNotDeadlock(t *testing.T) {
	f := newFixture(t, nil)
	p := f.product(inventory.ProductInput{})
	f.receive(p.ID, f.warehouse, "500", "1", jan(1))
	f.receive(p.ID, f.store2, "500", "1", jan(1))

	move := func(from, to string) error {
		for {
			res, err := f.svc.CreateTransfer(f.ctx, inventory.TransferInput{
				TenantID:       tenantA,
				ProductID:      p.ID,
				FromLocationID: from,
				ToLocationID:   to,
				Quantity:       dec("1"),
				PerformedBy:    actor,
			})
			if errors.Is(err, shared.ErrConflict) {
				runtime.Gosched()
				continue
			}
			if err != nil {
				return err
			}
			_, err = f.svc.CompleteTransfer(f.ctx, tenantA, res.Transfer.ID, actor)
			return err
		}
	}

	const rounds = 40
	errs := make(chan error, 2*rounds)
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); errs <- move(f.warehouse, f.store2) }()
		go func() { defer wg.Done(); errs <- move(f.store2, f.warehouse) }()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("opposite transfers deadlocked")
	}
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	a, b := f.level(p.ID, f.warehouse), f.level(p.ID, f.store2)
	requireLevel(t, a, "500", "0", "0")
	requireLevel(t, b, "500", "0", "0")
}
