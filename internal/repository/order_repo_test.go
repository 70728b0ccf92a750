package repository

import (
	"context"
	"testing"
	"time"

	"github.com/amifistore/cekot-sub000/internal/model"

	"github.com/stretchr/testify/require"
)

func makeOrder(t *testing.T, orders *OrderRepository, ref, status string) *model.Order {
	t.Helper()
	order := &model.Order{
		ProviderRef:   ref,
		UserID:        "u1",
		ProductCode:   "DATA5GB",
		ProductName:   "Data 5GB",
		Price:         7500,
		CustomerInput: "081234567890",
		Status:        status,
	}
	require.NoError(t, orders.Create(context.Background(), nil, order))
	return order
}

func TestOrderStatusCAS(t *testing.T) {
	db := newTestDB(t)
	orders := NewOrderRepository(db)
	ctx := context.Background()

	makeOrder(t, orders, "TRX1", model.OrderStatusCreated)

	require.NoError(t, orders.UpdateStatus(ctx, nil, "TRX1", model.OrderStatusCreated, model.OrderStatusDebited, nil))

	// The losing writer asserts a stale prior status.
	err := orders.UpdateStatus(ctx, nil, "TRX1", model.OrderStatusCreated, model.OrderStatusDebited, nil)
	require.ErrorIs(t, err, ErrStaleStatus)

	got, err := orders.GetByProviderRef(ctx, "TRX1")
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusDebited, got.Status)
}

func TestOrderStatusDAGEnforced(t *testing.T) {
	db := newTestDB(t)
	orders := NewOrderRepository(db)
	ctx := context.Background()

	makeOrder(t, orders, "TRX1", model.OrderStatusSucceeded)

	// Terminal states never leave.
	err := orders.UpdateStatus(ctx, nil, "TRX1", model.OrderStatusSucceeded, model.OrderStatusFailed, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	err = orders.UpdateStatus(ctx, nil, "TRX1", model.OrderStatusCreated, model.OrderStatusSucceeded, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOrderStatusPatchCommitsWithTransition(t *testing.T) {
	db := newTestDB(t)
	orders := NewOrderRepository(db)
	ctx := context.Background()

	makeOrder(t, orders, "TRX1", model.OrderStatusDispatched)

	patch := map[string]interface{}{"sn": "ABCD1234XYZ", "note": "sukses"}
	require.NoError(t, orders.UpdateStatus(ctx, nil, "TRX1", model.OrderStatusDispatched, model.OrderStatusSucceeded, patch))

	got, err := orders.GetByProviderRef(ctx, "TRX1")
	require.NoError(t, err)
	require.Equal(t, "ABCD1234XYZ", got.SN)
	require.Equal(t, "sukses", got.Note)
}

func TestMarkRefundedExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	orders := NewOrderRepository(db)
	ctx := context.Background()

	makeOrder(t, orders, "TRX1", model.OrderStatusFailed)

	require.NoError(t, orders.MarkRefunded(ctx, nil, "TRX1"))
	require.ErrorIs(t, orders.MarkRefunded(ctx, nil, "TRX1"), ErrRefundAlreadyTaken)
}

func TestGetNonTerminalIncludesDebited(t *testing.T) {
	db := newTestDB(t)
	orders := NewOrderRepository(db)
	ctx := context.Background()

	makeOrder(t, orders, "TRX1", model.OrderStatusDebited)
	makeOrder(t, orders, "TRX2", model.OrderStatusPendingProvider)
	makeOrder(t, orders, "TRX3", model.OrderStatusSucceeded)
	makeOrder(t, orders, "TRX4", model.OrderStatusRejected)

	got, err := orders.GetNonTerminal(ctx, 24*time.Hour, 100)
	require.NoError(t, err)

	refs := make([]string, 0, len(got))
	for _, o := range got {
		refs = append(refs, o.ProviderRef)
	}
	require.ElementsMatch(t, []string{"TRX1", "TRX2"}, refs)
}

func TestWorkingSetKeepsRefundPendingFailed(t *testing.T) {
	db := newTestDB(t)
	orders := NewOrderRepository(db)
	ctx := context.Background()

	makeOrder(t, orders, "TRX1", model.OrderStatusFailed)
	settled := makeOrder(t, orders, "TRX2", model.OrderStatusFailed)
	require.NoError(t, orders.MarkRefunded(ctx, nil, settled.ProviderRef))

	// FAILED without an executed refund decision must stay visible to the
	// reconciler; a settled one must not.
	got, err := orders.GetNonTerminal(ctx, 24*time.Hour, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "TRX1", got[0].ProviderRef)

	// Same rule for the timeout sweep.
	stale := time.Now().Add(-25 * time.Hour)
	require.NoError(t, db.Model(&model.Order{}).
		Where("provider_ref IN ?", []string{"TRX1", "TRX2"}).
		UpdateColumn("updated_at", stale).Error)

	timedOut, err := orders.GetTimedOut(ctx, 24*time.Hour, 100)
	require.NoError(t, err)
	require.Len(t, timedOut, 1)
	require.Equal(t, "TRX1", timedOut[0].ProviderRef)
}

func TestGetTimedOut(t *testing.T) {
	db := newTestDB(t)
	orders := NewOrderRepository(db)
	ctx := context.Background()

	old := makeOrder(t, orders, "TRX1", model.OrderStatusPendingProvider)
	makeOrder(t, orders, "TRX2", model.OrderStatusPendingProvider)

	// Age the first order past the cutoff.
	stale := time.Now().Add(-25 * time.Hour)
	require.NoError(t, db.Model(&model.Order{}).
		Where("id = ?", old.ID).
		UpdateColumn("updated_at", stale).Error)

	got, err := orders.GetTimedOut(ctx, 24*time.Hour, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "TRX1", got[0].ProviderRef)

	fresh, err := orders.GetNonTerminal(ctx, 24*time.Hour, 100)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	require.Equal(t, "TRX2", fresh[0].ProviderRef)
}

func TestUpdateResultKeepsExistingValues(t *testing.T) {
	db := newTestDB(t)
	orders := NewOrderRepository(db)
	ctx := context.Background()

	makeOrder(t, orders, "TRX1", model.OrderStatusProcessing)

	require.NoError(t, orders.UpdateResult(ctx, "TRX1", "SN12345678", "proses"))
	// Empty values must not erase what was recorded.
	require.NoError(t, orders.UpdateResult(ctx, "TRX1", "", ""))

	got, err := orders.GetByProviderRef(ctx, "TRX1")
	require.NoError(t, err)
	require.Equal(t, "SN12345678", got.SN)
	require.Equal(t, "proses", got.Note)
}

func TestProviderRefUnique(t *testing.T) {
	db := newTestDB(t)
	orders := NewOrderRepository(db)
	ctx := context.Background()

	makeOrder(t, orders, "TRX1", model.OrderStatusCreated)

	dup := &model.Order{
		ProviderRef: "TRX1",
		UserID:      "u2",
		ProductCode: "X",
		ProductName: "X",
		Status:      model.OrderStatusCreated,
	}
	require.Error(t, orders.Create(ctx, nil, dup))
}
