package held

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kasirinaja/pos/internal/cart"
	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/store/memory"
)

type fixture struct {
	repo   *memory.Store
	held   *Store
	cart   *cart.Cart
	outlet string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := memory.NewSeeded()
	return fixture{
		repo:   repo,
		held:   NewStore(repo, zaptest.NewLogger(t)),
		cart:   cart.New(nil),
		outlet: memory.DefaultOutletID,
	}
}

func (f fixture) add(t *testing.T, productID, variantID string, times int) {
	t.Helper()
	p, err := f.repo.GetProduct(context.Background(), f.outlet, productID)
	require.NoError(t, err)
	for n := 0; n < times; n++ {
		_, err := f.cart.AddItem(*p, variantID)
		require.NoError(t, err)
	}
}

func (f fixture) hold(t *testing.T) *domain.HeldOrder {
	t.Helper()
	order, err := f.held.Hold(context.Background(), f.cart, HoldRequest{OutletID: f.outlet, TerminalID: "T1", EmployeeID: "cashier", Total: decimal.NewFromInt(7000)})
	require.NoError(t, err)
	return order
}

func TestHoldEmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.held.Hold(context.Background(), f.cart, HoldRequest{OutletID: f.outlet})
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestHoldAndResumeRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, "SKU-MIE-01", "", 2)
	f.cart.SetCustomer("CUST-GOLD-01")

	order := f.hold(t)
	assert.True(t, f.cart.IsEmpty())
	assert.Equal(t, domain.HeldStatusHeld, order.Status)

	listed, err := f.held.List(ctx, f.outlet, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	resumed, err := f.held.Resume(ctx, order.ID, f.cart, false)
	require.NoError(t, err)
	assert.Equal(t, domain.HeldStatusResumed, resumed.Status)
	assert.Equal(t, 1, f.cart.Len())
	assert.Equal(t, 2, f.cart.Items()[0].Quantity)
	assert.Equal(t, "CUST-GOLD-01", f.cart.CustomerID())

	listed, err = f.held.List(ctx, f.outlet, 0)
	require.NoError(t, err)
	assert.Empty(t, listed)

	require.NoError(t, f.held.Complete(ctx, order.ID))
	got, err := f.repo.GetHeldOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HeldStatusCompleted, got.Status)
}

func TestResumeIntoBusyCart(t *testing.T) {
	cashier := domain.WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})
	supervisor := domain.WithActor(context.Background(), domain.Actor{Username: "supervisor", Role: domain.RoleSupervisor})
	f := newFixture(t)
	f.add(t, "SKU-MIE-01", "", 1)
	order := f.hold(t)

	f.add(t, "SKU-KOPI-01", "", 1)
	_, err := f.held.Resume(cashier, order.ID, f.cart, false)
	require.ErrorIs(t, err, domain.ErrCartNotEmpty)

	_, err = f.held.Resume(cashier, order.ID, f.cart, true)
	require.ErrorIs(t, err, domain.ErrSupervisorRequired)
	assert.Equal(t, "SKU-KOPI-01", f.cart.Items()[0].ProductID)
	got, err := f.repo.GetHeldOrder(cashier, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HeldStatusHeld, got.Status)

	_, err = f.held.Resume(supervisor, order.ID, f.cart, true)
	require.NoError(t, err)
	assert.Equal(t, "SKU-MIE-01", f.cart.Items()[0].ProductID)
}

func TestResumeFailsWhenStockDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, "SKU-KAOS-01", "XL", 3)
	order := f.hold(t)

	require.NoError(t, f.repo.SetStock(ctx, f.outlet, "SKU-KAOS-01", "XL", 2))

	_, err := f.held.Resume(ctx, order.ID, f.cart, false)
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 2, stockErr.Ceiling)
	assert.True(t, f.cart.IsEmpty())

	got, err := f.repo.GetHeldOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HeldStatusHeld, got.Status)
}

func TestResumeTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, "SKU-MIE-01", "", 1)
	order := f.hold(t)

	_, err := f.held.Resume(ctx, order.ID, f.cart, false)
	require.NoError(t, err)

	_, err = f.held.Resume(ctx, order.ID, cart.New(nil), false)
	assert.ErrorIs(t, err, ErrNotHeld)
}

func TestDeleteIsFinal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, "SKU-MIE-01", "", 1)
	order := f.hold(t)

	require.NoError(t, f.held.Delete(ctx, order.ID))
	assert.ErrorIs(t, f.held.Delete(ctx, order.ID), ErrNotHeld)

	_, err := f.held.Resume(ctx, order.ID, f.cart, false)
	assert.ErrorIs(t, err, ErrNotHeld)
}

func TestExpire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, "SKU-MIE-01", "", 1)
	f.hold(t)

	n, err := f.held.Expire(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.held.Expire(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
