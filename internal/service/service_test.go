package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kasirinaja/pos/internal/cache"
	"kasirinaja/pos/internal/checkout"
	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/store"
	"kasirinaja/pos/internal/store/memory"
)

type countingCache struct {
	mu          sync.Mutex
	entries     map[string][]domain.Product
	invalidated int
}

func (c *countingCache) GetProducts(_ context.Context, outletID string) ([]domain.Product, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	products, ok := c.entries[outletID]
	return products, ok, nil
}

func (c *countingCache) SetProducts(_ context.Context, outletID string, products []domain.Product, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[outletID] = products
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, outletID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, outletID)
	c.invalidated++
	return nil
}

type approveAll struct{ calls int }

func (a *approveAll) Authorize(context.Context, string) (bool, error) {
	a.calls++
	return true, nil
}

type fixture struct {
	svc   *Service
	repo  *memory.Store
	cache *countingCache
	ctx   context.Context
}

func newFixture(t *testing.T, authz *approveAll) *fixture {
	t.Helper()
	repo := memory.NewSeeded()
	logger := zaptest.NewLogger(t)
	pc := &countingCache{entries: map[string][]domain.Product{}}
	deps := Deps{
		Repo:    repo,
		Catalog: cache.NewCatalog(repo, pc, time.Minute, logger),
		Logger:  logger,
	}
	if authz != nil {
		deps.Authorizer = authz
	}
	svc := New(Options{PollInterval: 5 * time.Millisecond}, deps)
	t.Cleanup(svc.Close)
	return &fixture{
		svc:   svc,
		repo:  repo,
		cache: pc,
		ctx:   domain.WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier}),
	}
}

func (fx *fixture) actions(t *testing.T) []string {
	t.Helper()
	logs, err := fx.svc.ListAuditLogs(fx.ctx, "", 0)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	return actions
}

func TestTerminalRegistryReusesFinalizer(t *testing.T) {
	fx := newFixture(t, nil)

	a, err := fx.svc.Terminal("", "T1")
	require.NoError(t, err)
	b, err := fx.svc.Terminal(memory.DefaultOutletID, " T1 ")
	require.NoError(t, err)
	c, err := fx.svc.Terminal("", "T2")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	_, err = fx.svc.Terminal("", "  ")
	assert.Error(t, err)
}

func TestTerminalRegistryIsBounded(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(Options{MaxTerminals: 2}, Deps{Repo: repo, Logger: zaptest.NewLogger(t)})
	t.Cleanup(svc.Close)
	ctx := domain.WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})

	_, err := svc.Terminal("", "../T1")
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.AddItem(ctx, "", "T1", "SKU-MIE-01", "")
	require.NoError(t, err)
	_, err = svc.Terminal("", "T2")
	require.NoError(t, err)

	// T2 is idle and makes room; T1 keeps its cart.
	_, err = svc.AddItem(ctx, "", "T3", "SKU-MIE-01", "")
	require.NoError(t, err)
	_, err = svc.Terminal("", "T2")
	require.ErrorIs(t, err, ErrTerminalLimit)

	snap, err := svc.Snapshot("", "T1")
	require.NoError(t, err)
	assert.Len(t, snap.Items, 1)
}

func TestTerminalAllowList(t *testing.T) {
	svc := New(Options{Terminals: []string{"KASIR-1"}}, Deps{Repo: memory.NewSeeded(), Logger: zaptest.NewLogger(t)})
	t.Cleanup(svc.Close)

	_, err := svc.Terminal("", "KASIR-1")
	require.NoError(t, err)
	_, err = svc.Terminal("", "KASIR-9")
	require.ErrorIs(t, err, ErrUnknownTerminal)
}

func TestCashCheckoutInvalidatesCatalogAndAudits(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.svc.OpenShift(fx.ctx, "", decimal.NewFromInt(100000))
	require.NoError(t, err)

	products, err := fx.svc.ListProducts(fx.ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, products)
	require.Contains(t, fx.cache.entries, memory.DefaultOutletID)

	_, err = fx.svc.AddItem(fx.ctx, "", "T1", "SKU-MIE-01", "")
	require.NoError(t, err)

	tendered := decimal.NewFromInt(5000)
	view, err := fx.svc.Checkout(fx.ctx, "", "T1", &tendered)
	require.NoError(t, err)
	assert.Equal(t, checkout.AttemptCompleted, view.Status)

	assert.Equal(t, 1, fx.cache.invalidated)
	assert.NotContains(t, fx.cache.entries, memory.DefaultOutletID)

	products, err = fx.svc.ListProducts(fx.ctx, "")
	require.NoError(t, err)
	for _, p := range products {
		if p.ID == "SKU-MIE-01" {
			assert.Equal(t, 119, p.Stock)
		}
	}
	assert.Contains(t, fx.actions(t), "checkout.completed")
	assert.Contains(t, fx.actions(t), "shift.open")
}

func TestShiftLifecycleIsKeyedByActor(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.svc.OpenShift(context.Background(), "", decimal.NewFromInt(1000))
	require.ErrorIs(t, err, ErrUnauthenticated)

	opened, err := fx.svc.OpenShift(fx.ctx, "", decimal.NewFromInt(100000))
	require.NoError(t, err)
	assert.Equal(t, "cashier", opened.EmployeeID)

	other := domain.WithActor(context.Background(), domain.Actor{Username: "supervisor", Role: domain.RoleSupervisor})
	_, err = fx.svc.ActiveShift(other, "")
	require.ErrorIs(t, err, domain.ErrShiftNotOpen)

	active, err := fx.svc.ActiveShift(fx.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, opened.ID, active.ID)

	closed, err := fx.svc.CloseShift(fx.ctx, "", decimal.NewFromInt(99000), "short")
	require.NoError(t, err)
	assert.True(t, closed.Difference.Equal(decimal.NewFromInt(-1000)))
	assert.Contains(t, fx.actions(t), "shift.close")
}

func TestRemoveItemNeedsSupervisorForCashier(t *testing.T) {
	fx := newFixture(t, nil)
	key := domain.LineKey{ProductID: "SKU-MIE-01"}

	_, err := fx.svc.AddItem(fx.ctx, "", "T1", "SKU-MIE-01", "")
	require.NoError(t, err)

	_, err = fx.svc.RemoveItem(fx.ctx, "", "T1", key)
	require.ErrorIs(t, err, domain.ErrSupervisorRequired)

	admin := domain.WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
	snap, err := fx.svc.RemoveItem(admin, "", "T1", key)
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
	assert.Contains(t, fx.actions(t), "cart.line_removed")
}

func TestClearCartWithApprovedPIN(t *testing.T) {
	authz := &approveAll{}
	fx := newFixture(t, authz)

	_, err := fx.svc.AddItem(fx.ctx, "", "T1", "SKU-KOPI-01", "")
	require.NoError(t, err)

	snap, err := fx.svc.ClearCart(domain.WithSupervisorPIN(fx.ctx, "482913"), "", "T1")
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
	assert.Equal(t, 1, authz.calls)
	assert.Contains(t, fx.actions(t), "cart.cleared")
}

func TestHoldResumeAndDeleteAreAudited(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.svc.AddItem(fx.ctx, "", "T1", "SKU-ROTI-01", "")
	require.NoError(t, err)
	order, err := fx.svc.HoldCart(fx.ctx, "", "T1", " table 4 ")
	require.NoError(t, err)
	assert.Equal(t, "table 4", order.Notes)

	snap, err := fx.svc.Snapshot("", "T1")
	require.NoError(t, err)
	assert.Empty(t, snap.Items)

	orders, err := fx.svc.ListHeld(fx.ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	resumed, err := fx.svc.ResumeHeld(fx.ctx, "", "T2", order.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.HeldStatusResumed, resumed.Status)

	snap, err = fx.svc.Snapshot("", "T2")
	require.NoError(t, err)
	assert.Len(t, snap.Items, 1)
	assert.Equal(t, order.ID, snap.ResumedFrom)

	err = fx.svc.DeleteHeld(fx.ctx, order.ID)
	assert.Error(t, err)

	_, err = fx.svc.AddItem(fx.ctx, "", "T3", "SKU-AIR-01", "")
	require.NoError(t, err)
	second, err := fx.svc.HoldCart(fx.ctx, "", "T3", "")
	require.NoError(t, err)
	require.NoError(t, fx.svc.DeleteHeld(fx.ctx, second.ID))

	actions := fx.actions(t)
	assert.Contains(t, actions, "held.hold")
	assert.Contains(t, actions, "held.resume")
	assert.Contains(t, actions, "held.delete")
}

func TestCancelWithoutAttempt(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.svc.CancelCheckout(fx.ctx, "", "T1")
	assert.ErrorIs(t, err, domain.ErrNoPendingCheckout)
}
