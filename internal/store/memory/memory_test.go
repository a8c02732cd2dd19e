package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/store"
)

func sale(invoice string, qty int, payments ...domain.PaymentAllocation) domain.Transaction {
	return domain.Transaction{
		InvoiceNumber: invoice,
		OutletID:      DefaultOutletID,
		TerminalID:    "T1",
		Items: []domain.LineItem{
			{ProductID: "SKU-MIE-01", Name: "Mie Goreng Instan", UnitPrice: decimal.NewFromInt(3500), Quantity: qty, StockCeiling: 120},
		},
		Total:    decimal.NewFromInt(3500 * int64(qty)),
		Payments: payments,
	}
}

func TestCommitTransactionDecrementsStockAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	first, err := s.CommitTransaction(ctx, sale("INV-1", 3))
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, first.Status)

	again, err := s.CommitTransaction(ctx, sale("INV-1", 3))
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)

	p, err := s.GetProduct(ctx, DefaultOutletID, "SKU-MIE-01")
	require.NoError(t, err)
	assert.Equal(t, 117, p.Stock)
}

func TestCommitTransactionRejectsOtherSaleUnderTakenInvoice(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	_, err := s.CommitTransaction(ctx, sale("INV-20261015-101010-0042", 1))
	require.NoError(t, err)

	other := sale("INV-20261015-101010-0042", 5)
	other.TerminalID = "T2"
	_, err = s.CommitTransaction(ctx, other)
	require.ErrorIs(t, err, store.ErrConflict)

	stored, err := s.FindTransaction(ctx, "INV-20261015-101010-0042")
	require.NoError(t, err)
	assert.Equal(t, "T1", stored.TerminalID)
	assert.Equal(t, 1, stored.Items[0].Quantity)

	p, err := s.GetProduct(ctx, DefaultOutletID, "SKU-MIE-01")
	require.NoError(t, err)
	assert.Equal(t, 119, p.Stock)
}

func TestCommitTransactionRejectsWholeSaleOnShortStock(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	require.NoError(t, s.SetStock(ctx, DefaultOutletID, "SKU-MIE-01", "", 2))

	tx := sale("INV-2", 1)
	tx.Items = append(tx.Items, domain.LineItem{ProductID: "SKU-MIE-01", Quantity: 2})
	_, err := s.CommitTransaction(ctx, tx)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	p, err := s.GetProduct(ctx, DefaultOutletID, "SKU-MIE-01")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stock)

	_, err = s.FindTransaction(ctx, "INV-2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentCommitsOnLastUnit(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	require.NoError(t, s.SetStock(ctx, DefaultOutletID, "SKU-MIE-01", "", 1))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, inv := range []string{"INV-A", "INV-B"} {
		i, inv := i, inv
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.CommitTransaction(ctx, sale(inv, 1))
		}()
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.True(t, errors.Is(err, store.ErrInsufficientStock))
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	p, err := s.GetProduct(ctx, DefaultOutletID, "SKU-MIE-01")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
}

func TestCommitAccruesCashToShift(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	shift, err := s.CreateShift(ctx, domain.Shift{OutletID: DefaultOutletID, EmployeeID: "cashier", StartingCash: decimal.NewFromInt(100000)})
	require.NoError(t, err)

	tx := sale("INV-3", 10,
		domain.PaymentAllocation{MethodID: "cash", Kind: domain.PaymentCash, Amount: decimal.NewFromInt(20000)},
		domain.PaymentAllocation{MethodID: "card", Kind: domain.PaymentCard, Amount: decimal.NewFromInt(15000)},
	)
	tx.ShiftID = shift.ID
	_, err = s.CommitTransaction(ctx, tx)
	require.NoError(t, err)

	closed, err := s.CloseActiveShift(ctx, DefaultOutletID, "cashier", decimal.NewFromInt(119000), "", time.Now())
	require.NoError(t, err)
	assert.True(t, closed.ExpectedCash.Equal(decimal.NewFromInt(120000)))
	assert.True(t, closed.Difference.Equal(decimal.NewFromInt(-1000)))
	assert.Equal(t, 1, closed.SaleCount)

	_, err = s.GetActiveShift(ctx, DefaultOutletID, "cashier")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateShiftConflictsPerEmployee(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	_, err := s.CreateShift(ctx, domain.Shift{OutletID: DefaultOutletID, EmployeeID: "cashier"})
	require.NoError(t, err)
	_, err = s.CreateShift(ctx, domain.Shift{OutletID: DefaultOutletID, EmployeeID: "cashier"})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.CreateShift(ctx, domain.Shift{OutletID: DefaultOutletID, EmployeeID: "supervisor"})
	assert.NoError(t, err)
}

func TestTransitionHeldOrderIsConditional(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	order, err := s.CreateHeldOrder(ctx, domain.HeldOrder{
		OutletID: DefaultOutletID,
		Items:    []domain.LineItem{{ProductID: "SKU-MIE-01", Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = s.TransitionHeldOrder(ctx, order.ID, domain.HeldStatusHeld, domain.HeldStatusResumed, time.Now())
	require.NoError(t, err)

	_, err = s.TransitionHeldOrder(ctx, order.ID, domain.HeldStatusHeld, domain.HeldStatusDeleted, time.Now())
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestExpireHeldOrders(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	old := time.Now().Add(-48 * time.Hour)

	stale, err := s.CreateHeldOrder(ctx, domain.HeldOrder{OutletID: DefaultOutletID, CreatedAt: old, Items: []domain.LineItem{{ProductID: "SKU-MIE-01", Quantity: 1}}})
	require.NoError(t, err)
	fresh, err := s.CreateHeldOrder(ctx, domain.HeldOrder{OutletID: DefaultOutletID, Items: []domain.LineItem{{ProductID: "SKU-MIE-01", Quantity: 1}}})
	require.NoError(t, err)

	n, err := s.ExpireHeldOrders(ctx, time.Now().Add(-24*time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetHeldOrder(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HeldStatusDeleted, got.Status)

	got, err = s.GetHeldOrder(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HeldStatusHeld, got.Status)
}

func TestVariantStockIsTrackedPerVariant(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	require.NoError(t, s.SetStock(ctx, DefaultOutletID, "SKU-KAOS-01", "XL", 1))

	p, err := s.GetProduct(ctx, DefaultOutletID, "SKU-KAOS-01")
	require.NoError(t, err)
	xl, ok := p.Variant("XL")
	require.True(t, ok)
	assert.Equal(t, 1, xl.Stock)
	assert.Equal(t, 41, p.Stock)
}

func TestDefaultCredentialsInUse(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	t.Setenv("SEED_CASHIER_PASSWORD", "kasir-rahasia-1")
	assert.True(t, DefaultCredentialsInUse())

	t.Setenv("SEED_ADMIN_PASSWORD", "admin-rahasia-1")
	assert.False(t, DefaultCredentialsInUse())

	users, err := NewSeeded().ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)
	for _, u := range users {
		if u.Username == "cashier" {
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("kasir-rahasia-1")))
		}
	}
}
