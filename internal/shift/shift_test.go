package shift

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/store/memory"
)

func newManager(t *testing.T) (*Manager, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	return NewManager(repo, zaptest.NewLogger(t)), repo
}

func TestOpenTwiceFails(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	opened, err := m.Open(ctx, memory.DefaultOutletID, "cashier", decimal.NewFromInt(200000))
	require.NoError(t, err)
	assert.True(t, opened.CashSalesTotal.IsZero())
	assert.Equal(t, domain.ShiftStatusOpen, opened.Status)

	_, err = m.Open(ctx, memory.DefaultOutletID, "cashier", decimal.NewFromInt(100000))
	assert.ErrorIs(t, err, domain.ErrShiftAlreadyOpen)
}

func TestCloseReconcilesDrawer(t *testing.T) {
	ctx := context.Background()
	m, repo := newManager(t)

	opened, err := m.Open(ctx, memory.DefaultOutletID, "cashier", decimal.NewFromInt(200000))
	require.NoError(t, err)

	_, err = repo.CommitTransaction(ctx, domain.Transaction{
		InvoiceNumber: "INV-20250101-080000-0001",
		OutletID:      memory.DefaultOutletID,
		ShiftID:       opened.ID,
		Items:         []domain.LineItem{{ProductID: "SKU-MIE-01", Quantity: 10, UnitPrice: decimal.NewFromInt(3500)}},
		Total:         decimal.NewFromInt(35000),
		Payments: []domain.PaymentAllocation{
			{MethodID: "cash", Kind: domain.PaymentCash, Amount: decimal.NewFromInt(35000)},
		},
	})
	require.NoError(t, err)

	closed, err := m.Close(ctx, memory.DefaultOutletID, "cashier", decimal.NewFromInt(230000), " short by 5k ")
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, closed.Status)
	assert.True(t, closed.ExpectedCash.Equal(decimal.NewFromInt(235000)))
	assert.True(t, closed.Difference.Equal(decimal.NewFromInt(-5000)))
	assert.Equal(t, "short by 5k", closed.Notes)
	require.NotNil(t, closed.ClosedAt)

	_, err = m.Active(ctx, memory.DefaultOutletID, "cashier")
	assert.ErrorIs(t, err, domain.ErrShiftNotOpen)
}

func TestCloseWithoutShift(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.Close(context.Background(), memory.DefaultOutletID, "cashier", decimal.Zero, "")
	assert.ErrorIs(t, err, domain.ErrShiftNotOpen)
}

func TestOpenRejectsNegativeFloat(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.Open(context.Background(), memory.DefaultOutletID, "cashier", decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrNegativeCash)
}
