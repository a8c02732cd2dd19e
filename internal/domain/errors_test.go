package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredErrorsMatchSentinels(t *testing.T) {
	stock := fmt.Errorf("add item: %w", &InsufficientStockError{Key: LineKey{ProductID: "p1"}, Requested: 3, Ceiling: 2})
	require.ErrorIs(t, stock, ErrInsufficientStock)

	var se *InsufficientStockError
	require.ErrorAs(t, stock, &se)
	assert.Equal(t, 2, se.Ceiling)

	imbalance := &AllocationImbalanceError{Remaining: decimal.NewFromInt(500)}
	require.ErrorIs(t, imbalance, ErrAllocationImbalance)
	assert.Contains(t, imbalance.Error(), "remaining 500")

	missing := &MissingSubSelectionError{Index: 1, Kind: PaymentTransfer}
	require.ErrorIs(t, missing, ErrMissingSubSelection)
}

func TestCheckoutErrorCarriesInvoiceAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("commit: %w", &CheckoutError{Invoice: "INV-20260101-101500-0042", Err: ErrCheckoutFailed, Cause: cause})

	require.ErrorIs(t, err, ErrCheckoutFailed)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, "INV-20260101-101500-0042", InvoiceOf(err))
	assert.True(t, IsRetryable(err))

	conflict := &CheckoutError{Invoice: "INV-20260101-101500-0043", Err: ErrStockConflict}
	require.ErrorIs(t, conflict, ErrStockConflict)
	assert.False(t, IsRetryable(conflict))
	assert.Empty(t, InvoiceOf(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("charge: %w", ErrGatewayUnavailable)))
	assert.False(t, IsRetryable(ErrShiftNotOpen))
	assert.False(t, IsRetryable(nil))
}
