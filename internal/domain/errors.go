/*
errors.go - Error taxonomy of the transaction engine

Validation errors (VariantRequired, MissingSubSelection, AllocationImbalance)
are corrected in place by the operator. GatewayUnavailable is retried with a
new checkout attempt. StockConflict and CheckoutFailed always carry the
invoice number of the attempt that raised them.

Match with errors.Is against the sentinels; use errors.As on the structured
types when the caller needs the details.
*/
package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrVariantRequired     = errors.New("variant selection required")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrAllocationImbalance = errors.New("payment allocations do not match total")
	ErrMissingSubSelection = errors.New("payment sub-selection required")
	ErrShiftNotOpen        = errors.New("no open shift")
	ErrShiftAlreadyOpen    = errors.New("shift already open")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrStockConflict       = errors.New("stock changed before commit")
	ErrCheckoutFailed      = errors.New("checkout failed after settlement")

	ErrSupervisorRequired = errors.New("supervisor authorization required")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrCartNotEmpty       = errors.New("active cart is not empty")
	ErrCheckoutPending    = errors.New("checkout in progress")
	ErrNoPendingCheckout  = errors.New("no checkout awaiting settlement")
	ErrPaymentCancelled   = errors.New("payment cancelled")
	ErrPaymentFailed      = errors.New("payment failed")
)

// InsufficientStockError reports a quantity request above the line ceiling.
type InsufficientStockError struct {
	Key       LineKey
	Requested int
	Ceiling   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Key, e.Requested, e.Ceiling)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type AllocationImbalanceError struct {
	Remaining decimal.Decimal
}

func (e *AllocationImbalanceError) Error() string {
	return fmt.Sprintf("payment allocations do not match total: remaining %s", e.Remaining.String())
}

func (e *AllocationImbalanceError) Unwrap() error {
	return ErrAllocationImbalance
}

type MissingSubSelectionError struct {
	Index int
	Kind  PaymentKind
}

func (e *MissingSubSelectionError) Error() string {
	return fmt.Sprintf("payment %d (%s) needs a bank, account or QRIS selection", e.Index, e.Kind)
}

func (e *MissingSubSelectionError) Unwrap() error {
	return ErrMissingSubSelection
}

// CheckoutError ties a commit-stage failure to the invoice of the attempt so
// the operator can retry recording without charging the customer again.
type CheckoutError struct {
	Invoice string
	Err     error
	Cause   error
}

func (e *CheckoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v (invoice %s): %v", e.Err, e.Invoice, e.Cause)
	}
	return fmt.Sprintf("%v (invoice %s)", e.Err, e.Invoice)
}

func (e *CheckoutError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// IsRetryable reports whether re-invoking the failed operation can succeed
// without operator correction.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, ErrCheckoutFailed)
}

// InvoiceOf returns the invoice carried by a checkout error, if any.
func InvoiceOf(err error) string {
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce.Invoice
	}
	return ""
}
