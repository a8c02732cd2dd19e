// Package payment tracks how a sale total is split across payment methods.
package payment

import (
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/money"
)

var (
	ErrUnknownMethod          = errors.New("unknown payment method")
	ErrSplitOnly              = errors.New("operation requires split payment mode")
	ErrIndexOutOfRange        = errors.New("payment index out of range")
	ErrNegativeAmount         = errors.New("payment amount must not be negative")
	ErrAmbiguousSubSelection  = errors.New("choose either a gateway bank or a manual account, not both")
	ErrMultipleSettlements    = errors.New("only one transfer or QRIS payment can await settlement per sale")
	ErrInsufficientTender     = errors.New("cash tendered is less than total")
	ErrTenderRequiresCashOnly = errors.New("cash tender applies to single cash payments only")
)

type Method struct {
	ID   string             `json:"id"`
	Kind domain.PaymentKind `json:"kind"`
	Name string             `json:"name"`
}

var Methods = []Method{
	{ID: "cash", Kind: domain.PaymentCash, Name: "Tunai"},
	{ID: "qris", Kind: domain.PaymentQRIS, Name: "QRIS"},
	{ID: "transfer", Kind: domain.PaymentTransfer, Name: "Transfer Bank"},
	{ID: "ewallet", Kind: domain.PaymentEWallet, Name: "E-Wallet"},
	{ID: "card", Kind: domain.PaymentCard, Name: "Kartu Debit/Kredit"},
}

func LookupMethod(id string) (Method, error) {
	for _, m := range Methods {
		if m.ID == id {
			return m, nil
		}
	}
	return Method{}, fmt.Errorf("%w: %q", ErrUnknownMethod, id)
}

// Ledger holds the payment allocations for the current total. In single
// mode it has exactly one allocation pinned to the total; in split mode
// the operator edits amounts and checkout needs an exact zero remainder.
type Ledger struct {
	total       decimal.Decimal
	split       bool
	allocations []domain.PaymentAllocation
}

func NewLedger() *Ledger {
	l := &Ledger{}
	l.Reset(decimal.Zero)
	return l
}

// Reset returns the ledger to single mode on cash for the given total.
func (l *Ledger) Reset(total decimal.Decimal) {
	cash := Methods[0]
	total = money.Round(total)
	l.total = total
	l.split = false
	l.allocations = []domain.PaymentAllocation{{MethodID: cash.ID, Kind: cash.Kind, Amount: total}}
}

// SetTotal records a new sale total, rounded to what the customer can pay.
// Single mode re-pins its allocation; split amounts stay as entered.
func (l *Ledger) SetTotal(total decimal.Decimal) {
	total = money.Round(total)
	l.total = total
	if !l.split {
		l.allocations[0].Amount = total
	}
}

func (l *Ledger) Total() decimal.Decimal {
	return l.total
}

func (l *Ledger) IsSplit() bool {
	return l.split
}

// SetSplit toggles split mode. Leaving split mode keeps the first
// allocation's method and pins it to the total.
func (l *Ledger) SetSplit(on bool) {
	if on == l.split {
		return
	}
	l.split = on
	if !on {
		first := l.allocations[0]
		first.Amount = l.total
		l.allocations = []domain.PaymentAllocation{first}
	}
}

// AddPayment replaces the allocation in single mode. In split mode it
// appends one defaulted to the remaining balance and returns its index.
func (l *Ledger) AddPayment(m Method) int {
	if !l.split {
		l.allocations = []domain.PaymentAllocation{{MethodID: m.ID, Kind: m.Kind, Amount: l.total}}
		return 0
	}
	amount := l.total
	if len(l.allocations) > 0 {
		amount = decimal.Max(l.Remaining(), decimal.Zero)
	}
	l.allocations = append(l.allocations, domain.PaymentAllocation{MethodID: m.ID, Kind: m.Kind, Amount: amount})
	return len(l.allocations) - 1
}

func (l *Ledger) RemovePayment(index int) error {
	if !l.split {
		return ErrSplitOnly
	}
	if index < 0 || index >= len(l.allocations) {
		return ErrIndexOutOfRange
	}
	l.allocations = slices.Delete(l.allocations, index, index+1)
	if len(l.allocations) == 0 {
		l.Reset(l.total)
	}
	return nil
}

func (l *Ledger) SetAmount(index int, amount decimal.Decimal) error {
	if !l.split {
		return ErrSplitOnly
	}
	if index < 0 || index >= len(l.allocations) {
		return ErrIndexOutOfRange
	}
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	l.allocations[index].Amount = money.Round(amount)
	return nil
}

func (l *Ledger) SetSubSelection(index int, gatewayRef, manualAccountRef string) error {
	if index < 0 || index >= len(l.allocations) {
		return ErrIndexOutOfRange
	}
	if gatewayRef != "" && manualAccountRef != "" {
		return ErrAmbiguousSubSelection
	}
	l.allocations[index].GatewayRef = gatewayRef
	l.allocations[index].ManualAccountRef = manualAccountRef
	return nil
}

func (l *Ledger) Allocations() []domain.PaymentAllocation {
	return slices.Clone(l.allocations)
}

func (l *Ledger) Allocated() decimal.Decimal {
	sum := decimal.Zero
	for _, a := range l.allocations {
		sum = sum.Add(a.Amount)
	}
	return sum
}

// Remaining is Total minus the allocated sum. Negative means overpaid.
func (l *Ledger) Remaining() decimal.Decimal {
	return l.total.Sub(l.Allocated())
}

// Validate checks the allocations are ready for checkout.
func (l *Ledger) Validate() error {
	if remaining := l.Remaining(); !remaining.IsZero() {
		return &domain.AllocationImbalanceError{Remaining: remaining}
	}
	settling := 0
	for i, a := range l.allocations {
		if a.Kind.NeedsSubSelection() && !a.HasSubSelection() {
			return &domain.MissingSubSelectionError{Index: i, Kind: a.Kind}
		}
		if a.NeedsSettlement() {
			settling++
		}
	}
	if settling > 1 {
		return ErrMultipleSettlements
	}
	return nil
}

// Settlement returns the allocation that must settle before the sale can
// be committed, if any.
func (l *Ledger) Settlement() (domain.PaymentAllocation, bool) {
	for _, a := range l.allocations {
		if a.NeedsSettlement() {
			return a, true
		}
	}
	return domain.PaymentAllocation{}, false
}

// Change computes the change due for a single cash payment.
func (l *Ledger) Change(tendered decimal.Decimal) (decimal.Decimal, error) {
	if l.split || l.allocations[0].Kind != domain.PaymentCash {
		return decimal.Zero, ErrTenderRequiresCashOnly
	}
	if tendered.LessThan(l.total) {
		return decimal.Zero, ErrInsufficientTender
	}
	return tendered.Sub(l.total), nil
}
