package checkout

import (
	"errors"

	"github.com/shopspring/decimal"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/gateway"
)

type AttemptStatus string

const (
	AttemptAwaitingPayment AttemptStatus = "awaiting_payment"
	AttemptCompleted       AttemptStatus = "completed"
	// AttemptCommitFailed is a paid sale that could not be recorded yet.
	AttemptCommitFailed  AttemptStatus = "commit_failed"
	AttemptRejected      AttemptStatus = "rejected"
	AttemptPaymentFailed AttemptStatus = "payment_failed"
	AttemptCancelled     AttemptStatus = "cancelled"
)

type AttemptView struct {
	Invoice     string              `json:"invoice_number"`
	Status      AttemptStatus       `json:"status"`
	Payment     *gateway.View       `json:"payment,omitempty"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
	Change      decimal.Decimal     `json:"change"`
	Retryable   bool                `json:"retryable"`
	Error       string              `json:"error,omitempty"`
}

// attempt is guarded by the owning Finalizer's mutex, except for done and
// pollDone which are only ever closed.
type attempt struct {
	invoice     string
	actor       domain.Actor
	change      decimal.Decimal
	resumedFrom string
	tx          domain.Transaction

	session    *gateway.Session
	cancelPoll func()
	pollDone   chan struct{}

	status AttemptStatus
	result *domain.Transaction
	err    error
	done   chan struct{}
	closed bool
}

func newAttempt(invoice string, actor domain.Actor, change decimal.Decimal, resumedFrom string, tx domain.Transaction) *attempt {
	tx.InvoiceNumber = invoice
	return &attempt{
		invoice:     invoice,
		actor:       actor,
		change:      change,
		resumedFrom: resumedFrom,
		tx:          tx,
		status:      AttemptAwaitingPayment,
		done:        make(chan struct{}),
	}
}

// reissue moves the sale to a new invoice number. A settled payment keeps
// the reference it was charged under in the session view.
func (a *attempt) reissue(invoice string) {
	a.invoice = invoice
	a.tx.InvoiceNumber = invoice
}

// blocking attempts freeze the cart and ledger.
func (a *attempt) blocking() bool {
	return a.status == AttemptAwaitingPayment || a.status == AttemptCommitFailed
}

func (a *attempt) finish(status AttemptStatus, err error) {
	a.status = status
	a.err = err
	if !a.closed {
		a.closed = true
		close(a.done)
	}
}

func (a *attempt) view() AttemptView {
	v := AttemptView{
		Invoice:     a.invoice,
		Status:      a.status,
		Transaction: a.result,
		Change:      a.change,
		Retryable:   a.status == AttemptCommitFailed && errors.Is(a.err, domain.ErrCheckoutFailed),
	}
	if a.session != nil {
		pv := a.session.View()
		v.Payment = &pv
	}
	if a.err != nil {
		v.Error = a.err.Error()
	}
	return v
}
