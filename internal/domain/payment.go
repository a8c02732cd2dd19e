package domain

import "github.com/shopspring/decimal"

// PaymentKind is the discriminant of a payment allocation.
type PaymentKind string

const (
	PaymentCash     PaymentKind = "cash"
	PaymentQRIS     PaymentKind = "qris"
	PaymentTransfer PaymentKind = "transfer"
	PaymentEWallet  PaymentKind = "ewallet"
	PaymentCard     PaymentKind = "card"
)

func (k PaymentKind) Valid() bool {
	switch k {
	case PaymentCash, PaymentQRIS, PaymentTransfer, PaymentEWallet, PaymentCard:
		return true
	}
	return false
}

// NeedsSubSelection reports whether an allocation of this kind must name a
// gateway bank code, a manual account or an inline QRIS payload.
func (k PaymentKind) NeedsSubSelection() bool {
	switch k {
	case PaymentQRIS, PaymentTransfer:
		return true
	case PaymentCash, PaymentEWallet, PaymentCard:
		return false
	}
	return false
}

type PaymentAllocation struct {
	MethodID         string          `json:"method_id"`
	Kind             PaymentKind     `json:"kind"`
	Amount           decimal.Decimal `json:"amount"`
	GatewayRef       string          `json:"gateway_ref,omitempty"`
	ManualAccountRef string          `json:"manual_account_ref,omitempty"`
}

func (a PaymentAllocation) HasSubSelection() bool {
	return a.GatewayRef != "" || a.ManualAccountRef != ""
}

// Integrated allocations settle through the payment gateway.
func (a PaymentAllocation) Integrated() bool {
	return a.Kind.NeedsSubSelection() && a.GatewayRef != ""
}

// ManualConfirmation allocations settle when the operator asserts receipt
// on a merchant-operated account or static QRIS.
func (a PaymentAllocation) ManualConfirmation() bool {
	return a.Kind.NeedsSubSelection() && a.GatewayRef == "" && a.ManualAccountRef != ""
}

func (a PaymentAllocation) NeedsSettlement() bool {
	return a.Integrated() || a.ManualConfirmation()
}
