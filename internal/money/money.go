// Package money computes cart totals with exact decimal arithmetic.
//
// Nothing here rounds. Round is applied by callers at presentation
// boundaries (receipts, API payloads), never between steps.
package money

import (
	"github.com/shopspring/decimal"

	"kasirinaja/pos/internal/domain"
)

// MinorUnits is the number of decimal places shown for IDR amounts.
const MinorUnits = 2

var hundred = decimal.NewFromInt(100)

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Taxable  decimal.Decimal `json:"taxable"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

func Subtotal(items []domain.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// MemberDiscount returns subtotal × percent / 100. Non-positive percents give zero.
func MemberDiscount(subtotal, percent decimal.Decimal) decimal.Decimal {
	if !percent.IsPositive() {
		return decimal.Zero
	}
	return subtotal.Mul(percent).Div(hundred)
}

// Tax returns the tax carried by a taxable amount. For inclusive policies
// the tax is extracted from the amount; otherwise it is added on top.
func Tax(taxable decimal.Decimal, policy domain.TaxPolicy) decimal.Decimal {
	if !policy.Enabled || !policy.RatePercent.IsPositive() {
		return decimal.Zero
	}
	if policy.Inclusive {
		divisor := decimal.NewFromInt(1).Add(policy.RatePercent.Div(hundred))
		return taxable.Sub(taxable.Div(divisor))
	}
	return taxable.Mul(policy.RatePercent).Div(hundred)
}

func Calculate(items []domain.LineItem, policy domain.TaxPolicy, discountPercent decimal.Decimal) Totals {
	subtotal := Subtotal(items)
	discount := MemberDiscount(subtotal, discountPercent)
	taxable := subtotal.Sub(discount)
	tax := Tax(taxable, policy)

	total := taxable
	if !policy.Inclusive {
		total = taxable.Add(tax)
	}

	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Taxable:  taxable,
		Tax:      tax,
		Total:    total,
	}
}

// Round rounds half away from zero to the currency minor unit.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnits)
}

// Rounded returns a copy of t fit for display.
func (t Totals) Rounded() Totals {
	return Totals{
		Subtotal: Round(t.Subtotal),
		Discount: Round(t.Discount),
		Taxable:  Round(t.Taxable),
		Tax:      Round(t.Tax),
		Total:    Round(t.Total),
	}
}
