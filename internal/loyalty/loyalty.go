// Package loyalty resolves member discounts and accrues points on
// completed sales.
package loyalty

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/store"
)

const DefaultSpendPerPoint = 10000

type Members interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	AddCustomerPoints(ctx context.Context, id string, points int) (int, error)
}

type Program struct {
	members       Members
	spendPerPoint decimal.Decimal
}

func NewProgram(members Members, spendPerPoint int64) *Program {
	if spendPerPoint <= 0 {
		spendPerPoint = DefaultSpendPerPoint
	}
	return &Program{members: members, spendPerPoint: decimal.NewFromInt(spendPerPoint)}
}

// DiscountPercent returns the tier discount of the customer. Walk-in sales
// and unknown customers get no discount.
func (p *Program) DiscountPercent(ctx context.Context, customerID string) (decimal.Decimal, error) {
	if customerID == "" {
		return decimal.Zero, nil
	}
	customer, err := p.members.GetCustomer(ctx, customerID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("lookup customer %s: %w", customerID, err)
	}
	if customer.DiscountPercent.IsNegative() {
		return decimal.Zero, nil
	}
	return customer.DiscountPercent, nil
}

// Points is one point per full spendPerPoint of the paid amount.
func (p *Program) Points(amount decimal.Decimal) int {
	if !amount.IsPositive() {
		return 0
	}
	return int(amount.Div(p.spendPerPoint).IntPart())
}

// AwardPoints credits the customer for a completed sale and returns the
// points added.
func (p *Program) AwardPoints(ctx context.Context, customerID string, amount decimal.Decimal) (int, error) {
	if customerID == "" {
		return 0, nil
	}
	points := p.Points(amount)
	if points == 0 {
		return 0, nil
	}
	if _, err := p.members.AddCustomerPoints(ctx, customerID, points); err != nil {
		return 0, fmt.Errorf("award %d points to %s: %w", points, customerID, err)
	}
	return points, nil
}
