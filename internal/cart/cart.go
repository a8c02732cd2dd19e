// Package cart holds the line items of the sale being rung up.
package cart

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"kasirinaja/pos/internal/domain"
)

const (
	ActionRemoveItem = "cart.remove_item"
	ActionClear      = "cart.clear"
)

var ErrLineNotFound = errors.New("cart line not found")

// Authorizer approves privileged cart actions for unprivileged actors,
// typically by checking a supervisor PIN carried in ctx.
type Authorizer interface {
	Authorize(ctx context.Context, action string) (bool, error)
}

// Cart is not safe for concurrent use; its owner serializes access.
type Cart struct {
	items      []domain.LineItem
	customerID string
	authz      Authorizer
}

func New(authz Authorizer) *Cart {
	return &Cart{authz: authz}
}

// AddItem adds one unit of the product, or of the chosen variant when the
// product has variants. Products with variants need variantID.
func (c *Cart) AddItem(product domain.Product, variantID string) (domain.LineItem, error) {
	candidate := domain.LineItem{
		ProductID:    product.ID,
		Name:         product.Name,
		UnitPrice:    product.Price,
		StockCeiling: product.Stock,
	}
	if product.HasVariants() {
		if variantID == "" {
			return domain.LineItem{}, domain.ErrVariantRequired
		}
		variant, ok := product.Variant(variantID)
		if !ok {
			return domain.LineItem{}, fmt.Errorf("unknown variant %q: %w", variantID, domain.ErrVariantRequired)
		}
		candidate.VariantID = variant.ID
		candidate.Name = product.Name + " - " + variant.Name
		if variant.Price.IsPositive() {
			candidate.UnitPrice = variant.Price
		}
		candidate.StockCeiling = variant.Stock
	}

	idx := c.indexOf(candidate.Key())
	requested := 1
	if idx >= 0 {
		requested = c.items[idx].Quantity + 1
	}
	if requested > candidate.StockCeiling {
		return domain.LineItem{}, &domain.InsufficientStockError{
			Key:       candidate.Key(),
			Requested: requested,
			Ceiling:   candidate.StockCeiling,
		}
	}

	if idx >= 0 {
		c.items[idx].Quantity = requested
		c.items[idx].StockCeiling = candidate.StockCeiling
		c.items[idx].UnitPrice = candidate.UnitPrice
		return c.items[idx], nil
	}
	candidate.Quantity = 1
	c.items = append(c.items, candidate)
	return candidate, nil
}

// SetQuantity sets a line's quantity. Zero or less removes the line and is
// gated like RemoveItem.
func (c *Cart) SetQuantity(ctx context.Context, key domain.LineKey, qty int) error {
	if qty <= 0 {
		return c.RemoveItem(ctx, key)
	}
	idx := c.indexOf(key)
	if idx < 0 {
		return ErrLineNotFound
	}
	if qty > c.items[idx].StockCeiling {
		return &domain.InsufficientStockError{Key: key, Requested: qty, Ceiling: c.items[idx].StockCeiling}
	}
	c.items[idx].Quantity = qty
	return nil
}

func (c *Cart) RemoveItem(ctx context.Context, key domain.LineKey) error {
	idx := c.indexOf(key)
	if idx < 0 {
		return ErrLineNotFound
	}
	if err := c.authorize(ctx, ActionRemoveItem); err != nil {
		return err
	}
	c.items = slices.Delete(c.items, idx, idx+1)
	return nil
}

// Clear empties the cart on operator request. It is gated like RemoveItem.
func (c *Cart) Clear(ctx context.Context) error {
	if err := c.AuthorizeClear(ctx); err != nil {
		return err
	}
	c.Reset()
	return nil
}

// AuthorizeClear checks that the current lines may be discarded without
// touching them. An empty cart needs no authorization.
func (c *Cart) AuthorizeClear(ctx context.Context) error {
	if len(c.items) == 0 {
		return nil
	}
	return c.authorize(ctx, ActionClear)
}

// Reset empties the cart without authorization. It is used after the cart
// has been committed as a sale or suspended as a held order.
func (c *Cart) Reset() {
	c.items = nil
	c.customerID = ""
}

// Replace swaps the cart contents for a restored snapshot.
func (c *Cart) Replace(items []domain.LineItem, customerID string) {
	c.items = slices.Clone(items)
	c.customerID = customerID
}

func (c *Cart) Items() []domain.LineItem {
	return slices.Clone(c.items)
}

func (c *Cart) Len() int {
	return len(c.items)
}

func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

func (c *Cart) CustomerID() string {
	return c.customerID
}

func (c *Cart) SetCustomer(customerID string) {
	c.customerID = customerID
}

func (c *Cart) indexOf(key domain.LineKey) int {
	return slices.IndexFunc(c.items, func(item domain.LineItem) bool {
		return item.Key() == key
	})
}

func (c *Cart) authorize(ctx context.Context, action string) error {
	if actor, ok := domain.ActorFromContext(ctx); ok && actor.Elevated() {
		return nil
	}
	if c.authz == nil {
		return domain.ErrSupervisorRequired
	}
	ok, err := c.authz.Authorize(ctx, action)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", action, err)
	}
	if !ok {
		return domain.ErrSupervisorRequired
	}
	return nil
}
