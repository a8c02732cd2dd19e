package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// LineKey identifies a cart line. Two lines with the same key are one line.
type LineKey struct {
	ProductID string
	VariantID string
}

func (k LineKey) String() string {
	if k.VariantID == "" {
		return k.ProductID
	}
	return k.ProductID + ":" + k.VariantID
}

func ParseLineKey(raw string) LineKey {
	productID, variantID, _ := strings.Cut(strings.TrimSpace(raw), ":")
	return LineKey{ProductID: productID, VariantID: variantID}
}

type LineItem struct {
	ProductID    string          `json:"product_id"`
	VariantID    string          `json:"variant_id,omitempty"`
	Name         string          `json:"name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	StockCeiling int             `json:"stock_ceiling"`
}

func (l LineItem) Key() LineKey {
	return LineKey{ProductID: l.ProductID, VariantID: l.VariantID}
}

func (l LineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
