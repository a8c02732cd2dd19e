package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/pos/internal/domain"
)

type ChargeRequest struct {
	InvoiceID string
	Amount    decimal.Decimal
	Kind      domain.PaymentKind
	// SubMethod is the bank code for virtual accounts or the QRIS acquirer.
	SubMethod string
}

// ChargeResult carries the artifact the customer pays against.
type ChargeResult struct {
	ArtifactType string     `json:"artifact_type"`
	Artifact     string     `json:"artifact"`
	BillerCode   string     `json:"biller_code,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

const (
	ArtifactQRString      = "qr_string"
	ArtifactVANumber      = "va_number"
	ArtifactBillKey       = "bill_key"
	ArtifactManualAccount = "manual_account"
)

//go:generate mockgen -source=client.go -destination=client_mock.go -package=gateway
type Client interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Status(ctx context.Context, invoiceID string) (string, error)
}

// OfflineClient is used when no gateway is configured. Integrated payments
// fail with ErrGatewayUnavailable; manual methods keep working.
type OfflineClient struct{}

func (OfflineClient) Charge(context.Context, ChargeRequest) (*ChargeResult, error) {
	return nil, domain.ErrGatewayUnavailable
}

func (OfflineClient) Status(context.Context, string) (string, error) {
	return "", domain.ErrGatewayUnavailable
}
