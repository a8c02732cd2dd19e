package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/money"
)

// HTTPClient talks to a core-API style payment gateway over JSON. The
// server key is sent as the basic auth username.
type HTTPClient struct {
	baseURL   string
	serverKey string
	client    *http.Client
}

func NewHTTPClient(baseURL, serverKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		serverKey: serverKey,
		client:    &http.Client{Timeout: timeout},
	}
}

type chargePayload struct {
	PaymentType        string             `json:"payment_type"`
	TransactionDetails transactionDetails `json:"transaction_details"`
	BankTransfer       *bankTransfer      `json:"bank_transfer,omitempty"`
	QRIS               *qrisOptions       `json:"qris,omitempty"`
}

type transactionDetails struct {
	OrderID     string      `json:"order_id"`
	GrossAmount json.Number `json:"gross_amount"`
}

type bankTransfer struct {
	Bank string `json:"bank"`
}

type qrisOptions struct {
	Acquirer string `json:"acquirer,omitempty"`
}

type gatewayResponse struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	TransactionStatus string `json:"transaction_status"`
	QRString          string `json:"qr_string"`
	VANumbers         []struct {
		Bank     string `json:"bank"`
		VANumber string `json:"va_number"`
	} `json:"va_numbers"`
	BillKey    string `json:"bill_key"`
	BillerCode string `json:"biller_code"`
	ExpiryTime string `json:"expiry_time"`
}

func (c *HTTPClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	payload := chargePayload{
		TransactionDetails: transactionDetails{
			OrderID:     req.InvoiceID,
			GrossAmount: json.Number(money.Round(req.Amount).String()),
		},
	}
	switch req.Kind {
	case domain.PaymentQRIS:
		payload.PaymentType = "qris"
		payload.QRIS = &qrisOptions{Acquirer: req.SubMethod}
	case domain.PaymentTransfer:
		payload.PaymentType = "bank_transfer"
		payload.BankTransfer = &bankTransfer{Bank: req.SubMethod}
	case domain.PaymentCash, domain.PaymentEWallet, domain.PaymentCard:
		return nil, fmt.Errorf("payment kind %s is not charged through the gateway", req.Kind)
	default:
		return nil, fmt.Errorf("unknown payment kind %q", req.Kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/v2/charge", body)
	if err != nil {
		return nil, err
	}

	result := &ChargeResult{}
	switch {
	case resp.QRString != "":
		result.ArtifactType = ArtifactQRString
		result.Artifact = resp.QRString
	case len(resp.VANumbers) > 0:
		result.ArtifactType = ArtifactVANumber
		result.Artifact = resp.VANumbers[0].VANumber
	case resp.BillKey != "":
		result.ArtifactType = ArtifactBillKey
		result.Artifact = resp.BillKey
		result.BillerCode = resp.BillerCode
	default:
		return nil, fmt.Errorf("charge %s returned no payment artifact", req.InvoiceID)
	}
	if resp.ExpiryTime != "" {
		if at, err := time.Parse(time.DateTime, resp.ExpiryTime); err == nil {
			result.ExpiresAt = &at
		}
	}
	return result, nil
}

func (c *HTTPClient) Status(ctx context.Context, invoiceID string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v2/"+url.PathEscape(invoiceID)+"/status", nil)
	if err != nil {
		return "", err
	}
	return resp.TransactionStatus, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) (*gatewayResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.SetBasicAuth(c.serverKey, "")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	var parsed gatewayResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode gateway response (status %d): %w", res.StatusCode, err)
	}
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned %d: %s", res.StatusCode, parsed.StatusMessage)
	}
	return &parsed, nil
}
