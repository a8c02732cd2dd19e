package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kasirinaja/pos/internal/gateway"
	"kasirinaja/pos/internal/service"
	"kasirinaja/pos/internal/store/memory"
)

const testPIN = "482913"

// newTestAPI builds the full handler stack over an in-memory store so tests
// exercise the complete request path.
func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_SUPERVISOR_PASSWORD", "supervisor123")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier123")

	logger := zaptest.NewLogger(t)
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, testPIN, repo, logger)
	svc := service.New(service.Options{PollInterval: 5 * time.Millisecond}, service.Deps{
		Repo:       repo,
		Gateway:    gateway.OfflineClient{},
		Authorizer: auth,
		Logger:     logger,
	})
	t.Cleanup(svc.Close)
	return New(svc, auth, "http://127.0.0.1:3000", logger).Handler()
}

type client struct {
	t       *testing.T
	handler http.Handler
	token   string
}

func (c *client) do(method, path string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func login(t *testing.T, handler http.Handler, username, password string) *client {
	t.Helper()
	c := &client{t: t, handler: handler}
	rec, body := c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c.token = body["access_token"].(string)
	return c
}

func attemptOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	attempt, ok := body["attempt"].(map[string]any)
	require.True(t, ok, "response has no attempt: %v", body)
	return attempt
}

func TestHandleHealth(t *testing.T) {
	c := &client{t: t, handler: newTestAPI(t)}

	rec, body := c.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestHandleLogin(t *testing.T) {
	handler := newTestAPI(t)
	c := &client{t: t, handler: handler}

	rec, _ := c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = c.do(http.MethodPost, "/api/v1/auth/login", map[string]any{"username": "admin", "password": "admin123", "extra": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin", "password": "admin123"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", body["role"])
	assert.NotEmpty(t, body["access_token"])
}

func TestLoginIsRateLimited(t *testing.T) {
	c := &client{t: t, handler: newTestAPI(t)}

	var last int
	for n := 0; n < 6; n++ {
		rec, _ := c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin", "password": "nope"})
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestProtectedRoutesNeedBearerToken(t *testing.T) {
	c := &client{t: t, handler: newTestAPI(t)}

	rec, _ := c.do(http.MethodGet, "/api/v1/products", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c.token = "not-a-jwt"
	rec, _ = c.do(http.MethodGet, "/api/v1/products", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCashSaleOverHTTP(t *testing.T) {
	cashier := login(t, newTestAPI(t), "cashier", "cashier123")

	rec, _ := cashier.do(http.MethodPost, "/api/v1/terminals/T1/checkout", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "no open shift")

	rec, body := cashier.do(http.MethodPost, "/api/v1/shifts/open", map[string]any{"starting_cash": "100000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "cashier", body["shift"].(map[string]any)["employee_id"])

	rec, _ = cashier.do(http.MethodPost, "/api/v1/terminals/T1/items", map[string]string{"product_id": "SKU-KAOS-01"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "variant required")

	rec, _ = cashier.do(http.MethodPost, "/api/v1/terminals/T1/items", map[string]string{"product_id": "SKU-MIE-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, body = cashier.do(http.MethodPatch, "/api/v1/terminals/T1/items/SKU-MIE-01", map[string]int{"quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	totals := body["terminal"].(map[string]any)["totals"].(map[string]any)
	assert.Equal(t, "7770", totals["total"])

	rec, body = cashier.do(http.MethodPost, "/api/v1/terminals/T1/checkout", map[string]string{"tendered": "10000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	attempt := attemptOf(t, body)
	assert.Equal(t, "completed", attempt["status"])
	assert.Equal(t, "2230", attempt["change"])

	rec, body = cashier.do(http.MethodPost, "/api/v1/shifts/close", map[string]any{"ending_cash": "107770", "notes": "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "0", body["shift"].(map[string]any)["difference"])
}

func TestRemoveItemNeedsSupervisorPIN(t *testing.T) {
	cashier := login(t, newTestAPI(t), "cashier", "cashier123")

	rec, _ := cashier.do(http.MethodPost, "/api/v1/terminals/T1/items", map[string]string{"product_id": "SKU-KAOS-01", "variant_id": "XL"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = cashier.do(http.MethodDelete, "/api/v1/terminals/T1/items/SKU-KAOS-01:XL", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = cashier.do(http.MethodDelete, "/api/v1/terminals/T1/items/SKU-KAOS-01:XL", nil, supervisorPINHeader, "000000")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := cashier.do(http.MethodDelete, "/api/v1/terminals/T1/items/SKU-KAOS-01:XL", nil, supervisorPINHeader, testPIN)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, body["terminal"].(map[string]any)["items"])
}

func TestManualTransferWaitsForConfirmation(t *testing.T) {
	cashier := login(t, newTestAPI(t), "cashier", "cashier123")

	rec, _ := cashier.do(http.MethodPost, "/api/v1/shifts/open", map[string]any{"starting_cash": 0})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec, _ = cashier.do(http.MethodPost, "/api/v1/terminals/T1/items", map[string]string{"product_id": "SKU-SUSU-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec, _ = cashier.do(http.MethodPost, "/api/v1/terminals/T1/payments", map[string]string{"method_id": "transfer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = cashier.do(http.MethodPost, "/api/v1/terminals/T1/checkout", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "sub-selection missing")

	rec, _ = cashier.do(http.MethodPatch, "/api/v1/terminals/T1/payments/0", map[string]string{"manual_account_ref": "BCA-0012345"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body := cashier.do(http.MethodPost, "/api/v1/terminals/T1/checkout", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "awaiting_payment", attemptOf(t, body)["status"])

	rec, _ = cashier.do(http.MethodPost, "/api/v1/terminals/T1/items", map[string]string{"product_id": "SKU-MIE-01"})
	assert.Equal(t, http.StatusConflict, rec.Code, "cart frozen while pending")

	rec, body = cashier.do(http.MethodGet, "/api/v1/terminals/T1/checkout?wait=10ms", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "awaiting_payment", attemptOf(t, body)["status"])

	rec, body = cashier.do(http.MethodPost, "/api/v1/terminals/T1/checkout/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", attemptOf(t, body)["status"])
}

func TestIntegratedQRISWithoutGatewayIsUnavailable(t *testing.T) {
	cashier := login(t, newTestAPI(t), "cashier", "cashier123")

	rec, _ := cashier.do(http.MethodPost, "/api/v1/shifts/open", map[string]any{"starting_cash": 0})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = cashier.do(http.MethodPost, "/api/v1/terminals/T1/items", map[string]string{"product_id": "SKU-KOPI-01"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = cashier.do(http.MethodPost, "/api/v1/terminals/T1/payments", map[string]string{"method_id": "qris"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = cashier.do(http.MethodPatch, "/api/v1/terminals/T1/payments/0", map[string]string{"gateway_ref": "gopay"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = cashier.do(http.MethodPost, "/api/v1/terminals/T1/checkout", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
}

func TestHoldAndResumeOverHTTP(t *testing.T) {
	cashier := login(t, newTestAPI(t), "cashier", "cashier123")

	rec, _ := cashier.do(http.MethodPost, "/api/v1/terminals/T1/items", map[string]string{"product_id": "SKU-ROTI-01"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, body := cashier.do(http.MethodPost, "/api/v1/terminals/T1/hold", map[string]string{"notes": "table 4"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	heldID := body["held_order"].(map[string]any)["id"].(string)

	rec, body = cashier.do(http.MethodGet, "/api/v1/held-orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["held_orders"], 1)

	rec, body = cashier.do(http.MethodPost, "/api/v1/terminals/T2/resume/"+heldID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, heldID, body["terminal"].(map[string]any)["resumed_from"])

	rec, _ = cashier.do(http.MethodPost, "/api/v1/terminals/T3/resume/"+heldID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuditLogsNeedSupervisorRole(t *testing.T) {
	handler := newTestAPI(t)

	cashier := login(t, handler, "cashier", "cashier123")
	rec, _ := cashier.do(http.MethodGet, "/api/v1/audit-logs", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = cashier.do(http.MethodPost, "/api/v1/shifts/open", map[string]any{"starting_cash": 0})
	require.Equal(t, http.StatusCreated, rec.Code)

	supervisor := login(t, handler, "supervisor", "supervisor123")
	rec, body := supervisor.do(http.MethodGet, "/api/v1/audit-logs?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := body["audit_logs"].([]any)
	require.NotEmpty(t, logs)
	assert.Equal(t, "shift.open", logs[0].(map[string]any)["action"])
}
