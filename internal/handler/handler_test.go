package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/furnishop-system/internal/chain"
	"github.com/mmeshcher/furnishop-system/internal/middleware"
	"github.com/mmeshcher/furnishop-system/internal/model"
	"github.com/mmeshcher/furnishop-system/internal/repository"
	"github.com/mmeshcher/furnishop-system/internal/service"
	"github.com/mmeshcher/furnishop-system/internal/web3"
)

type stubOrderService struct {
	placeResult *service.PlaceOrderResult
	placeErr    error

	order    *model.Order
	orderErr error

	listResp []model.Order
	listErr  error

	updateErr error

	cancelErr error

	cardTxnID string
	cardErr   error

	registerID  int64
	registerErr error

	authID  int64
	authErr error
}

func (s *stubOrderService) PlaceOrder(ctx context.Context, cart []model.CartItem, customerID *int64, contact service.ContactInfo, method model.PaymentMethod) (*service.PlaceOrderResult, error) {
	return s.placeResult, s.placeErr
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubOrderService) ListOrdersByCustomer(ctx context.Context, customerID int64) ([]model.Order, error) {
	return s.listResp, s.listErr
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, orderID string, status model.OrderStatus, paymentStatus *model.PaymentStatus) error {
	return s.updateErr
}

func (s *stubOrderService) Cancel(ctx context.Context, orderID string, requesterID int64) error {
	return s.cancelErr
}

func (s *stubOrderService) ConfirmCardPayment(ctx context.Context, orderID string) (string, error) {
	return s.cardTxnID, s.cardErr
}

func (s *stubOrderService) RegisterCustomer(ctx context.Context, email, fullName, password string) (int64, error) {
	return s.registerID, s.registerErr
}

func (s *stubOrderService) AuthenticateCustomer(ctx context.Context, email, password string) (int64, error) {
	return s.authID, s.authErr
}

type stubPaymentService struct {
	info       *web3.PaymentInfo
	infoErr    error
	infoOrder  string
	infoAmount int64

	submitTx  *model.ChainTransaction
	submitURL string
	submitErr error

	verifyResult *web3.VerifyResult
	verifyErr    error

	statusTx  *model.ChainTransaction
	statusErr error

	webhookErr error

	networkDetails *web3.NetworkDetails
	networkErr     error

	rate        decimal.Decimal
	lastUpdated time.Time
}

func (s *stubPaymentService) GetPaymentInfo(ctx context.Context, orderID string, fallbackAmount int64) (*web3.PaymentInfo, error) {
	s.infoOrder = orderID
	s.infoAmount = fallbackAmount
	return s.info, s.infoErr
}

func (s *stubPaymentService) Submit(ctx context.Context, req web3.SubmitRequest) (*model.ChainTransaction, string, error) {
	return s.submitTx, s.submitURL, s.submitErr
}

func (s *stubPaymentService) Verify(ctx context.Context, txHash string, chainID int64) (*web3.VerifyResult, error) {
	return s.verifyResult, s.verifyErr
}

func (s *stubPaymentService) CheckStatus(ctx context.Context, txHash string) (*model.ChainTransaction, error) {
	return s.statusTx, s.statusErr
}

func (s *stubPaymentService) ConfirmFromWebhook(ctx context.Context, txHash string) error {
	return s.webhookErr
}

func (s *stubPaymentService) NetworkInfo(ctx context.Context, chainID int64) (*web3.NetworkDetails, error) {
	return s.networkDetails, s.networkErr
}

func (s *stubPaymentService) RateInfo(ctx context.Context) (decimal.Decimal, time.Time) {
	return s.rate, s.lastUpdated
}

const (
	testAdminToken    = "admin-secret"
	testWebhookSecret = "webhook-secret"
)

func newTestHandler(t *testing.T, orders OrderService, payments PaymentService) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(orders, payments, logger, auth, testAdminToken, testWebhookSecret)
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestPlaceOrder_Success(t *testing.T) {
	orders := &stubOrderService{
		placeResult: &service.PlaceOrderResult{
			Order: &model.Order{
				ID:    "ORD12345678",
				Total: 2700000,
			},
			Redirect: "order_success",
		},
	}
	h := newTestHandler(t, orders, &stubPaymentService{})

	body, _ := json.Marshal(placeOrderRequest{
		Items:         []model.CartItem{{ProductID: 1, Quantity: 2}},
		FullName:      "Nguyen Van A",
		Phone:         "0900000000",
		Address:       "12 Le Loi",
		PaymentMethod: "cod",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/place-order", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.PlaceOrder(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	resp := decodeResponse(t, rec)
	if resp["success"] != true {
		t.Errorf("success = %v, want true", resp["success"])
	}
	if resp["order_id"] != "ORD12345678" {
		t.Errorf("order_id = %v, want ORD12345678", resp["order_id"])
	}
	if _, ok := resp["dropped_items"]; ok {
		t.Errorf("dropped_items present for fully fulfilled order")
	}
}

func TestPlaceOrder_DroppedItemsReported(t *testing.T) {
	orders := &stubOrderService{
		placeResult: &service.PlaceOrderResult{
			Order:        &model.Order{ID: "ORD12345678"},
			DroppedItems: []model.CartItem{{ProductID: 999, Quantity: 1}},
			Redirect:     "order_success",
		},
	}
	h := newTestHandler(t, orders, &stubPaymentService{})

	body, _ := json.Marshal(placeOrderRequest{
		Items:    []model.CartItem{{ProductID: 1, Quantity: 1}, {ProductID: 999, Quantity: 1}},
		FullName: "Nguyen Van A",
		Phone:    "0900000000",
		Address:  "12 Le Loi",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/place-order", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.PlaceOrder(rec, req)

	resp := decodeResponse(t, rec)
	if _, ok := resp["dropped_items"]; !ok {
		t.Errorf("dropped_items missing from partial-success response")
	}
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	orders := &stubOrderService{placeErr: service.ErrEmptyCart}
	h := newTestHandler(t, orders, &stubPaymentService{})

	body, _ := json.Marshal(placeOrderRequest{
		FullName: "Nguyen Van A",
		Phone:    "0900000000",
		Address:  "12 Le Loi",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/place-order", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.PlaceOrder(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestPlaceOrder_MissingContact(t *testing.T) {
	h := newTestHandler(t, &stubOrderService{}, &stubPaymentService{})

	body, _ := json.Marshal(placeOrderRequest{
		Items: []model.CartItem{{ProductID: 1, Quantity: 1}},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/place-order", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.PlaceOrder(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCancelOrder_ThroughRouter(t *testing.T) {
	tests := []struct {
		name       string
		cancelErr  error
		wantStatus int
	}{
		{name: "success", wantStatus: http.StatusOK},
		{name: "forbidden", cancelErr: service.ErrForbidden, wantStatus: http.StatusForbidden},
		{name: "not cancellable", cancelErr: service.ErrInvalidState, wantStatus: http.StatusConflict},
		{name: "not found", cancelErr: repository.ErrOrderNotFound, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubOrderService{cancelErr: tt.cancelErr}, &stubPaymentService{})
			router := h.SetupRouter()

			cookieRec := httptest.NewRecorder()
			h.authMiddleware.SetAuthCookie(cookieRec, 7)

			req := httptest.NewRequest(http.MethodPost, "/order/ORD12345678/cancel", nil)
			req.AddCookie(cookieRec.Result().Cookies()[0])
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestCancelOrder_RequiresAuth(t *testing.T) {
	h := newTestHandler(t, &stubOrderService{}, &stubPaymentService{})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/order/ORD12345678/cancel", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestUpdateOrderStatus_AdminToken(t *testing.T) {
	h := newTestHandler(t, &stubOrderService{}, &stubPaymentService{})
	router := h.SetupRouter()

	body, _ := json.Marshal(updateStatusRequest{Status: "confirmed"})

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ORD12345678/update-status", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status without token = %d, want %d", rec.Code, http.StatusForbidden)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/orders/ORD12345678/update-status", bytes.NewReader(body))
	req.Header.Set("X-Admin-Token", testAdminToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status with token = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestUpdateOrderStatus_InvalidTransition(t *testing.T) {
	h := newTestHandler(t, &stubOrderService{updateErr: service.ErrInvalidTransition}, &stubPaymentService{})
	router := h.SetupRouter()

	body, _ := json.Marshal(updateStatusRequest{Status: "completed"})

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ORD12345678/update-status", bytes.NewReader(body))
	req.Header.Set("X-Admin-Token", testAdminToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestProcessCardPayment(t *testing.T) {
	h := newTestHandler(t, &stubOrderService{cardTxnID: "TXN123456789012"}, &stubPaymentService{})

	body, _ := json.Marshal(cardPaymentRequest{OrderID: "ORD12345678"})

	req := httptest.NewRequest(http.MethodPost, "/api/process-card-payment", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ProcessCardPayment(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	resp := decodeResponse(t, rec)
	if resp["transaction_id"] != "TXN123456789012" {
		t.Errorf("transaction_id = %v, want TXN123456789012", resp["transaction_id"])
	}
}

func TestSubmitPayment_Duplicate(t *testing.T) {
	payments := &stubPaymentService{submitErr: web3.ErrDuplicateSubmission}
	h := newTestHandler(t, &stubOrderService{}, payments)

	body, _ := json.Marshal(submitPaymentRequest{
		OrderID: "ORD12345678",
		TxHash:  "0xab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34",
		ChainID: 56,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/web3/submit-payment", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SubmitPayment(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}

	resp := decodeResponse(t, rec)
	if resp["error"] != "tx_already_submitted" {
		t.Errorf("error = %v, want tx_already_submitted", resp["error"])
	}
}

func TestSubmitPayment_UnsupportedNetwork(t *testing.T) {
	payments := &stubPaymentService{submitErr: chain.ErrUnsupportedNetwork}
	h := newTestHandler(t, &stubOrderService{}, payments)

	body, _ := json.Marshal(submitPaymentRequest{OrderID: "ORD12345678", TxHash: "0xdead", ChainID: 42})

	req := httptest.NewRequest(http.MethodPost, "/api/web3/submit-payment", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SubmitPayment(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestVerifyPayment_ChainUnreachableReturnsPending(t *testing.T) {
	payments := &stubPaymentService{verifyErr: chain.ErrChainUnreachable}
	h := newTestHandler(t, &stubOrderService{}, payments)

	body, _ := json.Marshal(verifyPaymentRequest{TxHash: "0xabc", ChainID: 56})

	req := httptest.NewRequest(http.MethodPost, "/api/web3/verify-payment", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.VerifyPayment(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	resp := decodeResponse(t, rec)
	if resp["verified"] != false {
		t.Errorf("verified = %v, want false on unreachable chain", resp["verified"])
	}
}

func TestVerifyPayment_NotFound(t *testing.T) {
	payments := &stubPaymentService{verifyErr: web3.ErrTxNotFound}
	h := newTestHandler(t, &stubOrderService{}, payments)

	body, _ := json.Marshal(verifyPaymentRequest{TxHash: "0xabc"})

	req := httptest.NewRequest(http.MethodPost, "/api/web3/verify-payment", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.VerifyPayment(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestPaymentInfo_GetQueryParams(t *testing.T) {
	payments := &stubPaymentService{
		info: &web3.PaymentInfo{
			OrderID:    "ORD12345678",
			AmountVND:  15000000,
			AmountUSDT: decimal.RequireFromString("600"),
			Rate:       decimal.NewFromInt(25000),
			Wallet:     "0x3fd86c3728b38cb6b09fa7d4914888dcfef1518c",
			Session: model.PaymentSession{
				PaymentID: "pay_abc",
				ExpiresAt: time.Date(2025, 6, 1, 12, 15, 0, 0, time.UTC),
			},
			TimeoutSeconds: 900,
		},
	}
	h := newTestHandler(t, &stubOrderService{}, payments)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/web3/payment-info?order_id=ORD12345678&amount=15000000", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	resp := decodeResponse(t, rec)
	if resp["payment_id"] != "pay_abc" {
		t.Errorf("payment_id = %v, want pay_abc", resp["payment_id"])
	}
	if payments.infoOrder != "ORD12345678" {
		t.Errorf("order_id passed = %q, want ORD12345678", payments.infoOrder)
	}
	if payments.infoAmount != 15000000 {
		t.Errorf("amount passed = %d, want 15000000", payments.infoAmount)
	}
}

func TestPaymentInfo_GetMissingOrderID(t *testing.T) {
	h := newTestHandler(t, &stubOrderService{}, &stubPaymentService{})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/web3/payment-info", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestPaymentInfo_RateUnavailable(t *testing.T) {
	payments := &stubPaymentService{infoErr: web3.ErrRateUnavailable}
	h := newTestHandler(t, &stubOrderService{}, payments)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/web3/payment-info?order_id=ORD12345678", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	resp := decodeResponse(t, rec)
	if resp["error"] != "rate_unavailable" {
		t.Errorf("error = %v, want rate_unavailable", resp["error"])
	}
}

func TestCheckTxStatus_ThroughRouter(t *testing.T) {
	payments := &stubPaymentService{statusTx: &model.ChainTransaction{
		TxHash: "0xabc",
		Status: model.TxStatusPending,
	}}
	h := newTestHandler(t, &stubOrderService{}, payments)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/web3/check-status/0xabc", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestGetRate(t *testing.T) {
	payments := &stubPaymentService{
		rate:        decimal.NewFromInt(25000),
		lastUpdated: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h := newTestHandler(t, &stubOrderService{}, payments)

	req := httptest.NewRequest(http.MethodGet, "/api/web3/usdt-rate", nil)
	rec := httptest.NewRecorder()

	h.GetRate(rec, req)

	resp := decodeResponse(t, rec)
	if resp["rate"] != "25000" {
		t.Errorf("rate = %v, want 25000", resp["rate"])
	}
	if resp["currency"] != "VND" {
		t.Errorf("currency = %v, want VND", resp["currency"])
	}
}

func signWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaymentWebhook_ValidSignature(t *testing.T) {
	h := newTestHandler(t, &stubOrderService{}, &stubPaymentService{})

	body, _ := json.Marshal(webhookPayload{TxHash: "0xabc", Status: "confirmed"})

	req := httptest.NewRequest(http.MethodPost, "/webhook/payment-notification", bytes.NewReader(body))
	req.Header.Set("X-Signature", signWebhook(testWebhookSecret, body))
	rec := httptest.NewRecorder()

	h.PaymentWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestPaymentWebhook_BadSignature(t *testing.T) {
	h := newTestHandler(t, &stubOrderService{}, &stubPaymentService{})

	body, _ := json.Marshal(webhookPayload{TxHash: "0xabc", Status: "confirmed"})

	req := httptest.NewRequest(http.MethodPost, "/webhook/payment-notification", bytes.NewReader(body))
	req.Header.Set("X-Signature", signWebhook("wrong-secret", body))
	rec := httptest.NewRecorder()

	h.PaymentWebhook(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestPaymentWebhook_MissingSignature(t *testing.T) {
	h := newTestHandler(t, &stubOrderService{}, &stubPaymentService{})

	body, _ := json.Marshal(webhookPayload{TxHash: "0xabc", Status: "confirmed"})

	req := httptest.NewRequest(http.MethodPost, "/webhook/payment-notification", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.PaymentWebhook(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestPaymentWebhook_UnknownTx(t *testing.T) {
	h := newTestHandler(t, &stubOrderService{}, &stubPaymentService{webhookErr: web3.ErrTxNotFound})

	body, _ := json.Marshal(webhookPayload{TxHash: "0xabc", Status: "confirmed"})

	req := httptest.NewRequest(http.MethodPost, "/webhook/payment-notification", bytes.NewReader(body))
	req.Header.Set("X-Signature", signWebhook(testWebhookSecret, body))
	rec := httptest.NewRecorder()

	h.PaymentWebhook(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestOrderSuccess_NotFound(t *testing.T) {
	h := newTestHandler(t, &stubOrderService{orderErr: repository.ErrOrderNotFound}, &stubPaymentService{})

	req := httptest.NewRequest(http.MethodGet, "/order-success?order_id=ORD00000000", nil)
	rec := httptest.NewRecorder()

	h.OrderSuccess(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
