// Package handler содержит HTTP-обработчики API магазина мебели.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/furnishop-system/internal/chain"
	"github.com/mmeshcher/furnishop-system/internal/middleware"
	"github.com/mmeshcher/furnishop-system/internal/model"
	"github.com/mmeshcher/furnishop-system/internal/repository"
	"github.com/mmeshcher/furnishop-system/internal/service"
	"github.com/mmeshcher/furnishop-system/internal/web3"
)

// OrderService определяет контракт бизнес-логики заказов, используемой HTTP-обработчиками.
type OrderService interface {
	PlaceOrder(ctx context.Context, cart []model.CartItem, customerID *int64, contact service.ContactInfo, method model.PaymentMethod) (*service.PlaceOrderResult, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID int64) ([]model.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status model.OrderStatus, paymentStatus *model.PaymentStatus) error
	Cancel(ctx context.Context, orderID string, requesterID int64) error
	ConfirmCardPayment(ctx context.Context, orderID string) (string, error)
	RegisterCustomer(ctx context.Context, email, fullName, password string) (int64, error)
	AuthenticateCustomer(ctx context.Context, email, password string) (int64, error)
}

// PaymentService определяет контракт USDT-платежей, используемый HTTP-обработчиками.
type PaymentService interface {
	GetPaymentInfo(ctx context.Context, orderID string, fallbackAmount int64) (*web3.PaymentInfo, error)
	Submit(ctx context.Context, req web3.SubmitRequest) (*model.ChainTransaction, string, error)
	Verify(ctx context.Context, txHash string, chainID int64) (*web3.VerifyResult, error)
	CheckStatus(ctx context.Context, txHash string) (*model.ChainTransaction, error)
	ConfirmFromWebhook(ctx context.Context, txHash string) error
	NetworkInfo(ctx context.Context, chainID int64) (*web3.NetworkDetails, error)
	RateInfo(ctx context.Context) (decimal.Decimal, time.Time)
}

// Handler реализует HTTP-обработчики API магазина.
type Handler struct {
	orders         OrderService
	payments       PaymentService
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	adminToken     string
	webhookSecret  string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(orders OrderService, payments PaymentService, logger *zap.Logger, auth *middleware.AuthMiddleware, adminToken, webhookSecret string) *Handler {
	return &Handler{
		orders:         orders,
		payments:       payments,
		logger:         logger,
		authMiddleware: auth,
		adminToken:     adminToken,
		webhookSecret:  webhookSecret,
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, statusCode int, code string) {
	writeJSON(w, statusCode, map[string]any{
		"success": false,
		"error":   code,
	})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового покупателя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email_and_password_required")
		return
	}

	customerID, err := h.orders.RegisterCustomer(r.Context(), req.Email, req.FullName, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerExists) {
			writeError(w, http.StatusConflict, "email_already_registered")
			return
		}
		h.logger.Error("register customer error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, customerID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Login выполняет аутентификацию покупателя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email_and_password_required")
		return
	}

	customerID, err := h.orders.AuthenticateCustomer(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		h.logger.Error("login customer error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, customerID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Logout сбрасывает cookie авторизации.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type placeOrderRequest struct {
	Items         []model.CartItem `json:"items"`
	FullName      string           `json:"full_name"`
	Phone         string           `json:"phone"`
	Email         string           `json:"email"`
	Address       string           `json:"address"`
	Ward          string           `json:"ward"`
	District      string           `json:"district"`
	City          string           `json:"city"`
	Note          string           `json:"note"`
	PaymentMethod string           `json:"payment_method"`
}

// PlaceOrder оформляет заказ по снимку корзины.
// Заказ доступен и гостю: идентификатор покупателя берётся из cookie, если она есть.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if req.FullName == "" || req.Phone == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "missing_required_field")
		return
	}

	var customerID *int64
	if id, ok := h.authMiddleware.CustomerIDFromRequest(r); ok {
		customerID = &id
	}

	contact := service.ContactInfo{
		FullName: req.FullName,
		Phone:    req.Phone,
		Email:    req.Email,
		Address:  req.Address,
		Ward:     req.Ward,
		District: req.District,
		City:     req.City,
		Note:     req.Note,
	}

	result, err := h.orders.PlaceOrder(r.Context(), req.Items, customerID, contact, model.PaymentMethod(req.PaymentMethod))
	if err != nil {
		if errors.Is(err, service.ErrEmptyCart) {
			writeError(w, http.StatusBadRequest, "cart_is_empty")
			return
		}
		h.logger.Error("place order error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "order_not_saved")
		return
	}

	resp := map[string]any{
		"success":  true,
		"order_id": result.Order.ID,
		"total":    result.Order.Total,
		"redirect": result.Redirect,
		"message":  "Đặt hàng thành công",
	}
	if len(result.DroppedItems) > 0 {
		resp["dropped_items"] = result.DroppedItems
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetOrder возвращает данные заказа для страницы подтверждения.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order_not_found")
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.String("order_id", orderID))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": order})
}

// OrderSuccess возвращает данные заказа для страницы подтверждения по query-параметру.
func (h *Handler) OrderSuccess(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required")
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order_not_found")
			return
		}
		h.logger.Error("order success data error", zap.Error(err), zap.String("order_id", orderID))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": order})
}

// ListOrders возвращает заказы текущего покупателя.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	customerID, ok := middleware.GetCustomerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orders, err := h.orders.ListOrdersByCustomer(r.Context(), customerID)
	if err != nil {
		h.logger.Error("list orders error", zap.Error(err), zap.Int64("customerID", customerID))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "orders": orders})
}

// CancelOrder отменяет заказ текущего покупателя.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	customerID, ok := middleware.GetCustomerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orderID := chi.URLParam(r, "order_id")

	err := h.orders.Cancel(r.Context(), orderID, customerID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order_not_found")
		case errors.Is(err, service.ErrForbidden):
			writeError(w, http.StatusForbidden, "not_your_order")
		case errors.Is(err, service.ErrInvalidState):
			writeError(w, http.StatusConflict, "order_not_cancellable")
		default:
			h.logger.Error("cancel order error", zap.Error(err), zap.String("order_id", orderID))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Đơn hàng đã được hủy"})
}

type updateStatusRequest struct {
	Status        string  `json:"status"`
	PaymentStatus *string `json:"payment_status,omitempty"`
}

// UpdateOrderStatus переводит заказ в новый статус по запросу администратора.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	var paymentStatus *model.PaymentStatus
	if req.PaymentStatus != nil {
		ps := model.PaymentStatus(*req.PaymentStatus)
		paymentStatus = &ps
	}

	err := h.orders.UpdateStatus(r.Context(), orderID, model.OrderStatus(req.Status), paymentStatus)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order_not_found")
		case errors.Is(err, service.ErrInvalidStatus):
			writeError(w, http.StatusBadRequest, "unknown_status")
		case errors.Is(err, service.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "transition_not_allowed")
		default:
			h.logger.Error("update status error", zap.Error(err), zap.String("order_id", orderID))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type cardPaymentRequest struct {
	OrderID string `json:"order_id"`
}

// ProcessCardPayment подтверждает оплату заказа банковской картой.
// Реквизиты карты не принимаются и не хранятся: обработку выполняет внешний шлюз.
func (h *Handler) ProcessCardPayment(w http.ResponseWriter, r *http.Request) {
	var req cardPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required")
		return
	}

	txnID, err := h.orders.ConfirmCardPayment(r.Context(), req.OrderID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order_not_found")
		case errors.Is(err, service.ErrInvalidState):
			writeError(w, http.StatusConflict, "order_not_payable")
		default:
			h.logger.Error("card payment error", zap.Error(err), zap.String("order_id", req.OrderID))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"transaction_id": txnID,
		"message":        "Thanh toán thành công",
	})
}

type paymentInfoRequest struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
}

// PaymentInfo возвращает данные для страницы оплаты USDT и создаёт платёжную сессию.
// Параметры принимаются строкой запроса (GET) либо JSON-телом (POST).
func (h *Handler) PaymentInfo(w http.ResponseWriter, r *http.Request) {
	var req paymentInfoRequest
	if r.Method == http.MethodGet {
		req.OrderID = r.URL.Query().Get("order_id")
		if raw := r.URL.Query().Get("amount"); raw != "" {
			amount, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_amount")
				return
			}
			req.Amount = amount
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required")
		return
	}

	info, err := h.payments.GetPaymentInfo(r.Context(), req.OrderID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order_not_found")
		case errors.Is(err, web3.ErrRateUnavailable):
			writeError(w, http.StatusServiceUnavailable, "rate_unavailable")
		default:
			h.logger.Error("payment info error", zap.Error(err), zap.String("order_id", req.OrderID))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"payment_id":      info.Session.PaymentID,
		"order_id":        info.OrderID,
		"amount_vnd":      info.AmountVND,
		"amount_usdt":     info.AmountUSDT,
		"rate":            info.Rate,
		"wallet":          info.Wallet,
		"networks":        info.Networks,
		"expires_at":      info.Session.ExpiresAt.Format(time.RFC3339),
		"timeout_seconds": info.TimeoutSeconds,
	})
}

type submitPaymentRequest struct {
	OrderID     string          `json:"order_id"`
	TxHash      string          `json:"tx_hash"`
	ChainID     int64           `json:"chain_id"`
	FromAddress string          `json:"from_address"`
	AmountUSDT  decimal.Decimal `json:"amount_usdt"`
}

// SubmitPayment регистрирует заявленную on-chain транзакцию оплаты.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req submitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if req.OrderID == "" || req.TxHash == "" {
		writeError(w, http.StatusBadRequest, "missing_required_field")
		return
	}

	tx, explorerURL, err := h.payments.Submit(r.Context(), web3.SubmitRequest{
		OrderID:     req.OrderID,
		TxHash:      req.TxHash,
		ChainID:     req.ChainID,
		FromAddress: req.FromAddress,
		AmountUSDT:  req.AmountUSDT,
	})
	if err != nil {
		switch {
		case errors.Is(err, chain.ErrUnsupportedNetwork):
			writeError(w, http.StatusBadRequest, "unsupported_network")
		case errors.Is(err, web3.ErrInvalidHashFormat):
			writeError(w, http.StatusBadRequest, "invalid_tx_hash")
		case errors.Is(err, web3.ErrInvalidAddress):
			writeError(w, http.StatusBadRequest, "invalid_address")
		case errors.Is(err, web3.ErrDuplicateSubmission):
			writeError(w, http.StatusConflict, "tx_already_submitted")
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order_not_found")
		default:
			h.logger.Error("submit payment error", zap.Error(err), zap.String("order_id", req.OrderID))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"transaction":  tx,
		"explorer_url": explorerURL,
		"message":      "Giao dịch đã được ghi nhận, đang chờ xác nhận",
	})
}

type verifyPaymentRequest struct {
	TxHash  string `json:"tx_hash"`
	ChainID int64  `json:"chain_id"`
}

// VerifyPayment проверяет заявленную транзакцию в её сети.
// Недоступность RPC-узла не является ошибкой клиента: возвращается текущее
// состояние «ещё не подтверждена».
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if req.TxHash == "" {
		writeError(w, http.StatusBadRequest, "tx_hash_required")
		return
	}

	result, err := h.payments.Verify(r.Context(), req.TxHash, req.ChainID)
	if err != nil {
		switch {
		case errors.Is(err, web3.ErrTxNotFound):
			writeError(w, http.StatusNotFound, "tx_not_found")
		case errors.Is(err, chain.ErrUnsupportedNetwork):
			writeError(w, http.StatusBadRequest, "unsupported_network")
		case errors.Is(err, chain.ErrReceiptNotFound), errors.Is(err, chain.ErrChainUnreachable):
			writeJSON(w, http.StatusOK, map[string]any{
				"success":       true,
				"verified":      false,
				"confirmations": 0,
				"message":       "Giao dịch chưa được xác nhận",
			})
		default:
			h.logger.Error("verify payment error", zap.Error(err), zap.String("tx_hash", req.TxHash))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"verified":      result.Verified,
		"confirmations": result.Confirmations,
		"transaction":   result.Transaction,
	})
}

// CheckTxStatus возвращает последнее известное состояние транзакции.
func (h *Handler) CheckTxStatus(w http.ResponseWriter, r *http.Request) {
	txHash := chi.URLParam(r, "tx_hash")

	tx, err := h.payments.CheckStatus(r.Context(), txHash)
	if err != nil {
		if errors.Is(err, web3.ErrTxNotFound) {
			writeError(w, http.StatusNotFound, "tx_not_found")
			return
		}
		h.logger.Error("check status error", zap.Error(err), zap.String("tx_hash", txHash))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "transaction": tx})
}

// GetRate возвращает текущий курс USDT и время его последнего обновления.
func (h *Handler) GetRate(w http.ResponseWriter, r *http.Request) {
	rate, lastUpdated := h.payments.RateInfo(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"rate":         rate,
		"currency":     "VND",
		"last_updated": lastUpdated.Format(time.RFC3339),
	})
}

// GetNetworkInfo возвращает конфигурацию сети и текущую цену газа.
func (h *Handler) GetNetworkInfo(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseInt(chi.URLParam(r, "chain_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_chain_id")
		return
	}

	details, err := h.payments.NetworkInfo(r.Context(), chainID)
	if err != nil {
		if errors.Is(err, chain.ErrUnsupportedNetwork) {
			writeError(w, http.StatusBadRequest, "unsupported_network")
			return
		}
		h.logger.Error("network info error", zap.Error(err), zap.Int64("chain_id", chainID))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"network":   details.Network,
		"gas_price": details.GasPrice,
	})
}
