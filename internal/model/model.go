// Package model содержит доменные сущности магазина мебели.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipping  OrderStatus = "shipping"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderTransitions задаёт граф допустимых переходов статуса заказа.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipping},
	OrderStatusShipping:  {OrderStatusCompleted},
}

// IsValid сообщает, входит ли значение в перечисление статусов заказа.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipping,
		OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal сообщает, является ли статус конечным.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransitionTo проверяет допустимость перехода из текущего статуса в указанный.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentStatus описывает статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// IsValid сообщает, входит ли значение в перечисление статусов оплаты.
func (s PaymentStatus) IsValid() bool {
	return s == PaymentStatusPending || s == PaymentStatusPaid
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCOD          PaymentMethod = "cod"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCreditCard   PaymentMethod = "credit_card"
	PaymentMethodUSDT         PaymentMethod = "usdt"
)

// OrderItem описывает позицию заказа со снимком названия и цены на момент оформления.
type OrderItem struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

// Order описывает оформленный заказ с зафиксированными ценами.
type Order struct {
	ID            string        `json:"order_id"`
	CustomerID    *int64        `json:"customer_id,omitempty"`
	CustomerName  string        `json:"customer_name"`
	Phone         string        `json:"phone"`
	Email         string        `json:"email"`
	Address       string        `json:"address"`
	Note          string        `json:"note,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Items         []OrderItem   `json:"items"`
	Subtotal      int64         `json:"subtotal"`
	ShippingFee   int64         `json:"shipping_fee"`
	Total         int64         `json:"total"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// CartItem описывает позицию корзины, переданную клиентом при оформлении заказа.
type CartItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// Product описывает товар каталога.
type Product struct {
	ID    int64
	Name  string
	Price int64
	Stock int
}

// Customer представляет зарегистрированного покупателя.
type Customer struct {
	ID           int64
	Email        string
	FullName     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// PaymentSession связывает заказ с рассчитанной суммой оплаты в USDT и сроком действия.
type PaymentSession struct {
	PaymentID  string          `json:"payment_id"`
	OrderID    string          `json:"order_id"`
	AmountVND  int64           `json:"amount_vnd"`
	AmountUSDT decimal.Decimal `json:"amount_usdt"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
	Status     string          `json:"status"`
}

// TxStatus описывает статус заявленной on-chain транзакции.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	// TxStatusAbandoned присваивается транзакциям, не подтверждённым за предельный срок хранения.
	TxStatusAbandoned TxStatus = "abandoned"
)

// TxReceipt содержит данные чека транзакции, полученные от RPC-узла.
type TxReceipt struct {
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Status      uint64 `json:"receipt_status"`
}

// ChainTransaction описывает заявленный on-chain платёж, ожидающий подтверждения.
type ChainTransaction struct {
	TxHash          string          `json:"tx_hash"`
	OrderID         string          `json:"order_id"`
	ChainID         int64           `json:"chain_id"`
	NetworkName     string          `json:"network_name"`
	FromAddress     string          `json:"from_address"`
	ToAddress       string          `json:"to_address"`
	AmountUSDT      decimal.Decimal `json:"amount_usdt"`
	SubmittedAt     time.Time       `json:"timestamp"`
	Status          TxStatus        `json:"status"`
	Confirmed       bool            `json:"confirmed"`
	Confirmations   int64           `json:"confirmations"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	WebhookReceived bool            `json:"webhook_received,omitempty"`
	Receipt         *TxReceipt      `json:"receipt,omitempty"`
}

// Network описывает конфигурацию поддерживаемой блокчейн-сети.
type Network struct {
	ChainID          int64  `json:"chain_id"`
	Name             string `json:"name"`
	RPCURL           string `json:"rpc"`
	USDTAddress      string `json:"usdt_address"`
	ExplorerURL      string `json:"explorer"`
	MinConfirmations int64  `json:"min_confirmations"`
	Testnet          bool   `json:"testnet"`
}
