// Package service реализует бизнес-логику магазина: жизненный цикл заказа и аккаунты покупателей.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/furnishop-system/internal/model"
	"github.com/mmeshcher/furnishop-system/internal/repository"
)

// ErrEmptyCart возвращается при попытке оформить заказ с пустой корзиной.
var (
	ErrEmptyCart = errors.New("cart is empty")
	// ErrForbidden возвращается, если заказ принадлежит другому покупателю.
	ErrForbidden = errors.New("order belongs to another customer")
	// ErrInvalidState возвращается при операции, недопустимой в текущем статусе заказа.
	ErrInvalidState = errors.New("operation not allowed in current order status")
	// ErrInvalidStatus возвращается для значения статуса вне перечисления.
	ErrInvalidStatus = errors.New("unknown status value")
	// ErrInvalidTransition возвращается для перехода, отсутствующего в графе статусов.
	ErrInvalidTransition = errors.New("status transition not allowed")
	// ErrInvalidCredentials возвращается при неверной паре email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	SaveOrder(ctx context.Context, order *model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus, paymentStatus *model.PaymentStatus) error
	ListOrdersByCustomer(ctx context.Context, customerID int64) ([]model.Order, error)
	CreateCustomer(ctx context.Context, email, fullName string, passwordHash []byte) (int64, error)
	GetCustomerByEmail(ctx context.Context, email string) (*model.Customer, error)
}

// Notifier описывает контракт отправки уведомлений о заказах.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *model.Order) error
}

// Service содержит бизнес-логику магазина.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   *zap.Logger

	freeShippingThreshold int64
	shippingFee           int64
}

// NewService создаёт сервис с указанным репозиторием и отправителем уведомлений.
// Notifier может быть nil: уведомления в этом случае пропускаются.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger, freeShippingThreshold, shippingFee int64) *Service {
	return &Service{
		repo:                  repo,
		notifier:              notifier,
		logger:                logger,
		freeShippingThreshold: freeShippingThreshold,
		shippingFee:           shippingFee,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// ContactInfo содержит контактные данные покупателя при оформлении заказа.
type ContactInfo struct {
	FullName string
	Phone    string
	Email    string
	Address  string
	Ward     string
	District string
	City     string
	Note     string
}

func (c ContactInfo) composedAddress() string {
	return fmt.Sprintf("%s, %s, %s, %s", c.Address, c.Ward, c.District, c.City)
}

// PlaceOrderResult содержит созданный заказ и позиции корзины,
// отброшенные из-за неизвестных товаров.
type PlaceOrderResult struct {
	Order        *model.Order
	DroppedItems []model.CartItem
	Redirect     string
}

const orderIDAttempts = 5

func randomDigits(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	digits := make([]byte, n)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return string(digits)
}

func newOrderID() string {
	return "ORD" + randomDigits(8)
}

// ShippingFee возвращает стоимость доставки для указанной суммы заказа.
func (s *Service) ShippingFee(subtotal int64) int64 {
	if subtotal >= s.freeShippingThreshold {
		return 0
	}
	return s.shippingFee
}

// PlaceOrder оформляет заказ по снимку корзины.
// Суммы считаются по актуальным ценам каталога, а не по данным клиента.
// Позиции с неизвестными товарами не попадают в заказ и возвращаются в DroppedItems.
// Корзину вызывающая сторона очищает только после успешного сохранения.
func (s *Service) PlaceOrder(ctx context.Context, cart []model.CartItem, customerID *int64, contact ContactInfo, method model.PaymentMethod) (*PlaceOrderResult, error) {
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}

	var (
		items    []model.OrderItem
		dropped  []model.CartItem
		subtotal int64
	)

	for _, cartItem := range cart {
		if cartItem.Quantity <= 0 {
			dropped = append(dropped, cartItem)
			continue
		}

		product, err := s.repo.GetProduct(ctx, cartItem.ProductID)
		if err != nil {
			if errors.Is(err, repository.ErrProductNotFound) {
				dropped = append(dropped, cartItem)
				continue
			}
			return nil, fmt.Errorf("resolve product %d: %w", cartItem.ProductID, err)
		}

		itemSubtotal := product.Price * int64(cartItem.Quantity)
		subtotal += itemSubtotal
		items = append(items, model.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  cartItem.Quantity,
			Subtotal:  itemSubtotal,
		})
	}

	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	switch method {
	case model.PaymentMethodCOD, model.PaymentMethodBankTransfer, model.PaymentMethodCreditCard, model.PaymentMethodUSDT:
	default:
		method = model.PaymentMethodCOD
	}

	shippingFee := s.ShippingFee(subtotal)

	order := &model.Order{
		CustomerID:    customerID,
		CustomerName:  contact.FullName,
		Phone:         contact.Phone,
		Email:         contact.Email,
		Address:       contact.composedAddress(),
		Note:          contact.Note,
		PaymentMethod: method,
		Items:         items,
		Subtotal:      subtotal,
		ShippingFee:   shippingFee,
		Total:         subtotal + shippingFee,
		Status:        model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusPending,
		CreatedAt:     time.Now(),
	}

	// Короткий цифровой суффикс может столкнуться с существующим заказом,
	// поэтому идентификатор перегенерируется при конфликте уникальности.
	var err error
	for attempt := 0; attempt < orderIDAttempts; attempt++ {
		order.ID = newOrderID()
		err = s.repo.SaveOrder(ctx, order)
		if err == nil || !errors.Is(err, repository.ErrOrderIDCollision) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	result := &PlaceOrderResult{Order: order, DroppedItems: dropped}

	switch method {
	case model.PaymentMethodUSDT:
		result.Redirect = "usdt_payment"
	case model.PaymentMethodBankTransfer:
		result.Redirect = "bank_transfer"
	case model.PaymentMethodCreditCard:
		result.Redirect = "credit_card"
	default:
		result.Redirect = "order_success"
		s.sendConfirmation(ctx, order)
	}

	return result, nil
}

// sendConfirmation отправляет подтверждение заказа. Ошибка логируется и никогда
// не влияет на результат оформления.
func (s *Service) sendConfirmation(ctx context.Context, order *model.Order) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendOrderConfirmation(ctx, order); err != nil {
		s.logger.Warn("order confirmation not sent",
			zap.String("order_id", order.ID), zap.Error(err))
	}
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// ListOrdersByCustomer возвращает заказы покупателя.
func (s *Service) ListOrdersByCustomer(ctx context.Context, customerID int64) ([]model.Order, error) {
	return s.repo.ListOrdersByCustomer(ctx, customerID)
}

// UpdateStatus переводит заказ в новый статус с проверкой перечисления и графа переходов.
// Повтор текущего статуса допускается и используется для смены только статуса оплаты.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status model.OrderStatus, paymentStatus *model.PaymentStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if paymentStatus != nil && !paymentStatus.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, *paymentStatus)
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if status != order.Status && !order.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, status)
	}

	return s.repo.UpdateOrderStatus(ctx, orderID, status, paymentStatus)
}

// Cancel отменяет заказ по запросу покупателя.
// Отмена доступна только владельцу заказа и только в статусе pending.
func (s *Service) Cancel(ctx context.Context, orderID string, requesterID int64) error {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if order.CustomerID == nil || *order.CustomerID != requesterID {
		return ErrForbidden
	}
	if order.Status != model.OrderStatusPending {
		return ErrInvalidState
	}

	return s.repo.UpdateOrderStatus(ctx, orderID, model.OrderStatusCancelled, nil)
}

// ConfirmCardPayment подтверждает оплату заказа картой и возвращает идентификатор транзакции.
func (s *Service) ConfirmCardPayment(ctx context.Context, orderID string) (string, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}

	if order.Status != model.OrderStatusPending {
		return "", ErrInvalidState
	}

	paid := model.PaymentStatusPaid
	if err := s.repo.UpdateOrderStatus(ctx, orderID, model.OrderStatusConfirmed, &paid); err != nil {
		return "", err
	}

	order.Status = model.OrderStatusConfirmed
	order.PaymentStatus = paid
	s.sendConfirmation(ctx, order)

	return "TXN" + randomDigits(12), nil
}

func hashPassword(email, password string) []byte {
	sum := sha256.Sum256([]byte(email + ":" + password))
	return sum[:]
}

// RegisterCustomer регистрирует нового покупателя.
func (s *Service) RegisterCustomer(ctx context.Context, email, fullName, password string) (int64, error) {
	hashed := hashPassword(email, password)
	id, err := s.repo.CreateCustomer(ctx, email, fullName, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateCustomer проверяет email и пароль покупателя и возвращает его идентификатор.
func (s *Service) AuthenticateCustomer(ctx context.Context, email, password string) (int64, error) {
	c, err := s.repo.GetCustomerByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	hashed := hashPassword(email, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(c.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return c.ID, nil
}
