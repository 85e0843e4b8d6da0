// Package web3 реализует приём и проверку USDT-платежей за заказы.
package web3

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/furnishop-system/internal/model"
)

// SessionRegistry хранит краткоживущие платёжные сессии в памяти.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]model.PaymentSession
	timeout  time.Duration
	now      func() time.Time
}

// NewSessionRegistry создаёт реестр платёжных сессий с указанным сроком действия.
func NewSessionRegistry(timeout time.Duration) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]model.PaymentSession),
		timeout:  timeout,
		now:      time.Now,
	}
}

func newPaymentID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand не возвращает ошибок на поддерживаемых платформах
		panic(err)
	}
	return "pay_" + base64.RawURLEncoding.EncodeToString(buf)
}

// Create создаёт новую платёжную сессию для заказа.
// Повторные вызовы для одного заказа создают отдельные сессии:
// клиент использует последнюю выданную.
func (r *SessionRegistry) Create(orderID string, amountVND int64, amountUSDT decimal.Decimal) model.PaymentSession {
	now := r.now()
	session := model.PaymentSession{
		PaymentID:  newPaymentID(),
		OrderID:    orderID,
		AmountVND:  amountVND,
		AmountUSDT: amountUSDT,
		CreatedAt:  now,
		ExpiresAt:  now.Add(r.timeout),
		Status:     "pending",
	}

	r.mu.Lock()
	r.sessions[session.PaymentID] = session
	r.mu.Unlock()

	return session
}

// Get возвращает действующую сессию по идентификатору.
// Сессия с истёкшим сроком считается отсутствующей.
func (r *SessionRegistry) Get(paymentID string) (model.PaymentSession, bool) {
	r.mu.RLock()
	session, ok := r.sessions[paymentID]
	r.mu.RUnlock()

	if !ok || r.now().After(session.ExpiresAt) {
		return model.PaymentSession{}, false
	}
	return session, true
}

// SweepExpired удаляет сессии с истёкшим сроком действия и возвращает их количество.
func (r *SessionRegistry) SweepExpired() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, session := range r.sessions {
		if now.After(session.ExpiresAt) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Len возвращает количество сессий в реестре, включая истёкшие до очистки.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
