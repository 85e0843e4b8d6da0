package web3

import (
	"errors"
	"sync"
	"time"

	"github.com/mmeshcher/furnishop-system/internal/model"
)

// ErrDuplicateSubmission возвращается при повторной отправке уже известного хэша транзакции.
var (
	ErrDuplicateSubmission = errors.New("transaction already submitted")
	// ErrTxNotFound возвращается, если транзакция отсутствует в реестре.
	ErrTxNotFound = errors.New("transaction not found")
)

// TxRegistry хранит заявленные on-chain транзакции, ключ — нормализованный хэш.
type TxRegistry struct {
	mu  sync.RWMutex
	txs map[string]model.ChainTransaction
}

// NewTxRegistry создаёт пустой реестр транзакций.
func NewTxRegistry() *TxRegistry {
	return &TxRegistry{
		txs: make(map[string]model.ChainTransaction),
	}
}

// Add сохраняет новую транзакцию. Хэш должен быть уникален в пределах реестра.
func (r *TxRegistry) Add(tx model.ChainTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.txs[tx.TxHash]; exists {
		return ErrDuplicateSubmission
	}
	r.txs[tx.TxHash] = tx
	return nil
}

// Get возвращает копию транзакции по хэшу.
func (r *TxRegistry) Get(txHash string) (model.ChainTransaction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, ok := r.txs[txHash]
	return tx, ok
}

// Update применяет функцию к транзакции под блокировкой реестра.
// Возвращает false, если транзакция не найдена.
func (r *TxRegistry) Update(txHash string, fn func(*model.ChainTransaction)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.txs[txHash]
	if !ok {
		return false
	}
	fn(&tx)
	r.txs[txHash] = tx
	return true
}

// List возвращает копию всех транзакций реестра.
func (r *TxRegistry) List() []model.ChainTransaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]model.ChainTransaction, 0, len(r.txs))
	for _, tx := range r.txs {
		res = append(res, tx)
	}
	return res
}

// SweepOld удаляет подтверждённые транзакции старше retention и помечает
// зависшие в pending дольше abandonAfter как abandoned.
// Возвращает количество удалённых и помеченных транзакций.
func (r *TxRegistry) SweepOld(now time.Time, retention, abandonAfter time.Duration) (removed, abandoned int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for hash, tx := range r.txs {
		switch tx.Status {
		case model.TxStatusConfirmed:
			if tx.ConfirmedAt != nil && now.Sub(*tx.ConfirmedAt) > retention {
				delete(r.txs, hash)
				removed++
			}
		case model.TxStatusPending:
			if now.Sub(tx.SubmittedAt) > abandonAfter {
				tx.Status = model.TxStatusAbandoned
				r.txs[hash] = tx
				abandoned++
			}
		}
	}
	return removed, abandoned
}
