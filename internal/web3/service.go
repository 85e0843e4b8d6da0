package web3

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/furnishop-system/internal/chain"
	"github.com/mmeshcher/furnishop-system/internal/model"
	"github.com/mmeshcher/furnishop-system/internal/repository"
	"github.com/mmeshcher/furnishop-system/internal/validation"
)

// ErrInvalidHashFormat возвращается при неверном формате хэша транзакции.
var (
	ErrInvalidHashFormat = errors.New("invalid transaction hash format")
	// ErrInvalidAddress возвращается при неверном формате адреса отправителя.
	ErrInvalidAddress = errors.New("invalid sender address format")
	// ErrRateUnavailable возвращается, когда курс USDT неизвестен или нулевой.
	ErrRateUnavailable = errors.New("usdt rate unavailable")
)

// OrderStore описывает контракт хранилища заказов, используемый платёжным сервисом.
type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus, paymentStatus *model.PaymentStatus) error
}

// RateSource описывает контракт источника курса USDT.
type RateSource interface {
	Rate(ctx context.Context) decimal.Decimal
	LastUpdated() time.Time
}

// ChainClient описывает контракт проверки транзакций в блокчейн-сетях.
type ChainClient interface {
	Network(chainID int64) (model.Network, bool)
	Networks() map[int64]model.Network
	TransactionReceipt(ctx context.Context, chainID int64, txHash string) (*chain.Receipt, error)
	TransactionByHash(ctx context.Context, chainID int64, txHash string) (*chain.Transaction, error)
	BlockNumber(ctx context.Context, chainID int64) (uint64, error)
	GasPrice(ctx context.Context, chainID int64) (uint64, error)
}

const lockStripes = 32

// Service управляет платёжными сессиями и проверкой USDT-транзакций.
type Service struct {
	store    OrderStore
	chain    ChainClient
	rates    RateSource
	sessions *SessionRegistry
	registry *TxRegistry
	logger   *zap.Logger

	wallet       string
	retention    time.Duration
	abandonAfter time.Duration

	// locks сериализует проверки одного хэша, чтобы два конкурентных
	// вызова не гонялись за переход статуса.
	locks [lockStripes]sync.Mutex
}

// Options содержит параметры создания платёжного сервиса.
type Options struct {
	RecipientWallet string
	SessionTimeout  time.Duration
	TxRetention     time.Duration
	TxAbandonAfter  time.Duration
}

// NewService создаёт платёжный сервис.
func NewService(store OrderStore, chainClient ChainClient, rates RateSource, logger *zap.Logger, opts Options) *Service {
	return &Service{
		store:        store,
		chain:        chainClient,
		rates:        rates,
		sessions:     NewSessionRegistry(opts.SessionTimeout),
		registry:     NewTxRegistry(),
		logger:       logger,
		wallet:       validation.NormalizeHex(opts.RecipientWallet),
		retention:    opts.TxRetention,
		abandonAfter: opts.TxAbandonAfter,
	}
}

func (s *Service) lockFor(txHash string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(txHash))
	return &s.locks[h.Sum32()%lockStripes]
}

// PaymentInfo описывает данные для страницы оплаты USDT.
type PaymentInfo struct {
	OrderID        string
	AmountVND      int64
	AmountUSDT     decimal.Decimal
	Rate           decimal.Decimal
	Wallet         string
	Networks       map[int64]string
	Session        model.PaymentSession
	TimeoutSeconds int
}

// GetPaymentInfo рассчитывает сумму в USDT по текущему курсу и создаёт платёжную сессию.
// Для заказа, отсутствующего в хранилище, используется сумма, переданная клиентом.
func (s *Service) GetPaymentInfo(ctx context.Context, orderID string, fallbackAmount int64) (*PaymentInfo, error) {
	amount := fallbackAmount
	order, err := s.store.GetOrder(ctx, orderID)
	switch {
	case err == nil:
		amount = order.Total
	case errors.Is(err, repository.ErrOrderNotFound):
		if amount <= 0 {
			return nil, err
		}
	default:
		return nil, err
	}

	currentRate := s.rates.Rate(ctx)
	if currentRate.LessThanOrEqual(decimal.Zero) {
		return nil, ErrRateUnavailable
	}
	amountUSDT := decimal.NewFromInt(amount).Div(currentRate).Round(2)

	session := s.sessions.Create(orderID, amount, amountUSDT)

	networks := make(map[int64]string, len(s.chain.Networks()))
	for id, n := range s.chain.Networks() {
		networks[id] = n.Name
	}

	return &PaymentInfo{
		OrderID:        orderID,
		AmountVND:      amount,
		AmountUSDT:     amountUSDT,
		Rate:           currentRate,
		Wallet:         s.wallet,
		Networks:       networks,
		Session:        session,
		TimeoutSeconds: int(s.sessions.timeout.Seconds()),
	}, nil
}

// SweepExpiredSessions удаляет платёжные сессии с истёкшим сроком действия.
func (s *Service) SweepExpiredSessions() int {
	return s.sessions.SweepExpired()
}

// SubmitRequest содержит данные заявленного платежа.
type SubmitRequest struct {
	OrderID     string
	TxHash      string
	ChainID     int64
	FromAddress string
	AmountUSDT  decimal.Decimal
}

// Submit регистрирует заявленную on-chain транзакцию и запускает первичную проверку.
// Возвращает сохранённую запись и ссылку на обозреватель сети.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*model.ChainTransaction, string, error) {
	network, ok := s.chain.Network(req.ChainID)
	if !ok {
		return nil, "", fmt.Errorf("%w: %d", chain.ErrUnsupportedNetwork, req.ChainID)
	}

	if !validation.IsValidTxHash(req.TxHash) {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidHashFormat, req.TxHash)
	}
	if !validation.IsValidAddress(req.FromAddress) {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidAddress, req.FromAddress)
	}

	if _, err := s.store.GetOrder(ctx, req.OrderID); err != nil {
		return nil, "", err
	}

	tx := model.ChainTransaction{
		TxHash:      validation.NormalizeHex(req.TxHash),
		OrderID:     req.OrderID,
		ChainID:     req.ChainID,
		NetworkName: network.Name,
		FromAddress: validation.NormalizeHex(req.FromAddress),
		ToAddress:   s.wallet,
		AmountUSDT:  req.AmountUSDT,
		SubmittedAt: time.Now(),
		Status:      model.TxStatusPending,
	}

	if err := s.registry.Add(tx); err != nil {
		return nil, "", err
	}

	s.logger.Info("usdt payment submitted",
		zap.String("order_id", req.OrderID),
		zap.String("tx_hash", tx.TxHash),
		zap.String("network", network.Name),
		zap.String("amount_usdt", req.AmountUSDT.String()),
	)

	// Первичная проверка сразу после приёма: ошибка не фатальна,
	// транзакция остаётся в pending до следующей проверки.
	if _, err := s.verifyOnChain(ctx, tx.TxHash); err != nil {
		s.logger.Debug("initial verification deferred",
			zap.String("tx_hash", tx.TxHash), zap.Error(err))
	}

	stored, _ := s.registry.Get(tx.TxHash)
	explorerURL := fmt.Sprintf("%s/tx/%s", strings.TrimRight(network.ExplorerURL, "/"), tx.TxHash)
	return &stored, explorerURL, nil
}

// VerifyResult содержит результат проверки транзакции в сети.
type VerifyResult struct {
	Verified      bool
	Confirmations int64
	Transaction   model.ChainTransaction
}

// Verify проверяет заявленную транзакцию в её сети.
func (s *Service) Verify(ctx context.Context, txHash string, chainID int64) (*VerifyResult, error) {
	txHash = validation.NormalizeHex(txHash)

	tx, ok := s.registry.Get(txHash)
	if !ok {
		return nil, ErrTxNotFound
	}
	if chainID != 0 && chainID != tx.ChainID {
		return nil, fmt.Errorf("%w: transaction belongs to chain %d", chain.ErrUnsupportedNetwork, tx.ChainID)
	}

	return s.verifyOnChain(ctx, txHash)
}

// verifyOnChain выполняет один цикл проверки и обновляет реестр и заказ.
// Проверки одного хэша сериализуются, статус confirmed назад не откатывается.
func (s *Service) verifyOnChain(ctx context.Context, txHash string) (*VerifyResult, error) {
	lock := s.lockFor(txHash)
	lock.Lock()
	defer lock.Unlock()

	tx, ok := s.registry.Get(txHash)
	if !ok {
		return nil, ErrTxNotFound
	}

	if tx.Status == model.TxStatusConfirmed {
		return &VerifyResult{Verified: true, Confirmations: tx.Confirmations, Transaction: tx}, nil
	}

	receipt, err := s.chain.TransactionReceipt(ctx, tx.ChainID, txHash)
	if err != nil {
		return nil, err
	}

	// Статус чека 0 означает revert: такая транзакция не станет валидной.
	if receipt.Status != 1 {
		return &VerifyResult{Verified: false, Transaction: tx}, nil
	}

	onchainTx, err := s.chain.TransactionByHash(ctx, tx.ChainID, txHash)
	if err != nil {
		return nil, err
	}

	network, _ := s.chain.Network(tx.ChainID)
	// Перевод USDT адресуется контракту токена, нативный перевод — кошельку магазина.
	if onchainTx.To != s.wallet && onchainTx.To != validation.NormalizeHex(network.USDTAddress) {
		s.logger.Warn("transaction recipient mismatch",
			zap.String("tx_hash", txHash), zap.String("to", onchainTx.To))
		return &VerifyResult{Verified: false, Transaction: tx}, nil
	}

	head, err := s.chain.BlockNumber(ctx, tx.ChainID)
	if err != nil {
		return nil, err
	}

	var confirmations int64
	if head >= receipt.BlockNumber {
		confirmations = int64(head - receipt.BlockNumber)
	}

	confirmed := confirmations >= network.MinConfirmations

	s.registry.Update(txHash, func(t *model.ChainTransaction) {
		t.Confirmations = confirmations
		t.Receipt = &model.TxReceipt{
			BlockNumber: receipt.BlockNumber,
			GasUsed:     receipt.GasUsed,
			Status:      receipt.Status,
		}
		if confirmed {
			now := time.Now()
			t.Status = model.TxStatusConfirmed
			t.Confirmed = true
			t.ConfirmedAt = &now
		}
	})

	if confirmed {
		s.markOrderPaid(ctx, tx.OrderID, txHash)
	}

	updated, _ := s.registry.Get(txHash)
	return &VerifyResult{Verified: true, Confirmations: confirmations, Transaction: updated}, nil
}

// markOrderPaid переводит заказ в confirmed/paid после подтверждения платежа.
// Перевод выполняется только из статуса, допускающего confirmed: отменённый
// или уже отгруженный заказ не перезаписывается, транзакция остаётся
// подтверждённой в реестре для ручной сверки.
// Ошибка хранилища логируется: подтверждение в реестре не откатывается,
// заказ будет переведён повторной проверкой или вручную.
func (s *Service) markOrderPaid(ctx context.Context, orderID, txHash string) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		s.logger.Error("load order after payment confirmation",
			zap.String("order_id", orderID), zap.String("tx_hash", txHash), zap.Error(err))
		return
	}

	if !order.Status.CanTransitionTo(model.OrderStatusConfirmed) {
		s.logger.Warn("confirmed payment for order in non-payable status",
			zap.String("order_id", orderID),
			zap.String("tx_hash", txHash),
			zap.String("status", string(order.Status)))
		return
	}

	paid := model.PaymentStatusPaid
	if err := s.store.UpdateOrderStatus(ctx, orderID, model.OrderStatusConfirmed, &paid); err != nil {
		s.logger.Error("update order after payment confirmation",
			zap.String("order_id", orderID), zap.String("tx_hash", txHash), zap.Error(err))
		return
	}
	s.logger.Info("payment confirmed",
		zap.String("order_id", orderID), zap.String("tx_hash", txHash))
}

// CheckStatus возвращает последнее известное состояние транзакции.
// Для неподтверждённой транзакции попутно выполняется проверка в сети;
// её ошибки игнорируются, возвращается текущее состояние.
func (s *Service) CheckStatus(ctx context.Context, txHash string) (*model.ChainTransaction, error) {
	txHash = validation.NormalizeHex(txHash)

	tx, ok := s.registry.Get(txHash)
	if !ok {
		return nil, ErrTxNotFound
	}

	if tx.Status == model.TxStatusConfirmed {
		return &tx, nil
	}

	if _, err := s.verifyOnChain(ctx, txHash); err != nil {
		s.logger.Debug("opportunistic verification failed",
			zap.String("tx_hash", txHash), zap.Error(err))
	}

	latest, _ := s.registry.Get(txHash)
	return &latest, nil
}

// ConfirmFromWebhook помечает известную транзакцию подтверждённой по уведомлению
// внешнего сервиса мониторинга, без обращения к RPC-узлу.
func (s *Service) ConfirmFromWebhook(ctx context.Context, txHash string) error {
	txHash = validation.NormalizeHex(txHash)

	lock := s.lockFor(txHash)
	lock.Lock()
	defer lock.Unlock()

	tx, ok := s.registry.Get(txHash)
	if !ok {
		return ErrTxNotFound
	}

	if tx.Status == model.TxStatusConfirmed {
		return nil
	}

	network, _ := s.chain.Network(tx.ChainID)

	s.registry.Update(txHash, func(t *model.ChainTransaction) {
		now := time.Now()
		t.Status = model.TxStatusConfirmed
		t.Confirmed = true
		t.WebhookReceived = true
		t.ConfirmedAt = &now
		if t.Confirmations < network.MinConfirmations {
			t.Confirmations = network.MinConfirmations
		}
	})

	s.markOrderPaid(ctx, tx.OrderID, txHash)
	return nil
}

// NetworkDetails описывает конфигурацию сети и текущую цену газа.
type NetworkDetails struct {
	Network  model.Network
	GasPrice uint64
}

// NetworkInfo возвращает конфигурацию сети и актуальную цену газа.
// При недоступности RPC-узла цена газа возвращается нулевой.
func (s *Service) NetworkInfo(ctx context.Context, chainID int64) (*NetworkDetails, error) {
	network, ok := s.chain.Network(chainID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", chain.ErrUnsupportedNetwork, chainID)
	}

	gasPrice, err := s.chain.GasPrice(ctx, chainID)
	if err != nil {
		s.logger.Debug("gas price unavailable", zap.Int64("chain_id", chainID), zap.Error(err))
		gasPrice = 0
	}

	return &NetworkDetails{Network: network, GasPrice: gasPrice}, nil
}

// RateInfo возвращает текущий курс USDT и время его последнего обновления.
func (s *Service) RateInfo(ctx context.Context) (decimal.Decimal, time.Time) {
	return s.rates.Rate(ctx), s.rates.LastUpdated()
}

// SweepOldTransactions выполняет очистку реестра транзакций.
func (s *Service) SweepOldTransactions() {
	removed, abandoned := s.registry.SweepOld(time.Now(), s.retention, s.abandonAfter)
	if removed > 0 || abandoned > 0 {
		s.logger.Info("transaction registry sweep",
			zap.Int("removed", removed), zap.Int("abandoned", abandoned))
	}
}

// StartBackground выполняет фоновые задачи до отмены контекста:
// периодическую проверку pending-транзакций и очистку реестров.
func (s *Service) StartBackground(ctx context.Context) {
	verifyTicker := time.NewTicker(30 * time.Second)
	sweepTicker := time.NewTicker(1 * time.Minute)
	defer verifyTicker.Stop()
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-verifyTicker.C:
			s.verifyPendingBatch(ctx)
		case <-sweepTicker.C:
			s.SweepExpiredSessions()
			s.SweepOldTransactions()
		}
	}
}

// verifyPendingBatch перепроверяет все pending-транзакции.
// Временная недоступность RPC-узла ретраится с фибоначчиевой паузой.
func (s *Service) verifyPendingBatch(ctx context.Context) {
	for _, tx := range s.registry.List() {
		if tx.Status != model.TxStatusPending {
			continue
		}

		txHash := tx.TxHash
		backoff := retry.WithMaxRetries(2, retry.NewFibonacci(500*time.Millisecond))

		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			_, err := s.verifyOnChain(ctx, txHash)
			if errors.Is(err, chain.ErrChainUnreachable) {
				return retry.RetryableError(err)
			}
			return err
		})
		if err != nil && !errors.Is(err, chain.ErrReceiptNotFound) {
			s.logger.Debug("pending transaction verification failed",
				zap.String("tx_hash", txHash), zap.Error(err))
		}
	}
}
