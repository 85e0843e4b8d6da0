package rate

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Fetcher описывает контракт источника котировок, используемый кэшем.
type Fetcher interface {
	FetchRate(ctx context.Context) (decimal.Decimal, error)
}

// Cache хранит единственный курс USDT и обновляет его лениво по истечении интервала.
type Cache struct {
	fetcher         Fetcher
	refreshInterval time.Duration

	mu          sync.Mutex
	rate        decimal.Decimal
	lastUpdated time.Time
	now         func() time.Time
}

// NewCache создаёт кэш курса с начальным значением.
// Начальное значение используется до первого успешного обновления и при недоступности источника.
func NewCache(fetcher Fetcher, refreshInterval time.Duration, initial decimal.Decimal) *Cache {
	return &Cache{
		fetcher:         fetcher,
		refreshInterval: refreshInterval,
		rate:            initial,
		now:             time.Now,
	}
}

// Rate возвращает актуальный курс USDT.
// Если кэш устарел, выполняется один запрос к источнику; при любой ошибке
// возвращается прежнее значение, а отметка времени не сдвигается,
// чтобы следующий вызов повторил попытку.
func (c *Cache) Rate(ctx context.Context) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fetcher == nil || c.now().Sub(c.lastUpdated) < c.refreshInterval {
		return c.rate
	}

	fresh, err := c.fetcher.FetchRate(ctx)
	if err != nil {
		return c.rate
	}

	c.rate = fresh
	c.lastUpdated = c.now()
	return c.rate
}

// LastUpdated возвращает время последнего успешного обновления курса.
func (c *Cache) LastUpdated() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdated
}
