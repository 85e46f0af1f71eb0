package services

import (
	"context"
	"sync"
	"time"

	"transactionService/models"
)

// TransactionCache - кэш транзакций для чтения по идентификатору и номеру ссылки.
// Хранит копии, поэтому вызывающая сторона может менять полученную транзакцию
type TransactionCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type cacheEntry struct {
	tx        models.Transaction
	expiresAt time.Time
}

// NewTransactionCache создает новый экземпляр TransactionCache
func NewTransactionCache(ttl time.Duration, maxSize int) *TransactionCache {
	return &TransactionCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

func idKey(transactionID string) string { return "id:" + transactionID }

func refKey(referenceNumber string) string { return "ref:" + referenceNumber }

// GetOrLoad возвращает транзакцию из кэша или загружает ее через load и кэширует
func (c *TransactionCache) GetOrLoad(ctx context.Context, key string, load func(context.Context) (*models.Transaction, error)) (*models.Transaction, error) {
	if tx, ok := c.get(key); ok {
		return tx, nil
	}

	tx, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.Put(tx)

	copied := *tx
	return &copied, nil
}

func (c *TransactionCache) get(key string) (*models.Transaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	tx := entry.tx
	return &tx, true
}

// Put кэширует транзакцию под обоими ключами, заменяя прежнее значение
func (c *TransactionCache) Put(tx *models.Transaction) {
	if tx == nil || c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evict(now)
	}

	entry := cacheEntry{tx: *tx, expiresAt: now.Add(c.ttl)}
	c.entries[idKey(tx.TransactionID)] = entry
	if tx.ReferenceNumber != "" {
		c.entries[refKey(tx.ReferenceNumber)] = entry
	}
}

// evict удаляет истекшие записи, а если их нет - очищает кэш целиком. Вызывается под mu
func (c *TransactionCache) evict(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) >= c.maxSize {
		c.entries = make(map[string]cacheEntry)
	}
}

// Len возвращает число записей в кэше
func (c *TransactionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
