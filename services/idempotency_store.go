package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"transactionService/models"
	"transactionService/utils"

	bolt "github.com/boltdb/bolt"
)

// ErrIdempotencyNotFound возвращается, если ключа нет или срок его жизни истек
var ErrIdempotencyNotFound = errors.New("ключ идемпотентности не найден")

// IdempotencyStore связывает ключ клиента с итоговой транзакцией на ограниченное время.
// Reserve атомарно занимает ключ в статусе IN_PROGRESS до любых удаленных вызовов;
// если ключ уже занят и не истек, возвращается существующая запись и false
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (*models.IdempotencyRecord, bool, error)
	Resolve(ctx context.Context, key, transactionID string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// RequestFingerprint возвращает отпечаток полезной нагрузки запроса
func RequestFingerprint(parts ...string) string {
	return utils.Fingerprint(parts...)
}

const idempotencyBucket = "idempotency_keys"

// BoltIdempotencyStore хранит ключи идемпотентности во встроенной базе BoltDB.
// Подходит для одного экземпляра сервиса
type BoltIdempotencyStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltIdempotencyStore открывает (или создает) файл базы и bucket ключей
func NewBoltIdempotencyStore(path string) (*BoltIdempotencyStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия хранилища ключей: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(idempotencyBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка создания bucket ключей: %w", err)
	}

	return &BoltIdempotencyStore{db: db, now: time.Now}, nil
}

// Close освобождает файл базы
func (s *BoltIdempotencyStore) Close() error {
	return s.db.Close()
}

func readRecord(b *bolt.Bucket, key string) (*models.IdempotencyRecord, error) {
	v := b.Get([]byte(key))
	if v == nil {
		return nil, nil
	}
	var rec models.IdempotencyRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func writeRecord(b *bolt.Bucket, rec *models.IdempotencyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.Key), data)
}

// Lookup возвращает действующую запись по ключу
func (s *BoltIdempotencyStore) Lookup(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var rec *models.IdempotencyRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = readRecord(tx.Bucket([]byte(idempotencyBucket)), key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Expired(s.now()) {
		return nil, ErrIdempotencyNotFound
	}
	return rec, nil
}

// Reserve занимает ключ. Транзакции записи BoltDB выполняются последовательно,
// поэтому проверка и запись атомарны
func (s *BoltIdempotencyStore) Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (*models.IdempotencyRecord, bool, error) {
	var result *models.IdempotencyRecord
	created := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(idempotencyBucket))
		now := s.now()

		existing, err := readRecord(b, key)
		if err != nil {
			return err
		}
		if existing != nil && !existing.Expired(now) {
			result = existing
			return nil
		}

		result = &models.IdempotencyRecord{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      models.IdempotencyInProgress,
			ExpiresAt:   now.Add(ttl),
		}
		created = true
		return writeRecord(b, result)
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// Resolve связывает ключ с итоговой транзакцией и продлевает срок жизни
func (s *BoltIdempotencyStore) Resolve(ctx context.Context, key, transactionID string, ttl time.Duration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(idempotencyBucket))
		rec, err := readRecord(b, key)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = &models.IdempotencyRecord{Key: key}
		}
		rec.Status = models.IdempotencyCompleted
		rec.TransactionID = transactionID
		rec.ExpiresAt = s.now().Add(ttl)
		return writeRecord(b, rec)
	})
}

// Release освобождает ключ, если он еще не связан с транзакцией
func (s *BoltIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(idempotencyBucket))
		rec, err := readRecord(b, key)
		if err != nil || rec == nil {
			return err
		}
		if rec.Status != models.IdempotencyInProgress {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// PurgeExpired удаляет истекшие записи и возвращает их количество
func (s *BoltIdempotencyStore) PurgeExpired(ctx context.Context) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(idempotencyBucket))
		now := s.now()
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec models.IdempotencyRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Expired(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}
