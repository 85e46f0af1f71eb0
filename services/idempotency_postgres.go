package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transactionService/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// reserveAttempts ограничивает повторы, если чужой ключ исчез между вставкой и чтением
const reserveAttempts = 3

// PostgresIdempotencyStore хранит ключи идемпотентности в общей таблице Postgres,
// что позволяет нескольким экземплярам сервиса видеть одни и те же ключи
type PostgresIdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresIdempotencyStore создает новый экземпляр PostgresIdempotencyStore
func NewPostgresIdempotencyStore(pool *pgxpool.Pool) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{pool: pool, now: time.Now}
}

func scanRecord(row pgx.Row) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	var txID *string
	if err := row.Scan(&rec.Key, &rec.Fingerprint, &rec.Status, &txID, &rec.ExpiresAt); err != nil {
		return nil, err
	}
	if txID != nil {
		rec.TransactionID = *txID
	}
	return &rec, nil
}

// Lookup возвращает действующую запись по ключу
func (s *PostgresIdempotencyStore) Lookup(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT key, fingerprint, status, transaction_id, expires_at
		   FROM idempotency_keys WHERE key = $1 AND expires_at > $2`,
		key, s.now(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIdempotencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ключа идемпотентности: %w", err)
	}
	return rec, nil
}

// Reserve занимает ключ одной вставкой строки IN_PROGRESS. Истекшая запись
// перезаписывается в том же операторе; действующая остается, и тогда
// возвращается она с created = false
func (s *PostgresIdempotencyStore) Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (*models.IdempotencyRecord, bool, error) {
	for attempt := 1; ; attempt++ {
		now := s.now()
		rec := &models.IdempotencyRecord{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      models.IdempotencyInProgress,
			ExpiresAt:   now.Add(ttl),
		}

		var reserved string
		err := s.pool.QueryRow(ctx,
			`INSERT INTO idempotency_keys (key, fingerprint, status, expires_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (key) DO UPDATE
			   SET fingerprint = EXCLUDED.fingerprint, status = EXCLUDED.status,
			       transaction_id = NULL, expires_at = EXCLUDED.expires_at
			 WHERE idempotency_keys.expires_at <= $5
			 RETURNING key`,
			rec.Key, rec.Fingerprint, rec.Status, rec.ExpiresAt, now,
		).Scan(&reserved)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("ошибка резервирования ключа: %w", err)
		}

		existing, err := scanRecord(s.pool.QueryRow(ctx,
			`SELECT key, fingerprint, status, transaction_id, expires_at
			   FROM idempotency_keys WHERE key = $1`, key,
		))
		switch {
		case err == nil:
			return existing, false, nil
		case errors.Is(err, pgx.ErrNoRows) && attempt < reserveAttempts:
			// Ключ освобожден между вставкой и чтением
			continue
		default:
			return nil, false, fmt.Errorf("ошибка чтения ключа идемпотентности: %w", err)
		}
	}
}

// Resolve связывает ключ с итоговой транзакцией и продлевает срок жизни
func (s *PostgresIdempotencyStore) Resolve(ctx context.Context, key, transactionID string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (key, fingerprint, status, transaction_id, expires_at)
		 VALUES ($1, '', $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE
		   SET status = EXCLUDED.status, transaction_id = EXCLUDED.transaction_id, expires_at = EXCLUDED.expires_at`,
		key, models.IdempotencyCompleted, transactionID, s.now().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления ключа идемпотентности: %w", err)
	}
	return nil
}

// Release освобождает ключ, если он еще не связан с транзакцией
func (s *PostgresIdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM idempotency_keys WHERE key = $1 AND status = $2",
		key, models.IdempotencyInProgress,
	)
	if err != nil {
		return fmt.Errorf("ошибка освобождения ключа идемпотентности: %w", err)
	}
	return nil
}

// PurgeExpired удаляет истекшие записи и возвращает их количество
func (s *PostgresIdempotencyStore) PurgeExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM idempotency_keys WHERE expires_at <= $1", s.now())
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки ключей идемпотентности: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
