package models

import "time"

// IdempotencyStatus представляет состояние ключа идемпотентности
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyCompleted  IdempotencyStatus = "COMPLETED"
)

// IdempotencyRecord связывает ключ клиента с идентификатором транзакции
type IdempotencyRecord struct {
	Key           string            `json:"key"`
	Fingerprint   string            `json:"fingerprint"`
	Status        IdempotencyStatus `json:"status"`
	TransactionID string            `json:"transactionId,omitempty"`
	ExpiresAt     time.Time         `json:"expiresAt"`
}

// Expired сообщает, истек ли срок жизни записи на момент now
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
