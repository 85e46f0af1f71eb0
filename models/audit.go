package models

import "time"

// AuditAction представляет событие жизненного цикла транзакции
type AuditAction string

const (
	AuditTransactionInitiated AuditAction = "TRANSACTION_INITIATED"
	AuditTransactionCompleted AuditAction = "TRANSACTION_COMPLETED"
	AuditTransactionFailed    AuditAction = "TRANSACTION_FAILED"
	AuditTransactionReversed  AuditAction = "TRANSACTION_REVERSED"
	AuditBalanceUpdated       AuditAction = "BALANCE_UPDATED"
	AuditLimitExceeded        AuditAction = "LIMIT_EXCEEDED"
)

// AuditEntry представляет запись журнала аудита
type AuditEntry struct {
	TransactionID string      `bson:"transactionId" json:"transactionId"`
	Action        AuditAction `bson:"action" json:"action"`
	Description   string      `bson:"description" json:"description"`
	PerformedBy   string      `bson:"performedBy" json:"performedBy"`
	Timestamp     time.Time   `bson:"timestamp" json:"timestamp"`
}
