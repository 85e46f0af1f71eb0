package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType представляет тип события для внешних потребителей
type EventType string

const (
	EventTransactionCompleted EventType = "transaction-completed"
	EventTransactionFailed    EventType = "transaction-failed"
	EventTransactionReversed  EventType = "transaction-reversed"
)

// TransactionEvent представляет сообщение о завершении, ошибке или сторно транзакции.
// Ключ сообщения - идентификатор транзакции.
type TransactionEvent struct {
	EventID         string          `json:"eventId"`
	Type            EventType       `json:"type"`
	TransactionID   string          `json:"transactionId"`
	FromAccountID   int64           `json:"fromAccountId,omitempty"`
	ToAccountID     int64           `json:"toAccountId,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionType TransactionType `json:"transactionType"`
	ReferenceNumber string          `json:"referenceNumber,omitempty"`
	FailureReason   string          `json:"failureReason,omitempty"`
	OccurredAt      time.Time       `json:"occurredAt"`
	Transaction     *Transaction    `json:"transaction,omitempty"`
}
