package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LegKind представляет вид проводки в реестре счетов
type LegKind string

const (
	LegKindDebit        LegKind = "DEBIT"
	LegKindCredit       LegKind = "CREDIT"
	LegKindCompensation LegKind = "COMPENSATION"
	LegKindReversal     LegKind = "REVERSAL"
)

// LegStatus представляет исход вызова реестра счетов
type LegStatus string

const (
	LegStatusPending LegStatus = "PENDING" // Вызов начат, исход неизвестен
	LegStatusSuccess LegStatus = "SUCCESS"
	LegStatusFailed  LegStatus = "FAILED"
)

// TransactionLeg фиксирует одну проводку по одному счету.
// Строка пишется до обращения к реестру и обновляется по его результату,
// что позволяет задаче восстановления разобрать недоведенные переводы.
type TransactionLeg struct {
	ID            uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID string          `gorm:"column:transaction_id;size:50;not null;index" json:"transactionId"`
	Kind          LegKind         `gorm:"column:kind;size:20;not null" json:"kind"`
	AccountID     int64           `gorm:"column:account_id;not null" json:"accountId"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(15,2);not null" json:"amount"`
	LedgerRef     string          `gorm:"column:ledger_ref;size:80;not null" json:"ledgerRef"`
	Status        LegStatus       `gorm:"column:status;size:20;not null" json:"status"`
	Error         string          `gorm:"column:error;size:500" json:"error,omitempty"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (TransactionLeg) TableName() string {
	return "transaction_legs"
}
