package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType представляет тип транзакции
type TransactionType string

const (
	TransactionTypeTransfer   TransactionType = "TRANSFER"
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
)

// TransferMode представляет платежную систему перевода
type TransferMode string

const (
	TransferModeIMPS TransferMode = "IMPS" // Мгновенный перевод
	TransferModeNEFT TransferMode = "NEFT" // Пакетный перевод
	TransferModeRTGS TransferMode = "RTGS" // Крупные суммы в реальном времени
)

// Valid проверяет, что режим перевода входит в закрытый список
func (m TransferMode) Valid() bool {
	switch m {
	case TransferModeIMPS, TransferModeNEFT, TransferModeRTGS:
		return true
	}
	return false
}

// TransactionStatus представляет статус транзакции
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "PENDING"  // Транзакция создана
	TransactionStatusSuccess  TransactionStatus = "SUCCESS"  // Транзакция проведена
	TransactionStatusFailed   TransactionStatus = "FAILED"   // Транзакция не проведена
	TransactionStatusReversed TransactionStatus = "REVERSED" // Транзакция сторнирована
)

// Transaction представляет запись о движении средств.
// Нулевой FromAccountID означает отсутствие счета-источника (пополнение),
// нулевой ToAccountID означает отсутствие счета-получателя (списание).
type Transaction struct {
	ID                uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID     string            `gorm:"column:transaction_id;size:50;not null;uniqueIndex" json:"transactionId"`
	ReferenceNumber   string            `gorm:"column:reference_number;size:50;uniqueIndex" json:"referenceNumber"`
	Type              TransactionType   `gorm:"column:transaction_type;size:30;not null" json:"transactionType"`
	TransferMode      TransferMode      `gorm:"column:transfer_mode;size:20" json:"transferMode,omitempty"`
	FromAccountID     int64             `gorm:"column:from_account_id;index" json:"fromAccountId,omitempty"`
	FromAccountNumber string            `gorm:"column:from_account_number;size:20" json:"fromAccountNumber,omitempty"`
	ToAccountID       int64             `gorm:"column:to_account_id;index" json:"toAccountId,omitempty"`
	ToAccountNumber   string            `gorm:"column:to_account_number;size:20" json:"toAccountNumber,omitempty"`
	Amount            decimal.Decimal   `gorm:"column:amount;type:numeric(15,2);not null" json:"amount"`
	ChargesAmount     decimal.Decimal   `gorm:"column:charges_amount;type:numeric(10,2);not null;default:0" json:"chargesAmount"`
	TaxAmount         decimal.Decimal   `gorm:"column:tax_amount;type:numeric(10,2);not null;default:0" json:"taxAmount"`
	TotalAmount       decimal.Decimal   `gorm:"column:total_amount;type:numeric(15,2);not null" json:"totalAmount"`
	Status            TransactionStatus `gorm:"column:status;size:20;not null;index" json:"status"`
	Description       string            `gorm:"column:description;size:500" json:"description,omitempty"`
	Remarks           string            `gorm:"column:remarks;size:500" json:"remarks,omitempty"`
	FailureReason     string            `gorm:"column:failure_reason;size:500" json:"failureReason,omitempty"`
	IdempotencyKey    string            `gorm:"column:idempotency_key;size:100;index" json:"-"`
	InitiatedBy       string            `gorm:"column:initiated_by;size:100;not null" json:"initiatedBy"`
	IPAddress         string            `gorm:"column:ip_address;size:45" json:"-"`
	UserAgent         string            `gorm:"column:user_agent;size:500" json:"-"`
	CreatedDate       time.Time         `gorm:"column:created_date;not null;index" json:"createdDate"`
	ModifiedDate      time.Time         `gorm:"column:modified_date;not null" json:"-"`
	CompletedDate     *time.Time        `gorm:"column:completed_date" json:"completedDate,omitempty"`
	ReversedDate      *time.Time        `gorm:"column:reversed_date" json:"reversedDate,omitempty"`
	ReversalReason    string            `gorm:"column:reversal_reason;size:500" json:"reversalReason,omitempty"`
	Version           int64             `gorm:"column:version;not null;default:0" json:"-"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// IsTerminal сообщает, завершен ли жизненный цикл транзакции
func (t *Transaction) IsTerminal() bool {
	return t.Status != TransactionStatusPending
}
