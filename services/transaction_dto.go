package services

import (
	"transactionService/models"

	"github.com/shopspring/decimal"
)

// TransferRequest представляет запрос на перевод между счетами.
// ToAccountID необязателен: если указан, перевод на тот же счет отклоняется до обращения к реестру
type TransferRequest struct {
	FromAccountID   int64               `json:"fromAccountId" validate:"required,gt=0"`
	ToAccountID     int64               `json:"toAccountId,omitempty" validate:"omitempty,gt=0"`
	ToAccountNumber string              `json:"toAccountNumber" validate:"required,numeric,min=10,max=20"`
	Amount          decimal.Decimal     `json:"amount" validate:"required,min=1"`
	TransferMode    models.TransferMode `json:"transferMode" validate:"required,oneof=IMPS NEFT RTGS"`
	Description     string              `json:"description,omitempty" validate:"max=500"`
	Remarks         string              `json:"remarks,omitempty" validate:"max=500"`
	IdempotencyKey  string              `json:"idempotencyKey,omitempty" validate:"max=100"`
}

// DepositRequest представляет запрос на пополнение счета
type DepositRequest struct {
	AccountID      int64           `json:"accountId" validate:"required,gt=0"`
	Amount         decimal.Decimal `json:"amount" validate:"required,gt=0,max=100000"`
	Description    string          `json:"description,omitempty" validate:"max=500"`
	Remarks        string          `json:"remarks,omitempty" validate:"max=500"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty" validate:"max=100"`
}

// WithdrawalRequest представляет запрос на списание со счета
type WithdrawalRequest struct {
	AccountID      int64           `json:"accountId" validate:"required,gt=0"`
	Amount         decimal.Decimal `json:"amount" validate:"required,gt=0"`
	Description    string          `json:"description,omitempty" validate:"max=500"`
	Remarks        string          `json:"remarks,omitempty" validate:"max=500"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty" validate:"max=100"`
}

// RequestMeta - сведения о вызывающем, полученные от слоя аутентификации и из HTTP-запроса
type RequestMeta struct {
	InitiatedBy string
	IPAddress   string
	UserAgent   string
}

// TransactionPage - страница истории транзакций счета
type TransactionPage struct {
	Items         []models.Transaction `json:"content"`
	Page          int                  `json:"page"`
	Size          int                  `json:"size"`
	TotalElements int64                `json:"totalElements"`
	TotalPages    int                  `json:"totalPages"`
}
