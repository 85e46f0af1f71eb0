package models

import "github.com/shopspring/decimal"

// AccountBalance представляет снимок счета, полученный из реестра счетов.
// Снимок не кэшируется и запрашивается заново перед каждой проверкой.
type AccountBalance struct {
	AccountID     int64           `json:"accountId"`
	AccountNumber string          `json:"accountNumber"`
	Balance       decimal.Decimal `json:"balance"`
	AccountStatus string          `json:"accountStatus"`
	Currency      string          `json:"currency"`
}
