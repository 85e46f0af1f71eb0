package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"transactionService/config"
	"transactionService/models"

	"github.com/shopspring/decimal"
)

// activeStatus - статус счета, допускающий движение средств
const activeStatus = "ACTIVE"

// DailyDebitReader читает сумму успешных списаний со счета за период
type DailyDebitReader interface {
	SumDebits(ctx context.Context, accountID int64, from, to time.Time) (decimal.Decimal, error)
}

// LimitValidator проверяет лимиты и бизнес-правила до любых изменений баланса
type LimitValidator struct {
	limits   config.LimitsConfig
	transfer config.TransferConfig
	debits   DailyDebitReader
	now      func() time.Time
}

// NewLimitValidator создает новый экземпляр LimitValidator
func NewLimitValidator(limits config.LimitsConfig, transfer config.TransferConfig, debits DailyDebitReader) *LimitValidator {
	return &LimitValidator{
		limits:   limits,
		transfer: transfer,
		debits:   debits,
		now:      time.Now,
	}
}

// ValidateTransferMode проверяет, что платежная система известна и включена
func (v *LimitValidator) ValidateTransferMode(mode models.TransferMode) error {
	if !mode.Valid() {
		return InvalidTransaction("неизвестный режим перевода: %s", mode)
	}

	var enabled bool
	switch mode {
	case models.TransferModeIMPS:
		enabled = v.transfer.IMPSEnabled
	case models.TransferModeNEFT:
		enabled = v.transfer.NEFTEnabled
	case models.TransferModeRTGS:
		enabled = v.transfer.RTGSEnabled
	}
	if !enabled {
		return InvalidTransaction("режим перевода %s временно недоступен", mode)
	}
	return nil
}

// ValidateTransferLimits проверяет лимит на операцию и минимальную сумму RTGS
func (v *LimitValidator) ValidateTransferLimits(amount decimal.Decimal, mode models.TransferMode) error {
	if err := v.ValidateAmount(amount); err != nil {
		return err
	}
	if mode == models.TransferModeRTGS && amount.LessThan(v.limits.RTGSMinAmount) {
		return InvalidTransaction("для RTGS минимальная сумма %s", v.limits.RTGSMinAmount.StringFixed(moneyScale))
	}
	return nil
}

// ValidateAmount проверяет, что сумма положительна и не превышает лимит на операцию
func (v *LimitValidator) ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return InvalidTransaction("сумма должна быть больше 0")
	}
	if !amount.Equal(amount.Round(moneyScale)) {
		return InvalidTransaction("сумма не может содержать больше %d знаков после запятой", moneyScale)
	}
	if amount.GreaterThan(v.limits.PerTransaction) {
		return LimitExceeded("сумма превышает лимит на операцию %s", v.limits.PerTransaction.StringFixed(moneyScale))
	}
	return nil
}

// ValidateAccountStatus проверяет, что счет активен. role используется в сообщении
func (v *LimitValidator) ValidateAccountStatus(status, role string) error {
	if !strings.EqualFold(status, activeStatus) {
		return InvalidTransaction("%s счет не активен, текущий статус: %s", role, status)
	}
	return nil
}

// ValidateDifferentAccounts запрещает перевод на тот же счет
func (v *LimitValidator) ValidateDifferentAccounts(sourceID, destinationID int64) error {
	if sourceID == destinationID {
		return InvalidTransaction("нельзя перевести средства на тот же счет")
	}
	return nil
}

// ValidateSufficientBalance проверяет достаточность средств
func (v *LimitValidator) ValidateSufficientBalance(balance, required decimal.Decimal) error {
	if balance.LessThan(required) {
		return InsufficientBalance("недостаточно средств: доступно %s, требуется %s",
			balance.StringFixed(moneyScale), required.StringFixed(moneyScale))
	}
	return nil
}

// CheckDailyLimit проверяет, что сумма списаний за текущие сутки вместе с amount
// не превысит дневной лимит. Сутки считаются по локальному времени
func (v *LimitValidator) CheckDailyLimit(ctx context.Context, accountID int64, amount decimal.Decimal) error {
	from, to := dayBounds(v.now())

	spent, err := v.debits.SumDebits(ctx, accountID, from, to)
	if err != nil {
		return fmt.Errorf("ошибка при расчете дневного оборота: %w", err)
	}

	if spent.Add(amount).GreaterThan(v.limits.Daily) {
		return LimitExceeded("превышен дневной лимит %s, списано за сегодня %s",
			v.limits.Daily.StringFixed(moneyScale), spent.StringFixed(moneyScale))
	}
	return nil
}

// IsLargeAmount сообщает, что сумма требует повышенного внимания
func (v *LimitValidator) IsLargeAmount(amount decimal.Decimal) bool {
	return v.limits.LargeAmountThreshold.IsPositive() && amount.GreaterThan(v.limits.LargeAmountThreshold)
}

// dayBounds возвращает [начало локальных суток, начало + 24ч)
func dayBounds(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return start, start.Add(24 * time.Hour)
}
