package services

import (
	"transactionService/config"
	"transactionService/models"

	"github.com/shopspring/decimal"
)

// moneyScale - число знаков после запятой для денежных сумм
const moneyScale = 2

// ChargeCalculator рассчитывает комиссию за перевод и налог на нее
type ChargeCalculator struct {
	cfg config.ChargesConfig
}

// NewChargeCalculator создает новый экземпляр ChargeCalculator
func NewChargeCalculator(cfg config.ChargesConfig) *ChargeCalculator {
	return &ChargeCalculator{cfg: cfg}
}

// Charges возвращает комиссию за перевод суммы amount платежной системой mode.
// Режим должен быть проверен заранее: для неизвестного режима комиссия нулевая
func (c *ChargeCalculator) Charges(amount decimal.Decimal, mode models.TransferMode) decimal.Decimal {
	var tier config.FeeTier
	switch mode {
	case models.TransferModeIMPS:
		tier = c.cfg.IMPS
	case models.TransferModeNEFT:
		tier = c.cfg.NEFT
	case models.TransferModeRTGS:
		tier = c.cfg.RTGS
	default:
		return decimal.Zero
	}

	if amount.LessThanOrEqual(tier.Threshold) {
		return tier.UpTo.Round(moneyScale)
	}
	return tier.Above.Round(moneyScale)
}

// Tax возвращает налог на комиссию с округлением half-up до двух знаков
func (c *ChargeCalculator) Tax(charges decimal.Decimal) decimal.Decimal {
	return charges.Mul(c.cfg.TaxRate).Round(moneyScale)
}

// Breakdown возвращает комиссию, налог и итоговую сумму списания
func (c *ChargeCalculator) Breakdown(amount decimal.Decimal, mode models.TransferMode) (charges, tax, total decimal.Decimal) {
	charges = c.Charges(amount, mode)
	tax = c.Tax(charges)
	total = amount.Add(charges).Add(tax)
	return charges, tax, total
}
