package services

import (
	"testing"

	"transactionService/config"
	"transactionService/models"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testChargesConfig() config.ChargesConfig {
	return config.ChargesConfig{
		TaxRate: dec("0.18"),
		IMPS:    config.FeeTier{Threshold: dec("1000"), UpTo: dec("5.00"), Above: dec("15.00")},
		NEFT:    config.FeeTier{Threshold: dec("10000"), UpTo: dec("2.50"), Above: dec("5.00")},
		RTGS:    config.FeeTier{Threshold: dec("200000"), UpTo: dec("25.00"), Above: dec("50.00")},
	}
}

func TestChargesByModeAndTier(t *testing.T) {
	calc := NewChargeCalculator(testChargesConfig())

	tests := []struct {
		name   string
		amount string
		mode   models.TransferMode
		want   string
	}{
		{"IMPS small", "500", models.TransferModeIMPS, "5.00"},
		{"IMPS boundary", "1000", models.TransferModeIMPS, "5.00"},
		{"IMPS large", "1500", models.TransferModeIMPS, "15.00"},
		{"NEFT small", "10000", models.TransferModeNEFT, "2.50"},
		{"NEFT large", "10000.01", models.TransferModeNEFT, "5.00"},
		{"RTGS small", "200000", models.TransferModeRTGS, "25.00"},
		{"RTGS large", "250000", models.TransferModeRTGS, "50.00"},
		{"unknown mode", "100", models.TransferMode("SWIFT"), "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Charges(dec(tt.amount), tt.mode)
			if !got.Equal(dec(tt.want)) {
				t.Errorf("wrong charges: got %v want %v", got, tt.want)
			}
		})
	}
}

func TestTaxRoundsHalfUp(t *testing.T) {
	calc := NewChargeCalculator(testChargesConfig())

	tests := []struct {
		charges string
		want    string
	}{
		{"5.00", "0.9"},
		{"15.00", "2.7"},
		{"2.50", "0.45"},
		{"25.00", "4.5"},
		{"0.25", "0.05"}, // 0.045 -> 0.05
		{"0.0", "0"},
	}

	for _, tt := range tests {
		got := calc.Tax(dec(tt.charges))
		if !got.Equal(dec(tt.want)) {
			t.Errorf("tax(%s): got %v want %v", tt.charges, got, tt.want)
		}
	}
}

func TestBreakdownTotal(t *testing.T) {
	calc := NewChargeCalculator(testChargesConfig())

	charges, tax, total := calc.Breakdown(dec("1500"), models.TransferModeIMPS)
	if !charges.Equal(dec("15")) || !tax.Equal(dec("2.70")) {
		t.Fatalf("wrong breakdown: charges %v tax %v", charges, tax)
	}
	if !total.Equal(dec("1517.70")) {
		t.Errorf("wrong total: got %v want 1517.70", total)
	}
}
