package models

import "testing"

func TestTransferModeValid(t *testing.T) {
	for _, m := range []TransferMode{TransferModeIMPS, TransferModeNEFT, TransferModeRTGS} {
		if !m.Valid() {
			t.Errorf("%s should be valid", m)
		}
	}
	for _, m := range []TransferMode{"", "SWIFT", "imps"} {
		if m.Valid() {
			t.Errorf("%q should be rejected", m)
		}
	}
}

func TestTransactionIsTerminal(t *testing.T) {
	tests := []struct {
		status TransactionStatus
		want   bool
	}{
		{TransactionStatusPending, false},
		{TransactionStatusSuccess, true},
		{TransactionStatusFailed, true},
		{TransactionStatusReversed, true},
	}
	for _, tt := range tests {
		tx := &Transaction{Status: tt.status}
		if got := tx.IsTerminal(); got != tt.want {
			t.Errorf("%s: got %v want %v", tt.status, got, tt.want)
		}
	}
}
