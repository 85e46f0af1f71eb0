package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"transactionService/models"
)

func putStuck(h *harness, id string, txType models.TransactionType, legs ...models.TransactionLeg) {
	old := time.Now().Add(-5 * time.Minute)
	tx := models.Transaction{
		TransactionID:     id,
		ReferenceNumber:   "REF-" + id,
		Type:              txType,
		FromAccountID:     sourceID,
		FromAccountNumber: sourceNumber,
		ToAccountID:       destID,
		ToAccountNumber:   destNumber,
		Amount:            dec("500"),
		ChargesAmount:     dec("5"),
		TaxAmount:         dec("0.90"),
		TotalAmount:       dec("505.90"),
		Status:            models.TransactionStatusPending,
		CreatedDate:       old,
		ModifiedDate:      old,
	}
	if txType == models.TransactionTypeDeposit {
		tx.FromAccountID, tx.FromAccountNumber = 0, ""
	}
	h.store.put(tx)
	for i := range legs {
		legs[i].TransactionID = id
		_ = h.store.SaveLeg(context.Background(), &legs[i])
	}
}

func leg(kind models.LegKind, status models.LegStatus) models.TransactionLeg {
	return models.TransactionLeg{Kind: kind, Status: status, Amount: dec("505.90")}
}

func TestRecoveryResolvesStuckTransactions(t *testing.T) {
	tests := []struct {
		name       string
		txType     models.TransactionType
		legs       []models.TransactionLeg
		wantAction RecoveryAction
		wantStatus models.TransactionStatus
	}{
		{
			name:       "no debit",
			txType:     models.TransactionTypeTransfer,
			legs:       []models.TransactionLeg{leg(models.LegKindDebit, models.LegStatusFailed)},
			wantAction: RecoveryFailed,
			wantStatus: models.TransactionStatusFailed,
		},
		{
			name:       "both legs done",
			txType:     models.TransactionTypeTransfer,
			legs:       []models.TransactionLeg{leg(models.LegKindDebit, models.LegStatusSuccess), leg(models.LegKindCredit, models.LegStatusSuccess)},
			wantAction: RecoveryCompleted,
			wantStatus: models.TransactionStatusSuccess,
		},
		{
			name:       "compensation already done",
			txType:     models.TransactionTypeTransfer,
			legs:       []models.TransactionLeg{leg(models.LegKindDebit, models.LegStatusSuccess), leg(models.LegKindCredit, models.LegStatusFailed), leg(models.LegKindCompensation, models.LegStatusSuccess)},
			wantAction: RecoveryCompensated,
			wantStatus: models.TransactionStatusFailed,
		},
		{
			name:       "credit failed",
			txType:     models.TransactionTypeTransfer,
			legs:       []models.TransactionLeg{leg(models.LegKindDebit, models.LegStatusSuccess), leg(models.LegKindCredit, models.LegStatusFailed)},
			wantAction: RecoveryCompensated,
			wantStatus: models.TransactionStatusFailed,
		},
		{
			name:       "outcome unknown",
			txType:     models.TransactionTypeTransfer,
			legs:       []models.TransactionLeg{leg(models.LegKindDebit, models.LegStatusPending)},
			wantAction: RecoveryManual,
			wantStatus: models.TransactionStatusPending,
		},
		{
			name:       "deposit credited",
			txType:     models.TransactionTypeDeposit,
			legs:       []models.TransactionLeg{leg(models.LegKindCredit, models.LegStatusSuccess)},
			wantAction: RecoveryCompleted,
			wantStatus: models.TransactionStatusSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			putStuck(h, "TXN-STUCK", tt.txType, tt.legs...)
			recovery := NewRecoveryService(h.cfg, h.svc)

			report, err := recovery.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce failed: %v", err)
			}
			if report.Examined != 1 || report.Actions[tt.wantAction] != 1 {
				t.Errorf("unexpected report: %+v", report)
			}
			if got := h.store.get(t, "TXN-STUCK").Status; got != tt.wantStatus {
				t.Errorf("status: got %s want %s", got, tt.wantStatus)
			}
		})
	}
}

func TestRecoveryCompensationCreditsSource(t *testing.T) {
	h := newHarness(t)
	putStuck(h, "TXN-STUCK", models.TransactionTypeTransfer,
		leg(models.LegKindDebit, models.LegStatusSuccess), leg(models.LegKindCredit, models.LegStatusFailed))

	if _, err := NewRecoveryService(h.cfg, h.svc).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	ops := h.gateway.mutations()
	if len(ops) != 1 || ops[0].op != "credit" || ops[0].accountID != sourceID || ops[0].ref != "TXN-STUCK_COMPENSATION" {
		t.Fatalf("unexpected ledger calls: %+v", ops)
	}
	if got := h.gateway.balance(sourceID); !got.Equal(dec("50505.90")) {
		t.Errorf("source should get the total back: %s", got)
	}
}

func TestRecoveryAlertsOnUnknownOutcome(t *testing.T) {
	h := newHarness(t)
	putStuck(h, "TXN-STUCK", models.TransactionTypeTransfer,
		leg(models.LegKindDebit, models.LegStatusSuccess), leg(models.LegKindCredit, models.LegStatusPending))

	if _, err := NewRecoveryService(h.cfg, h.svc).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if h.notifier.stuck != 1 {
		t.Errorf("operator should be alerted, got %d alerts", h.notifier.stuck)
	}
	if len(h.gateway.mutations()) != 0 {
		t.Errorf("unknown outcome must not trigger ledger calls")
	}
}

// withKey связывает зависшую транзакцию с ключом, занятым прерванным запросом
func withKey(t *testing.T, h *harness, id, key string) {
	t.Helper()
	fingerprint := RequestFingerprint("TRANSFER", "1", destNumber, "500.00", "IMPS")
	if _, _, err := h.keys.Reserve(context.Background(), key, fingerprint, time.Hour); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	tx := h.store.get(t, id)
	tx.IdempotencyKey = key
	h.store.put(tx)
}

func TestRecoverySettlesIdempotencyKey(t *testing.T) {
	t.Run("completed transfer answers the retry", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		putStuck(h, "TXN-DONE", models.TransactionTypeTransfer,
			leg(models.LegKindDebit, models.LegStatusSuccess), leg(models.LegKindCredit, models.LegStatusSuccess))
		withKey(t, h, "TXN-DONE", "crash-key")

		if _, err := NewRecoveryService(h.cfg, h.svc).RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}

		req := transferRequest("500", models.TransferModeIMPS)
		req.IdempotencyKey = "crash-key"
		tx, err := h.svc.Transfer(ctx, req, testMeta)
		if err != nil {
			t.Fatalf("retry after recovery failed: %v", err)
		}
		if tx.TransactionID != "TXN-DONE" || tx.Status != models.TransactionStatusSuccess {
			t.Errorf("retry should return the recovered transaction: %s %s", tx.TransactionID, tx.Status)
		}
		if len(h.gateway.mutations()) != 0 {
			t.Errorf("retry must not reach the ledger")
		}
	})

	t.Run("failed transfer frees the key", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		putStuck(h, "TXN-NONE", models.TransactionTypeTransfer, leg(models.LegKindDebit, models.LegStatusFailed))
		withKey(t, h, "TXN-NONE", "crash-key")

		if _, err := NewRecoveryService(h.cfg, h.svc).RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}
		if _, err := h.keys.Lookup(ctx, "crash-key"); !errors.Is(err, ErrIdempotencyNotFound) {
			t.Errorf("key of a failed transfer should be released, got %v", err)
		}
	})

	t.Run("unknown outcome keeps the transaction behind the key", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		putStuck(h, "TXN-STUCK", models.TransactionTypeTransfer, leg(models.LegKindDebit, models.LegStatusPending))
		withKey(t, h, "TXN-STUCK", "crash-key")

		if _, err := NewRecoveryService(h.cfg, h.svc).RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}
		rec, err := h.keys.Lookup(ctx, "crash-key")
		if err != nil || rec.Status != models.IdempotencyCompleted || rec.TransactionID != "TXN-STUCK" {
			t.Errorf("key should resolve to the pending transaction: %+v %v", rec, err)
		}
	})
}

func TestRecoveryIgnoresFreshTransactions(t *testing.T) {
	h := newHarness(t)
	h.store.put(models.Transaction{
		TransactionID: "TXN-FRESH",
		Type:          models.TransactionTypeDeposit,
		ToAccountID:   destID,
		Status:        models.TransactionStatusPending,
		CreatedDate:   time.Now(),
		ModifiedDate:  time.Now(),
	})

	recovery := NewRecoveryService(h.cfg, h.svc)
	stuck, err := recovery.FindStuck(context.Background())
	if err != nil {
		t.Fatalf("FindStuck failed: %v", err)
	}
	if len(stuck) != 0 {
		t.Errorf("fresh pending transaction treated as stuck")
	}
}

func TestRecoveryPurgesExpiredKeys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, _, err := h.keys.Reserve(ctx, "old-key", "fp", -time.Minute); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	report, err := NewRecoveryService(h.cfg, h.svc).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.PurgedKeys != 1 {
		t.Errorf("expected one purged key, got %d", report.PurgedKeys)
	}
}
