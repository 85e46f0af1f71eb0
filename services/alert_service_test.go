package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"transactionService/config"
	"transactionService/models"

	"gopkg.in/gomail.v2"
)

func newTestAlertService(to string) (*AlertService, *[]*gomail.Message) {
	cfg := &config.Config{}
	cfg.SMTP.Host = "localhost"
	cfg.SMTP.Port = 25
	cfg.SMTP.From = "funds@example.com"
	cfg.SMTP.AlertTo = to

	sent := &[]*gomail.Message{}
	s := NewAlertService(cfg)
	s.send = func(m *gomail.Message) error {
		*sent = append(*sent, m)
		return nil
	}
	return s, sent
}

func TestNotifyCompensationFailed(t *testing.T) {
	s, sent := newTestAlertService("ops@example.com")
	tx := &models.Transaction{TransactionID: "TXN1", FromAccountID: 1, ToAccountID: 2, TotalAmount: dec("505.9")}

	if err := s.NotifyCompensationFailed(context.Background(), tx, errors.New("<ledger> timeout")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected one message, got %d", len(*sent))
	}

	m := (*sent)[0]
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "ops@example.com" {
		t.Errorf("unexpected recipient: %v", got)
	}
	if got := m.GetHeader("Subject"); len(got) != 1 || !strings.Contains(got[0], "TXN1") {
		t.Errorf("subject should name the transaction: %v", got)
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("failed to render message: %v", err)
	}
	if strings.Contains(buf.String(), "<ledger>") {
		t.Errorf("error text must be escaped")
	}
}

func TestNotifySkippedWithoutRecipient(t *testing.T) {
	s, sent := newTestAlertService("")
	tx := &models.Transaction{TransactionID: "TXN1"}
	legs := []models.TransactionLeg{{Kind: models.LegKindDebit, Status: models.LegStatusPending}}

	if err := s.NotifyStuckTransaction(context.Background(), tx, legs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*sent) != 0 {
		t.Errorf("message sent without recipient")
	}
}

func TestSendEmailWrapsTransportError(t *testing.T) {
	s, _ := newTestAlertService("ops@example.com")
	s.send = func(m *gomail.Message) error { return errors.New("connection refused") }

	if err := s.SendEmail(context.Background(), "subject", "body"); err == nil {
		t.Fatalf("expected transport error")
	}
}
