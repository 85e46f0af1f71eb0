package services

import (
	"context"
	"strconv"
	"time"

	"transactionService/models"

	"github.com/beevik/etree"
)

const adviceTimeLayout = "2006-01-02T15:04:05Z07:00"

// BuildAdvice формирует XML-извещение о транзакции и ее проводках
func BuildAdvice(tx *models.Transaction, legs []models.TransactionLeg) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	advice := doc.CreateElement("TransactionAdvice")
	advice.CreateAttr("transactionId", tx.TransactionID)
	advice.CreateAttr("referenceNumber", tx.ReferenceNumber)

	advice.CreateElement("Type").SetText(string(tx.Type))
	if tx.TransferMode != "" {
		advice.CreateElement("TransferMode").SetText(string(tx.TransferMode))
	}
	advice.CreateElement("Status").SetText(string(tx.Status))

	if tx.FromAccountID != 0 {
		from := advice.CreateElement("Debtor")
		from.CreateAttr("accountId", formatID(tx.FromAccountID))
		from.SetText(tx.FromAccountNumber)
	}
	if tx.ToAccountID != 0 {
		to := advice.CreateElement("Creditor")
		to.CreateAttr("accountId", formatID(tx.ToAccountID))
		to.SetText(tx.ToAccountNumber)
	}

	amounts := advice.CreateElement("Amounts")
	amounts.CreateElement("Amount").SetText(tx.Amount.StringFixed(moneyScale))
	amounts.CreateElement("Charges").SetText(tx.ChargesAmount.StringFixed(moneyScale))
	amounts.CreateElement("Tax").SetText(tx.TaxAmount.StringFixed(moneyScale))
	amounts.CreateElement("Total").SetText(tx.TotalAmount.StringFixed(moneyScale))

	dates := advice.CreateElement("Dates")
	dates.CreateElement("Created").SetText(tx.CreatedDate.Format(adviceTimeLayout))
	setOptionalTime(dates, "Completed", tx.CompletedDate)
	setOptionalTime(dates, "Reversed", tx.ReversedDate)

	if tx.FailureReason != "" {
		advice.CreateElement("FailureReason").SetText(tx.FailureReason)
	}
	if tx.ReversalReason != "" {
		advice.CreateElement("ReversalReason").SetText(tx.ReversalReason)
	}

	legsEl := advice.CreateElement("Legs")
	for _, leg := range legs {
		el := legsEl.CreateElement("Leg")
		el.CreateAttr("kind", string(leg.Kind))
		el.CreateAttr("status", string(leg.Status))
		el.CreateAttr("accountId", formatID(leg.AccountID))
		el.CreateAttr("ledgerRef", leg.LedgerRef)
		el.SetText(leg.Amount.StringFixed(moneyScale))
	}

	doc.Indent(2)
	return doc.WriteToBytes()
}

// GetAdvice возвращает XML-извещение по идентификатору транзакции
func (s *TransactionService) GetAdvice(ctx context.Context, transactionID string) ([]byte, error) {
	tx, err := s.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	legs, err := s.store.FindLegs(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return BuildAdvice(tx, legs)
}

func setOptionalTime(parent *etree.Element, tag string, t *time.Time) {
	if t != nil {
		parent.CreateElement(tag).SetText(t.Format(adviceTimeLayout))
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
