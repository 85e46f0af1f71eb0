// Команда reconcile показывает зависшие переводы и при необходимости
// выполняет один проход задачи восстановления.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"transactionService/app"
	"transactionService/config"
	"transactionService/models"
	"transactionService/services"
	"transactionService/utils"

	"github.com/olekukonko/tablewriter"
)

// stuckRow - строка отчета о зависшей транзакции
type stuckRow struct {
	tx   models.Transaction
	legs []models.TransactionLeg
}

func main() {
	run := flag.Bool("run", false, "выполнить один проход восстановления после вывода списка")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	logger := utils.NewLogger(os.Stderr, cfg.Log.Level, "text")
	ctx := utils.WithLogger(context.Background(), logger)

	application, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Ошибка инициализации: %v", err)
	}
	defer application.Close()

	stuck, err := application.Recovery.FindStuck(ctx)
	if err != nil {
		log.Fatalf("Ошибка поиска зависших транзакций: %v", err)
	}

	rows := make([]stuckRow, 0, len(stuck))
	for _, tx := range stuck {
		legs, err := application.Transactions.GetTransactionLegs(ctx, tx.TransactionID)
		if err != nil {
			log.Fatalf("Ошибка чтения проводок %s: %v", tx.TransactionID, err)
		}
		rows = append(rows, stuckRow{tx: tx, legs: legs})
	}

	fmt.Printf("Зависших транзакций: %d\n", len(rows))
	writeStuckTable(os.Stdout, rows, time.Now())

	if !*run {
		return
	}

	report, err := application.Recovery.RunOnce(ctx)
	if err != nil {
		log.Fatalf("Ошибка восстановления: %v", err)
	}
	writeReport(os.Stdout, report)
}

// writeStuckTable выводит таблицу зависших транзакций
func writeStuckTable(w io.Writer, rows []stuckRow, now time.Time) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Transaction", "Type", "From", "To", "Total", "Age", "Legs"})

	for _, row := range rows {
		table.Append([]string{
			row.tx.TransactionID,
			string(row.tx.Type),
			accountCell(row.tx.FromAccountNumber),
			accountCell(row.tx.ToAccountNumber),
			row.tx.TotalAmount.StringFixed(2),
			now.Sub(row.tx.ModifiedDate).Truncate(time.Second).String(),
			legSummary(row.legs),
		})
	}
	table.Render()
}

// writeReport выводит итог прохода восстановления
func writeReport(w io.Writer, report *services.RecoveryReport) {
	actions := make([]string, 0, len(report.Actions))
	for action := range report.Actions {
		actions = append(actions, string(action))
	}
	sort.Strings(actions)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Action", "Count"})
	for _, action := range actions {
		table.Append([]string{action, fmt.Sprint(report.Actions[services.RecoveryAction(action)])})
	}
	table.Append([]string{"errors", fmt.Sprint(report.Errors)})
	table.Append([]string{"purged keys", fmt.Sprint(report.PurgedKeys)})
	table.Render()
}

func accountCell(number string) string {
	if number == "" {
		return "-"
	}
	return number
}

// legSummary сворачивает проводки в строку вида DEBIT:SUCCESS CREDIT:PENDING
func legSummary(legs []models.TransactionLeg) string {
	if len(legs) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(legs))
	for _, leg := range legs {
		parts = append(parts, string(leg.Kind)+":"+string(leg.Status))
	}
	return strings.Join(parts, " ")
}
