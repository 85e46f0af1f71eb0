package services

import (
	"context"
	"fmt"
	"html"
	"strings"

	"transactionService/config"
	"transactionService/models"
	"transactionService/utils"

	"gopkg.in/gomail.v2"
)

// OperatorNotifier сообщает дежурному оператору о переводах, требующих ручного разбора
type OperatorNotifier interface {
	NotifyCompensationFailed(ctx context.Context, tx *models.Transaction, cause error) error
	NotifyStuckTransaction(ctx context.Context, tx *models.Transaction, legs []models.TransactionLeg) error
}

// AlertService отправляет уведомления оператору по email
type AlertService struct {
	dialer *gomail.Dialer
	from   string
	to     string
	send   func(*gomail.Message) error
}

// NewAlertService создает новый экземпляр AlertService
func NewAlertService(cfg *config.Config) *AlertService {
	dialer := gomail.NewDialer(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Username,
		cfg.SMTP.Password,
	)

	s := &AlertService{
		dialer: dialer,
		from:   cfg.SMTP.From,
		to:     cfg.SMTP.AlertTo,
	}
	s.send = func(m *gomail.Message) error { return s.dialer.DialAndSend(m) }
	return s
}

// SendEmail отправляет письмо оператору. Без адреса получателя письмо не отправляется
func (s *AlertService) SendEmail(ctx context.Context, subject, body string) error {
	if s.to == "" {
		utils.LoggerFromContext(ctx).WarnContext(ctx, "адрес оператора не задан, уведомление пропущено", "subject", subject)
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", s.to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.send(m); err != nil {
		return fmt.Errorf("ошибка отправки email: %w", err)
	}
	return nil
}

// NotifyCompensationFailed сообщает, что средства списаны, а возврат на счет-источник не прошел
func (s *AlertService) NotifyCompensationFailed(ctx context.Context, tx *models.Transaction, cause error) error {
	subject := fmt.Sprintf("Требуется ручной разбор: перевод %s", tx.TransactionID)
	body := fmt.Sprintf(`
		<h2>Компенсация перевода не выполнена</h2>
		<p>Транзакция: %s</p>
		<p>Ссылка: %s</p>
		<p>Счет-источник: %d</p>
		<p>Счет-получатель: %d</p>
		<p>Списано: %s</p>
		<p>Ошибка: %s</p>
		<p>Транзакция оставлена в статусе PENDING.</p>
	`, tx.TransactionID, tx.ReferenceNumber, tx.FromAccountID, tx.ToAccountID,
		tx.TotalAmount.StringFixed(moneyScale), html.EscapeString(cause.Error()))

	return s.SendEmail(ctx, subject, body)
}

// NotifyStuckTransaction сообщает о транзакции, исход проводок которой неизвестен
func (s *AlertService) NotifyStuckTransaction(ctx context.Context, tx *models.Transaction, legs []models.TransactionLeg) error {
	var rows strings.Builder
	for _, leg := range legs {
		fmt.Fprintf(&rows, "<tr><td>%s</td><td>%d</td><td>%s</td><td>%s</td><td>%s</td></tr>",
			leg.Kind, leg.AccountID, leg.Amount.StringFixed(moneyScale), leg.Status, html.EscapeString(leg.Error))
	}

	subject := fmt.Sprintf("Зависшая транзакция %s", tx.TransactionID)
	body := fmt.Sprintf(`
		<h2>Транзакция не может быть завершена автоматически</h2>
		<p>Транзакция: %s (%s)</p>
		<p>Создана: %s</p>
		<table>
			<tr><th>Проводка</th><th>Счет</th><th>Сумма</th><th>Статус</th><th>Ошибка</th></tr>
			%s
		</table>
	`, tx.TransactionID, tx.Type, tx.CreatedDate.Format("02.01.2006 15:04:05"), rows.String())

	return s.SendEmail(ctx, subject, body)
}
