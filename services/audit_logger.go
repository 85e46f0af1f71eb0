package services

import (
	"context"
	"time"

	"transactionService/models"
	"transactionService/utils"
)

// systemActor - исполнитель действий, выполненных самим сервисом
const systemActor = "SYSTEM"

// AuditLogger - журнал событий жизненного цикла транзакции.
// Запись выполняется по возможности: ошибки журнала не влияют на исход операции
type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditEntry)
}

// MongoAuditLogger пишет записи аудита в коллекцию MongoDB
type MongoAuditLogger struct {
	coll    DocumentWriter
	timeout time.Duration
	now     func() time.Time
}

// NewMongoAuditLogger создает новый экземпляр MongoAuditLogger
func NewMongoAuditLogger(coll DocumentWriter, timeout time.Duration) *MongoAuditLogger {
	return &MongoAuditLogger{coll: coll, timeout: timeout, now: time.Now}
}

// Log добавляет запись в журнал. Ошибка записи только логируется
func (a *MongoAuditLogger) Log(ctx context.Context, entry models.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.now()
	}

	writeCtx := context.WithoutCancel(ctx)
	if a.timeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(writeCtx, a.timeout)
		defer cancel()
	}

	if _, err := a.coll.InsertOne(writeCtx, entry); err != nil {
		utils.LoggerFromContext(ctx).WarnContext(ctx, "ошибка записи аудита",
			"transaction_id", entry.TransactionID, "action", entry.Action, "error", err)
	}
}
