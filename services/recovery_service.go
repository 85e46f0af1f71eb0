package services

import (
	"context"
	"fmt"
	"time"

	"transactionService/config"
	"transactionService/models"
	"transactionService/utils"
)

// RecoveryAction - итог разбора зависшей транзакции
type RecoveryAction string

const (
	RecoveryCompleted   RecoveryAction = "completed"   // Все проводки прошли, транзакция проведена
	RecoveryFailed      RecoveryAction = "failed"      // Средства не двигались, транзакция закрыта
	RecoveryCompensated RecoveryAction = "compensated" // Списание возвращено на счет-источник
	RecoveryManual      RecoveryAction = "manual"      // Исход неизвестен, оператор уведомлен
	RecoverySkipped     RecoveryAction = "skipped"     // Транзакция уже не в PENDING
)

// RecoveryReport - итог одного прохода задачи восстановления
type RecoveryReport struct {
	Examined   int
	Actions    map[RecoveryAction]int
	Errors     int
	PurgedKeys int
}

// expiredKeyPurger реализуется хранилищами ключей, которым нужна явная очистка
type expiredKeyPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// RecoveryService периодически разбирает переводы, оставшиеся в PENDING,
// по сохраненным исходам проводок
type RecoveryService struct {
	transactions *TransactionService
	interval     time.Duration
	staleAfter   time.Duration
	batchSize    int
	now          func() time.Time
}

// NewRecoveryService создает новый экземпляр RecoveryService
func NewRecoveryService(cfg *config.Config, transactions *TransactionService) *RecoveryService {
	batch := cfg.Recovery.BatchSize
	if batch <= 0 {
		batch = 50
	}
	interval := cfg.Recovery.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &RecoveryService{
		transactions: transactions,
		interval:     interval,
		staleAfter:   cfg.Recovery.StaleAfter,
		batchSize:    batch,
		now:          time.Now,
	}
}

// Start запускает задачу восстановления до отмены ctx
func (s *RecoveryService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					utils.LoggerFromContext(ctx).ErrorContext(ctx, "ошибка задачи восстановления", "error", err)
				}
			}
		}
	}()
}

// FindStuck возвращает транзакции, которые задача восстановления возьмет в работу
func (s *RecoveryService) FindStuck(ctx context.Context) ([]models.Transaction, error) {
	return s.transactions.store.FindStalePending(ctx, s.now().Add(-s.staleAfter), s.batchSize)
}

// RunOnce выполняет один проход: разбирает зависшие транзакции и чистит истекшие ключи
func (s *RecoveryService) RunOnce(ctx context.Context) (*RecoveryReport, error) {
	start := time.Now()
	logger := utils.LoggerFromContext(ctx)
	report := &RecoveryReport{Actions: make(map[RecoveryAction]int)}

	stuck, err := s.FindStuck(ctx)
	if err != nil {
		return nil, err
	}

	for _, tx := range stuck {
		report.Examined++
		action, err := s.transactions.recover(ctx, tx.TransactionID)
		if err != nil {
			report.Errors++
			logger.ErrorContext(ctx, "ошибка восстановления транзакции", "transaction_id", tx.TransactionID, "error", err)
			continue
		}
		report.Actions[action]++
		s.transactions.metrics.RecordRecovery(string(action))
		logger.InfoContext(ctx, "транзакция разобрана", "transaction_id", tx.TransactionID, "action", action)
	}

	if purger, ok := s.transactions.idempotency.(expiredKeyPurger); ok {
		purged, err := purger.PurgeExpired(ctx)
		if err != nil {
			logger.WarnContext(ctx, "ошибка очистки ключей идемпотентности", "error", err)
		}
		report.PurgedKeys = purged
	}

	utils.LogOperation(ctx, "recovery", start, nil)
	return report, nil
}

// recoveryCause - причина закрытия транзакции задачей восстановления
var recoveryCause = &TransactionError{
	Kind:    KindLedgerUnavailable,
	Message: "проводка не завершена, транзакция закрыта задачей восстановления",
}

// recover доводит транзакцию в PENDING до конечного статуса по исходам ее проводок
// Ключ идемпотентности разобранной транзакции связывается с ней или освобождается,
// как при обычном завершении запроса
func (s *TransactionService) recover(ctx context.Context, transactionID string) (action RecoveryAction, err error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return "", err
	}
	if tx.IsTerminal() {
		return RecoverySkipped, nil
	}

	unlock, err := s.locker.Lock(ctx, tx.FromAccountID, tx.ToAccountID)
	if err != nil {
		return "", err
	}
	defer unlock()

	if tx, err = s.load(ctx, transactionID); err != nil {
		return "", err
	}
	if tx.IsTerminal() {
		return RecoverySkipped, nil
	}
	defer func() {
		if err == nil && tx.IdempotencyKey != "" {
			s.settleKey(ctx, tx.IdempotencyKey, tx)
		}
	}()

	legs, err := s.store.FindLegs(ctx, transactionID)
	if err != nil {
		return "", err
	}

	succeeded := make(map[models.LegKind]bool)
	for _, leg := range legs {
		switch leg.Status {
		case models.LegStatusPending:
			// Вызов реестра начат, но исход не записан
			s.notifyStuck(ctx, tx)
			return RecoveryManual, nil
		case models.LegStatusSuccess:
			succeeded[leg.Kind] = true
		}
	}

	var required models.LegKind
	switch tx.Type {
	case models.TransactionTypeTransfer:
		if !succeeded[models.LegKindDebit] {
			s.fail(ctx, tx, recoveryCause)
			return RecoveryFailed, nil
		}
		if succeeded[models.LegKindCredit] {
			return s.recoverComplete(ctx, tx)
		}
		if succeeded[models.LegKindCompensation] {
			s.fail(ctx, tx, recoveryCause)
			return RecoveryCompensated, nil
		}
		s.compensate(ctx, tx, recoveryCause)
		if tx.Status == models.TransactionStatusFailed {
			return RecoveryCompensated, nil
		}
		return RecoveryManual, nil
	case models.TransactionTypeDeposit:
		required = models.LegKindCredit
	case models.TransactionTypeWithdrawal:
		required = models.LegKindDebit
	default:
		return "", fmt.Errorf("неизвестный тип транзакции %s", tx.Type)
	}

	if succeeded[required] {
		return s.recoverComplete(ctx, tx)
	}
	s.fail(ctx, tx, recoveryCause)
	return RecoveryFailed, nil
}

func (s *TransactionService) recoverComplete(ctx context.Context, tx *models.Transaction) (RecoveryAction, error) {
	if err := s.complete(ctx, tx, systemActor); err != nil {
		return "", err
	}
	return RecoveryCompleted, nil
}
