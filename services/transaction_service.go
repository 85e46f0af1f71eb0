package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"transactionService/config"
	"transactionService/models"
	"transactionService/utils"

	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxIDAttempts   = 3
	maxReasonLength = 500
)

// ledgerCall - проводка в реестре счетов (Debit или Credit)
type ledgerCall func(ctx context.Context, accountID int64, amount decimal.Decimal, ledgerRef, description string) error

// Dependencies - внешние компоненты TransactionService
type Dependencies struct {
	Store       TransactionStore
	Gateway     AccountGateway
	Idempotency IdempotencyStore
	Publisher   EventPublisher
	Audit       AuditLogger
	Notifier    OperatorNotifier
	Cache       *TransactionCache
	Locker      *AccountLocker
	IDs         *IDGenerator
	Metrics     *utils.Metrics
}

// TransactionService проводит переводы, пополнения, списания и сторно
// через внешний реестр счетов
type TransactionService struct {
	store       TransactionStore
	gateway     AccountGateway
	idempotency IdempotencyStore
	publisher   EventPublisher
	audit       AuditLogger
	notifier    OperatorNotifier
	cache       *TransactionCache
	locker      *AccountLocker
	ids         *IDGenerator
	metrics     *utils.Metrics

	validator      *LimitValidator
	charges        *ChargeCalculator
	idempotencyTTL time.Duration
	now            func() time.Time
}

// NewTransactionService создает новый экземпляр TransactionService
func NewTransactionService(cfg *config.Config, deps Dependencies) *TransactionService {
	if deps.Cache == nil {
		deps.Cache = NewTransactionCache(cfg.Cache.TTL, cfg.Cache.MaxSize)
	}
	if deps.Locker == nil {
		deps.Locker = NewAccountLocker()
	}
	if deps.IDs == nil {
		deps.IDs = NewIDGenerator()
	}
	if deps.Metrics == nil {
		deps.Metrics = utils.GetMetrics()
	}

	return &TransactionService{
		store:          deps.Store,
		gateway:        deps.Gateway,
		idempotency:    deps.Idempotency,
		publisher:      deps.Publisher,
		audit:          deps.Audit,
		notifier:       deps.Notifier,
		cache:          deps.Cache,
		locker:         deps.Locker,
		ids:            deps.IDs,
		metrics:        deps.Metrics,
		validator:      NewLimitValidator(cfg.Limits, cfg.Transfer, deps.Store),
		charges:        NewChargeCalculator(cfg.Charges),
		idempotencyTTL: cfg.Idempotency.TTL,
		now:            time.Now,
	}
}

// Transfer переводит средства между счетами.
// Источник списывается на totalAmount, получатель пополняется на amount
func (s *TransactionService) Transfer(ctx context.Context, req TransferRequest, meta RequestMeta) (*models.Transaction, error) {
	// Начатый перевод доводится до конца даже при обрыве соединения клиента
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	fingerprint := RequestFingerprint(string(models.TransactionTypeTransfer),
		strconv.FormatInt(req.FromAccountID, 10), req.ToAccountNumber,
		req.Amount.StringFixed(moneyScale), string(req.TransferMode))

	tx, err := s.idempotent(ctx, req.IdempotencyKey, fingerprint, func() (*models.Transaction, error) {
		return s.transfer(ctx, req, meta)
	})
	utils.LogOperation(ctx, "transfer", start, err)
	return tx, err
}

// Deposit зачисляет средства на счет
func (s *TransactionService) Deposit(ctx context.Context, req DepositRequest, meta RequestMeta) (*models.Transaction, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	fingerprint := RequestFingerprint(string(models.TransactionTypeDeposit),
		strconv.FormatInt(req.AccountID, 10), req.Amount.StringFixed(moneyScale))

	tx, err := s.idempotent(ctx, req.IdempotencyKey, fingerprint, func() (*models.Transaction, error) {
		return s.deposit(ctx, req, meta)
	})
	utils.LogOperation(ctx, "deposit", start, err)
	return tx, err
}

// Withdrawal списывает средства со счета
func (s *TransactionService) Withdrawal(ctx context.Context, req WithdrawalRequest, meta RequestMeta) (*models.Transaction, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	fingerprint := RequestFingerprint(string(models.TransactionTypeWithdrawal),
		strconv.FormatInt(req.AccountID, 10), req.Amount.StringFixed(moneyScale))

	tx, err := s.idempotent(ctx, req.IdempotencyKey, fingerprint, func() (*models.Transaction, error) {
		return s.withdrawal(ctx, req, meta)
	})
	utils.LogOperation(ctx, "withdrawal", start, err)
	return tx, err
}

// ReverseTransaction сторнирует успешную транзакцию обратными проводками
func (s *TransactionService) ReverseTransaction(ctx context.Context, transactionID, reason, performedBy string) (*models.Transaction, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	tx, err := s.reverse(ctx, transactionID, reason, performedBy)
	utils.LogOperation(ctx, "reverse", start, err)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// GetTransaction возвращает транзакцию по идентификатору
func (s *TransactionService) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.cache.GetOrLoad(ctx, idKey(transactionID), func(ctx context.Context) (*models.Transaction, error) {
		return s.load(ctx, transactionID)
	})
}

// GetTransactionByReference возвращает транзакцию по номеру ссылки
func (s *TransactionService) GetTransactionByReference(ctx context.Context, referenceNumber string) (*models.Transaction, error) {
	return s.cache.GetOrLoad(ctx, refKey(referenceNumber), func(ctx context.Context) (*models.Transaction, error) {
		tx, err := s.store.FindByReference(ctx, referenceNumber)
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, TransactionNotFound("транзакция со ссылкой %s не найдена", referenceNumber)
		}
		return tx, err
	})
}

// GetTransactionHistory возвращает страницу истории счета, от новых к старым
func (s *TransactionService) GetTransactionHistory(ctx context.Context, accountID int64, page, size int) (*TransactionPage, error) {
	if accountID <= 0 {
		return nil, InvalidTransaction("неверный идентификатор счета")
	}
	if page < 0 {
		return nil, InvalidTransaction("номер страницы не может быть отрицательным")
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	items, total, err := s.store.FindHistory(ctx, accountID, page, size)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Transaction{}
	}

	return &TransactionPage{
		Items:         items,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    int((total + int64(size) - 1) / int64(size)),
	}, nil
}

// GetTransactionLegs возвращает проводки транзакции
func (s *TransactionService) GetTransactionLegs(ctx context.Context, transactionID string) ([]models.TransactionLeg, error) {
	if _, err := s.GetTransaction(ctx, transactionID); err != nil {
		return nil, err
	}
	return s.store.FindLegs(ctx, transactionID)
}

// idempotent выполняет run под ключом идемпотентности.
// Ключ резервируется до любых удаленных вызовов; повтор завершенного запроса
// возвращает ту же транзакцию без новых проводок
func (s *TransactionService) idempotent(ctx context.Context, key, fingerprint string, run func() (*models.Transaction, error)) (*models.Transaction, error) {
	if key == "" {
		tx, err := run()
		if err != nil {
			return nil, err
		}
		return tx, nil
	}

	rec, err := s.idempotency.Lookup(ctx, key)
	switch {
	case err == nil:
		return s.replay(ctx, rec, fingerprint)
	case !errors.Is(err, ErrIdempotencyNotFound):
		return nil, fmt.Errorf("ошибка чтения ключа идемпотентности: %w", err)
	}

	rec, created, err := s.idempotency.Reserve(ctx, key, fingerprint, s.idempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("ошибка резервирования ключа идемпотентности: %w", err)
	}
	if !created {
		return s.replay(ctx, rec, fingerprint)
	}

	tx, err := run()
	s.settleKey(ctx, key, tx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *TransactionService) replay(ctx context.Context, rec *models.IdempotencyRecord, fingerprint string) (*models.Transaction, error) {
	if rec.Fingerprint != fingerprint {
		return nil, DuplicateTransaction("ключ идемпотентности %s уже использован для другого запроса", rec.Key)
	}
	if rec.Status != models.IdempotencyCompleted {
		return nil, DuplicateTransaction("запрос с ключом идемпотентности %s уже выполняется", rec.Key)
	}

	tx, err := s.GetTransaction(ctx, rec.TransactionID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordReplay()
	utils.LoggerFromContext(ctx).InfoContext(ctx, "повтор запроса, возвращена существующая транзакция",
		"idempotency_key", rec.Key, "transaction_id", tx.TransactionID)
	return tx, nil
}

// settleKey связывает ключ с транзакцией, если по ней могли пройти проводки,
// иначе освобождает ключ для повторной попытки
func (s *TransactionService) settleKey(ctx context.Context, key string, tx *models.Transaction) {
	var err error
	if tx != nil && tx.Status != models.TransactionStatusFailed {
		err = s.idempotency.Resolve(ctx, key, tx.TransactionID, s.idempotencyTTL)
	} else {
		err = s.idempotency.Release(ctx, key)
	}
	if err != nil {
		utils.LoggerFromContext(ctx).ErrorContext(ctx, "ошибка обновления ключа идемпотентности",
			"idempotency_key", key, "error", err)
	}
}

func (s *TransactionService) transfer(ctx context.Context, req TransferRequest, meta RequestMeta) (*models.Transaction, error) {
	if err := s.validator.ValidateTransferMode(req.TransferMode); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateTransferLimits(req.Amount, req.TransferMode); err != nil {
		s.auditRejection(ctx, req.FromAccountID, err, meta.InitiatedBy)
		return nil, err
	}
	if req.ToAccountID != 0 {
		if err := s.validator.ValidateDifferentAccounts(req.FromAccountID, req.ToAccountID); err != nil {
			return nil, err
		}
	}

	destination, err := s.gateway.GetBalanceByNumber(ctx, req.ToAccountNumber)
	if err != nil {
		return nil, ledgerError(err)
	}
	if err := s.validator.ValidateDifferentAccounts(req.FromAccountID, destination.AccountID); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, req.FromAccountID, destination.AccountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	source, err := s.gateway.GetBalance(ctx, req.FromAccountID)
	if err != nil {
		return nil, ledgerError(err)
	}
	if err := s.validator.ValidateAccountStatus(source.AccountStatus, "Исходящий"); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateAccountStatus(destination.AccountStatus, "Целевой"); err != nil {
		return nil, err
	}

	charges, tax, total := s.charges.Breakdown(req.Amount, req.TransferMode)
	if err := s.validator.ValidateSufficientBalance(source.Balance, total); err != nil {
		return nil, err
	}
	// Дневной лимит считается по totalAmount, как и сумма прошлых списаний
	if err := s.validator.CheckDailyLimit(ctx, source.AccountID, total); err != nil {
		s.auditRejection(ctx, source.AccountID, err, meta.InitiatedBy)
		return nil, err
	}
	if s.validator.IsLargeAmount(req.Amount) {
		utils.LoggerFromContext(ctx).WarnContext(ctx, "перевод крупной суммы",
			"from_account_id", source.AccountID, "to_account_id", destination.AccountID,
			"amount", req.Amount.StringFixed(moneyScale), "mode", req.TransferMode)
	}

	tx := &models.Transaction{
		Type:              models.TransactionTypeTransfer,
		TransferMode:      req.TransferMode,
		FromAccountID:     source.AccountID,
		FromAccountNumber: source.AccountNumber,
		ToAccountID:       destination.AccountID,
		ToAccountNumber:   destination.AccountNumber,
		Amount:            req.Amount,
		ChargesAmount:     charges,
		TaxAmount:         tax,
		TotalAmount:       total,
		Description:       req.Description,
		Remarks:           req.Remarks,
		IdempotencyKey:    req.IdempotencyKey,
	}
	if err := s.open(ctx, tx, meta); err != nil {
		return nil, err
	}

	err = s.moveLeg(ctx, tx, models.LegKindDebit, source.AccountID, total, tx.TransactionID,
		"Transfer to "+destination.AccountNumber, s.gateway.Debit)
	if err != nil {
		return tx, s.abort(ctx, tx, err, s.fail)
	}

	err = s.moveLeg(ctx, tx, models.LegKindCredit, destination.AccountID, req.Amount, tx.TransactionID,
		"Transfer from "+source.AccountNumber, s.gateway.Credit)
	if err != nil {
		return tx, s.abort(ctx, tx, err, s.compensate)
	}

	return tx, s.complete(ctx, tx, meta.InitiatedBy)
}

func (s *TransactionService) deposit(ctx context.Context, req DepositRequest, meta RequestMeta) (*models.Transaction, error) {
	if err := s.validator.ValidateAmount(req.Amount); err != nil {
		s.auditRejection(ctx, req.AccountID, err, meta.InitiatedBy)
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	account, err := s.gateway.GetBalance(ctx, req.AccountID)
	if err != nil {
		return nil, ledgerError(err)
	}
	if err := s.validator.ValidateAccountStatus(account.AccountStatus, "Целевой"); err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		Type:            models.TransactionTypeDeposit,
		ToAccountID:     account.AccountID,
		ToAccountNumber: account.AccountNumber,
		Amount:          req.Amount,
		ChargesAmount:   decimal.Zero,
		TaxAmount:       decimal.Zero,
		TotalAmount:     req.Amount,
		Description:     req.Description,
		Remarks:         req.Remarks,
		IdempotencyKey:  req.IdempotencyKey,
	}
	if err := s.open(ctx, tx, meta); err != nil {
		return nil, err
	}

	err = s.moveLeg(ctx, tx, models.LegKindCredit, account.AccountID, req.Amount, tx.TransactionID, "Deposit", s.gateway.Credit)
	if err != nil {
		return tx, s.abort(ctx, tx, err, s.fail)
	}
	return tx, s.complete(ctx, tx, meta.InitiatedBy)
}

func (s *TransactionService) withdrawal(ctx context.Context, req WithdrawalRequest, meta RequestMeta) (*models.Transaction, error) {
	if err := s.validator.ValidateAmount(req.Amount); err != nil {
		s.auditRejection(ctx, req.AccountID, err, meta.InitiatedBy)
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	account, err := s.gateway.GetBalance(ctx, req.AccountID)
	if err != nil {
		return nil, ledgerError(err)
	}
	if err := s.validator.ValidateAccountStatus(account.AccountStatus, "Исходящий"); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateSufficientBalance(account.Balance, req.Amount); err != nil {
		return nil, err
	}
	if err := s.validator.CheckDailyLimit(ctx, account.AccountID, req.Amount); err != nil {
		s.auditRejection(ctx, account.AccountID, err, meta.InitiatedBy)
		return nil, err
	}

	tx := &models.Transaction{
		Type:              models.TransactionTypeWithdrawal,
		FromAccountID:     account.AccountID,
		FromAccountNumber: account.AccountNumber,
		Amount:            req.Amount,
		ChargesAmount:     decimal.Zero,
		TaxAmount:         decimal.Zero,
		TotalAmount:       req.Amount,
		Description:       req.Description,
		Remarks:           req.Remarks,
		IdempotencyKey:    req.IdempotencyKey,
	}
	if err := s.open(ctx, tx, meta); err != nil {
		return nil, err
	}

	err = s.moveLeg(ctx, tx, models.LegKindDebit, account.AccountID, req.Amount, tx.TransactionID, "Withdrawal", s.gateway.Debit)
	if err != nil {
		return tx, s.abort(ctx, tx, err, s.fail)
	}
	return tx, s.complete(ctx, tx, meta.InitiatedBy)
}

// reversalStep - обратная проводка и действие, отменяющее ее
type reversalStep struct {
	accountID int64
	amount    decimal.Decimal
	call      ledgerCall
	undo      ledgerCall
	debit     bool
}

func (s *TransactionService) reversalSteps(tx *models.Transaction) []reversalStep {
	debitTo := func(accountID int64, amount decimal.Decimal) reversalStep {
		return reversalStep{accountID: accountID, amount: amount, call: s.gateway.Debit, undo: s.gateway.Credit, debit: true}
	}
	creditTo := func(accountID int64, amount decimal.Decimal) reversalStep {
		return reversalStep{accountID: accountID, amount: amount, call: s.gateway.Credit, undo: s.gateway.Debit}
	}

	switch tx.Type {
	case models.TransactionTypeTransfer:
		// Сначала списание с получателя: оно может быть отклонено реестром
		return []reversalStep{debitTo(tx.ToAccountID, tx.Amount), creditTo(tx.FromAccountID, tx.TotalAmount)}
	case models.TransactionTypeDeposit:
		return []reversalStep{debitTo(tx.ToAccountID, tx.TotalAmount)}
	case models.TransactionTypeWithdrawal:
		return []reversalStep{creditTo(tx.FromAccountID, tx.TotalAmount)}
	}
	return nil
}

func checkReversible(tx *models.Transaction) error {
	if tx.Status != models.TransactionStatusSuccess {
		return InvalidTransaction("сторнировать можно только успешную транзакцию, текущий статус: %s", tx.Status)
	}
	return nil
}

func (s *TransactionService) reverse(ctx context.Context, transactionID, reason, performedBy string) (*models.Transaction, error) {
	if len(reason) > maxReasonLength {
		return nil, InvalidTransaction("причина сторно не может быть длиннее %d символов", maxReasonLength)
	}

	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := checkReversible(tx); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, tx.FromAccountID, tx.ToAccountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Повторная проверка под блокировкой: параллельное сторно могло успеть раньше
	tx, err = s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := checkReversible(tx); err != nil {
		return nil, err
	}

	steps := s.reversalSteps(tx)
	for _, step := range steps {
		if !step.debit {
			continue
		}
		account, err := s.gateway.GetBalance(ctx, step.accountID)
		if err != nil {
			return nil, ledgerError(err)
		}
		if err := s.validator.ValidateSufficientBalance(account.Balance, step.amount); err != nil {
			return nil, err
		}
	}

	ledgerRef := tx.TransactionID + "_REVERSAL"
	description := "Reversal of " + tx.TransactionID
	for i, step := range steps {
		if err := s.moveLeg(ctx, tx, models.LegKindReversal, step.accountID, step.amount, ledgerRef, description, step.call); err != nil {
			if OutcomeUnknown(err) {
				// Проводка могла пройти: отмена уже выполненных шагов решается вручную
				utils.LoggerFromContext(ctx).ErrorContext(ctx, "исход обратной проводки неизвестен",
					"transaction_id", tx.TransactionID, "account_id", step.accountID, "error", err)
				s.notifyStuck(ctx, tx)
				return nil, err
			}
			s.undoReversal(ctx, tx, steps[:i])
			return nil, err
		}
	}

	now := s.now()
	tx.Status = models.TransactionStatusReversed
	tx.ReversedDate = &now
	tx.ReversalReason = reason

	logger := utils.LoggerFromContext(ctx)
	if err := s.persist(ctx, tx); err != nil {
		logger.ErrorContext(ctx, "обратные проводки выполнены, но статус REVERSED не сохранен",
			"transaction_id", tx.TransactionID, "error", err)
		s.notifyStuck(ctx, tx)
		return nil, fmt.Errorf("ошибка при сохранении сторно: %w", err)
	}

	s.publisher.Publish(ctx, reversedEvent(tx))
	s.record(ctx, tx.TransactionID, models.AuditTransactionReversed, "Транзакция сторнирована: "+reason, performedBy)
	s.metrics.RecordTransaction(string(tx.Type), string(tx.Status))
	logger.InfoContext(ctx, "транзакция сторнирована", "transaction_id", tx.TransactionID, "reason", reason)
	return tx, nil
}

// undoReversal отменяет уже выполненные обратные проводки
func (s *TransactionService) undoReversal(ctx context.Context, tx *models.Transaction, done []reversalStep) {
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		err := s.moveLeg(ctx, tx, models.LegKindCompensation, step.accountID, step.amount,
			tx.TransactionID+"_REVERSAL_COMPENSATION", "Compensation of reversal "+tx.TransactionID, step.undo)
		s.metrics.RecordCompensation(err == nil)
		if err != nil {
			utils.LoggerFromContext(ctx).ErrorContext(ctx, "не удалось отменить обратную проводку",
				"transaction_id", tx.TransactionID, "account_id", step.accountID, "error", err)
			if nerr := s.notifier.NotifyCompensationFailed(ctx, tx, err); nerr != nil {
				utils.LoggerFromContext(ctx).ErrorContext(ctx, "ошибка уведомления оператора", "error", nerr)
			}
		}
	}
}

// open сохраняет транзакцию в статусе PENDING
func (s *TransactionService) open(ctx context.Context, tx *models.Transaction, meta RequestMeta) error {
	tx.Status = models.TransactionStatusPending
	tx.InitiatedBy = meta.InitiatedBy
	tx.IPAddress = meta.IPAddress
	tx.UserAgent = meta.UserAgent
	tx.CreatedDate = s.now()

	for attempt := 1; ; attempt++ {
		tx.TransactionID = s.ids.TransactionID()
		tx.ReferenceNumber = s.ids.ReferenceNumber()

		err := s.store.Create(ctx, tx)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateTransactionID) || attempt == maxIDAttempts {
			return fmt.Errorf("ошибка при создании транзакции: %w", err)
		}
	}

	s.record(ctx, tx.TransactionID, models.AuditTransactionInitiated, describe(tx), meta.InitiatedBy)
	utils.LoggerFromContext(ctx).InfoContext(ctx, "транзакция создана",
		"transaction_id", tx.TransactionID, "type", tx.Type, "amount", tx.Amount.StringFixed(moneyScale))
	return nil
}

// moveLeg записывает проводку, вызывает реестр и сохраняет исход.
// Без записи о проводке реестр не вызывается
func (s *TransactionService) moveLeg(ctx context.Context, tx *models.Transaction, kind models.LegKind,
	accountID int64, amount decimal.Decimal, ledgerRef, description string, call ledgerCall) error {
	leg := &models.TransactionLeg{
		TransactionID: tx.TransactionID,
		Kind:          kind,
		AccountID:     accountID,
		Amount:        amount,
		LedgerRef:     ledgerRef,
		Status:        models.LegStatusPending,
	}
	if err := s.store.SaveLeg(ctx, leg); err != nil {
		return err
	}

	callErr := call(ctx, accountID, amount, ledgerRef, description)

	// При неизвестном исходе проводка остается PENDING до решения задачи восстановления
	switch {
	case callErr == nil:
		leg.Status = models.LegStatusSuccess
	case OutcomeUnknown(callErr):
		leg.Error = callErr.Error()
	default:
		leg.Status = models.LegStatusFailed
		leg.Error = callErr.Error()
	}
	if err := s.store.SaveLeg(ctx, leg); err != nil {
		utils.LoggerFromContext(ctx).ErrorContext(ctx, "ошибка сохранения исхода проводки",
			"transaction_id", tx.TransactionID, "kind", kind, "error", err)
	}

	if callErr != nil {
		// ledgerError сохраняет исходную ошибку в цепочке для OutcomeUnknown
		return ledgerError(callErr)
	}
	s.record(ctx, tx.TransactionID, models.AuditBalanceUpdated,
		fmt.Sprintf("%s %s по счету %d", kind, amount.StringFixed(moneyScale), accountID), systemActor)
	return nil
}

// abort завершает сагу после ошибки проводки. Отказ реестра передается в
// onFailure; при неизвестном исходе транзакция остается в PENDING
func (s *TransactionService) abort(ctx context.Context, tx *models.Transaction, cause error,
	onFailure func(context.Context, *models.Transaction, error) error) error {
	if OutcomeUnknown(cause) {
		return s.suspend(ctx, tx, cause)
	}
	return onFailure(ctx, tx, cause)
}

// suspend оставляет транзакцию в PENDING: проводка могла быть применена реестром.
// Ключ идемпотентности остается связан с транзакцией, повтор не создаст новую
func (s *TransactionService) suspend(ctx context.Context, tx *models.Transaction, cause error) error {
	logger := utils.LoggerFromContext(ctx)

	tx.FailureReason = "исход проводки неизвестен, транзакция ожидает восстановления"
	if err := s.persist(ctx, tx); err != nil {
		logger.ErrorContext(ctx, "ошибка сохранения транзакции", "transaction_id", tx.TransactionID, "error", err)
	}
	s.metrics.RecordTransaction(string(tx.Type), string(tx.Status))
	logger.WarnContext(ctx, "исход проводки неизвестен, транзакция оставлена в PENDING",
		"transaction_id", tx.TransactionID, "error", cause)
	return cause
}

// fail переводит транзакцию в FAILED и возвращает cause
func (s *TransactionService) fail(ctx context.Context, tx *models.Transaction, cause error) error {
	logger := utils.LoggerFromContext(ctx)

	tx.Status = models.TransactionStatusFailed
	tx.FailureReason = truncate(PublicMessage(cause), maxReasonLength)
	if err := s.persist(ctx, tx); err != nil {
		logger.ErrorContext(ctx, "ошибка сохранения статуса FAILED", "transaction_id", tx.TransactionID, "error", err)
	}

	s.publisher.Publish(ctx, failedEvent(tx))
	s.record(ctx, tx.TransactionID, models.AuditTransactionFailed, "Транзакция не проведена: "+tx.FailureReason, systemActor)
	s.metrics.RecordTransaction(string(tx.Type), string(tx.Status))
	logger.WarnContext(ctx, "транзакция не проведена", "transaction_id", tx.TransactionID, "reason", tx.FailureReason)
	return cause
}

// compensate возвращает списанное на счет-источник после неудачного зачисления
func (s *TransactionService) compensate(ctx context.Context, tx *models.Transaction, creditErr error) error {
	compErr := s.moveLeg(ctx, tx, models.LegKindCompensation, tx.FromAccountID, tx.TotalAmount,
		tx.TransactionID+"_COMPENSATION", "Compensation of "+tx.TransactionID, s.gateway.Credit)
	s.metrics.RecordCompensation(compErr == nil)
	if compErr == nil {
		return s.fail(ctx, tx, creditErr)
	}
	return s.escalate(ctx, tx, creditErr, compErr)
}

// escalate оставляет транзакцию в PENDING и сообщает оператору
func (s *TransactionService) escalate(ctx context.Context, tx *models.Transaction, cause, compErr error) error {
	logger := utils.LoggerFromContext(ctx)
	logger.ErrorContext(ctx, "компенсация не выполнена, требуется ручной разбор",
		"transaction_id", tx.TransactionID, "credit_error", cause, "compensation_error", compErr)

	tx.FailureReason = "зачисление не выполнено, возврат средств не выполнен"
	if err := s.persist(ctx, tx); err != nil {
		logger.ErrorContext(ctx, "ошибка сохранения транзакции", "transaction_id", tx.TransactionID, "error", err)
	}
	if err := s.notifier.NotifyCompensationFailed(ctx, tx, compErr); err != nil {
		logger.ErrorContext(ctx, "ошибка уведомления оператора", "transaction_id", tx.TransactionID, "error", err)
	}
	return cause
}

// complete переводит транзакцию в SUCCESS после всех проводок
func (s *TransactionService) complete(ctx context.Context, tx *models.Transaction, performedBy string) error {
	logger := utils.LoggerFromContext(ctx)

	now := s.now()
	tx.Status = models.TransactionStatusSuccess
	tx.CompletedDate = &now
	if err := s.persist(ctx, tx); err != nil {
		logger.ErrorContext(ctx, "проводки выполнены, но статус SUCCESS не сохранен",
			"transaction_id", tx.TransactionID, "error", err)
		return fmt.Errorf("ошибка при сохранении статуса транзакции: %w", err)
	}

	s.publisher.Publish(ctx, completedEvent(tx))
	s.record(ctx, tx.TransactionID, models.AuditTransactionCompleted, "Транзакция успешно проведена", performedBy)
	s.metrics.RecordTransaction(string(tx.Type), string(tx.Status))
	logger.InfoContext(ctx, "транзакция проведена", "transaction_id", tx.TransactionID)
	return nil
}

// persist сохраняет транзакцию и обновляет кэш
func (s *TransactionService) persist(ctx context.Context, tx *models.Transaction) error {
	if err := s.store.Update(ctx, tx); err != nil {
		return err
	}
	s.cache.Put(tx)
	return nil
}

func (s *TransactionService) load(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx, err := s.store.FindByTransactionID(ctx, transactionID)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, TransactionNotFound("транзакция %s не найдена", transactionID)
	}
	return tx, err
}

func (s *TransactionService) notifyStuck(ctx context.Context, tx *models.Transaction) {
	legs, err := s.store.FindLegs(ctx, tx.TransactionID)
	if err != nil {
		utils.LoggerFromContext(ctx).ErrorContext(ctx, "ошибка чтения проводок", "transaction_id", tx.TransactionID, "error", err)
	}
	if err := s.notifier.NotifyStuckTransaction(ctx, tx, legs); err != nil {
		utils.LoggerFromContext(ctx).ErrorContext(ctx, "ошибка уведомления оператора", "transaction_id", tx.TransactionID, "error", err)
	}
}

func (s *TransactionService) record(ctx context.Context, transactionID string, action models.AuditAction, description, performedBy string) {
	s.audit.Log(ctx, models.AuditEntry{
		TransactionID: transactionID,
		Action:        action,
		Description:   description,
		PerformedBy:   performedBy,
		Timestamp:     s.now(),
	})
}

// auditRejection фиксирует отказ по лимиту. Строки транзакции при этом нет
func (s *TransactionService) auditRejection(ctx context.Context, accountID int64, err error, performedBy string) {
	if KindOf(err) != KindLimitExceeded {
		return
	}
	s.record(ctx, "", models.AuditLimitExceeded,
		fmt.Sprintf("Счет %d: %s", accountID, PublicMessage(err)), performedBy)
}

func describe(tx *models.Transaction) string {
	amount := tx.Amount.StringFixed(moneyScale)
	switch tx.Type {
	case models.TransactionTypeTransfer:
		return fmt.Sprintf("Перевод %s (%s) со счета %s на счет %s", amount, tx.TransferMode, tx.FromAccountNumber, tx.ToAccountNumber)
	case models.TransactionTypeDeposit:
		return fmt.Sprintf("Пополнение счета %s на %s", tx.ToAccountNumber, amount)
	default:
		return fmt.Sprintf("Списание %s со счета %s", amount, tx.FromAccountNumber)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
