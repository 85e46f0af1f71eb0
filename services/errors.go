package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind представляет класс ошибки операции с транзакцией
type ErrorKind string

const (
	KindInvalidTransaction   ErrorKind = "INVALID_TRANSACTION"
	KindInsufficientBalance  ErrorKind = "INSUFFICIENT_BALANCE"
	KindLimitExceeded        ErrorKind = "TRANSACTION_LIMIT_EXCEEDED"
	KindAccountNotFound      ErrorKind = "ACCOUNT_NOT_FOUND"
	KindTransactionNotFound  ErrorKind = "TRANSACTION_NOT_FOUND"
	KindDuplicateTransaction ErrorKind = "DUPLICATE_TRANSACTION"
	KindLedgerUnavailable    ErrorKind = "LEDGER_UNAVAILABLE"
	KindInternal             ErrorKind = "INTERNAL_ERROR"
)

var (
	// ErrTransactionNotFound возвращается хранилищем, если транзакции нет
	ErrTransactionNotFound = errors.New("транзакция не найдена")
	// ErrStaleTransaction возвращается при конфликте версий строки транзакции
	ErrStaleTransaction = errors.New("транзакция изменена параллельно")
	// ErrDuplicateTransactionID возвращается, если сгенерированный идентификатор уже занят
	ErrDuplicateTransactionID = errors.New("идентификатор транзакции уже существует")
	// ErrAccountNotFound возвращается реестром счетов, если счета нет
	ErrAccountNotFound = errors.New("счет не найден")
	// ErrLedgerUnavailable возвращается, если реестр счетов недоступен
	ErrLedgerUnavailable = errors.New("реестр счетов недоступен")
)

// TransactionError представляет ошибку с классом и сообщением для клиента
type TransactionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *TransactionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, format string, args ...interface{}) *TransactionError {
	return &TransactionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransaction создает ошибку некорректной операции
func InvalidTransaction(format string, args ...interface{}) error {
	return newError(KindInvalidTransaction, format, args...)
}

// InsufficientBalance создает ошибку недостатка средств
func InsufficientBalance(format string, args ...interface{}) error {
	return newError(KindInsufficientBalance, format, args...)
}

// LimitExceeded создает ошибку превышения лимита
func LimitExceeded(format string, args ...interface{}) error {
	return newError(KindLimitExceeded, format, args...)
}

// TransactionNotFound создает ошибку отсутствия транзакции
func TransactionNotFound(format string, args ...interface{}) error {
	return newError(KindTransactionNotFound, format, args...)
}

// DuplicateTransaction создает ошибку конфликта ключа идемпотентности
func DuplicateTransaction(format string, args ...interface{}) error {
	return newError(KindDuplicateTransaction, format, args...)
}

// ledgerError переводит ошибку реестра счетов в класс для клиента
func ledgerError(err error) error {
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return err
	}
	if errors.Is(err, ErrAccountNotFound) {
		return &TransactionError{Kind: KindAccountNotFound, Message: "счет не найден", Err: err}
	}
	if errors.Is(err, ErrLedgerRejected) {
		return &TransactionError{Kind: KindInvalidTransaction, Message: rejectionMessage(err), Err: err}
	}
	return &TransactionError{Kind: KindLedgerUnavailable, Message: "реестр счетов недоступен", Err: err}
}

// rejectionMessage возвращает текст отказа реестра без обертки
func rejectionMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ErrLedgerRejected.Error()); i >= 0 {
		return msg[i:]
	}
	return ErrLedgerRejected.Error()
}

// KindOf возвращает класс ошибки, KindInternal для неизвестных ошибок
func KindOf(err error) ErrorKind {
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return txErr.Kind
	}
	return KindInternal
}

// PublicMessage возвращает сообщение, которое можно показать клиенту
func PublicMessage(err error) string {
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return txErr.Message
	}
	return "внутренняя ошибка сервиса"
}
