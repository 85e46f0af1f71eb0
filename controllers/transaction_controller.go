package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"transactionService/middleware"
	"transactionService/models"
	"transactionService/services"
	"transactionService/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const (
	statusSuccess = "SUCCESS"
	statusError   = "ERROR"

	idempotencyHeader = "Idempotency-Key"
	anonymousCaller   = "anonymous"
)

// TransactionOperations - операции сервиса транзакций, доступные через API
type TransactionOperations interface {
	Transfer(ctx context.Context, req services.TransferRequest, meta services.RequestMeta) (*models.Transaction, error)
	Deposit(ctx context.Context, req services.DepositRequest, meta services.RequestMeta) (*models.Transaction, error)
	Withdrawal(ctx context.Context, req services.WithdrawalRequest, meta services.RequestMeta) (*models.Transaction, error)
	ReverseTransaction(ctx context.Context, transactionID, reason, performedBy string) (*models.Transaction, error)
	GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error)
	GetTransactionByReference(ctx context.Context, referenceNumber string) (*models.Transaction, error)
	GetTransactionHistory(ctx context.Context, accountID int64, page, size int) (*services.TransactionPage, error)
	GetTransactionLegs(ctx context.Context, transactionID string) ([]models.TransactionLeg, error)
	GetAdvice(ctx context.Context, transactionID string) ([]byte, error)
}

// APIResponse - конверт всех ответов API
type APIResponse struct {
	Timestamp time.Time   `json:"timestamp"`
	Status    string      `json:"status"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
}

// TransactionController обрабатывает запросы, связанные с транзакциями
type TransactionController struct {
	transactions TransactionOperations
	validator    *validator.Validate
}

// NewTransactionController создает новый экземпляр TransactionController
func NewTransactionController(transactions TransactionOperations) *TransactionController {
	v := validator.New()
	// Суммы проверяются тегами min/max/gt как числа
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	return &TransactionController{
		transactions: transactions,
		validator:    v,
	}
}

// RegisterRoutes регистрирует маршруты контроллера
func (c *TransactionController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/transactions/health", c.Health).Methods(http.MethodGet)
	r.HandleFunc("/transactions/transfer", c.Transfer).Methods(http.MethodPost)
	r.HandleFunc("/transactions/deposit", c.Deposit).Methods(http.MethodPost)
	r.HandleFunc("/transactions/withdrawal", c.Withdrawal).Methods(http.MethodPost)
	r.HandleFunc("/transactions/reference/{referenceNumber}", c.GetTransactionByReference).Methods(http.MethodGet)
	r.HandleFunc("/transactions/account/{accountId}/history", c.GetTransactionHistory).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{transactionId}", c.GetTransaction).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{transactionId}/legs", c.GetTransactionLegs).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{transactionId}/advice", c.GetAdvice).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{transactionId}/reverse", c.ReverseTransaction).Methods(http.MethodPost)
}

// validateRequest валидирует DTO и возвращает ошибки валидации
func (c *TransactionController) validateRequest(dto interface{}) error {
	err := c.validator.Struct(dto)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return services.InvalidTransaction("%s", err.Error())
	}

	var errorMessages []string
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			errorMessages = append(errorMessages, "поле "+e.Field()+" обязательно")
		case "gt":
			errorMessages = append(errorMessages, "поле "+e.Field()+" должно быть больше "+e.Param())
		case "min":
			if e.Kind() == reflect.String {
				errorMessages = append(errorMessages, "поле "+e.Field()+" должно содержать не менее "+e.Param()+" символов")
			} else {
				errorMessages = append(errorMessages, "поле "+e.Field()+" должно быть не меньше "+e.Param())
			}
		case "max":
			if e.Kind() == reflect.String {
				errorMessages = append(errorMessages, "поле "+e.Field()+" должно содержать не более "+e.Param()+" символов")
			} else {
				errorMessages = append(errorMessages, "поле "+e.Field()+" должно быть не больше "+e.Param())
			}
		case "oneof":
			errorMessages = append(errorMessages, "поле "+e.Field()+" должно быть одним из: "+e.Param())
		case "numeric":
			errorMessages = append(errorMessages, "поле "+e.Field()+" должно содержать только цифры")
		default:
			errorMessages = append(errorMessages, "поле "+e.Field()+" заполнено неверно")
		}
	}
	return services.InvalidTransaction("%s", strings.Join(errorMessages, "; "))
}

// Transfer обрабатывает запрос на перевод между счетами
func (c *TransactionController) Transfer(w http.ResponseWriter, r *http.Request) {
	var dto services.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, r, services.InvalidTransaction("неверное тело запроса"))
		return
	}
	if dto.IdempotencyKey == "" {
		dto.IdempotencyKey = r.Header.Get(idempotencyHeader)
	}

	if err := c.validateRequest(dto); err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := c.transactions.Transfer(r.Context(), dto, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Transfer initiated successfully", tx)
}

// Deposit обрабатывает запрос на пополнение счета
func (c *TransactionController) Deposit(w http.ResponseWriter, r *http.Request) {
	var dto services.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, r, services.InvalidTransaction("неверное тело запроса"))
		return
	}
	if dto.IdempotencyKey == "" {
		dto.IdempotencyKey = r.Header.Get(idempotencyHeader)
	}

	if err := c.validateRequest(dto); err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := c.transactions.Deposit(r.Context(), dto, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Deposit completed successfully", tx)
}

// Withdrawal обрабатывает запрос на списание со счета
func (c *TransactionController) Withdrawal(w http.ResponseWriter, r *http.Request) {
	var dto services.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, r, services.InvalidTransaction("неверное тело запроса"))
		return
	}
	if dto.IdempotencyKey == "" {
		dto.IdempotencyKey = r.Header.Get(idempotencyHeader)
	}

	if err := c.validateRequest(dto); err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := c.transactions.Withdrawal(r.Context(), dto, requestMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Withdrawal completed successfully", tx)
}

// GetTransaction возвращает транзакцию по идентификатору
func (c *TransactionController) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := c.transactions.GetTransaction(r.Context(), mux.Vars(r)["transactionId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Transaction retrieved successfully", tx)
}

// GetTransactionByReference возвращает транзакцию по номеру ссылки
func (c *TransactionController) GetTransactionByReference(w http.ResponseWriter, r *http.Request) {
	tx, err := c.transactions.GetTransactionByReference(r.Context(), mux.Vars(r)["referenceNumber"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Transaction retrieved successfully", tx)
}

// GetTransactionHistory возвращает страницу истории счета
func (c *TransactionController) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(mux.Vars(r)["accountId"], 10, 64)
	if err != nil {
		writeError(w, r, services.InvalidTransaction("неверный идентификатор счета"))
		return
	}

	page, err := queryInt(r, "page", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := queryInt(r, "size", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	history, err := c.transactions.GetTransactionHistory(r.Context(), accountID, page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, fmt.Sprintf("Retrieved %d transactions", len(history.Items)), history)
}

// GetTransactionLegs возвращает проводки транзакции
func (c *TransactionController) GetTransactionLegs(w http.ResponseWriter, r *http.Request) {
	legs, err := c.transactions.GetTransactionLegs(r.Context(), mux.Vars(r)["transactionId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, fmt.Sprintf("Retrieved %d legs", len(legs)), legs)
}

// GetAdvice возвращает XML-извещение по транзакции
func (c *TransactionController) GetAdvice(w http.ResponseWriter, r *http.Request) {
	advice, err := c.transactions.GetAdvice(r.Context(), mux.Vars(r)["transactionId"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(advice)
}

// ReverseTransaction сторнирует транзакцию. Причина передается параметром reason
func (c *TransactionController) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	performedBy := requestMeta(r).InitiatedBy
	reason := r.URL.Query().Get("reason")

	tx, err := c.transactions.ReverseTransaction(r.Context(), mux.Vars(r)["transactionId"], reason, performedBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Transaction reversed successfully", tx)
}

// Health сообщает, что сервис принимает запросы
func (c *TransactionController) Health(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "Transaction Service is healthy", "UP")
}

// requestMeta собирает сведения о вызывающем из контекста и заголовков
func requestMeta(r *http.Request) services.RequestMeta {
	meta := services.RequestMeta{
		InitiatedBy: anonymousCaller,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
	}
	if user, ok := middleware.UserFromContext(r.Context()); ok && user.Username != "" {
		meta.InitiatedBy = user.Username
	}
	return meta
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, services.InvalidTransaction("параметр %s должен быть числом", name)
	}
	return v, nil
}

// statusForKind сопоставляет класс ошибки HTTP-статусу
func statusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindInvalidTransaction, services.KindInsufficientBalance, services.KindLimitExceeded:
		return http.StatusBadRequest
	case services.KindAccountNotFound, services.KindTransactionNotFound:
		return http.StatusNotFound
	case services.KindDuplicateTransaction:
		return http.StatusConflict
	case services.KindLedgerUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, APIResponse{
		Timestamp: time.Now(),
		Status:    statusSuccess,
		Message:   message,
		Data:      data,
	})
}

// writeError пишет ошибку в конверте. Внутренние ошибки логируются, клиенту уходит общий текст
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := services.KindOf(err)
	status := statusForKind(kind)

	message := services.PublicMessage(err)
	logger := utils.LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "ошибка обработки запроса", "path", r.URL.Path, "error", err)
		if kind == services.KindInternal {
			message = "An unexpected error occurred"
		}
	} else {
		logger.WarnContext(r.Context(), "запрос отклонен", "path", r.URL.Path, "code", kind, "error", err)
	}

	writeJSON(w, status, APIResponse{
		Timestamp: time.Now(),
		Status:    statusError,
		Code:      string(kind),
		Message:   message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
