package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"transactionService/models"
	"transactionService/utils"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// ErrLedgerRejected возвращается, если реестр счетов отклонил проводку
var ErrLedgerRejected = errors.New("реестр счетов отклонил операцию")

// OutcomeUnknown сообщает, что проводка могла быть применена реестром,
// хотя вызов вернул ошибку: таймаут, обрыв соединения, ответ 5xx.
// Отказ автомата защиты означает, что запрос не отправлялся
func OutcomeUnknown(err error) bool {
	if err == nil || !errors.Is(err, ErrLedgerUnavailable) {
		return false
	}
	return !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests)
}

// AccountGateway - клиент внешнего реестра счетов. Каждый вызов - отдельный
// удаленный запрос, атомарности между вызовами нет. ledgerRef передается
// реестру как ключ идемпотентности проводки
type AccountGateway interface {
	GetBalance(ctx context.Context, accountID int64) (*models.AccountBalance, error)
	GetBalanceByNumber(ctx context.Context, accountNumber string) (*models.AccountBalance, error)
	Credit(ctx context.Context, accountID int64, amount decimal.Decimal, ledgerRef, description string) error
	Debit(ctx context.Context, accountID int64, amount decimal.Decimal, ledgerRef, description string) error
}

// GatewayOptions содержит настройки клиента реестра счетов
type GatewayOptions struct {
	BaseURL          string
	Timeout          time.Duration
	MaxRetries       int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	FailureThreshold int
	OpenTimeout      time.Duration
}

// balanceUpdateRequest - тело запроса на проводку
type balanceUpdateRequest struct {
	AccountID       int64           `json:"accountId"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionType string          `json:"transactionType"`
	TransactionID   string          `json:"transactionId"`
	Description     string          `json:"description"`
}

// ledgerResponse - конверт ответа реестра счетов
type ledgerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// HTTPAccountGateway обращается к реестру счетов по HTTP.
// Чтения повторяются с экспоненциальной задержкой, проводки не повторяются.
// Все вызовы проходят через автомат защиты
type HTTPAccountGateway struct {
	client  *http.Client
	opts    GatewayOptions
	breaker *gobreaker.CircuitBreaker
	metrics *utils.Metrics
}

// NewHTTPAccountGateway создает новый экземпляр HTTPAccountGateway
func NewHTTPAccountGateway(client *http.Client, opts GatewayOptions, metrics *utils.Metrics) *HTTPAccountGateway {
	if client == nil {
		client = &http.Client{}
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}

	g := &HTTPAccountGateway{client: client, opts: opts, metrics: metrics}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "account-ledger",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(opts.FailureThreshold)
		},
		// Отказы по бизнес-причинам не говорят о недоступности реестра
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrLedgerRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if g.metrics != nil {
				g.metrics.SetBreakerState(name, int(to))
			}
		},
	})
	return g
}

// BreakerState возвращает текущее состояние автомата защиты
func (g *HTTPAccountGateway) BreakerState() gobreaker.State {
	return g.breaker.State()
}

// GetBalance возвращает снимок счета по идентификатору
func (g *HTTPAccountGateway) GetBalance(ctx context.Context, accountID int64) (*models.AccountBalance, error) {
	path := "/api/v1/account/" + strconv.FormatInt(accountID, 10) + "/balance"
	return g.fetchBalance(ctx, "get_balance", path)
}

// GetBalanceByNumber возвращает снимок счета по номеру
func (g *HTTPAccountGateway) GetBalanceByNumber(ctx context.Context, accountNumber string) (*models.AccountBalance, error) {
	path := "/api/v1/account/get-account/" + url.PathEscape(accountNumber)
	return g.fetchBalance(ctx, "get_balance_by_number", path)
}

// Credit зачисляет amount на счет
func (g *HTTPAccountGateway) Credit(ctx context.Context, accountID int64, amount decimal.Decimal, ledgerRef, description string) error {
	return g.post(ctx, "credit", accountID, amount, ledgerRef, description)
}

// Debit списывает amount со счета
func (g *HTTPAccountGateway) Debit(ctx context.Context, accountID int64, amount decimal.Decimal, ledgerRef, description string) error {
	return g.post(ctx, "debit", accountID, amount, ledgerRef, description)
}

func (g *HTTPAccountGateway) fetchBalance(ctx context.Context, operation, path string) (*models.AccountBalance, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.opts.InitialBackoff
	b.MaxInterval = g.opts.MaxBackoff
	b.MaxElapsedTime = 0

	retries := g.opts.MaxRetries
	if retries < 0 {
		retries = 0
	}

	var balance models.AccountBalance
	operationFn := func() error {
		data, err := g.call(ctx, operation, http.MethodGet, path, nil, "")
		if err != nil {
			if errors.Is(err, ErrLedgerUnavailable) && !errors.Is(err, gobreaker.ErrOpenState) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(data) == 0 || string(data) == "null" {
			return backoff.Permanent(ErrAccountNotFound)
		}
		if err := json.Unmarshal(data, &balance); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: неверный ответ: %v", ErrLedgerUnavailable, err))
		}
		return nil
	}

	err := backoff.Retry(operationFn, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (g *HTTPAccountGateway) post(ctx context.Context, operation string, accountID int64, amount decimal.Decimal, ledgerRef, description string) error {
	body, err := json.Marshal(balanceUpdateRequest{
		AccountID:       accountID,
		Amount:          amount,
		TransactionType: map[string]string{"credit": "CREDIT", "debit": "DEBIT"}[operation],
		TransactionID:   ledgerRef,
		Description:     description,
	})
	if err != nil {
		return err
	}
	path := "/api/v1/account/" + strconv.FormatInt(accountID, 10) + "/" + operation
	_, err = g.call(ctx, operation, http.MethodPost, path, body, ledgerRef)
	return err
}

// call выполняет один запрос через автомат защиты с собственным таймаутом
func (g *HTTPAccountGateway) call(ctx context.Context, operation, method, path string, body []byte, ledgerRef string) (json.RawMessage, error) {
	start := time.Now()

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.roundTrip(ctx, method, path, body, ledgerRef)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	if g.metrics != nil {
		g.metrics.RecordGatewayCall(operation, time.Since(start), err)
	}
	utils.LoggerFromContext(ctx).DebugContext(ctx, "вызов реестра счетов",
		"operation", operation, "path", path, "duration", time.Since(start), "error", err)

	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func (g *HTTPAccountGateway) roundTrip(ctx context.Context, method, path string, body []byte, ledgerRef string) (json.RawMessage, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.opts.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ledgerRef != "" {
		req.Header.Set("Idempotency-Key", ledgerRef)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	var envelope ledgerResponse
	if len(raw) > 0 {
		// Тело ошибки может быть не JSON, тогда используется только код ответа
		_ = json.Unmarshal(raw, &envelope)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrAccountNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: статус %d", ErrLedgerUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg := envelope.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s", ErrLedgerRejected, msg)
	}
	return envelope.Data, nil
}
