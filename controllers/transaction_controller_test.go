package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"transactionService/middleware"
	"transactionService/models"
	"transactionService/services"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// stubTransactions - TransactionOperations с подменяемыми функциями
type stubTransactions struct {
	transfer   func(services.TransferRequest, services.RequestMeta) (*models.Transaction, error)
	deposit    func(services.DepositRequest) (*models.Transaction, error)
	withdrawal func(services.WithdrawalRequest) (*models.Transaction, error)
	reverse    func(id, reason, performedBy string) (*models.Transaction, error)
	get        func(id string) (*models.Transaction, error)
	byRef      func(ref string) (*models.Transaction, error)
	history    func(accountID int64, page, size int) (*services.TransactionPage, error)
	advice     func(id string) ([]byte, error)
}

func (s *stubTransactions) Transfer(ctx context.Context, req services.TransferRequest, meta services.RequestMeta) (*models.Transaction, error) {
	return s.transfer(req, meta)
}

func (s *stubTransactions) Deposit(ctx context.Context, req services.DepositRequest, meta services.RequestMeta) (*models.Transaction, error) {
	return s.deposit(req)
}

func (s *stubTransactions) Withdrawal(ctx context.Context, req services.WithdrawalRequest, meta services.RequestMeta) (*models.Transaction, error) {
	return s.withdrawal(req)
}

func (s *stubTransactions) ReverseTransaction(ctx context.Context, id, reason, performedBy string) (*models.Transaction, error) {
	return s.reverse(id, reason, performedBy)
}

func (s *stubTransactions) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return s.get(id)
}

func (s *stubTransactions) GetTransactionByReference(ctx context.Context, ref string) (*models.Transaction, error) {
	return s.byRef(ref)
}

func (s *stubTransactions) GetTransactionHistory(ctx context.Context, accountID int64, page, size int) (*services.TransactionPage, error) {
	return s.history(accountID, page, size)
}

func (s *stubTransactions) GetTransactionLegs(ctx context.Context, id string) ([]models.TransactionLeg, error) {
	return []models.TransactionLeg{}, nil
}

func (s *stubTransactions) GetAdvice(ctx context.Context, id string) ([]byte, error) {
	return s.advice(id)
}

func newTestRouter(stub *stubTransactions) *mux.Router {
	router := mux.NewRouter()
	NewTransactionController(stub).RegisterRoutes(router)
	return router
}

func doRequest(t *testing.T, router http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req = req.WithContext(middleware.WithUser(req.Context(), middleware.User{ID: 7, Username: "alice"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var resp APIResponse
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("response is not JSON: %v", err)
		}
	}
	return rr, resp
}

const validTransfer = `{"fromAccountId":1,"toAccountNumber":"1000000002","amount":"500.00","transferMode":"IMPS"}`

func TestTransferCreated(t *testing.T) {
	var gotReq services.TransferRequest
	var gotMeta services.RequestMeta
	stub := &stubTransactions{transfer: func(req services.TransferRequest, meta services.RequestMeta) (*models.Transaction, error) {
		gotReq, gotMeta = req, meta
		return &models.Transaction{TransactionID: "TXN1", Status: models.TransactionStatusSuccess}, nil
	}}

	rr, resp := doRequest(t, newTestRouter(stub), http.MethodPost, "/transactions/transfer", validTransfer,
		map[string]string{"Idempotency-Key": "key-1", "User-Agent": "curl"})

	if rr.Code != http.StatusCreated {
		t.Fatalf("handler returned wrong status code: got %v want %v (%s)", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if resp.Status != "SUCCESS" || resp.Message != "Transfer initiated successfully" {
		t.Errorf("unexpected envelope: %+v", resp)
	}
	if gotReq.IdempotencyKey != "key-1" {
		t.Errorf("idempotency header not applied: %q", gotReq.IdempotencyKey)
	}
	if !gotReq.Amount.Equal(decimal.RequireFromString("500")) {
		t.Errorf("amount not decoded: %s", gotReq.Amount)
	}
	if gotMeta.InitiatedBy != "alice" || gotMeta.UserAgent != "curl" {
		t.Errorf("unexpected meta: %+v", gotMeta)
	}
}

func TestTransferValidation(t *testing.T) {
	called := false
	stub := &stubTransactions{transfer: func(services.TransferRequest, services.RequestMeta) (*models.Transaction, error) {
		called = true
		return nil, nil
	}}
	router := newTestRouter(stub)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing amount", `{"fromAccountId":1,"toAccountNumber":"1000000002","transferMode":"IMPS"}`, "Amount"},
		{"amount below minimum", `{"fromAccountId":1,"toAccountNumber":"1000000002","amount":"0.50","transferMode":"IMPS"}`, "Amount"},
		{"bad mode", `{"fromAccountId":1,"toAccountNumber":"1000000002","amount":"10","transferMode":"SWIFT"}`, "IMPS NEFT RTGS"},
		{"short account number", `{"fromAccountId":1,"toAccountNumber":"12345","amount":"10","transferMode":"IMPS"}`, "ToAccountNumber"},
		{"letters in account number", `{"fromAccountId":1,"toAccountNumber":"10000000ab","amount":"10","transferMode":"IMPS"}`, "ToAccountNumber"},
		{"malformed body", `{"fromAccountId":`, "неверное тело запроса"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, resp := doRequest(t, router, http.MethodPost, "/transactions/transfer", tt.body, nil)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
			}
			if resp.Status != "ERROR" || resp.Code != string(services.KindInvalidTransaction) {
				t.Errorf("unexpected envelope: %+v", resp)
			}
			if !strings.Contains(resp.Message, tt.want) {
				t.Errorf("message %q should mention %q", resp.Message, tt.want)
			}
		})
	}
	if called {
		t.Errorf("invalid request reached the service")
	}
}

func TestDepositAmountCap(t *testing.T) {
	stub := &stubTransactions{deposit: func(services.DepositRequest) (*models.Transaction, error) {
		return &models.Transaction{TransactionID: "TXN1"}, nil
	}}
	router := newTestRouter(stub)

	rr, _ := doRequest(t, router, http.MethodPost, "/transactions/deposit", `{"accountId":2,"amount":"100000.01"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("deposit above cap: got %v want %v", rr.Code, http.StatusBadRequest)
	}

	rr, resp := doRequest(t, router, http.MethodPost, "/transactions/deposit", `{"accountId":2,"amount":"100000"}`, nil)
	if rr.Code != http.StatusCreated || resp.Message != "Deposit completed successfully" {
		t.Errorf("deposit at cap: got %v %+v", rr.Code, resp)
	}
}

func TestErrorKindsMapToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.InvalidTransaction("bad"), http.StatusBadRequest},
		{services.InsufficientBalance("poor"), http.StatusBadRequest},
		{services.LimitExceeded("limit"), http.StatusBadRequest},
		{services.TransactionNotFound("missing"), http.StatusNotFound},
		{&services.TransactionError{Kind: services.KindAccountNotFound, Message: "no account"}, http.StatusNotFound},
		{services.DuplicateTransaction("dup"), http.StatusConflict},
		{&services.TransactionError{Kind: services.KindLedgerUnavailable, Message: "down"}, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		stub := &stubTransactions{withdrawal: func(services.WithdrawalRequest) (*models.Transaction, error) {
			return nil, tt.err
		}}
		rr, resp := doRequest(t, newTestRouter(stub), http.MethodPost, "/transactions/withdrawal", `{"accountId":1,"amount":"10"}`, nil)
		if rr.Code != tt.want {
			t.Errorf("%v: got status %v want %v", tt.err, rr.Code, tt.want)
		}
		if resp.Code != string(services.KindOf(tt.err)) {
			t.Errorf("%v: got code %q", tt.err, resp.Code)
		}
	}
}

func TestInternalErrorsHideDetails(t *testing.T) {
	stub := &stubTransactions{get: func(string) (*models.Transaction, error) {
		return nil, context.DeadlineExceeded
	}}
	_, resp := doRequest(t, newTestRouter(stub), http.MethodGet, "/transactions/TXN1", "", nil)
	if strings.Contains(resp.Message, "deadline") {
		t.Errorf("internal error leaked: %q", resp.Message)
	}
}

func TestGetRoutes(t *testing.T) {
	stub := &stubTransactions{
		get: func(id string) (*models.Transaction, error) {
			return &models.Transaction{TransactionID: id}, nil
		},
		byRef: func(ref string) (*models.Transaction, error) {
			return &models.Transaction{ReferenceNumber: ref}, nil
		},
	}
	router := newTestRouter(stub)

	rr, resp := doRequest(t, router, http.MethodGet, "/transactions/TXN1", "", nil)
	if rr.Code != http.StatusOK || resp.Message != "Transaction retrieved successfully" {
		t.Errorf("get by id: %v %+v", rr.Code, resp)
	}
	rr, _ = doRequest(t, router, http.MethodGet, "/transactions/reference/REF1", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "REF1") {
		t.Errorf("get by reference: %v %s", rr.Code, rr.Body.String())
	}
	rr, resp = doRequest(t, router, http.MethodGet, "/transactions/health", "", nil)
	if rr.Code != http.StatusOK || resp.Data != "UP" {
		t.Errorf("health: %v %+v", rr.Code, resp)
	}
}

func TestHistoryPaging(t *testing.T) {
	var gotAccount int64
	var gotPage, gotSize int
	stub := &stubTransactions{history: func(accountID int64, page, size int) (*services.TransactionPage, error) {
		gotAccount, gotPage, gotSize = accountID, page, size
		return &services.TransactionPage{Items: []models.Transaction{{}, {}}, Page: page, Size: size}, nil
	}}
	router := newTestRouter(stub)

	rr, resp := doRequest(t, router, http.MethodGet, "/transactions/account/42/history?page=2&size=5", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v", rr.Code)
	}
	if gotAccount != 42 || gotPage != 2 || gotSize != 5 {
		t.Errorf("paging not passed through: %d %d %d", gotAccount, gotPage, gotSize)
	}
	if resp.Message != "Retrieved 2 transactions" {
		t.Errorf("unexpected message %q", resp.Message)
	}

	rr, _ = doRequest(t, router, http.MethodGet, "/transactions/account/42/history?page=x", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("non-numeric page: got %v", rr.Code)
	}
	rr, _ = doRequest(t, router, http.MethodGet, "/transactions/account/abc/history", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("non-numeric account: got %v", rr.Code)
	}
}

func TestReverseUsesCallerAndReason(t *testing.T) {
	var gotID, gotReason, gotBy string
	stub := &stubTransactions{reverse: func(id, reason, performedBy string) (*models.Transaction, error) {
		gotID, gotReason, gotBy = id, reason, performedBy
		return &models.Transaction{TransactionID: id, Status: models.TransactionStatusReversed}, nil
	}}

	rr, resp := doRequest(t, newTestRouter(stub), http.MethodPost, "/transactions/TXN1/reverse?reason=duplicate+payment", "", nil)
	if rr.Code != http.StatusOK || resp.Message != "Transaction reversed successfully" {
		t.Fatalf("reverse: %v %+v", rr.Code, resp)
	}
	if gotID != "TXN1" || gotReason != "duplicate payment" || gotBy != "alice" {
		t.Errorf("unexpected arguments: %q %q %q", gotID, gotReason, gotBy)
	}
}

func TestAdviceIsXML(t *testing.T) {
	stub := &stubTransactions{advice: func(id string) ([]byte, error) {
		return []byte(`<TransactionAdvice transactionId="` + id + `"/>`), nil
	}}

	req := httptest.NewRequest(http.MethodGet, "/transactions/TXN1/advice", nil)
	rr := httptest.NewRecorder()
	newTestRouter(stub).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "application/xml") {
		t.Errorf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte(`transactionId="TXN1"`)) {
		t.Errorf("unexpected body %s", rr.Body.String())
	}
}
