package credits

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pixelforge-backend/api/middleware"
	"github.com/angelmondragon/pixelforge-backend/api/responses"
	creditsvc "github.com/angelmondragon/pixelforge-backend/internal/credits"
	"github.com/angelmondragon/pixelforge-backend/internal/ledger"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
)

func TestConsumeRequiresAccount(t *testing.T) {
	handler := Consume(&stubCreditService{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/consume", bytes.NewReader([]byte(`{"amount":5,"operation_ref":"job-1"}`)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without account, got %d", resp.Code)
	}
}

func TestConsumeSuccess(t *testing.T) {
	accountID := uuid.New()
	service := &stubCreditService{
		consumeResult: creditsvc.ConsumeResult{OperationID: uuid.New(), OperationRef: "job-1", Amount: 5, Balance: 15},
	}
	handler := Consume(service, testLogger())

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/consume", bytes.NewReader([]byte(`{"amount":5,"operation_ref":" job-1 "}`))), accountID)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if service.consumeAccount != accountID || service.consumeRef != "job-1" || service.consumeAmount != 5 {
		t.Fatalf("unexpected consume call: %s %q %d", service.consumeAccount, service.consumeRef, service.consumeAmount)
	}

	var envelope struct {
		Data creditsvc.ConsumeResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Balance != 15 {
		t.Fatalf("expected balance 15, got %d", envelope.Data.Balance)
	}
}

func TestConsumeValidatesBody(t *testing.T) {
	service := &stubCreditService{}
	handler := Consume(service, testLogger())

	for _, body := range []string{`{"amount":0,"operation_ref":"a"}`, `{"amount":5}`, `{"amount":-1,"operation_ref":"a"}`, `{"amount":5,"operation_ref":"a","extra":1}`} {
		req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/consume", bytes.NewReader([]byte(body))), uuid.New())
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, resp.Code)
		}
	}
	if service.consumeCalls != 0 {
		t.Fatalf("service should not be invoked for invalid bodies")
	}
}

func TestConsumeInsufficientCredits(t *testing.T) {
	service := &stubCreditService{err: pkgerrors.New(pkgerrors.CodeInsufficientCredits, "insufficient credits")}
	handler := Consume(service, testLogger())

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/consume", bytes.NewReader([]byte(`{"amount":500,"operation_ref":"job-2"}`))), uuid.New())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.Code)
	}
	var envelope responses.ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeInsufficientCredits) {
		t.Fatalf("unexpected code %s", envelope.Error.Code)
	}
}

func TestRefundCreatedThenReplayed(t *testing.T) {
	service := &stubCreditService{refundResult: creditsvc.GrantResult{Amount: 5, Balance: 20}}
	handler := Refund(service, testLogger())
	accountID := uuid.New()

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/refund", bytes.NewReader([]byte(`{"amount":5,"operation_ref":"job-1","reason":"render failed"}`))), accountID)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if service.refundReq.AccountID != accountID || service.refundReq.Reason != "render failed" {
		t.Fatalf("unexpected refund request %+v", service.refundReq)
	}

	service.refundResult.Replayed = true
	req = authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/refund", bytes.NewReader([]byte(`{"amount":5,"operation_ref":"job-1"}`))), accountID)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", resp.Code)
	}
}

func TestHistoryParsesQuery(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service := &stubCreditService{
		page: ledger.TransactionPage{
			Transactions: []models.CreditTransaction{{
				ID:          uuid.New(),
				OperationID: uuid.New(),
				Delta:       -5,
				Type:        enums.CreditTransactionConsume,
				CreatedAt:   createdAt,
			}},
			Cursor: "next",
		},
	}
	handler := History(service, testLogger())

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/credits/history?limit=10&cursor=abc&type=consume", nil), uuid.New())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if service.historyQuery.Limit != 10 || service.historyQuery.Cursor != "abc" {
		t.Fatalf("unexpected query %+v", service.historyQuery)
	}
	if service.historyQuery.Type == nil || *service.historyQuery.Type != enums.CreditTransactionConsume {
		t.Fatalf("expected consume type filter")
	}

	var envelope struct {
		Data historyResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data.Transactions) != 1 || envelope.Data.Transactions[0].Delta != -5 || envelope.Data.Cursor != "next" {
		t.Fatalf("unexpected history payload %+v", envelope.Data)
	}
}

func TestHistoryRejectsBadQuery(t *testing.T) {
	handler := History(&stubCreditService{}, testLogger())
	for _, target := range []string{"/api/v1/credits/history?limit=0", "/api/v1/credits/history?limit=abc", "/api/v1/credits/history?type=bonus"} {
		req := authed(httptest.NewRequest(http.MethodGet, target, nil), uuid.New())
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", target, resp.Code)
		}
	}
}

func TestGrantsActiveOnlyFilter(t *testing.T) {
	service := &stubCreditService{
		grants: []models.CreditGrant{{ID: uuid.New(), Amount: 20, Remaining: 15, Source: enums.CreditSourceSubscriptionRenewal}},
	}
	handler := Grants(service, testLogger())

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/credits/grants?active_only=true", nil), uuid.New())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !service.grantFilter.ActiveOnly {
		t.Fatalf("expected active_only filter")
	}
	var envelope struct {
		Data grantsResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data.Grants) != 1 || envelope.Data.Grants[0].Remaining != 15 {
		t.Fatalf("unexpected grants payload %+v", envelope.Data)
	}

	req = authed(httptest.NewRequest(http.MethodGet, "/api/v1/credits/grants?active_only=maybe", nil), uuid.New())
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad flag, got %d", resp.Code)
	}
}

func TestBalanceNilService(t *testing.T) {
	handler := Balance(nil, testLogger())
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil), uuid.New())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test"})
}

func authed(req *http.Request, accountID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithAccountID(req.Context(), accountID.String()))
}

type stubCreditService struct {
	err error

	consumeCalls   int
	consumeAccount uuid.UUID
	consumeAmount  int64
	consumeRef     string
	consumeResult  creditsvc.ConsumeResult

	refundReq    creditsvc.RefundRequest
	refundResult creditsvc.GrantResult

	historyQuery ledger.HistoryQuery
	page         ledger.TransactionPage

	grantFilter ledger.GrantFilter
	grants      []models.CreditGrant
}

func (s *stubCreditService) Consume(ctx context.Context, accountID uuid.UUID, amount int64, operationRef string) (creditsvc.ConsumeResult, error) {
	s.consumeCalls++
	s.consumeAccount = accountID
	s.consumeAmount = amount
	s.consumeRef = operationRef
	return s.consumeResult, s.err
}

func (s *stubCreditService) Refund(ctx context.Context, req creditsvc.RefundRequest) (creditsvc.GrantResult, error) {
	s.refundReq = req
	return s.refundResult, s.err
}

func (s *stubCreditService) Balance(ctx context.Context, accountID uuid.UUID) (ledger.Balance, error) {
	return ledger.Balance{AccountID: accountID}, s.err
}

func (s *stubCreditService) History(ctx context.Context, accountID uuid.UUID, q ledger.HistoryQuery) (ledger.TransactionPage, error) {
	s.historyQuery = q
	return s.page, s.err
}

func (s *stubCreditService) Grants(ctx context.Context, accountID uuid.UUID, filter ledger.GrantFilter) ([]models.CreditGrant, error) {
	s.grantFilter = filter
	return s.grants, s.err
}
