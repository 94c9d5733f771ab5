package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pixelforge-backend/api/middleware"
	"github.com/angelmondragon/pixelforge-backend/internal/retention"
	subsvc "github.com/angelmondragon/pixelforge-backend/internal/subscriptions"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
)

func TestGetReturnsView(t *testing.T) {
	accountID := uuid.New()
	service := &stubSubscriptionService{view: subsvc.View{
		AccountID:      accountID,
		Snapshot:       subsvc.Snapshot{Plan: enums.PlanBasic, Status: enums.AccountStatusActive},
		MonthlyCredits: 20,
	}}
	handler := Get(service, testLogger())

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/subscription", nil), accountID)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var envelope struct {
		Data subsvc.View `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Plan != enums.PlanBasic || envelope.Data.MonthlyCredits != 20 {
		t.Fatalf("unexpected view %+v", envelope.Data)
	}
}

func TestResumeMapsInvalidTransition(t *testing.T) {
	service := &stubSubscriptionService{err: pkgerrors.New(pkgerrors.CodeInvalidTransition, "resume not allowed from active")}
	handler := Resume(service, testLogger())

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/subscription/resume", nil), uuid.New())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
}

func TestPauseRequiresIdempotencyKey(t *testing.T) {
	service := &stubRetentionService{}
	handler := Pause(service, testLogger())

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/subscription/pause", bytes.NewReader([]byte(`{"duration_days":30}`))), uuid.New())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without key, got %d", resp.Code)
	}
	if service.pauseCalls != 0 {
		t.Fatalf("service should not be invoked without a key")
	}
}

func TestPauseSuccess(t *testing.T) {
	accountID := uuid.New()
	until := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	service := &stubRetentionService{pauseResult: retention.PauseResult{PausedUntil: until, PauseCountThisYear: 1}}
	handler := Pause(service, testLogger())

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/subscription/pause", bytes.NewReader([]byte(`{"duration_days":30}`))), accountID)
	req.Header.Set("Idempotency-Key", "pause-1")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if service.pauseAccount != accountID || service.pauseDays != 30 || service.pauseKey != "pause-1" {
		t.Fatalf("unexpected pause call %s %d %q", service.pauseAccount, service.pauseDays, service.pauseKey)
	}
}

func TestPauseLimitIsConflict(t *testing.T) {
	service := &stubRetentionService{err: pkgerrors.New(pkgerrors.CodeConflict, retention.ReasonYearlyLimit)}
	handler := Pause(service, testLogger())

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/subscription/pause", bytes.NewReader([]byte(`{"duration_days":30}`))), uuid.New())
	req.Header.Set("Idempotency-Key", "pause-3")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestPauseEligibility(t *testing.T) {
	service := &stubRetentionService{pauseEligibility: retention.PauseEligibility{CanPause: false, Reason: retention.ReasonAlreadyPaused}}
	handler := PauseEligibility(service, testLogger())

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/subscription/pause-eligibility", nil), uuid.New())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var envelope struct {
		Data retention.PauseEligibility `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.CanPause || envelope.Data.Reason != retention.ReasonAlreadyPaused {
		t.Fatalf("unexpected eligibility %+v", envelope.Data)
	}
}

func TestApplyDiscountParsesDecimal(t *testing.T) {
	accountID := uuid.New()
	service := &stubRetentionService{}
	handler := ApplyDiscount(service, testLogger())

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/subscription/apply-discount", bytes.NewReader([]byte(`{"percent_off":"25.5","duration_cycles":3}`))), accountID)
	req.Header.Set("Idempotency-Key", "disc-1")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if !service.discountReq.PercentOff.Equal(decimal.RequireFromString("25.5")) {
		t.Fatalf("unexpected percent %s", service.discountReq.PercentOff)
	}
	if service.discountReq.DurationCycles != 3 || service.discountReq.IdempotencyKey != "disc-1" || service.discountReq.AccountID != accountID {
		t.Fatalf("unexpected discount request %+v", service.discountReq)
	}
}

func TestApplyDiscountRejectsMissingCycles(t *testing.T) {
	service := &stubRetentionService{}
	handler := ApplyDiscount(service, testLogger())

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/subscription/apply-discount", bytes.NewReader([]byte(`{"percent_off":20}`))), uuid.New())
	req.Header.Set("Idempotency-Key", "disc-2")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if service.discountCalls != 0 {
		t.Fatalf("service should not be invoked for invalid body")
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test"})
}

func authed(req *http.Request, accountID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithAccountID(req.Context(), accountID.String()))
}

type stubSubscriptionService struct {
	view subsvc.View
	err  error
}

func (s *stubSubscriptionService) Get(ctx context.Context, accountID uuid.UUID) (subsvc.View, error) {
	return s.view, s.err
}

func (s *stubSubscriptionService) Resume(ctx context.Context, accountID uuid.UUID) (subsvc.Result, error) {
	return subsvc.Result{Trigger: enums.TriggerResume}, s.err
}

type stubRetentionService struct {
	err error

	pauseCalls   int
	pauseAccount uuid.UUID
	pauseDays    int
	pauseKey     string
	pauseResult  retention.PauseResult

	pauseEligibility    retention.PauseEligibility
	discountEligibility retention.DiscountEligibility

	discountCalls int
	discountReq   retention.DiscountRequest
}

func (s *stubRetentionService) CheckPauseEligibility(ctx context.Context, accountID uuid.UUID) (retention.PauseEligibility, error) {
	return s.pauseEligibility, s.err
}

func (s *stubRetentionService) ApplyPause(ctx context.Context, accountID uuid.UUID, durationDays int, idempotencyKey string) (retention.PauseResult, error) {
	s.pauseCalls++
	s.pauseAccount = accountID
	s.pauseDays = durationDays
	s.pauseKey = idempotencyKey
	return s.pauseResult, s.err
}

func (s *stubRetentionService) CheckDiscountEligibility(ctx context.Context, accountID uuid.UUID) (retention.DiscountEligibility, error) {
	return s.discountEligibility, s.err
}

func (s *stubRetentionService) ApplyDiscount(ctx context.Context, req retention.DiscountRequest) (retention.DiscountResult, error) {
	s.discountCalls++
	s.discountReq = req
	return retention.DiscountResult{PercentOff: req.PercentOff, DurationCycles: req.DurationCycles}, s.err
}
