package routes

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/pixelforge-backend/internal/accounts"
	creditsvc "github.com/angelmondragon/pixelforge-backend/internal/credits"
	"github.com/angelmondragon/pixelforge-backend/internal/ledger"
	pkgAuth "github.com/angelmondragon/pixelforge-backend/pkg/auth"
	"github.com/angelmondragon/pixelforge-backend/pkg/config"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
	pkgstripe "github.com/angelmondragon/pixelforge-backend/pkg/stripe"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type memoryRedis struct {
	mu       sync.Mutex
	data     map[string]string
	counters map[string]int64
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}, counters: map[string]int64{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("px:idempotency:%s:%s", scope, id)
}

func (m *memoryRedis) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *memoryRedis) RateLimitKey(scope string) string {
	return "px:rate_limit:" + scope
}

func (m *memoryRedis) Ping(context.Context) error { return nil }

type stubCredits struct {
	mu          sync.Mutex
	adjustCalls int
}

func (s *stubCredits) Consume(ctx context.Context, accountID uuid.UUID, amount int64, operationRef string) (creditsvc.ConsumeResult, error) {
	return creditsvc.ConsumeResult{OperationRef: operationRef, Amount: amount}, nil
}

func (s *stubCredits) Refund(ctx context.Context, req creditsvc.RefundRequest) (creditsvc.GrantResult, error) {
	return creditsvc.GrantResult{Amount: req.Amount}, nil
}

func (s *stubCredits) Balance(ctx context.Context, accountID uuid.UUID) (ledger.Balance, error) {
	return ledger.Balance{AccountID: accountID, Available: 20, Ledger: 20}, nil
}

func (s *stubCredits) History(ctx context.Context, accountID uuid.UUID, q ledger.HistoryQuery) (ledger.TransactionPage, error) {
	return ledger.TransactionPage{}, nil
}

func (s *stubCredits) Grants(ctx context.Context, accountID uuid.UUID, filter ledger.GrantFilter) ([]models.CreditGrant, error) {
	return nil, nil
}

func (s *stubCredits) Adjust(ctx context.Context, req creditsvc.AdjustRequest) (creditsvc.GrantResult, error) {
	s.mu.Lock()
	s.adjustCalls++
	s.mu.Unlock()
	return creditsvc.GrantResult{Amount: req.Amount}, nil
}

func (s *stubCredits) Reconcile(ctx context.Context, accountID uuid.UUID) (ledger.Reconciliation, error) {
	return ledger.Reconciliation{AccountID: accountID, Consistent: true}, nil
}

type stubAccounts struct{}

func (stubAccounts) Open(ctx context.Context, input accounts.OpenAccountInput) (*accounts.AccountDTO, error) {
	return &accounts.AccountDTO{ID: uuid.New(), Plan: enums.PlanFree, Status: enums.AccountStatusActive}, nil
}

func (stubAccounts) Get(ctx context.Context, id uuid.UUID) (*accounts.AccountDTO, error) {
	return &accounts.AccountDTO{ID: id}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev", CORSAllowedOrigins: []string{"http://localhost:3000"}},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "pixelforge",
			ExpirationMinutes: 10,
		},
		RateLimit: config.RateLimitConfig{Window: time.Minute, AccountLimit: 3, IPLimit: 100},
	}
}

func newTestRouter(t *testing.T, credits *stubCredits) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	router := NewRouter(Deps{
		Config:         cfg,
		Logger:         logger.New(logger.Options{ServiceName: "test"}),
		DB:             stubPinger{},
		Redis:          newMemoryRedis(),
		Gatherer:       prometheus.NewRegistry(),
		Credits:        credits,
		Ledger:         credits,
		Accounts:       stubAccounts{},
		StripeVerifier: pkgstripe.NewVerifier("whsec_test"),
	})
	return router, cfg
}

func bearer(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		AccountID: uuid.New(),
		Role:      role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	router, _ := newTestRouter(t, &stubCredits{})

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", path, resp.Code)
		}
	}
}

func TestLedgerRoutesRequireToken(t *testing.T) {
	router, cfg := newTestRouter(t, &stubCredits{})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleAccount))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestLedgerRoutesAreRateLimitedPerAccount(t *testing.T) {
	router, cfg := newTestRouter(t, &stubCredits{})
	token := bearer(t, cfg, enums.ActorRoleAccount)

	var last int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil)
		req.Header.Set("Authorization", token)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		last = resp.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the account limit, got %d", last)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	router, cfg := newTestRouter(t, &stubCredits{})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/accounts/"+uuid.NewString()+"/reconcile", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleAccount))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for account role, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/v1/accounts/"+uuid.NewString()+"/reconcile", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleAdmin))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin role, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestAdminAdjustReplaysByIdempotencyKey(t *testing.T) {
	credits := &stubCredits{}
	router, cfg := newTestRouter(t, credits)
	token := bearer(t, cfg, enums.ActorRoleAdmin)
	body := fmt.Sprintf(`{"account_id":%q,"amount":10,"reason":"goodwill"}`, uuid.New())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/credits/adjust", bytes.NewReader([]byte(body)))
	req.Header.Set("Authorization", token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key, got %d", resp.Code)
	}

	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodPost, "/api/admin/v1/credits/adjust", bytes.NewReader([]byte(body)))
		req.Header.Set("Authorization", token)
		req.Header.Set("Idempotency-Key", "adjust-1")
		resp = httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d (%s)", i, resp.Code, resp.Body.String())
		}
	}
	if credits.adjustCalls != 1 {
		t.Fatalf("expected one adjustment, got %d", credits.adjustCalls)
	}
}

func TestStripeWebhookSkipsAuth(t *testing.T) {
	router, _ := newTestRouter(t, &stubCredits{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code == http.StatusUnauthorized {
		t.Fatalf("webhook route must not require a bearer token")
	}
}
