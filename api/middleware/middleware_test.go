package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
)

func TestPrincipalSettersCompose(t *testing.T) {
	ctx := WithRole(WithAccountID(context.Background(), "acct-1"), "admin")
	if AccountIDFromContext(ctx) != "acct-1" || RoleFromContext(ctx) != "admin" {
		t.Fatalf("principal lost a field: %q %q", AccountIDFromContext(ctx), RoleFromContext(ctx))
	}
	if AccountIDFromContext(context.Background()) != "" {
		t.Fatal("bare context should yield empty account")
	}
}

func TestRequestIDEchoesOrMints(t *testing.T) {
	handler := RequestID(logger.New(logger.Options{ServiceName: "test"}))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	cases := map[string]bool{
		"req-123":                true,
		"":                       false,
		"has space":              false,
		strings.Repeat("a", 129): false,
		strings.Repeat("b", 128): true,
	}
	for incoming, echoed := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if incoming != "" {
			req.Header.Set(requestIDHeader, incoming)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		got := rec.Header().Get(requestIDHeader)
		if got == "" {
			t.Fatalf("no request id set for %q", incoming)
		}
		if echoed != (got == incoming) {
			t.Fatalf("incoming %q: got %q, echo expected=%v", incoming, got, echoed)
		}
	}
}

func TestRecovererWritesInternalError(t *testing.T) {
	handler := Recoverer(logger.New(logger.Options{ServiceName: "test"}))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("ledger exploded")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/credits/consume", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INTERNAL_ERROR") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "ledger exploded") {
		t.Fatal("panic value leaked into response")
	}
}

func TestRecovererReraisesAbort(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestLoggingPassesThroughStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Logging(logger.New(logger.Options{ServiceName: "test"})))
	r.Get("/accounts/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/abc", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
}
