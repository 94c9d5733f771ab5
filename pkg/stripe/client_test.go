package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/pixelforge-backend/pkg/config"
)

func sign(secret string, payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestNewClientValidatesEnvironmentAndKeys(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		cfg  config.StripeConfig
		ok   bool
	}{
		{"test key", config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "test"}, true},
		{"live key in test", config.StripeConfig{APIKey: "sk_live_123", Secret: "whsec_1", Env: "test"}, false},
		{"missing secret", config.StripeConfig{APIKey: "sk_test_123", Env: "test"}, false},
		{"bad env", config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "staging"}, false},
	}
	for _, tc := range cases {
		client, err := NewClient(ctx, tc.cfg, nil)
		if tc.ok && (err != nil || client.Environment() != "test") {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestVerifierConstructEvent(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","api_version":"2020-08-27","data":{"object":{"id":"in_1","object":"invoice"}}}`)
	verifier := NewVerifier(secret)

	event, err := verifier.ConstructEvent(payload, sign(secret, payload, time.Now()))
	if err != nil {
		t.Fatalf("construct event: %v", err)
	}
	if event.ID != "evt_1" || string(event.Type) != "invoice.paid" {
		t.Fatalf("unexpected event %+v", event)
	}

	if _, err := verifier.ConstructEvent(payload, sign("whsec_other", payload, time.Now())); err == nil {
		t.Fatalf("expected signature mismatch")
	}
	if _, err := verifier.ConstructEvent(payload, sign(secret, payload, time.Now().Add(-time.Hour))); err == nil {
		t.Fatalf("expected stale timestamp to fail")
	}
	if _, err := NewVerifier("").ConstructEvent(payload, "t=1,v1=00"); err == nil {
		t.Fatalf("expected missing secret to fail")
	}
}
