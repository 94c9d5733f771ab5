package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pixelforge-backend/internal/accounts"
	"github.com/angelmondragon/pixelforge-backend/internal/credits"
	"github.com/angelmondragon/pixelforge-backend/pkg/config"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
)

func testConfig() *config.Config {
	return &config.Config{
		Credits: config.CreditsConfig{PurchaseExpiryDays: 3650, BillingCycle: 720 * time.Hour},
		Plans: config.PlansConfig{
			BasicCredits:        20,
			StarterCredits:      60,
			ProfessionalCredits: 200,
			BasicPriceID:        "price_basic",
		},
		Retention: config.RetentionConfig{MaxPausesPerYear: 2, MaxDiscountsPerYear: 1, MaxPauseDays: 90},
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	require.Error(t, err)

	_, err = New(Params{Config: testConfig()})
	require.Error(t, err)
}

func TestNewRejectsInvalidCatalog(t *testing.T) {
	client, _ := dbtest.Client(t)
	cfg := testConfig()
	cfg.Plans.StarterCredits = 0

	_, err := New(Params{Config: cfg, DB: client})
	require.Error(t, err)
}

func TestEngineWiresLedgerEndToEnd(t *testing.T) {
	client, _ := dbtest.Client(t)
	reg := prometheus.NewRegistry()
	eng, err := New(Params{Config: testConfig(), DB: client, Registerer: reg})
	require.NoError(t, err)

	ctx := context.Background()
	account, err := eng.Accounts.Open(ctx, accounts.OpenAccountInput{})
	require.NoError(t, err)
	assert.Equal(t, enums.PlanFree, account.Plan)

	_, err = eng.Credits.Adjust(ctx, credits.AdjustRequest{AccountID: account.ID, Amount: 10, Reason: "welcome", Actor: "test"})
	require.NoError(t, err)
	consumed, err := eng.Credits.Consume(ctx, account.ID, 4, "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), consumed.Balance)

	report, err := eng.Credits.Reconcile(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["ledger_credits_total"], "ledger metrics should be registered on the supplied registry")
}
