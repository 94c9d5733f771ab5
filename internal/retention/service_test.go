package retention

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/pixelforge-backend/internal/credits"
	"github.com/angelmondragon/pixelforge-backend/internal/idempotency"
	"github.com/angelmondragon/pixelforge-backend/internal/ledger"
	"github.com/angelmondragon/pixelforge-backend/internal/plans"
	"github.com/angelmondragon/pixelforge-backend/internal/subscriptions"
	"github.com/angelmondragon/pixelforge-backend/pkg/config"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var defaultRetention = config.RetentionConfig{MaxPausesPerYear: 2, MaxDiscountsPerYear: 1, MaxPauseDays: 90}

type fixture struct {
	svc  *Service
	subs *subscriptions.Service
	conn *gorm.DB
	now  time.Time
}

func newFixture(t *testing.T, cfg config.RetentionConfig) *fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	f := &fixture{conn: conn, now: time.Date(2026, time.February, 1, 10, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	store, err := ledger.NewStore(ledger.StoreParams{Repo: ledger.NewRepository(conn), DB: client, Now: clock})
	require.NoError(t, err)
	gate, err := idempotency.NewGate(idempotency.GateParams{DB: client, Now: clock})
	require.NoError(t, err)
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	creditSvc, err := credits.NewService(credits.ServiceParams{
		Store:     store,
		Gate:      gate,
		Allocator: credits.NewAllocator(config.CreditsConfig{BillingCycle: 720 * time.Hour}),
		Outbox:    emitter,
	})
	require.NoError(t, err)
	catalog, err := plans.NewCatalog(config.PlansConfig{BasicCredits: 20, StarterCredits: 60, ProfessionalCredits: 200})
	require.NoError(t, err)
	subs, err := subscriptions.NewService(subscriptions.ServiceParams{
		Ledger:  store,
		Credits: creditSvc,
		Plans:   catalog,
		Outbox:  emitter,
		Now:     clock,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Ledger:        store,
		Gate:          gate,
		Subscriptions: subs,
		Repo:          NewRepository(conn),
		Outbox:        emitter,
		Config:        cfg,
		Now:           clock,
	})
	require.NoError(t, err)
	f.svc = svc
	f.subs = subs
	return f
}

func (f *fixture) openAccount(t *testing.T, plan enums.Plan, status enums.AccountStatus) uuid.UUID {
	t.Helper()
	account := models.Account{ID: uuid.New(), Plan: plan, Status: status}
	require.NoError(t, f.conn.Create(&account).Error)
	return account.ID
}

func (f *fixture) resume(t *testing.T, accountID uuid.UUID) {
	t.Helper()
	_, err := f.subs.Resume(context.Background(), accountID)
	require.NoError(t, err)
}

func TestPauseLimitResetsWithCalendarYear(t *testing.T) {
	f := newFixture(t, defaultRetention)
	ctx := context.Background()
	accountID := f.openAccount(t, enums.PlanBasic, enums.AccountStatusActive)

	first, err := f.svc.ApplyPause(ctx, accountID, 14, "pause-1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.PauseCountThisYear)
	assert.True(t, first.PausedUntil.Equal(f.now.Add(14*24*time.Hour)))
	f.resume(t, accountID)

	f.now = f.now.Add(60 * 24 * time.Hour)
	second, err := f.svc.ApplyPause(ctx, accountID, 7, "pause-2")
	require.NoError(t, err)
	assert.Equal(t, 2, second.PauseCountThisYear)
	f.resume(t, accountID)

	f.now = f.now.Add(30 * 24 * time.Hour)
	eligibility, err := f.svc.CheckPauseEligibility(ctx, accountID)
	require.NoError(t, err)
	assert.False(t, eligibility.CanPause)
	assert.Equal(t, ReasonYearlyLimit, eligibility.Reason)
	assert.Equal(t, 2, eligibility.PauseCountThisYear)

	_, err = f.svc.ApplyPause(ctx, accountID, 7, "pause-3")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	f.now = time.Date(2027, time.January, 3, 8, 0, 0, 0, time.UTC)
	eligibility, err = f.svc.CheckPauseEligibility(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, eligibility.CanPause)
	assert.Zero(t, eligibility.PauseCountThisYear)

	rolled, err := f.svc.ApplyPause(ctx, accountID, 7, "pause-4")
	require.NoError(t, err)
	assert.Equal(t, 1, rolled.PauseCountThisYear)
}

func TestApplyPauseIsIdempotentPerKey(t *testing.T) {
	f := newFixture(t, defaultRetention)
	ctx := context.Background()
	accountID := f.openAccount(t, enums.PlanStarter, enums.AccountStatusActive)

	first, err := f.svc.ApplyPause(ctx, accountID, 10, "double-click")
	require.NoError(t, err)
	again, err := f.svc.ApplyPause(ctx, accountID, 10, "double-click")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.True(t, first.PausedUntil.Equal(again.PausedUntil))

	var history models.RetentionHistory
	require.NoError(t, f.conn.Where("account_id = ?", accountID).Take(&history).Error)
	assert.Equal(t, 1, history.PauseCount)

	var transitions int64
	require.NoError(t, f.conn.Model(&models.SubscriptionTransition{}).Where("account_id = ?", accountID).Count(&transitions).Error)
	assert.Equal(t, int64(1), transitions)
}

func TestPauseEligibilityReasons(t *testing.T) {
	f := newFixture(t, config.RetentionConfig{MaxPausesPerYear: 2, MaxDiscountsPerYear: 1, MaxPauseDays: 90, PauseCooldownDays: 30})
	ctx := context.Background()

	free := f.openAccount(t, enums.PlanFree, enums.AccountStatusActive)
	pastDue := f.openAccount(t, enums.PlanBasic, enums.AccountStatusPastDue)
	active := f.openAccount(t, enums.PlanBasic, enums.AccountStatusActive)

	for _, id := range []uuid.UUID{free, pastDue} {
		eligibility, err := f.svc.CheckPauseEligibility(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ReasonNotActive, eligibility.Reason)
	}

	_, err := f.svc.ApplyPause(ctx, active, 3, "k1")
	require.NoError(t, err)
	eligibility, err := f.svc.CheckPauseEligibility(ctx, active)
	require.NoError(t, err)
	assert.Equal(t, ReasonAlreadyPaused, eligibility.Reason)

	f.resume(t, active)
	eligibility, err = f.svc.CheckPauseEligibility(ctx, active)
	require.NoError(t, err)
	assert.Equal(t, ReasonCooldownActive, eligibility.Reason)

	f.now = f.now.Add(31 * 24 * time.Hour)
	eligibility, err = f.svc.CheckPauseEligibility(ctx, active)
	require.NoError(t, err)
	assert.True(t, eligibility.CanPause)
}

func TestApplyPauseValidatesDuration(t *testing.T) {
	f := newFixture(t, defaultRetention)
	accountID := f.openAccount(t, enums.PlanBasic, enums.AccountStatusActive)
	for _, days := range []int{0, 91} {
		_, err := f.svc.ApplyPause(context.Background(), accountID, days, "k")
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	}
	_, err := f.svc.ApplyPause(context.Background(), accountID, 5, " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestApplyDiscountOncePerYear(t *testing.T) {
	f := newFixture(t, defaultRetention)
	ctx := context.Background()
	accountID := f.openAccount(t, enums.PlanProfessional, enums.AccountStatusActive)

	result, err := f.svc.ApplyDiscount(ctx, DiscountRequest{
		AccountID:      accountID,
		PercentOff:     decimal.RequireFromString("25.5"),
		DurationCycles: 3,
		IdempotencyKey: "discount-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.DiscountCountThisYear)
	assert.True(t, result.PercentOff.Equal(decimal.RequireFromString("25.5")))

	replay, err := f.svc.ApplyDiscount(ctx, DiscountRequest{
		AccountID:      accountID,
		PercentOff:     decimal.RequireFromString("25.5"),
		DurationCycles: 3,
		IdempotencyKey: "discount-1",
	})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	eligibility, err := f.svc.CheckDiscountEligibility(ctx, accountID)
	require.NoError(t, err)
	assert.False(t, eligibility.CanApply)
	assert.Equal(t, ReasonYearlyLimit, eligibility.Reason)

	_, err = f.svc.ApplyDiscount(ctx, DiscountRequest{
		AccountID:      accountID,
		PercentOff:     decimal.NewFromInt(10),
		DurationCycles: 1,
		IdempotencyKey: "discount-2",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventRetentionDiscountAccepted).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestApplyDiscountValidatesInput(t *testing.T) {
	f := newFixture(t, defaultRetention)
	accountID := f.openAccount(t, enums.PlanBasic, enums.AccountStatusActive)
	cases := []DiscountRequest{
		{AccountID: accountID, PercentOff: decimal.Zero, DurationCycles: 1, IdempotencyKey: "k"},
		{AccountID: accountID, PercentOff: decimal.NewFromInt(101), DurationCycles: 1, IdempotencyKey: "k"},
		{AccountID: accountID, PercentOff: decimal.RequireFromString("10.125"), DurationCycles: 1, IdempotencyKey: "k"},
		{AccountID: accountID, PercentOff: decimal.NewFromInt(10), DurationCycles: 0, IdempotencyKey: "k"},
		{AccountID: accountID, PercentOff: decimal.NewFromInt(10), DurationCycles: 1},
	}
	for _, req := range cases {
		_, err := f.svc.ApplyDiscount(context.Background(), req)
		assert.Truef(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "%+v: %v", req, err)
	}
}
