package credits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/pixelforge-backend/internal/idempotency"
	"github.com/angelmondragon/pixelforge-backend/internal/ledger"
	"github.com/angelmondragon/pixelforge-backend/pkg/config"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type harness struct {
	svc     *Service
	store   *ledger.Store
	conn    *gorm.DB
	now     time.Time
	failing map[uuid.UUID]bool
}

// faultyEmitter fails every emit for the accounts the harness marks failing.
type faultyEmitter struct {
	next outbox.Emitter
	h    *harness
}

func (e faultyEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if e.h.failing[event.AggregateID] {
		return errors.New("outbox unavailable")
	}
	return e.next.Emit(ctx, tx, event)
}

func newHarness(t *testing.T, cfg config.CreditsConfig) *harness {
	t.Helper()
	client, conn := dbtest.Client(t)
	h := &harness{
		conn:    conn,
		now:     time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC),
		failing: map[uuid.UUID]bool{},
	}
	clock := func() time.Time { return h.now }

	store, err := ledger.NewStore(ledger.StoreParams{Repo: ledger.NewRepository(conn), DB: client, Now: clock})
	require.NoError(t, err)
	gate, err := idempotency.NewGate(idempotency.GateParams{DB: client, Now: clock})
	require.NoError(t, err)
	if cfg.BillingCycle == 0 {
		cfg.BillingCycle = 30 * 24 * time.Hour
	}
	svc, err := NewService(ServiceParams{
		Store:     store,
		Gate:      gate,
		Allocator: NewAllocator(cfg),
		Outbox:    faultyEmitter{next: outbox.NewService(outbox.NewRepository(conn), nil), h: h},
	})
	require.NoError(t, err)

	h.svc = svc
	h.store = store
	return h
}

func (h *harness) openAccount(t *testing.T) uuid.UUID {
	t.Helper()
	account := models.Account{ID: uuid.New(), Plan: enums.PlanFree, Status: enums.AccountStatusActive}
	require.NoError(t, h.conn.Create(&account).Error)
	return account.ID
}

func (h *harness) grant(t *testing.T, accountID uuid.UUID, req GrantRequest) GrantResult {
	t.Helper()
	var result GrantResult
	err := h.store.Run(context.Background(), accountID, func(u *ledger.Unit) error {
		var err error
		result, err = h.svc.GrantInUnit(u, req, nil)
		return err
	})
	require.NoError(t, err)
	return result
}

func (h *harness) requireConsistent(t *testing.T, accountID uuid.UUID) ledger.Reconciliation {
	t.Helper()
	rec, err := h.svc.Reconcile(context.Background(), accountID)
	require.NoError(t, err)
	require.Truef(t, rec.Consistent, "ledger out of balance: %+v", rec)
	return rec
}

func (h *harness) grantRow(t *testing.T, id uuid.UUID) models.CreditGrant {
	t.Helper()
	var grant models.CreditGrant
	require.NoError(t, h.conn.Where("id = ?", id).Take(&grant).Error)
	return grant
}

func (h *harness) countTransactions(t *testing.T, accountID uuid.UUID, txType enums.CreditTransactionType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.conn.Model(&models.CreditTransaction{}).
		Where("account_id = ? AND type = ?", accountID, txType).
		Count(&count).Error)
	return count
}

func ptrTime(t time.Time) *time.Time { return &t }
