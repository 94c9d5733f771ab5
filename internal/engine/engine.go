// Package engine assembles the credit ledger and subscription lifecycle
// services on top of one database client.
package engine

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/pixelforge-backend/internal/accounts"
	"github.com/angelmondragon/pixelforge-backend/internal/credits"
	"github.com/angelmondragon/pixelforge-backend/internal/idempotency"
	"github.com/angelmondragon/pixelforge-backend/internal/ledger"
	"github.com/angelmondragon/pixelforge-backend/internal/plans"
	"github.com/angelmondragon/pixelforge-backend/internal/retention"
	"github.com/angelmondragon/pixelforge-backend/internal/subscriptions"
	stripewebhook "github.com/angelmondragon/pixelforge-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/pixelforge-backend/pkg/config"
	"github.com/angelmondragon/pixelforge-backend/pkg/db"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
	"github.com/angelmondragon/pixelforge-backend/pkg/metrics"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox"
)

// Params wires the engine. Stripe and Registerer are optional.
type Params struct {
	Config     *config.Config
	DB         *db.Client
	Stripe     subscriptions.StripeSubscriptionClient
	Registerer prometheus.Registerer
	Logger     *logger.Logger
	Now        func() time.Time
}

// Engine holds the wired domain services.
type Engine struct {
	Store         *ledger.Store
	Gate          *idempotency.Gate
	Outbox        *outbox.Service
	Plans         *plans.Catalog
	Accounts      accounts.Service
	Credits       *credits.Service
	Subscriptions *subscriptions.Service
	Retention     *retention.Service
	Webhooks      *stripewebhook.Service
	Metrics       *metrics.LedgerMetrics
}

func New(p Params) (*Engine, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if p.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	cfg := p.Config
	conn := p.DB.DB()

	store, err := ledger.NewStore(ledger.StoreParams{
		Repo:        ledger.NewRepository(conn),
		DB:          p.DB,
		LockTimeout: cfg.DB.LockTimeout,
		Now:         p.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger store: %w", err)
	}
	gate, err := idempotency.NewGate(idempotency.GateParams{DB: p.DB, Logger: p.Logger, Now: p.Now})
	if err != nil {
		return nil, fmt.Errorf("idempotency gate: %w", err)
	}
	catalog, err := plans.NewCatalog(cfg.Plans)
	if err != nil {
		return nil, fmt.Errorf("plan catalog: %w", err)
	}
	accountSvc, err := accounts.NewService(accounts.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("account service: %w", err)
	}

	emitter := outbox.NewService(outbox.NewRepository(conn), p.Logger)
	ledgerMetrics := metrics.NewLedgerMetrics(p.Registerer)

	creditSvc, err := credits.NewService(credits.ServiceParams{
		Store:           store,
		Gate:            gate,
		Allocator:       credits.NewAllocator(cfg.Credits),
		Outbox:          emitter,
		Metrics:         ledgerMetrics,
		Logger:          p.Logger,
		ExpiryBatchSize: cfg.Credits.ExpiryBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("credit service: %w", err)
	}

	subs, err := subscriptions.NewService(subscriptions.ServiceParams{
		Ledger:   store,
		Credits:  creditSvc,
		Plans:    catalog,
		Accounts: accountSvc,
		Outbox:   emitter,
		Logger:   p.Logger,
		Now:      p.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("subscription service: %w", err)
	}

	retentionSvc, err := retention.NewService(retention.ServiceParams{
		Ledger:        store,
		Gate:          gate,
		Subscriptions: subs,
		Repo:          retention.NewRepository(conn),
		Outbox:        emitter,
		Config:        cfg.Retention,
		Logger:        p.Logger,
		Now:           p.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("retention service: %w", err)
	}

	webhooks, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Gate:          gate,
		Ledger:        store,
		Accounts:      accountSvc,
		Subscriptions: subs,
		Credits:       creditSvc,
		Plans:         catalog,
		StripeClient:  p.Stripe,
		Metrics:       ledgerMetrics,
		Logger:        p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe webhook service: %w", err)
	}

	return &Engine{
		Store:         store,
		Gate:          gate,
		Outbox:        emitter,
		Plans:         catalog,
		Accounts:      accountSvc,
		Credits:       creditSvc,
		Subscriptions: subs,
		Retention:     retentionSvc,
		Webhooks:      webhooks,
		Metrics:       ledgerMetrics,
	}, nil
}
