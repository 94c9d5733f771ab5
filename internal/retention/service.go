package retention

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/pixelforge-backend/internal/idempotency"
	"github.com/angelmondragon/pixelforge-backend/internal/ledger"
	"github.com/angelmondragon/pixelforge-backend/internal/subscriptions"
	"github.com/angelmondragon/pixelforge-backend/pkg/config"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	eventTypePause    = "retention.pause"
	eventTypeDiscount = "retention.discount"

	maxDiscountCycles = 12
)

var hundred = decimal.NewFromInt(100)

type ledgerLocker interface {
	Lock(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) (*ledger.Unit, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
}

type transitioner interface {
	Apply(u *ledger.Unit, req subscriptions.Request) (subscriptions.Result, error)
}

// ServiceParams groups dependencies for the retention engine.
type ServiceParams struct {
	Ledger        ledgerLocker
	Gate          *idempotency.Gate
	Subscriptions transitioner
	Repo          *Repository
	Outbox        outbox.Emitter
	Config        config.RetentionConfig
	Logger        *logger.Logger
	Now           func() time.Time
}

// PauseResult is returned by ApplyPause and replayed for a reused key.
type PauseResult struct {
	PausedUntil        time.Time `json:"paused_until"`
	PauseCountThisYear int       `json:"pause_count_this_year"`
	Replayed           bool      `json:"replayed"`
}

// DiscountRequest claims the yearly retention discount.
type DiscountRequest struct {
	AccountID      uuid.UUID
	PercentOff     decimal.Decimal
	DurationCycles int
	IdempotencyKey string
}

// DiscountResult is returned by ApplyDiscount and replayed for a reused key.
type DiscountResult struct {
	PercentOff            decimal.Decimal `json:"percent_off"`
	DurationCycles        int             `json:"duration_cycles"`
	DiscountCountThisYear int             `json:"discount_count_this_year"`
	Replayed              bool            `json:"replayed"`
}

// Service gates retention offers and records their use.
type Service struct {
	ledger        ledgerLocker
	gate          *idempotency.Gate
	subscriptions transitioner
	repo          *Repository
	outbox        outbox.Emitter
	cfg           config.RetentionConfig
	logg          *logger.Logger
	now           func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Ledger == nil:
		return nil, fmt.Errorf("ledger required")
	case p.Gate == nil:
		return nil, fmt.Errorf("idempotency gate required")
	case p.Subscriptions == nil:
		return nil, fmt.Errorf("subscription service required")
	case p.Repo == nil:
		return nil, fmt.Errorf("retention repository required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	if p.Config.MaxPauseDays <= 0 {
		return nil, fmt.Errorf("max pause days must be positive")
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		ledger:        p.Ledger,
		gate:          p.Gate,
		subscriptions: p.Subscriptions,
		repo:          p.Repo,
		outbox:        p.Outbox,
		cfg:           p.Config,
		logg:          p.Logger,
		now:           now,
	}, nil
}

func (s *Service) CheckPauseEligibility(ctx context.Context, accountID uuid.UUID) (PauseEligibility, error) {
	account, history, err := s.load(ctx, accountID)
	if err != nil {
		return PauseEligibility{}, err
	}
	return evaluatePause(s.cfg, account, history, s.now().UTC()), nil
}

func (s *Service) CheckDiscountEligibility(ctx context.Context, accountID uuid.UUID) (DiscountEligibility, error) {
	account, history, err := s.load(ctx, accountID)
	if err != nil {
		return DiscountEligibility{}, err
	}
	return evaluateDiscount(s.cfg, account, history, s.now().UTC()), nil
}

func (s *Service) load(ctx context.Context, accountID uuid.UUID) (*models.Account, models.RetentionHistory, error) {
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, models.RetentionHistory{}, err
	}
	history, err := s.repo.Find(ctx, accountID)
	if err != nil {
		return nil, models.RetentionHistory{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load retention history")
	}
	return account, history, nil
}

// ApplyPause pauses the subscription for durationDays when the account is
// eligible. A repeated idempotency key returns the first result.
func (s *Service) ApplyPause(ctx context.Context, accountID uuid.UUID, durationDays int, idempotencyKey string) (PauseResult, error) {
	if durationDays < 1 || durationDays > s.cfg.MaxPauseDays {
		return PauseResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duration_days must be between 1 and %d", s.cfg.MaxPauseDays))
	}
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return PauseResult{}, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header is required")
	}

	ev := idempotency.Event{
		ExternalID: fmt.Sprintf("retention:pause:%s:%s", accountID, key),
		Type:       eventTypePause,
	}
	res, err := s.gate.Admit(ctx, ev, func(tx *gorm.DB) (idempotency.Outcome, error) {
		u, err := s.ledger.Lock(ctx, tx, accountID)
		if err != nil {
			return idempotency.Outcome{}, err
		}
		repo := s.repo.WithTx(tx)
		history, err := repo.Find(ctx, accountID)
		if err != nil {
			return idempotency.Outcome{}, fmt.Errorf("load retention history: %w", err)
		}
		now := u.Now()
		eligibility := evaluatePause(s.cfg, u.Account(), history, now)
		if !eligibility.CanPause {
			return idempotency.Outcome{}, notEligible(eligibility.Reason)
		}

		until := now.Add(time.Duration(durationDays) * 24 * time.Hour)
		_, err = s.subscriptions.Apply(u, subscriptions.Request{
			Trigger:     enums.TriggerPause,
			PausedUntil: &until,
			ExternalRef: &key,
			Actor:       &outbox.ActorRef{AccountID: &accountID, Role: "account", Source: "retention"},
		})
		if err != nil {
			return idempotency.Outcome{}, err
		}
		recordPause(&history, now)
		if err := repo.Save(ctx, &history); err != nil {
			return idempotency.Outcome{}, fmt.Errorf("save retention history: %w", err)
		}

		result := PauseResult{PausedUntil: until, PauseCountThisYear: history.PauseCount}
		err = s.emit(u, enums.EventRetentionPauseAccepted, payloads.RetentionPauseAcceptedEvent{
			AccountID:            accountID,
			StripeSubscriptionID: u.Account().StripeSubscriptionID,
			PausedUntil:          until,
			PauseCountThisYear:   history.PauseCount,
		})
		if err != nil {
			return idempotency.Outcome{}, err
		}
		return idempotency.Applied(result)
	})
	if err != nil {
		return PauseResult{}, err
	}

	var result PauseResult
	if err := res.Outcome.Decode(&result); err != nil {
		return PauseResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode pause outcome")
	}
	result.Replayed = !res.First
	return result, nil
}

// ApplyDiscount records that the yearly discount was claimed and asks the
// billing integration to apply it at the processor.
func (s *Service) ApplyDiscount(ctx context.Context, req DiscountRequest) (DiscountResult, error) {
	if !req.PercentOff.IsPositive() || req.PercentOff.GreaterThan(hundred) {
		return DiscountResult{}, pkgerrors.New(pkgerrors.CodeValidation, "percent_off must be greater than 0 and at most 100")
	}
	if req.PercentOff.Exponent() < -2 {
		return DiscountResult{}, pkgerrors.New(pkgerrors.CodeValidation, "percent_off supports at most two decimal places")
	}
	if req.DurationCycles < 1 || req.DurationCycles > maxDiscountCycles {
		return DiscountResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duration_cycles must be between 1 and %d", maxDiscountCycles))
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return DiscountResult{}, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header is required")
	}

	ev := idempotency.Event{
		ExternalID: fmt.Sprintf("retention:discount:%s:%s", req.AccountID, key),
		Type:       eventTypeDiscount,
	}
	res, err := s.gate.Admit(ctx, ev, func(tx *gorm.DB) (idempotency.Outcome, error) {
		u, err := s.ledger.Lock(ctx, tx, req.AccountID)
		if err != nil {
			return idempotency.Outcome{}, err
		}
		repo := s.repo.WithTx(tx)
		history, err := repo.Find(ctx, req.AccountID)
		if err != nil {
			return idempotency.Outcome{}, fmt.Errorf("load retention history: %w", err)
		}
		eligibility := evaluateDiscount(s.cfg, u.Account(), history, u.Now())
		if !eligibility.CanApply {
			return idempotency.Outcome{}, notEligible(eligibility.Reason)
		}

		recordDiscount(&history, u.Now())
		if err := repo.Save(ctx, &history); err != nil {
			return idempotency.Outcome{}, fmt.Errorf("save retention history: %w", err)
		}
		err = s.emit(u, enums.EventRetentionDiscountAccepted, payloads.RetentionDiscountAcceptedEvent{
			AccountID:            req.AccountID,
			StripeSubscriptionID: u.Account().StripeSubscriptionID,
			PercentOff:           req.PercentOff.String(),
			DurationCycles:       req.DurationCycles,
		})
		if err != nil {
			return idempotency.Outcome{}, err
		}
		return idempotency.Applied(DiscountResult{
			PercentOff:            req.PercentOff,
			DurationCycles:        req.DurationCycles,
			DiscountCountThisYear: history.DiscountCount,
		})
	})
	if err != nil {
		return DiscountResult{}, err
	}

	var result DiscountResult
	if err := res.Outcome.Decode(&result); err != nil {
		return DiscountResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode discount outcome")
	}
	result.Replayed = !res.First
	return result, nil
}

func (s *Service) emit(u *ledger.Unit, eventType enums.OutboxEventType, data any) error {
	accountID := u.AccountID()
	err := s.outbox.Emit(u.Context(), u.Tx(), outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateAccount,
		AggregateID:   accountID,
		Actor:         &outbox.ActorRef{AccountID: &accountID, Role: "account", Source: "retention"},
		Data:          data,
		OccurredAt:    u.Now(),
	})
	if err != nil {
		return fmt.Errorf("emit %s: %w", eventType, err)
	}
	return nil
}

func notEligible(reason string) error {
	return pkgerrors.New(pkgerrors.CodeConflict, reason).WithDetails(map[string]any{"reason": reason})
}
