package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/pixelforge-backend/internal/credits"
	"github.com/angelmondragon/pixelforge-backend/internal/ledger"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

type ledgerRunner interface {
	Run(ctx context.Context, accountID uuid.UUID, fn func(u *ledger.Unit) error) error
	GetAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
}

type creditIssuer interface {
	GrantInUnit(u *ledger.Unit, req credits.GrantRequest, actor *outbox.ActorRef) (credits.GrantResult, error)
	ForfeitInUnit(u *ledger.Unit, reason string) (credits.Forfeit, error)
}

type planCatalog interface {
	MonthlyCredits(plan enums.Plan) (int64, bool)
}

type pausedAccounts interface {
	ListPausedDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Ledger   ledgerRunner
	Credits  creditIssuer
	Plans    planCatalog
	Accounts pausedAccounts
	Outbox   outbox.Emitter
	Logger   *logger.Logger
	Now      func() time.Time
}

// Request asks the state machine to apply one trigger.
type Request struct {
	Trigger              enums.SubscriptionTrigger
	Plan                 enums.Plan
	PausedUntil          *time.Time
	PeriodEnd            *time.Time
	StripeSubscriptionID *string
	ExternalRef          *string
	Actor                *outbox.ActorRef
}

// Snapshot is the lifecycle-relevant part of an account.
type Snapshot struct {
	State       State               `json:"state"`
	Plan        enums.Plan          `json:"plan"`
	Status      enums.AccountStatus `json:"status"`
	PausedUntil *time.Time          `json:"paused_until,omitempty"`
}

// Result reports the transition that was applied and its credit side effects.
type Result struct {
	Trigger   enums.SubscriptionTrigger `json:"trigger"`
	From      Snapshot                  `json:"from"`
	To        Snapshot                  `json:"to"`
	Granted   *credits.GrantResult      `json:"granted,omitempty"`
	Forfeited int64                     `json:"forfeited,omitempty"`
}

// View is the subscription as exposed to the account owner.
type View struct {
	AccountID uuid.UUID `json:"account_id"`
	Snapshot
	MonthlyCredits   int64                       `json:"monthly_credits"`
	CurrentPeriodEnd *time.Time                  `json:"current_period_end,omitempty"`
	Allowed          []enums.SubscriptionTrigger `json:"allowed_triggers"`
}

// Service applies lifecycle transitions. Every transition updates the
// account, runs its credit side effects, writes an audit row and queues an
// event inside the caller's ledger unit.
type Service struct {
	ledger   ledgerRunner
	credits  creditIssuer
	plans    planCatalog
	accounts pausedAccounts
	outbox   outbox.Emitter
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Ledger == nil {
		return nil, fmt.Errorf("ledger runner required")
	}
	if p.Credits == nil {
		return nil, fmt.Errorf("credit issuer required")
	}
	if p.Plans == nil {
		return nil, fmt.Errorf("plan catalog required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		ledger:   p.Ledger,
		credits:  p.Credits,
		plans:    p.Plans,
		accounts: p.Accounts,
		outbox:   p.Outbox,
		logg:     p.Logger,
		now:      now,
	}, nil
}

func snapshotOf(account *models.Account) Snapshot {
	return Snapshot{
		State:       StateOf(account),
		Plan:        account.Plan,
		Status:      account.Status,
		PausedUntil: account.PausedUntil,
	}
}

// Apply validates req against the account's current state and applies it
// inside u. Nothing is written when the transition is illegal.
func (s *Service) Apply(u *ledger.Unit, req Request) (Result, error) {
	account := u.Account()
	from := snapshotOf(account)
	to, err := Next(from.State, req.Trigger)
	if err != nil {
		return Result{}, err
	}
	if err := s.validate(u, from, req); err != nil {
		return Result{}, err
	}

	result := Result{Trigger: req.Trigger, From: from}
	switch req.Trigger {
	case enums.TriggerActivate:
		account.Plan = req.Plan
		account.DeactivatedAt = nil
	case enums.TriggerChangePlan:
		account.Plan = req.Plan
	}
	if req.PeriodEnd != nil {
		periodEnd := req.PeriodEnd.UTC()
		account.CurrentPeriodEnd = &periodEnd
	}
	if req.StripeSubscriptionID != nil && *req.StripeSubscriptionID != "" {
		subID := *req.StripeSubscriptionID
		account.StripeSubscriptionID = &subID
	}
	account.Status = to.Status()
	account.PausedUntil = nil
	if to == StatePaused {
		until := req.PausedUntil.UTC()
		account.PausedUntil = &until
	}
	if to == StateCanceled {
		at := u.Now()
		account.DeactivatedAt = &at
	}
	if err := u.SaveState(); err != nil {
		return Result{}, fmt.Errorf("save account state: %w", err)
	}

	switch req.Trigger {
	case enums.TriggerActivate, enums.TriggerChangePlan, enums.TriggerRenew:
		// A new billing period replaces whatever subscription credits are
		// left, including those kept through a cancellation.
		reason := credits.ReasonPlanChanged
		if req.Trigger == enums.TriggerRenew {
			reason = credits.ReasonRenewal
		}
		forfeit, err := s.credits.ForfeitInUnit(u, reason)
		if err != nil {
			return Result{}, err
		}
		result.Forfeited = forfeit.Amount
		granted, err := s.grantPlanCredits(u, req)
		if err != nil {
			return Result{}, err
		}
		result.Granted = granted
	}

	result.To = snapshotOf(account)
	if err := s.record(u, req, result); err != nil {
		return Result{}, err
	}
	return result, nil
}

func (s *Service) validate(u *ledger.Unit, from Snapshot, req Request) error {
	switch req.Trigger {
	case enums.TriggerActivate, enums.TriggerChangePlan:
		if !req.Plan.IsPaid() {
			return pkgerrors.New(pkgerrors.CodeValidation, "a paid plan is required")
		}
		if req.Trigger == enums.TriggerChangePlan && req.Plan == from.Plan {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "subscription is already on plan "+string(req.Plan))
		}
	case enums.TriggerPause:
		if req.PausedUntil == nil || !req.PausedUntil.After(u.Now()) {
			return pkgerrors.New(pkgerrors.CodeValidation, "pause end must be in the future")
		}
	}
	return nil
}

func (s *Service) grantPlanCredits(u *ledger.Unit, req Request) (*credits.GrantResult, error) {
	plan := u.Account().Plan
	amount, ok := s.plans.MonthlyCredits(plan)
	if !ok || amount <= 0 {
		return nil, nil
	}
	var expiresAt *time.Time
	if req.PeriodEnd != nil && req.PeriodEnd.After(u.Now()) {
		expiresAt = req.PeriodEnd
	}
	granted, err := s.credits.GrantInUnit(u, credits.GrantRequest{
		Source:      enums.CreditSourceSubscriptionRenewal,
		Amount:      amount,
		ExpiresAt:   expiresAt,
		Plan:        &plan,
		Description: fmt.Sprintf("%s plan credits (%s)", plan, req.Trigger),
		ExternalRef: req.ExternalRef,
	}, req.Actor)
	if err != nil {
		return nil, err
	}
	return &granted, nil
}

func (s *Service) record(u *ledger.Unit, req Request, result Result) error {
	row := models.SubscriptionTransition{
		ID:          uuid.New(),
		AccountID:   u.AccountID(),
		Trigger:     req.Trigger,
		FromPlan:    result.From.Plan,
		FromStatus:  result.From.Status,
		ToPlan:      result.To.Plan,
		ToStatus:    result.To.Status,
		PausedUntil: result.To.PausedUntil,
		ExternalRef: req.ExternalRef,
		CreatedAt:   u.Now(),
	}
	if err := u.Tx().WithContext(u.Context()).Create(&row).Error; err != nil {
		return fmt.Errorf("insert subscription transition: %w", err)
	}

	err := s.outbox.Emit(u.Context(), u.Tx(), outbox.DomainEvent{
		EventType:     enums.EventSubscriptionTransitioned,
		AggregateType: enums.AggregateAccount,
		AggregateID:   u.AccountID(),
		Actor:         req.Actor,
		OccurredAt:    u.Now(),
		Data: payloads.SubscriptionTransitionedEvent{
			AccountID:   u.AccountID(),
			Trigger:     req.Trigger,
			FromPlan:    result.From.Plan,
			FromStatus:  result.From.Status,
			ToPlan:      result.To.Plan,
			ToStatus:    result.To.Status,
			PausedUntil: result.To.PausedUntil,
			ExternalRef: req.ExternalRef,
		},
	})
	if err != nil {
		return fmt.Errorf("emit subscription transition: %w", err)
	}

	if s.logg != nil {
		ctx := s.logg.WithAccountID(u.Context(), u.AccountID().String())
		ctx = s.logg.WithFields(ctx, map[string]any{
			"trigger":     req.Trigger,
			"from_status": result.From.Status,
			"to_status":   result.To.Status,
			"to_plan":     result.To.Plan,
		})
		s.logg.Info(ctx, "subscription transitioned")
	}
	return nil
}

// Transition applies req in its own locked unit.
func (s *Service) Transition(ctx context.Context, accountID uuid.UUID, req Request) (Result, error) {
	var result Result
	err := s.ledger.Run(ctx, accountID, func(u *ledger.Unit) error {
		var err error
		result, err = s.Apply(u, req)
		return err
	})
	return result, err
}

// Resume ends a pause at the account owner's request.
func (s *Service) Resume(ctx context.Context, accountID uuid.UUID) (Result, error) {
	return s.Transition(ctx, accountID, Request{
		Trigger: enums.TriggerResume,
		Actor:   &outbox.ActorRef{AccountID: &accountID, Role: "account", Source: "api"},
	})
}

// ResumeDue resumes every paused account whose pause has ended. Accounts that
// changed state since they were listed are skipped.
func (s *Service) ResumeDue(ctx context.Context, limit int) (int, error) {
	if s.accounts == nil {
		return 0, fmt.Errorf("accounts lookup required")
	}
	now := s.now().UTC()
	ids, err := s.accounts.ListPausedDue(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list paused accounts: %w", err)
	}

	var (
		resumed int
		errs    error
	)
	for _, id := range ids {
		applied := false
		err := s.ledger.Run(ctx, id, func(u *ledger.Unit) error {
			account := u.Account()
			if account.Status != enums.AccountStatusPaused || account.PausedUntil == nil || account.PausedUntil.After(u.Now()) {
				return nil
			}
			if _, err := s.Apply(u, Request{
				Trigger: enums.TriggerResume,
				Actor:   &outbox.ActorRef{Source: "cron"},
			}); err != nil {
				return err
			}
			applied = true
			return nil
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("resume account %s: %w", id, err))
			continue
		}
		if applied {
			resumed++
		}
	}
	return resumed, errs
}

// Get returns the account's subscription view.
func (s *Service) Get(ctx context.Context, accountID uuid.UUID) (View, error) {
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return View{}, err
	}
	snap := snapshotOf(account)
	monthly, _ := s.plans.MonthlyCredits(account.Plan)
	return View{
		AccountID:        account.ID,
		Snapshot:         snap,
		MonthlyCredits:   monthly,
		CurrentPeriodEnd: account.CurrentPeriodEnd,
		Allowed:          Allowed(snap.State),
	}, nil
}
