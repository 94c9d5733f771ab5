package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/pixelforge-backend/internal/idempotency"
	"github.com/angelmondragon/pixelforge-backend/internal/ledger"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
	"github.com/angelmondragon/pixelforge-backend/pkg/metrics"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	eventTypeConsume = "credits.consume"
	eventTypeRefund  = "credits.refund"

	defaultExpiryBatchSize = 200
)

// ServiceParams wires the credit service.
type ServiceParams struct {
	Store           *ledger.Store
	Gate            *idempotency.Gate
	Allocator       *Allocator
	Outbox          outbox.Emitter
	Metrics         *metrics.LedgerMetrics
	Logger          *logger.Logger
	ExpiryBatchSize int
}

// Service exposes credit consumption, refunds, admin adjustments and the
// expiry sweep. Every mutation runs inside one locked ledger unit.
type Service struct {
	store     *ledger.Store
	gate      *idempotency.Gate
	allocator *Allocator
	outbox    outbox.Emitter
	metrics   *metrics.LedgerMetrics
	logg      *logger.Logger
	batchSize int
}

// GrantDraw is the part of a consumption taken from one grant.
type GrantDraw struct {
	GrantID uuid.UUID `json:"grant_id"`
	Amount  int64     `json:"amount"`
}

// ConsumeResult is returned by Consume and replayed for retried operation refs.
type ConsumeResult struct {
	OperationID  uuid.UUID   `json:"operation_id"`
	OperationRef string      `json:"operation_ref"`
	Amount       int64       `json:"amount"`
	Balance      int64       `json:"balance"`
	Draws        []GrantDraw `json:"draws"`
	Replayed     bool        `json:"replayed"`
}

// RefundRequest adds credits back for a failed or cancelled operation.
type RefundRequest struct {
	AccountID    uuid.UUID
	Amount       int64
	OperationRef string
	Reason       string
}

// GrantResult describes a grant written by Refund or Adjust.
type GrantResult struct {
	OperationID uuid.UUID  `json:"operation_id"`
	GrantID     *uuid.UUID `json:"grant_id,omitempty"`
	Amount      int64      `json:"amount"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Balance     int64      `json:"balance"`
	Replayed    bool       `json:"replayed"`
}

// AdjustRequest is an admin correction. Positive amounts grant credits,
// negative amounts draw them in consumption order.
type AdjustRequest struct {
	AccountID uuid.UUID
	Amount    int64
	Reason    string
	Actor     string
	Source    enums.CreditSource
	ExpiresAt *time.Time
}

// ExpireSummary reports what one sweep forfeited.
type ExpireSummary struct {
	Accounts int   `json:"accounts"`
	Grants   int   `json:"grants"`
	Credits  int64 `json:"credits"`
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if p.Gate == nil {
		return nil, fmt.Errorf("idempotency gate required")
	}
	if p.Allocator == nil {
		return nil, fmt.Errorf("allocator required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	batch := p.ExpiryBatchSize
	if batch <= 0 {
		batch = defaultExpiryBatchSize
	}
	return &Service{
		store:     p.Store,
		gate:      p.Gate,
		allocator: p.Allocator,
		outbox:    p.Outbox,
		metrics:   p.Metrics,
		logg:      p.Logger,
		batchSize: batch,
	}, nil
}

func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (ledger.Balance, error) {
	return s.store.GetBalance(ctx, accountID)
}

func (s *Service) History(ctx context.Context, accountID uuid.UUID, q ledger.HistoryQuery) (ledger.TransactionPage, error) {
	return s.store.ListTransactions(ctx, accountID, q)
}

func (s *Service) Grants(ctx context.Context, accountID uuid.UUID, filter ledger.GrantFilter) ([]models.CreditGrant, error) {
	return s.store.ListGrants(ctx, accountID, filter)
}

func (s *Service) Reconcile(ctx context.Context, accountID uuid.UUID) (ledger.Reconciliation, error) {
	return s.store.Reconcile(ctx, accountID)
}

// Consume deducts amount from the account's active grants, soonest expiry
// first. A repeated operationRef returns the first result without deducting again.
func (s *Service) Consume(ctx context.Context, accountID uuid.UUID, amount int64, operationRef string) (ConsumeResult, error) {
	if amount <= 0 {
		return ConsumeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if operationRef == "" {
		return ConsumeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "operation_ref is required")
	}

	ev := idempotency.Event{
		ExternalID: fmt.Sprintf("consume:%s:%s", accountID, operationRef),
		Type:       eventTypeConsume,
	}
	res, err := s.gate.Admit(ctx, ev, func(tx *gorm.DB) (idempotency.Outcome, error) {
		u, err := s.store.Lock(ctx, tx, accountID)
		if err != nil {
			return idempotency.Outcome{}, err
		}
		result, err := s.consume(u, amount, operationRef)
		if err != nil {
			return idempotency.Outcome{}, err
		}
		return idempotency.Applied(result)
	})
	if err != nil {
		s.reject("consume", err)
		return ConsumeResult{}, err
	}

	var result ConsumeResult
	if err := res.Outcome.Decode(&result); err != nil {
		return ConsumeResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode consume outcome")
	}
	result.Replayed = !res.First
	if res.First {
		s.metrics.AddCredits(string(enums.CreditTransactionConsume), amount)
	}
	return result, nil
}

func (s *Service) consume(u *ledger.Unit, amount int64, operationRef string) (ConsumeResult, error) {
	if err := s.settle(u); err != nil {
		return ConsumeResult{}, err
	}
	grants, err := u.ActiveGrants()
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("load active grants: %w", err)
	}
	available := ledger.Available(grants)
	draws, ok := planDraws(grants, amount)
	if !ok {
		return ConsumeResult{}, pkgerrors.New(pkgerrors.CodeInsufficientCredits, "not enough credits for this operation").
			WithDetails(map[string]any{"requested": amount, "available": available})
	}

	ref := operationRef
	operationID := uuid.New()
	entries := make([]ledger.Entry, 0, len(draws))
	result := ConsumeResult{
		OperationID:  operationID,
		OperationRef: operationRef,
		Amount:       amount,
		Balance:      available - amount,
	}
	for _, d := range draws {
		grantID := d.GrantID
		entries = append(entries, ledger.Entry{
			GrantID:     &grantID,
			Delta:       -d.Amount,
			Type:        enums.CreditTransactionConsume,
			Description: "consume " + operationRef,
			ExternalRef: &ref,
		})
		result.Draws = append(result.Draws, GrantDraw{GrantID: d.GrantID, Amount: d.Amount})
	}
	if _, err := u.ApplyTransaction(operationID, entries); err != nil {
		return ConsumeResult{}, err
	}

	err = s.emit(u, enums.EventCreditsConsumed, nil, payloads.CreditsConsumedEvent{
		AccountID:    u.AccountID(),
		OperationID:  operationID,
		OperationRef: operationRef,
		Amount:       amount,
		GrantsDrawn:  len(draws),
		Balance:      result.Balance,
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	return result, nil
}

// Refund issues a new non-expiring refund grant. Refunds never reopen
// consumed or expired grants.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (GrantResult, error) {
	if req.Amount <= 0 {
		return GrantResult{}, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if req.OperationRef == "" {
		return GrantResult{}, pkgerrors.New(pkgerrors.CodeValidation, "operation_ref is required")
	}
	reason := req.Reason
	if reason == "" {
		reason = "refund " + req.OperationRef
	}

	ev := idempotency.Event{
		ExternalID: fmt.Sprintf("refund:%s:%s", req.AccountID, req.OperationRef),
		Type:       eventTypeRefund,
	}
	res, err := s.gate.Admit(ctx, ev, func(tx *gorm.DB) (idempotency.Outcome, error) {
		u, err := s.store.Lock(ctx, tx, req.AccountID)
		if err != nil {
			return idempotency.Outcome{}, err
		}
		ref := req.OperationRef
		result, err := s.GrantInUnit(u, GrantRequest{
			Source:      enums.CreditSourceRefund,
			Amount:      req.Amount,
			Description: reason,
			ExternalRef: &ref,
		}, nil)
		if err != nil {
			return idempotency.Outcome{}, err
		}
		return idempotency.Applied(result)
	})
	if err != nil {
		s.reject("refund", err)
		return GrantResult{}, err
	}

	var result GrantResult
	if err := res.Outcome.Decode(&result); err != nil {
		return GrantResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode refund outcome")
	}
	result.Replayed = !res.First
	if res.First {
		s.metrics.AddCredits(string(enums.CreditTransactionRefund), req.Amount)
	}
	return result, nil
}

// Adjust applies an admin correction. It never writes the balance directly.
func (s *Service) Adjust(ctx context.Context, req AdjustRequest) (GrantResult, error) {
	if req.Amount == 0 {
		return GrantResult{}, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-zero")
	}
	if req.Reason == "" {
		return GrantResult{}, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	source := req.Source
	if source == "" {
		source = enums.CreditSourceAdminAdjustment
	}
	if source != enums.CreditSourceAdminAdjustment && source != enums.CreditSourcePromotional {
		return GrantResult{}, pkgerrors.New(pkgerrors.CodeValidation, "adjustments grant admin_adjustment or promotional credits")
	}
	actor := &outbox.ActorRef{Role: "admin", Source: req.Actor}

	var result GrantResult
	err := s.store.Run(ctx, req.AccountID, func(u *ledger.Unit) error {
		var err error
		if req.Amount > 0 {
			result, err = s.GrantInUnit(u, GrantRequest{
				Source:      source,
				Amount:      req.Amount,
				ExpiresAt:   req.ExpiresAt,
				Description: req.Reason,
			}, actor)
		} else {
			result, err = s.correct(u, -req.Amount, req.Reason)
		}
		if err != nil {
			return err
		}
		return s.emit(u, enums.EventCreditsAdjusted, actor, payloads.CreditsAdjustedEvent{
			AccountID:   u.AccountID(),
			OperationID: result.OperationID,
			Amount:      req.Amount,
			Reason:      req.Reason,
			Actor:       req.Actor,
			Balance:     result.Balance,
		})
	})
	if err != nil {
		s.reject("adjust", err)
		return GrantResult{}, err
	}
	if req.Amount > 0 {
		s.metrics.AddCredits(string(enums.CreditTransactionGrant), req.Amount)
	} else {
		s.metrics.AddCredits(string(enums.CreditTransactionAdminCorrection), req.Amount)
	}
	return result, nil
}

func (s *Service) correct(u *ledger.Unit, amount int64, reason string) (GrantResult, error) {
	if err := s.settle(u); err != nil {
		return GrantResult{}, err
	}
	grants, err := u.ActiveGrants()
	if err != nil {
		return GrantResult{}, fmt.Errorf("load active grants: %w", err)
	}
	available := ledger.Available(grants)
	draws, ok := planDraws(grants, amount)
	if !ok {
		return GrantResult{}, pkgerrors.New(pkgerrors.CodeInsufficientCredits, "correction exceeds available credits").
			WithDetails(map[string]any{"requested": amount, "available": available})
	}
	operationID := uuid.New()
	entries := make([]ledger.Entry, 0, len(draws))
	for _, d := range draws {
		grantID := d.GrantID
		entries = append(entries, ledger.Entry{
			GrantID:     &grantID,
			Delta:       -d.Amount,
			Type:        enums.CreditTransactionAdminCorrection,
			Description: reason,
		})
	}
	if _, err := u.ApplyTransaction(operationID, entries); err != nil {
		return GrantResult{}, err
	}
	return GrantResult{
		OperationID: operationID,
		Amount:      -amount,
		Balance:     available - amount,
	}, nil
}

// GrantInUnit issues a grant inside an already locked unit and queues the
// credits.granted (or credits.refunded) event with it.
func (s *Service) GrantInUnit(u *ledger.Unit, req GrantRequest, actor *outbox.ActorRef) (GrantResult, error) {
	if req.OperationID == uuid.Nil {
		req.OperationID = uuid.New()
	}
	if err := s.settle(u); err != nil {
		return GrantResult{}, err
	}
	grant, err := s.allocator.Grant(u, req)
	if err != nil {
		return GrantResult{}, err
	}
	balance, err := s.availableAfter(u)
	if err != nil {
		return GrantResult{}, err
	}

	eventType := enums.EventCreditsGranted
	if req.Source == enums.CreditSourceRefund {
		eventType = enums.EventCreditsRefunded
	}
	err = s.emit(u, eventType, actor, payloads.CreditsGrantedEvent{
		AccountID:   u.AccountID(),
		GrantID:     grant.ID,
		OperationID: req.OperationID,
		Source:      grant.Source,
		Amount:      grant.Amount,
		ExpiresAt:   grant.ExpiresAt,
		Balance:     balance,
		ExternalRef: grant.ExternalRef,
	})
	if err != nil {
		return GrantResult{}, err
	}
	grantID := grant.ID
	return GrantResult{
		OperationID: req.OperationID,
		GrantID:     &grantID,
		Amount:      grant.Amount,
		ExpiresAt:   grant.ExpiresAt,
		Balance:     balance,
	}, nil
}

// ForfeitInUnit zeroes the account's subscription grants and queues a
// credits.expired event when anything was forfeited. Grants already past
// their expiry are expired first under ReasonExpired.
func (s *Service) ForfeitInUnit(u *ledger.Unit, reason string) (Forfeit, error) {
	if err := s.settle(u); err != nil {
		return Forfeit{}, err
	}
	forfeit, err := s.allocator.ForfeitSubscriptionGrants(u, reason)
	if err != nil || forfeit.Amount == 0 {
		return forfeit, err
	}
	balance, err := s.availableAfter(u)
	if err != nil {
		return Forfeit{}, err
	}
	err = s.emit(u, enums.EventCreditsExpired, nil, payloads.CreditsExpiredEvent{
		AccountID:   u.AccountID(),
		OperationID: forfeit.OperationID,
		GrantIDs:    forfeit.GrantIDs,
		Amount:      forfeit.Amount,
		Reason:      reason,
		Balance:     balance,
	})
	if err != nil {
		return Forfeit{}, err
	}
	s.metrics.AddCredits(string(enums.CreditTransactionExpire), forfeit.Amount)
	return forfeit, nil
}

func (s *Service) availableAfter(u *ledger.Unit) (int64, error) {
	grants, err := u.ActiveGrants()
	if err != nil {
		return 0, fmt.Errorf("load active grants: %w", err)
	}
	return ledger.Available(grants), nil
}

func (s *Service) emit(u *ledger.Unit, eventType enums.OutboxEventType, actor *outbox.ActorRef, data any) error {
	err := s.outbox.Emit(u.Context(), u.Tx(), outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateAccount,
		AggregateID:   u.AccountID(),
		Actor:         actor,
		Data:          data,
		OccurredAt:    u.Now(),
	})
	if err != nil {
		return fmt.Errorf("emit %s: %w", eventType, err)
	}
	return nil
}

func (s *Service) reject(operation string, err error) {
	code := string(pkgerrors.CodeInternal)
	if typed := pkgerrors.As(err); typed != nil {
		code = string(typed.Code())
	}
	s.metrics.IncRejected(operation, code)
}
