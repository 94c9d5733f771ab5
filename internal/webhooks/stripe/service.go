package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/pixelforge-backend/internal/accounts"
	"github.com/angelmondragon/pixelforge-backend/internal/credits"
	"github.com/angelmondragon/pixelforge-backend/internal/idempotency"
	"github.com/angelmondragon/pixelforge-backend/internal/ledger"
	"github.com/angelmondragon/pixelforge-backend/internal/subscriptions"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
	"github.com/angelmondragon/pixelforge-backend/pkg/metrics"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
)

const (
	StatusApplied   = idempotency.StatusApplied
	StatusNoop      = idempotency.StatusNoop
	StatusDuplicate = "duplicate"
	StatusIgnored   = "ignored"

	metadataAccountID  = "account_id"
	metadataCreditPack = "credit_pack"
	metadataPlan       = "plan"

	// invoice.paid and invoice.payment_succeeded describe the same payment and
	// share one gate key per invoice.
	invoicePaidType = "invoice.paid"
)

type ledgerLocker interface {
	Lock(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) (*ledger.Unit, error)
}

type accountResolver interface {
	Resolve(ctx context.Context, ref accounts.StripeRef) (*models.Account, error)
}

type transitioner interface {
	Apply(u *ledger.Unit, req subscriptions.Request) (subscriptions.Result, error)
}

type creditIssuer interface {
	GrantInUnit(u *ledger.Unit, req credits.GrantRequest, actor *outbox.ActorRef) (credits.GrantResult, error)
}

type planCatalog interface {
	PlanForPrice(priceID string) (enums.Plan, bool)
	PackCredits(packID string) (int64, bool)
}

// ServiceParams wires the Stripe event handler.
type ServiceParams struct {
	Gate          *idempotency.Gate
	Ledger        ledgerLocker
	Accounts      accountResolver
	Subscriptions transitioner
	Credits       creditIssuer
	Plans         planCatalog
	StripeClient  subscriptions.StripeSubscriptionClient
	Metrics       *metrics.LedgerMetrics
	Logger        *logger.Logger
}

// HandleResult is what the webhook endpoint reports back to Stripe.
type HandleResult struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Status    string          `json:"status"`
	Detail    string          `json:"detail,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Replayed  bool            `json:"replayed"`
}

// Service maps verified Stripe events onto lifecycle triggers and credit
// grants. Every handled event is admitted through the idempotency gate and
// applied inside one locked ledger unit.
type Service struct {
	gate          *idempotency.Gate
	ledger        ledgerLocker
	accounts      accountResolver
	subscriptions transitioner
	credits       creditIssuer
	plans         planCatalog
	stripe        subscriptions.StripeSubscriptionClient
	metrics       *metrics.LedgerMetrics
	logg          *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Gate == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency gate required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "account resolver required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service required")
	}
	if params.Credits == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credit issuer required")
	}
	if params.Plans == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog required")
	}
	return &Service{
		gate:          params.Gate,
		ledger:        params.Ledger,
		accounts:      params.Accounts,
		subscriptions: params.Subscriptions,
		credits:       params.Credits,
		plans:         params.Plans,
		stripe:        params.StripeClient,
		metrics:       params.Metrics,
		logg:          params.Logger,
	}, nil
}

// work is one decoded event. apply runs under the account lock; a non-empty
// noop short-circuits it.
type work struct {
	key     idempotency.Event
	ref     accounts.StripeRef
	noop    string
	apply   func(u *ledger.Unit) (idempotency.Outcome, error)
	account *models.Account
}

// HandleEvent applies a verified event exactly once. Unknown accounts and
// transitions the current state does not allow are recorded as no-ops.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (HandleResult, error) {
	if event == nil || event.Data == nil {
		return HandleResult{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	if strings.TrimSpace(event.ID) == "" {
		return HandleResult{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe event id required")
	}
	if s.logg != nil {
		ctx = s.logg.WithEventID(ctx, event.ID)
		ctx = s.logg.WithField(ctx, "event_type", string(event.Type))
	}
	out := HandleResult{EventID: event.ID, EventType: string(event.Type)}

	p, err := s.planEvent(ctx, event)
	if err != nil {
		s.metrics.IncWebhook(out.EventType, "error")
		return HandleResult{}, err
	}
	if p == nil {
		out.Status = StatusIgnored
		s.metrics.IncWebhook(out.EventType, StatusIgnored)
		return out, nil
	}

	if p.noop == "" {
		account, err := s.accounts.Resolve(ctx, p.ref)
		if err != nil {
			s.metrics.IncWebhook(out.EventType, "error")
			return HandleResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve account")
		}
		if account == nil {
			p.noop = "account not found"
		}
		p.account = account
	}

	res, err := s.gate.Admit(ctx, p.key, func(tx *gorm.DB) (idempotency.Outcome, error) {
		if p.noop != "" {
			return idempotency.Noop(p.noop), nil
		}
		u, err := s.ledger.Lock(ctx, tx, p.account.ID)
		if err != nil {
			return idempotency.Outcome{}, err
		}
		return p.apply(u)
	})
	if err != nil {
		s.metrics.IncWebhook(out.EventType, "error")
		if s.logg != nil {
			s.logg.Error(ctx, "stripe event failed", err)
		}
		return HandleResult{}, err
	}

	out.Status = res.Outcome.Status
	out.Detail = res.Outcome.Detail
	out.Data = res.Outcome.Data
	out.Replayed = !res.First
	metric := out.Status
	if out.Replayed {
		metric = StatusDuplicate
	}
	s.metrics.IncWebhook(out.EventType, metric)
	if s.logg != nil && res.First {
		logCtx := ctx
		if p.account != nil {
			logCtx = s.logg.WithAccountID(ctx, p.account.ID.String())
		}
		logCtx = s.logg.WithField(logCtx, "outcome", out.Status)
		if out.Detail != "" {
			logCtx = s.logg.WithField(logCtx, "detail", out.Detail)
		}
		s.logg.Info(logCtx, "stripe event processed")
	}
	return out, nil
}

func (s *Service) planEvent(ctx context.Context, event *stripe.Event) (*work, error) {
	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
		}
		return s.planSubscription(ctx, event, &sub)
	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentSucceeded, stripe.EventTypeInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice event")
		}
		return s.planInvoice(event, &inv)
	case stripe.EventTypeChargeSucceeded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge event")
		}
		return s.planCharge(event, &charge), nil
	default:
		return nil, nil
	}
}

func (s *Service) planSubscription(ctx context.Context, event *stripe.Event, sub *stripe.Subscription) (*work, error) {
	p := &work{
		key: eventKey(event),
		ref: accounts.StripeRef{
			AccountID:      sub.Metadata[metadataAccountID],
			CustomerID:     customerID(sub.Customer),
			SubscriptionID: sub.ID,
		},
	}
	deleted := event.Type == stripe.EventTypeCustomerSubscriptionDeleted

	var target enums.Plan
	if !deleted && isLive(sub.Status) {
		resolved, err := s.planFor(ctx, sub)
		if err != nil {
			return nil, err
		}
		if resolved == "" {
			p.noop = "unknown price"
			return p, nil
		}
		target = resolved
	}

	subID := sub.ID
	periodEnd := subscriptionPeriodEnd(sub)
	p.apply = func(u *ledger.Unit) (idempotency.Outcome, error) {
		state := subscriptions.StateOf(u.Account())
		base := subscriptions.Request{
			PeriodEnd:            periodEnd,
			StripeSubscriptionID: &subID,
			ExternalRef:          &subID,
			Actor:                webhookActor(),
		}
		var triggers []subscriptions.Request
		switch {
		case deleted || sub.Status == stripe.SubscriptionStatusCanceled || sub.Status == stripe.SubscriptionStatusIncompleteExpired:
			triggers = append(triggers, with(base, enums.TriggerCancel, ""))
		case sub.Status == stripe.SubscriptionStatusPastDue || sub.Status == stripe.SubscriptionStatusUnpaid:
			if state == subscriptions.StatePastDue {
				return idempotency.Noop("no lifecycle change"), nil
			}
			triggers = append(triggers, with(base, enums.TriggerPaymentFailed, ""))
		case isLive(sub.Status):
			switch state {
			case subscriptions.StateFree, subscriptions.StateCanceled:
				triggers = append(triggers, with(base, enums.TriggerActivate, target))
			case subscriptions.StatePastDue:
				triggers = append(triggers, with(base, enums.TriggerPaymentRecovered, ""))
				if u.Account().Plan != target {
					triggers = append(triggers, with(base, enums.TriggerChangePlan, target))
				}
			case subscriptions.StateActive:
				if u.Account().Plan == target {
					return idempotency.Noop("no lifecycle change"), nil
				}
				triggers = append(triggers, with(base, enums.TriggerChangePlan, target))
			default:
				return idempotency.Noop("no lifecycle change"), nil
			}
		default:
			return idempotency.Noop("ignored subscription status " + string(sub.Status)), nil
		}
		return s.applyAll(u, triggers)
	}
	return p, nil
}

func (s *Service) planInvoice(event *stripe.Event, inv *stripe.Invoice) (*work, error) {
	subID, metadata := invoiceSubscription(event, inv)
	p := &work{
		key: eventKey(event),
		ref: accounts.StripeRef{
			AccountID:      metadata[metadataAccountID],
			CustomerID:     customerID(inv.Customer),
			SubscriptionID: subID,
		},
	}
	if subID == "" {
		p.noop = "invoice has no subscription"
		return p, nil
	}

	invoiceID := inv.ID
	base := subscriptions.Request{
		PeriodEnd:   invoicePeriodEnd(inv),
		ExternalRef: &invoiceID,
		Actor:       webhookActor(),
	}

	if event.Type == stripe.EventTypeInvoicePaymentFailed {
		p.apply = func(u *ledger.Unit) (idempotency.Outcome, error) {
			if subscriptions.StateOf(u.Account()) == subscriptions.StatePastDue {
				return idempotency.Noop("no lifecycle change"), nil
			}
			return s.applyAll(u, []subscriptions.Request{with(base, enums.TriggerPaymentFailed, "")})
		}
		return p, nil
	}

	if invoiceID != "" {
		p.key = idempotency.Event{ExternalID: "invoice_paid:" + invoiceID, Type: invoicePaidType}
	}
	if inv.BillingReason == stripe.InvoiceBillingReasonSubscriptionCreate {
		p.noop = "initial invoice is handled by the subscription event"
		return p, nil
	}
	renewal := inv.BillingReason == stripe.InvoiceBillingReasonSubscriptionCycle
	p.apply = func(u *ledger.Unit) (idempotency.Outcome, error) {
		var triggers []subscriptions.Request
		if subscriptions.StateOf(u.Account()) == subscriptions.StatePastDue {
			triggers = append(triggers, with(base, enums.TriggerPaymentRecovered, ""))
		}
		if renewal {
			triggers = append(triggers, with(base, enums.TriggerRenew, ""))
		}
		if len(triggers) == 0 {
			return idempotency.Noop("no lifecycle change"), nil
		}
		return s.applyAll(u, triggers)
	}
	return p, nil
}

func (s *Service) planCharge(event *stripe.Event, charge *stripe.Charge) *work {
	p := &work{
		key: eventKey(event),
		ref: accounts.StripeRef{
			AccountID:  charge.Metadata[metadataAccountID],
			CustomerID: customerID(charge.Customer),
		},
	}
	packID := strings.TrimSpace(charge.Metadata[metadataCreditPack])
	if packID == "" {
		p.noop = "charge is not a credit pack purchase"
		return p
	}
	amount, ok := s.plans.PackCredits(packID)
	if !ok {
		p.noop = "unknown credit pack " + packID
		return p
	}
	chargeID := charge.ID
	p.apply = func(u *ledger.Unit) (idempotency.Outcome, error) {
		granted, err := s.credits.GrantInUnit(u, credits.GrantRequest{
			Source:      enums.CreditSourceOneTimePurchase,
			Amount:      amount,
			Description: fmt.Sprintf("credit pack %s", packID),
			ExternalRef: &chargeID,
		}, webhookActor())
		if err != nil {
			return idempotency.Outcome{}, err
		}
		return idempotency.Applied(granted)
	}
	return p
}

// applyAll runs triggers in order. An illegal first step leaves the ledger
// untouched and is recorded as a no-op; a later failure rolls everything back.
func (s *Service) applyAll(u *ledger.Unit, reqs []subscriptions.Request) (idempotency.Outcome, error) {
	results := make([]subscriptions.Result, 0, len(reqs))
	for i, req := range reqs {
		result, err := s.subscriptions.Apply(u, req)
		if err != nil {
			if i == 0 && pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition) {
				return idempotency.Noop(err.Error()), nil
			}
			return idempotency.Outcome{}, err
		}
		results = append(results, result)
	}
	return idempotency.Applied(results)
}

func (s *Service) planFor(ctx context.Context, sub *stripe.Subscription) (enums.Plan, error) {
	if priceID := subscriptionPriceID(sub); priceID != "" {
		if plan, ok := s.plans.PlanForPrice(priceID); ok {
			return plan, nil
		}
	}
	if plan, ok := s.plans.PlanForPrice(sub.Metadata[metadataPlan]); ok {
		return plan, nil
	}
	if subscriptionPriceID(sub) != "" || s.stripe == nil || sub.ID == "" {
		return "", nil
	}
	fetched, err := s.stripe.Get(ctx, sub.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	if plan, ok := s.plans.PlanForPrice(subscriptionPriceID(fetched)); ok {
		return plan, nil
	}
	return "", nil
}

func eventKey(event *stripe.Event) idempotency.Event {
	return idempotency.Event{ExternalID: event.ID, Type: string(event.Type)}
}

func with(base subscriptions.Request, trigger enums.SubscriptionTrigger, plan enums.Plan) subscriptions.Request {
	base.Trigger = trigger
	base.Plan = plan
	return base
}

func webhookActor() *outbox.ActorRef {
	return &outbox.ActorRef{Role: "system", Source: "stripe_webhook"}
}

func isLive(status stripe.SubscriptionStatus) bool {
	return status == stripe.SubscriptionStatusActive || status == stripe.SubscriptionStatusTrialing
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}

func subscriptionPeriodEnd(sub *stripe.Subscription) *time.Time {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].CurrentPeriodEnd <= 0 {
		return nil
	}
	end := time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0).UTC()
	return &end
}

func invoicePeriodEnd(inv *stripe.Invoice) *time.Time {
	if inv.Lines == nil || len(inv.Lines.Data) == 0 || inv.Lines.Data[0].Period == nil || inv.Lines.Data[0].Period.End <= 0 {
		return nil
	}
	end := time.Unix(inv.Lines.Data[0].Period.End, 0).UTC()
	return &end
}

// invoiceSubscription reads the subscription id from the legacy top-level
// field and falls back to the invoice parent details.
func invoiceSubscription(event *stripe.Event, inv *stripe.Invoice) (string, map[string]string) {
	var metadata map[string]string
	subID := event.GetObjectValue("subscription")
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		details := inv.Parent.SubscriptionDetails
		metadata = details.Metadata
		if subID == "" && details.Subscription != nil {
			subID = details.Subscription.ID
		}
	}
	return subID, metadata
}
