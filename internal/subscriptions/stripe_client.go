package subscriptions

import (
	"context"
	"time"

	pkgstripe "github.com/angelmondragon/pixelforge-backend/pkg/stripe"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/subscription"
)

// StripeSubscriptionClient exposes the Stripe reads needed when an event
// payload lacks the subscription's price.
type StripeSubscriptionClient interface {
	Get(ctx context.Context, id string) (*stripe.Subscription, error)
}

type stripeClientWrapper struct {
	timeout time.Duration
}

// NewStripeClient wraps the configured Stripe client. Each call is bounded by timeout.
func NewStripeClient(api *pkgstripe.Client, timeout time.Duration) StripeSubscriptionClient {
	if api == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &stripeClientWrapper{timeout: timeout}
}

func (w *stripeClientWrapper) Get(ctx context.Context, id string) (*stripe.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price")
	return subscription.Get(id, params)
}
