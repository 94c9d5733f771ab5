package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/pixelforge-backend/api/controllers"
	admincontrollers "github.com/angelmondragon/pixelforge-backend/api/controllers/admin"
	creditcontrollers "github.com/angelmondragon/pixelforge-backend/api/controllers/credits"
	subscriptioncontrollers "github.com/angelmondragon/pixelforge-backend/api/controllers/subscriptions"
	webhookcontrollers "github.com/angelmondragon/pixelforge-backend/api/controllers/webhooks"
	"github.com/angelmondragon/pixelforge-backend/api/middleware"
	"github.com/angelmondragon/pixelforge-backend/pkg/config"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/pixelforge-backend/pkg/redis"
	"github.com/stripe/stripe-go/v84"
)

// Verifier checks Stripe webhook signatures.
type Verifier interface {
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
}

// RedisStore is the Redis surface used by rate limiting, admin replay and
// the readiness check.
type RedisStore interface {
	pkgredis.IdempotencyStore
	middleware.RateLimitStore
	controllers.Pinger
}

// Deps groups everything the HTTP surface is wired to.
type Deps struct {
	Config *config.Config
	Logger *logger.Logger

	DB    controllers.Pinger
	Redis RedisStore
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer

	Credits        creditcontrollers.Service
	Ledger         admincontrollers.LedgerService
	Accounts       admincontrollers.AccountService
	DeadLetters    admincontrollers.DeadLetterReader
	Subscriptions  subscriptioncontrollers.Service
	Retention      subscriptioncontrollers.RetentionService
	StripeWebhooks webhookcontrollers.StripeWebhookService
	StripeVerifier Verifier
}

func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	logg := d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	apiPolicy := middleware.NewRateLimitPolicy(
		"api",
		cfg.RateLimit.Window,
		cfg.RateLimit.AccountLimit,
		cfg.RateLimit.IPLimit,
	)

	readiness := map[string]controllers.Pinger{}
	if d.DB != nil {
		readiness["db"] = d.DB
	}
	var rateStore middleware.RateLimitStore
	var replayStore pkgredis.IdempotencyStore
	if d.Redis != nil {
		readiness["redis"] = d.Redis
		rateStore = d.Redis
		replayStore = d.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(d.StripeWebhooks, d.StripeVerifier, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(apiPolicy, rateStore, logg))

		r.Route("/credits", func(r chi.Router) {
			r.Post("/consume", creditcontrollers.Consume(d.Credits, logg))
			r.Post("/refund", creditcontrollers.Refund(d.Credits, logg))
			r.Get("/balance", creditcontrollers.Balance(d.Credits, logg))
			r.Get("/history", creditcontrollers.History(d.Credits, logg))
			r.Get("/grants", creditcontrollers.Grants(d.Credits, logg))
		})

		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", subscriptioncontrollers.Get(d.Subscriptions, logg))
			r.Post("/resume", subscriptioncontrollers.Resume(d.Subscriptions, logg))
			r.Get("/pause-eligibility", subscriptioncontrollers.PauseEligibility(d.Retention, logg))
			r.Post("/pause", subscriptioncontrollers.Pause(d.Retention, logg))
			r.Get("/discount-eligibility", subscriptioncontrollers.DiscountEligibility(d.Retention, logg))
			r.Post("/apply-discount", subscriptioncontrollers.ApplyDiscount(d.Retention, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.ActorRoleAdmin, logg))
		r.Use(middleware.Idempotency(replayStore, logg))

		r.Post("/credits/adjust", admincontrollers.AdjustCredits(d.Ledger, logg))
		r.Post("/accounts", admincontrollers.OpenAccount(d.Accounts, logg))
		r.Get("/accounts/{accountId}", admincontrollers.GetAccount(d.Accounts, logg))
		r.Get("/accounts/{accountId}/reconcile", admincontrollers.Reconcile(d.Ledger, logg))
		r.Get("/outbox/dead-letters", admincontrollers.DeadLetters(d.DeadLetters, logg))
	})

	return r
}
