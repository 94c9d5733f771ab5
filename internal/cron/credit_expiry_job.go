package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/pixelforge-backend/internal/credits"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
)

type grantExpirer interface {
	ExpireGrants(ctx context.Context) (credits.ExpireSummary, error)
}

// CreditExpiryJobParams configure the grant expiry sweep.
type CreditExpiryJobParams struct {
	Logger  *logger.Logger
	Credits grantExpirer
}

// NewCreditExpiryJob forfeits the unused balance of every grant past its
// expiry.
func NewCreditExpiryJob(params CreditExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credits service required")
	}
	return &creditExpiryJob{logg: params.Logger, credits: params.Credits}, nil
}

type creditExpiryJob struct {
	logg    *logger.Logger
	credits grantExpirer
}

func (j *creditExpiryJob) Name() string { return "credit-expiry" }

func (j *creditExpiryJob) Run(ctx context.Context) error {
	summary, err := j.credits.ExpireGrants(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"accounts_touched": summary.Accounts,
		"grants_expired":   summary.Grants,
		"credits_expired":  summary.Credits,
	})
	if err != nil {
		// partial sweeps still report what they forfeited
		j.logg.Warn(logCtx, "credit expiry finished with errors")
		return fmt.Errorf("credit expiry: %w", err)
	}
	j.logg.Info(logCtx, "credit expiry complete")
	return nil
}
