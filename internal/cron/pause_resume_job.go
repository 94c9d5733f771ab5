package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
)

const defaultResumeBatch = 500

type pauseResumer interface {
	ResumeDue(ctx context.Context, limit int) (int, error)
}

// PauseResumeJobParams configure the paused-subscription resume job.
type PauseResumeJobParams struct {
	Logger        *logger.Logger
	Subscriptions pauseResumer
	BatchSize     int
}

// NewPauseResumeJob reactivates accounts whose pause window has elapsed.
func NewPauseResumeJob(params PauseResumeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscriptions service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultResumeBatch
	}
	return &pauseResumeJob{
		logg:  params.Logger,
		subs:  params.Subscriptions,
		batch: batch,
	}, nil
}

type pauseResumeJob struct {
	logg  *logger.Logger
	subs  pauseResumer
	batch int
}

func (j *pauseResumeJob) Name() string { return "pause-auto-resume" }

func (j *pauseResumeJob) Run(ctx context.Context) error {
	resumed, err := j.subs.ResumeDue(ctx, j.batch)
	logCtx := j.logg.WithField(ctx, "accounts_resumed", resumed)
	if err != nil {
		j.logg.Warn(logCtx, "pause auto resume finished with errors")
		return fmt.Errorf("pause auto resume: %w", err)
	}
	j.logg.Info(logCtx, "pause auto resume complete")
	return nil
}
