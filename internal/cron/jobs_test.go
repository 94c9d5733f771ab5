package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/pixelforge-backend/internal/credits"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
)

type fakeExpirer struct {
	summary credits.ExpireSummary
	err     error
	calls   int
}

func (f *fakeExpirer) ExpireGrants(context.Context) (credits.ExpireSummary, error) {
	f.calls++
	return f.summary, f.err
}

type fakeResumer struct {
	resumed int
	err     error
	limit   int
}

func (f *fakeResumer) ResumeDue(_ context.Context, limit int) (int, error) {
	f.limit = limit
	return f.resumed, f.err
}

func TestCreditExpiryJobRunsSweep(t *testing.T) {
	expirer := &fakeExpirer{summary: credits.ExpireSummary{Accounts: 2, Grants: 3, Credits: 40}}
	job, err := NewCreditExpiryJob(CreditExpiryJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Credits: expirer,
	})
	if err != nil {
		t.Fatalf("NewCreditExpiryJob: %v", err)
	}
	if job.Name() != "credit-expiry" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if expirer.calls != 1 {
		t.Fatalf("expected one sweep, got %d", expirer.calls)
	}
}

func TestCreditExpiryJobPropagatesError(t *testing.T) {
	job, err := NewCreditExpiryJob(CreditExpiryJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Credits: &fakeExpirer{err: errors.New("db down")},
	})
	if err != nil {
		t.Fatalf("NewCreditExpiryJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestCreditExpiryJobRequiresDeps(t *testing.T) {
	if _, err := NewCreditExpiryJob(CreditExpiryJobParams{Credits: &fakeExpirer{}}); err == nil {
		t.Fatal("expected logger error")
	}
	if _, err := NewCreditExpiryJob(CreditExpiryJobParams{Logger: logger.New(logger.Options{ServiceName: "test"})}); err == nil {
		t.Fatal("expected credits error")
	}
}

func TestPauseResumeJobUsesDefaultBatch(t *testing.T) {
	resumer := &fakeResumer{resumed: 4}
	job, err := NewPauseResumeJob(PauseResumeJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "test"}),
		Subscriptions: resumer,
	})
	if err != nil {
		t.Fatalf("NewPauseResumeJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resumer.limit != defaultResumeBatch {
		t.Fatalf("expected limit %d, got %d", defaultResumeBatch, resumer.limit)
	}
}

func TestPauseResumeJobPropagatesError(t *testing.T) {
	job, err := NewPauseResumeJob(PauseResumeJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "test"}),
		Subscriptions: &fakeResumer{err: errors.New("boom")},
		BatchSize:     10,
	})
	if err != nil {
		t.Fatalf("NewPauseResumeJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
