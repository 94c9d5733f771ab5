package cron

import (
	"context"
	"fmt"
)

// Job is one unit of scheduled maintenance. Name must be unique within a
// Registry; it labels logs and metrics.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry keeps jobs in registration order.
type Registry struct {
	jobs   []Job
	byName map[string]Job
}

func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{byName: map[string]Job{}}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends job. Nil jobs are skipped; blank or repeated names fail.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("cron job %T has no name", job)
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("cron job %q registered twice", name)
	}
	if r.byName == nil {
		r.byName = map[string]Job{}
	}
	r.byName[name] = job
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.jobs...)
}

// Select returns the named jobs, or every job when names is empty.
func (r *Registry) Select(names ...string) ([]Job, error) {
	if len(names) == 0 {
		return r.Jobs(), nil
	}
	selected := make([]Job, 0, len(names))
	for _, name := range names {
		job, ok := r.byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown cron job %q", name)
		}
		selected = append(selected, job)
	}
	return selected, nil
}
