package cron

import (
	"context"
	"fmt"
	"slices"
)

// Job is one unit of the cron cycle. Run must be safe to repeat; a cycle can
// be retried or overlap a slow predecessor.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type processedRecorder interface {
	AddProcessed(job string, n int)
}

func recordProcessed(m processedRecorder, job string, n int) {
	if m != nil {
		m.AddProcessed(job, n)
	}
}

// Registry is the ordered job list of a cron cycle. Names are unique because
// metrics and logs key on them.
type Registry struct {
	jobs  []Job
	names []string
}

func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{}
	for i, job := range jobs {
		if job == nil {
			return nil, fmt.Errorf("job %d is nil", i)
		}
		name := job.Name()
		if name == "" {
			return nil, fmt.Errorf("job %d has no name", i)
		}
		if slices.Contains(r.names, name) {
			return nil, fmt.Errorf("job %q registered twice", name)
		}
		r.jobs = append(r.jobs, job)
		r.names = append(r.names, name)
	}
	return r, nil
}

// Jobs returns the jobs in run order.
func (r *Registry) Jobs() []Job {
	if r == nil {
		return nil
	}
	return slices.Clone(r.jobs)
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.names)
}
