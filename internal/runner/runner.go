package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"auditpoller/pkg/collector"
	"auditpoller/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Job is one input's fetch pass
type Job struct {
	Input string
	Run   func(ctx context.Context) (*collector.Result, error)
}

// InputResult is the outcome of one job
type InputResult struct {
	Input    string
	Result   *collector.Result
	Err      error
	Duration time.Duration
}

// Summary collects the outcome of every job, in submission order
type Summary struct {
	Results   []InputResult
	Succeeded int
	Failed    int
}

// Err returns an error naming the failed inputs, or nil
func (s *Summary) Err() error {
	if s.Failed == 0 {
		return nil
	}
	var names []string
	for _, r := range s.Results {
		if r.Err != nil {
			names = append(names, r.Input)
		}
	}
	return fmt.Errorf("%d of %d inputs failed: %v", s.Failed, len(s.Results), names)
}

// Runner executes jobs for different inputs with bounded concurrency. A job's
// failure is recorded and never cancels the others.
type Runner struct {
	concurrency int
	logger      logger.Logger
}

// New creates a runner allowing up to concurrency jobs at once
func New(concurrency int, log logger.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Runner{concurrency: concurrency, logger: log}
}

// Run executes every job and waits for all of them. Two jobs for the same
// input are rejected up front so a source never has overlapping runs.
func (r *Runner) Run(ctx context.Context, jobs []Job) (*Summary, error) {
	seen := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		if seen[job.Input] {
			return nil, fmt.Errorf("input %q scheduled more than once", job.Input)
		}
		seen[job.Input] = true
	}

	r.logger.InfoWithFields("starting inputs", map[string]interface{}{
		"inputs":      len(jobs),
		"concurrency": r.concurrency,
	})

	results := make([]InputResult, len(jobs))
	var mu sync.Mutex
	summary := &Summary{}

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			start := time.Now()
			res, err := r.runJob(ctx, job)
			results[i] = InputResult{Input: job.Input, Result: res, Err: err, Duration: time.Since(start)}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				jobLog := r.logger.WithError(err).WithField("input", job.Input)
				// a returned result means the collector already logged the failure
				if res != nil {
					jobLog.Debug("input run failed")
				} else {
					jobLog.Error("input run failed")
				}
			} else {
				summary.Succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Results = results
	r.logger.InfoWithFields("inputs finished", map[string]interface{}{
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	})
	return summary, nil
}

// runJob runs one job, turning a panic into an error
func (r *Runner) runJob(ctx context.Context, job Job) (res *collector.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("input %s panicked: %v", job.Input, p)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return job.Run(ctx)
}
