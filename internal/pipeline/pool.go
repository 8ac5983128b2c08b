package pipeline

import (
	"context"
	"runtime"
	"sync"
)

// Pool runs jobs on a fixed number of workers and collects their results.
type Pool[Job any, Result any] struct {
	numWorkers int
	jobs       chan Job
	results    chan Result
	wg         sync.WaitGroup
}

// NewPool creates a pool. A non-positive numWorkers selects one worker per
// CPU; the pool never starts more workers than there are jobs.
func NewPool[Job any, Result any](numWorkers, numJobs int) *Pool[Job, Result] {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numJobs > 0 {
		numWorkers = min(numWorkers, numJobs)
	}

	return &Pool[Job, Result]{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numJobs),
		results:    make(chan Result, numJobs),
	}
}

// Start launches the workers. Each job is passed to fn with ctx.
func (p *Pool[Job, Result]) Start(ctx context.Context, fn func(context.Context, Job) Result) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.results <- fn(ctx, job)
			}
		}()
	}
}

// Submit queues a job.
func (p *Pool[Job, Result]) Submit(job Job) {
	p.jobs <- job
}

// Close stops accepting jobs. Results is closed once every worker is done.
func (p *Pool[Job, Result]) Close() {
	close(p.jobs)
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

// Results returns the result channel.
func (p *Pool[Job, Result]) Results() <-chan Result {
	return p.results
}

type indexed[T any] struct {
	i int
	v T
}

// Map applies fn to every job on a pool of numWorkers and returns the results
// in job order.
func Map[Job any, Result any](ctx context.Context, numWorkers int, jobs []Job, fn func(context.Context, Job) Result) []Result {
	out := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return out
	}

	pool := NewPool[indexed[Job], indexed[Result]](numWorkers, len(jobs))
	pool.Start(ctx, func(ctx context.Context, j indexed[Job]) indexed[Result] {
		return indexed[Result]{i: j.i, v: fn(ctx, j.v)}
	})
	for i, j := range jobs {
		pool.Submit(indexed[Job]{i: i, v: j})
	}
	pool.Close()

	for r := range pool.Results() {
		out[r.i] = r.v
	}
	return out
}
