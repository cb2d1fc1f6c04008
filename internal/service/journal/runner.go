package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zhouzirui/z-journal/backend/internal/model/memory"
)

// ErrRunnerClosed is reported by jobs submitted after Close.
var ErrRunnerClosed = errors.New("summary runner closed")

// SummaryResult is the outcome of one background compression.
type SummaryResult struct {
	Record *memory.SummaryRecord
	Err    error
}

// SummaryJob is a detached compression. Done is closed once Result is
// final.
type SummaryJob struct {
	SessionID string
	UserID    string
	done      chan struct{}
	result    SummaryResult
}

func (j *SummaryJob) Done() <-chan struct{} { return j.done }

// Result returns the outcome; it is only meaningful after Done is closed.
func (j *SummaryJob) Result() SummaryResult { return j.result }

// Wait blocks until the job finishes or ctx is done.
func (j *SummaryJob) Wait(ctx context.Context) (SummaryResult, error) {
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return SummaryResult{}, ctx.Err()
	}
}

// Runner executes summary jobs with bounded concurrency, detached from the
// request that submitted them.
type Runner struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	base    context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner runs at most workers jobs at once, each bounded by timeout.
func NewRunner(workers int, timeout time.Duration) *Runner {
	if workers < 1 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		sem:     semaphore.NewWeighted(int64(workers)),
		timeout: timeout,
		base:    base,
		cancel:  cancel,
	}
}

// Submit starts fn in the background and returns its job handle.
func (r *Runner) Submit(userID, sessionID string, fn func(ctx context.Context) SummaryResult) *SummaryJob {
	return r.SubmitAfter(nil, userID, sessionID, fn)
}

// SubmitAfter is Submit, but fn starts only once after has finished. The
// wait happens before a worker slot is taken.
func (r *Runner) SubmitAfter(after *SummaryJob, userID, sessionID string, fn func(ctx context.Context) SummaryResult) *SummaryJob {
	job := &SummaryJob{UserID: userID, SessionID: sessionID, done: make(chan struct{})}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		job.result = SummaryResult{Err: ErrRunnerClosed}
		close(job.done)
		return job
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer close(job.done)
		job.result = r.run(after, fn)
	}()
	return job
}

func (r *Runner) run(after *SummaryJob, fn func(ctx context.Context) SummaryResult) (result SummaryResult) {
	if after != nil {
		select {
		case <-after.Done():
		case <-r.base.Done():
			return SummaryResult{Err: fmt.Errorf("wait for previous summary: %w", r.base.Err())}
		}
	}
	if err := r.sem.Acquire(r.base, 1); err != nil {
		return SummaryResult{Err: fmt.Errorf("acquire summary worker: %w", err)}
	}
	defer r.sem.Release(1)

	ctx, cancel := context.WithTimeout(r.base, r.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			result = SummaryResult{Err: fmt.Errorf("summary job panicked: %v", rec)}
		}
	}()
	return fn(ctx)
}

// Close stops accepting jobs and waits for running ones. When ctx expires
// first, outstanding jobs are cancelled.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-finished
		return ctx.Err()
	}
}
