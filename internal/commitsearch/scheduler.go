package commitsearch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sha1n/relic-commits/internal/domain"
)

// ErrSchedulerStopped is returned when submitting to a stopped scheduler.
var ErrSchedulerStopped = errors.New("scheduler is stopped")

// Task is a unit of synchronization work for one repository.
type Task struct {
	Repository Repository
	// Delta is the known change, or nil to derive state from status and history.
	Delta *domain.CommitDelta
	// Reindex forces a full reindex and ignores Delta.
	Reindex bool
	// CatchUp resolves the delta from the indexed revision to the live tip
	// when the task runs, and ignores Delta.
	CatchUp bool

	attempt int
}

// Synchronizer is the part of Syncer the scheduler drives.
type Synchronizer interface {
	Synchronize(ctx context.Context, repo Repository, delta *domain.CommitDelta) error
	Reindex(ctx context.Context, repo Repository) error
	CatchUp(ctx context.Context, repo Repository) error
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	RetryDelay  time.Duration
	Logger      *slog.Logger
}

// Scheduler dispatches tasks to a fixed pool of workers and retries failures.
// Retrying is safe because every attempt re-derives its action from the
// persisted status and the live history.
type Scheduler struct {
	syncer Synchronizer
	opts   SchedulerOptions
	queue  chan Task

	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
	cancel  context.CancelFunc
	workers sync.WaitGroup
	submits sync.WaitGroup
	retries sync.WaitGroup
}

// NewScheduler creates a scheduler. Call Start before submitting tasks.
func NewScheduler(syncer Synchronizer, opts SchedulerOptions) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		syncer: syncer,
		opts:   opts,
		queue:  make(chan Task, opts.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the workers. They run until Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	for range s.opts.Workers {
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			s.work(ctx)
		}()
	}
}

// Submit enqueues a task, blocking while the queue is full.
// A Submit blocked on a full queue returns ErrSchedulerStopped once Stop is called.
func (s *Scheduler) Submit(ctx context.Context, task Task) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrSchedulerStopped
	}
	s.submits.Add(1)
	s.mu.RUnlock()
	defer s.submits.Done()

	select {
	case s.queue <- task:
		return nil
	case <-s.done:
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting tasks, drains the queue and waits for the workers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	s.mu.Unlock()

	// The queue is closed only once no sender can reach it.
	s.submits.Wait()
	s.retries.Wait()
	close(s.queue)
	s.workers.Wait()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
}

func (s *Scheduler) work(ctx context.Context) {
	for task := range s.queue {
		if ctx.Err() != nil {
			continue
		}
		s.run(ctx, task)
	}
}

func (s *Scheduler) run(ctx context.Context, task Task) {
	task.attempt++
	logger := s.opts.Logger.With("repo_id", task.Repository.ID, "attempt", task.attempt)

	var err error
	switch {
	case task.Reindex:
		err = s.syncer.Reindex(ctx, task.Repository)
	case task.CatchUp:
		err = s.syncer.CatchUp(ctx, task.Repository)
	default:
		err = s.syncer.Synchronize(ctx, task.Repository, task.Delta)
	}
	if err == nil {
		return
	}

	if errors.Is(err, ErrTipChangedWithoutDelta) || task.attempt >= s.opts.MaxAttempts || ctx.Err() != nil {
		logger.Error("Index synchronization failed", "error", err)
		return
	}

	logger.Warn("Index synchronization failed, retrying", "error", err, "delay", s.opts.RetryDelay)
	s.retry(ctx, task)
}

// retry re-enqueues task after the configured delay without blocking the worker.
func (s *Scheduler) retry(ctx context.Context, task Task) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		s.opts.Logger.Warn("Dropping retry, scheduler is stopped", "repo_id", task.Repository.ID)
		return
	}
	s.retries.Add(1)
	s.mu.RUnlock()

	go func() {
		defer s.retries.Done()

		timer := time.NewTimer(s.opts.RetryDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.done:
			s.opts.Logger.Warn("Dropping retry, scheduler is stopped", "repo_id", task.Repository.ID)
			return
		case <-ctx.Done():
			return
		}

		if err := s.Submit(ctx, task); err != nil {
			s.opts.Logger.Warn("Dropping retry", "repo_id", task.Repository.ID, "error", err)
		}
	}()
}
