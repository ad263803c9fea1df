// Package scheduler runs ingestion tasks single-flight: at most one task
// executes at a time, and a new submission preempts whatever is running.
// This is a debounce scheduler, not a fair queue — the most recent
// submission wins and anything superseded is abandoned.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// idleDelay is the consumer's poll backoff when the queue is empty.
const idleDelay = 250 * time.Millisecond

// Task is one ingestion request.
type Task struct {
	Chain     string
	Date      time.Time
	Force     bool
	Initiator string
}

// Runner executes a task under the scheduler's cancellation signal.
type Runner interface {
	Run(ctx context.Context, task Task) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, task Task) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, task Task) error { return f(ctx, task) }

// Scheduler owns the pending queue and the currently running task. It is
// constructed explicitly with its runner; there is no ambient instance.
type Scheduler struct {
	runner Runner

	mu            sync.Mutex
	pending       []Task
	current       *Task
	cancelCurrent context.CancelFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a scheduler over runner. Call Start to begin consuming.
func New(runner Runner) *Scheduler {
	return &Scheduler{
		runner: runner,
		stopCh: make(chan struct{}),
	}
}

// Start launches the single consumer loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.consume(ctx)
	log.Info().Msg("Ingestion scheduler started")
}

// Stop cancels any running task, discards pending tasks, and joins the
// consumer loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	s.mu.Lock()
	if s.cancelCurrent != nil {
		s.cancelCurrent()
	}
	s.pending = nil
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("Ingestion scheduler stopped")
}

// Submit enqueues a task. If a task is currently running it is cancelled
// and every pending task is discarded first: the newest submission wins.
func (s *Scheduler) Submit(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		log.Info().
			Str("running_chain", s.current.Chain).
			Str("new_chain", task.Chain).
			Msg("Preempting running ingestion for newer submission")
		s.cancelCurrent()

		if len(s.pending) > 0 {
			log.Info().Int("discarded", len(s.pending)).Msg("Discarded superseded pending tasks")
		}
		s.pending = s.pending[:0]
	}

	s.pending = append(s.pending, task)
}

// Running returns the task currently executing, if any.
func (s *Scheduler) Running() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Task{}, false
	}
	return *s.current, true
}

func (s *Scheduler) consume(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		task, ok := s.next(ctx)
		if !ok {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(idleDelay):
			}
			continue
		}

		err := s.runner.Run(task.ctx, task.task)
		task.cancel()
		s.finish()

		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			log.Info().
				Str("chain", task.task.Chain).
				Str("date", task.task.Date.Format("2006-01-02")).
				Msg("Ingestion task preempted")
		default:
			// Failures surface through the job log; the loop continues to
			// the next pending task without retrying.
			log.Error().
				Err(err).
				Str("chain", task.task.Chain).
				Str("date", task.task.Date.Format("2006-01-02")).
				Msg("Ingestion task failed")
		}
	}
}

type runningTask struct {
	task   Task
	ctx    context.Context
	cancel context.CancelFunc
}

// next pulls one pending task and marks it current under a fresh
// cancellation signal.
func (s *Scheduler) next(ctx context.Context) (runningTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return runningTask{}, false
	}

	task := s.pending[0]
	s.pending = s.pending[1:]

	runCtx, cancel := context.WithCancel(ctx)
	s.current = &task
	s.cancelCurrent = cancel

	return runningTask{task: task, ctx: runCtx, cancel: cancel}, true
}

func (s *Scheduler) finish() {
	s.mu.Lock()
	s.current = nil
	s.cancelCurrent = nil
	s.mu.Unlock()
}
