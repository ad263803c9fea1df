package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner tracks task starts and lets tests control completion.
type recordingRunner struct {
	mu      sync.Mutex
	started []Task
	release chan struct{}
	results map[string]error
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{
		release: make(chan struct{}),
		results: make(map[string]error),
	}
}

func (r *recordingRunner) Run(ctx context.Context, task Task) error {
	r.mu.Lock()
	r.started = append(r.started, task)
	result := r.results[task.Chain]
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.release:
		return result
	}
}

func (r *recordingRunner) startedTasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Task(nil), r.started...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestSchedulerRunsSubmittedTask(t *testing.T) {
	runner := newRecordingRunner()
	s := New(runner)
	s.Start(context.Background())
	defer s.Stop()

	s.Submit(Task{Chain: "konzum", Initiator: "test"})

	waitFor(t, 2*time.Second, func() bool {
		return len(runner.startedTasks()) == 1
	})

	current, running := s.Running()
	require.True(t, running)
	assert.Equal(t, "konzum", current.Chain)

	close(runner.release)
	waitFor(t, 2*time.Second, func() bool {
		_, running := s.Running()
		return !running
	})
}

func TestSchedulerPreemptsRunningTask(t *testing.T) {
	runner := newRecordingRunner()
	s := New(runner)
	s.Start(context.Background())
	defer s.Stop()

	s.Submit(Task{Chain: "konzum"})
	waitFor(t, 2*time.Second, func() bool {
		return len(runner.startedTasks()) == 1
	})

	// The new submission cancels the running task and replaces the queue.
	s.Submit(Task{Chain: "tommy"})

	waitFor(t, 2*time.Second, func() bool {
		started := runner.startedTasks()
		return len(started) == 2 && started[1].Chain == "tommy"
	})

	current, running := s.Running()
	require.True(t, running)
	assert.Equal(t, "tommy", current.Chain)

	close(runner.release)
}

func TestSchedulerSubmitDiscardsPending(t *testing.T) {
	// This runner ignores cancellation so the first task stays current
	// while further submissions arrive.
	var mu sync.Mutex
	var started []Task
	release := make(chan struct{})

	s := New(RunnerFunc(func(_ context.Context, task Task) error {
		mu.Lock()
		started = append(started, task)
		mu.Unlock()
		<-release
		return nil
	}))
	s.Start(context.Background())
	defer s.Stop()

	startedTasks := func() []Task {
		mu.Lock()
		defer mu.Unlock()
		return append([]Task(nil), started...)
	}

	s.Submit(Task{Chain: "konzum"})
	waitFor(t, 2*time.Second, func() bool {
		return len(startedTasks()) == 1
	})

	// Queue two while the first runs; the second submission discards the
	// first pending one.
	s.Submit(Task{Chain: "tommy"})
	s.Submit(Task{Chain: "studenac"})

	close(release)
	waitFor(t, 2*time.Second, func() bool {
		return len(startedTasks()) == 2
	})

	assert.Equal(t, "studenac", startedTasks()[1].Chain)
}

func TestSchedulerContinuesAfterFailure(t *testing.T) {
	runner := newRecordingRunner()
	runner.results["konzum"] = errors.New("ingestion failed")
	close(runner.release)

	s := New(runner)
	s.Start(context.Background())
	defer s.Stop()

	s.Submit(Task{Chain: "konzum"})
	waitFor(t, 2*time.Second, func() bool {
		return len(runner.startedTasks()) == 1
	})

	// A failed task must not wedge the loop.
	s.Submit(Task{Chain: "tommy"})
	waitFor(t, 2*time.Second, func() bool {
		started := runner.startedTasks()
		return len(started) == 2 && started[1].Chain == "tommy"
	})
}

func TestSchedulerStopCancelsRunningTask(t *testing.T) {
	runner := newRecordingRunner()
	s := New(runner)
	s.Start(context.Background())

	s.Submit(Task{Chain: "konzum"})
	waitFor(t, 2*time.Second, func() bool {
		return len(runner.startedTasks()) == 1
	})

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after cancelling the running task")
	}

	_, running := s.Running()
	assert.False(t, running)
}

func TestSchedulerRunningWhenIdle(t *testing.T) {
	s := New(RunnerFunc(func(context.Context, Task) error { return nil }))

	_, running := s.Running()
	assert.False(t, running)
}
