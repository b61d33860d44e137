package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTaskStateTransitions(t *testing.T) {
	sched := NewManualScheduler()
	ran := 0
	task, err := sched.Defer(func() { ran++ })
	if err != nil {
		t.Fatalf("defer: %v", err)
	}
	if task.State() != TaskScheduled {
		t.Fatalf("expected scheduled, got %s", task.State())
	}
	if sched.Pending() != 1 {
		t.Fatalf("expected one pending task, got %d", sched.Pending())
	}
	if fired := sched.Turn(); fired != 1 || ran != 1 {
		t.Fatalf("expected the task to fire once, got fired=%d ran=%d", fired, ran)
	}
	if task.State() != TaskFired {
		t.Fatalf("expected fired, got %s", task.State())
	}
	if task.Cancel() {
		t.Fatalf("expected cancel after firing to report false")
	}

	cancelled, _ := sched.Defer(func() { ran++ })
	if !cancelled.Cancel() {
		t.Fatalf("expected cancel of a scheduled task to succeed")
	}
	if cancelled.State() != TaskCancelled || sched.Pending() != 0 {
		t.Fatalf("expected cancelled and nothing pending, got %s / %d", cancelled.State(), sched.Pending())
	}
	if fired := sched.Turn(); fired != 0 || ran != 1 {
		t.Fatalf("expected the cancelled task not to run, got fired=%d ran=%d", fired, ran)
	}
}

func TestManualTurnRunsOnlyEarlierTasks(t *testing.T) {
	sched := NewManualScheduler()
	rec := &recorder{}
	_, _ = sched.Defer(func() {
		rec.add("first")
		_, _ = sched.Defer(func() { rec.add("second") })
	})
	if fired := sched.Turn(); fired != 1 {
		t.Fatalf("expected one task in the first turn, got %d", fired)
	}
	if fired := sched.Turn(); fired != 1 {
		t.Fatalf("expected the nested task in the next turn, got %d", fired)
	}
	got := rec.list()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestSchedulersRejectAfterClose(t *testing.T) {
	for name, sched := range map[string]Scheduler{"manual": NewManualScheduler(), "loop": NewLoop()} {
		t.Run(name, func(t *testing.T) {
			if err := sched.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
			if _, err := sched.Defer(func() {}); !errors.Is(err, ErrSchedulerClosed) {
				t.Fatalf("expected ErrSchedulerClosed, got %v", err)
			}
		})
	}
}

func TestLoopRunsDeferredWork(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	done := make(chan struct{})
	task, err := loop.Defer(func() { close(done) })
	if err != nil {
		t.Fatalf("defer: %v", err)
	}
	waitFor(t, done)
	if task.State() != TaskFired {
		t.Fatalf("expected fired, got %s", task.State())
	}
}

func TestLoopCloseCancelsQueuedTasks(t *testing.T) {
	loop := NewLoop()
	block := make(chan struct{})
	started := make(chan struct{})
	_, _ = loop.Defer(func() {
		close(started)
		<-block
	})
	waitFor(t, started)
	queued, _ := loop.Defer(func() {})

	closed := make(chan struct{})
	go func() {
		_ = loop.Close()
		close(closed)
	}()
	// Close cancels the queue before waiting for the running task.
	deadline := time.Now().Add(2 * time.Second)
	for queued.State() != TaskCancelled && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(block)
	waitFor(t, closed)
	if queued.State() != TaskCancelled {
		t.Fatalf("expected the queued task to be cancelled, got %s", queued.State())
	}
}

func TestFutureFollowAndAwait(t *testing.T) {
	first := NewFuture()
	second := NewFuture()
	first.follow(second)
	if !second.Resolve(7) {
		t.Fatalf("expected the first resolve to win")
	}
	if second.Reject(errors.New("late")) {
		t.Fatalf("expected a second settle to be ignored")
	}
	value, err := awaitFuture(t, first)
	if err != nil || value != 7 {
		t.Fatalf("expected the followed value 7, got %v (%v)", value, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFuture().Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	settled := Resolved("x")
	late := NewFuture()
	late.follow(settled)
	if v, _ := awaitFuture(t, late); v != "x" {
		t.Fatalf("expected following a settled future to settle immediately, got %v", v)
	}
}
