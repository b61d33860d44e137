package stores

import (
	"sync"
	"sync/atomic"
)

// TaskState tracks a deferred invocation: Idle, then Scheduled, then exactly
// one of Fired or Cancelled.
type TaskState int32

const (
	TaskIdle TaskState = iota
	TaskScheduled
	TaskFired
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskScheduled:
		return "scheduled"
	case TaskFired:
		return "fired"
	case TaskCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// Task is a cancellable deferred invocation.
type Task struct {
	state atomic.Int32
	fn    func()
}

func newTask(fn func()) *Task {
	return &Task{fn: fn}
}

// State returns the current task state.
func (t *Task) State() TaskState {
	if t == nil {
		return TaskIdle
	}
	return TaskState(t.state.Load())
}

// Cancel moves a scheduled task to Cancelled. It reports false when the task
// already fired or was cancelled.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	return t.state.CompareAndSwap(int32(TaskScheduled), int32(TaskCancelled))
}

func (t *Task) schedule() bool {
	return t.state.CompareAndSwap(int32(TaskIdle), int32(TaskScheduled))
}

// run fires the task unless it was cancelled in the meantime.
func (t *Task) run() bool {
	if !t.state.CompareAndSwap(int32(TaskScheduled), int32(TaskFired)) {
		return false
	}
	if t.fn != nil {
		t.fn()
	}
	return true
}

// Scheduler defers work to a later turn, never running it synchronously.
type Scheduler interface {
	Defer(fn func()) (*Task, error)
	Close() error
}

// Loop is a Scheduler backed by a single goroutine draining one batch of
// tasks per turn.
type Loop struct {
	mu      sync.Mutex
	queue   []*Task
	closed  bool
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	closing sync.Once
}

// NewLoop starts a loop goroutine. Close stops it.
func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Defer queues fn for the next turn.
func (l *Loop) Defer(fn func()) (*Task, error) {
	task := newTask(fn)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	task.schedule()
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return task, nil
}

// Close stops the loop. Tasks still queued are cancelled.
func (l *Loop) Close() error {
	l.closing.Do(func() {
		l.mu.Lock()
		l.closed = true
		pending := l.queue
		l.queue = nil
		l.mu.Unlock()
		for _, task := range pending {
			task.Cancel()
		}
		close(l.stop)
	})
	<-l.done
	return nil
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case <-l.wake:
		}
		l.turn()
	}
}

func (l *Loop) turn() int {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	fired := 0
	for _, task := range batch {
		if task.run() {
			fired++
		}
	}
	return fired
}

// ManualScheduler queues tasks until Turn is called. Useful in tests that need
// deterministic control over when deferred work fires.
type ManualScheduler struct {
	mu     sync.Mutex
	queue  []*Task
	closed bool
}

// NewManualScheduler returns an empty manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Defer queues fn until the next Turn.
func (m *ManualScheduler) Defer(fn func()) (*Task, error) {
	task := newTask(fn)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrSchedulerClosed
	}
	task.schedule()
	m.queue = append(m.queue, task)
	return task, nil
}

// Turn runs the tasks queued before the call and returns how many fired.
// Tasks deferred while the turn runs wait for the next Turn.
func (m *ManualScheduler) Turn() int {
	m.mu.Lock()
	batch := m.queue
	m.queue = nil
	m.mu.Unlock()

	fired := 0
	for _, task := range batch {
		if task.run() {
			fired++
		}
	}
	return fired
}

// Pending returns the number of queued tasks that have not been cancelled.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, task := range m.queue {
		if task.State() == TaskScheduled {
			count++
		}
	}
	return count
}

// Close rejects further Defer calls and cancels queued tasks.
func (m *ManualScheduler) Close() error {
	m.mu.Lock()
	m.closed = true
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()
	for _, task := range pending {
		task.Cancel()
	}
	return nil
}
