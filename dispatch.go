package stores

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-stores/pkg/activity"
)

// invocationKey identifies a pending dispatch: the handling scope and the
// action name.
type invocationKey struct {
	scope  *Scope
	action string
}

type invocation struct {
	key     invocationKey
	ctx     context.Context
	handler *Scope
	action  Action
	payload []any
	task    *Task
	result  *Future
	waiters []waiter
	strict  bool
}

// waiter is one dispatch call folded into an invocation. Its future follows
// the invocation result unless its origin unmounts first.
type waiter struct {
	origin *Scope
	future *Future
}

// dispatcher defers action handlers to the scheduler. Re-dispatching an action
// whose previous invocation has not fired cancels it; the earlier callers then
// wait on the replacement.
type dispatcher struct {
	tree    *Tree
	mu      sync.Mutex
	pending map[invocationKey]*invocation
}

func newDispatcher(t *Tree) *dispatcher {
	return &dispatcher{tree: t, pending: map[invocationKey]*invocation{}}
}

func (d *dispatcher) dispatch(ctx context.Context, origin *Scope, action string, payload []any, strict bool) *Future {
	t := d.tree
	if ctx == nil {
		ctx = context.Background()
	}
	if err := origin.check("dispatch", nil); err != nil {
		return Rejected(err)
	}
	if action == "" {
		return Rejected(opError("dispatch", origin, nil, fmt.Errorf("%w: action name is empty", ErrInvalidArguments)))
	}

	t.mu.Lock()
	handler, _ := findHandler(origin, action)
	var fn Action
	if handler != nil {
		fn = handler.actions[action]
	}
	t.mu.Unlock()

	if handler == nil {
		err := handlerError(origin, action, payload)
		t.cfg.metrics.Dispatched(action, OutcomeUnhandled)
		if t.lenient(err, strict) {
			t.warn("dispatch dropped", err, "scope", origin.Tag(), "action", action)
			return Resolved(nil)
		}
		return Rejected(err)
	}

	own := NewFuture()
	inv := &invocation{
		key:     invocationKey{scope: handler, action: action},
		ctx:     context.WithoutCancel(ctx),
		handler: handler,
		action:  fn,
		payload: append([]any(nil), payload...),
		result:  NewFuture(),
		strict:  strict,
	}
	own.follow(inv.result)

	d.mu.Lock()
	defer d.mu.Unlock()
	task, err := t.scheduler.Defer(func() { d.fire(inv) })
	if err != nil {
		return Rejected(opError("dispatch", origin, nil, err))
	}
	inv.task = task
	if previous := d.pending[inv.key]; previous != nil && previous.task.Cancel() {
		for _, w := range previous.waiters {
			w.future.follow(inv.result)
		}
		inv.waiters = append(inv.waiters, previous.waiters...)
		t.cfg.metrics.DispatchCancelled(action)
		t.cfg.logger.Debug("dispatch replaced", "scope", handler.Tag(), "action", action)
	}
	inv.waiters = append(inv.waiters, waiter{origin: origin, future: own})
	d.pending[inv.key] = inv
	return own
}

// fire runs on the scheduler. The handler itself runs on its own goroutine so
// it may block on writes and other dispatches.
func (d *dispatcher) fire(inv *invocation) {
	d.mu.Lock()
	if d.pending[inv.key] == inv {
		delete(d.pending, inv.key)
	}
	d.mu.Unlock()
	go d.run(inv)
}

func (d *dispatcher) run(inv *invocation) {
	t := d.tree
	if err := inv.handler.check("dispatch", nil); err != nil {
		inv.result.Reject(err)
		return
	}
	ctx := WithScope(inv.ctx, inv.handler)
	result, err := callAction(ctx, inv)
	if err == nil {
		result, err = awaitValue(ctx, result)
	}

	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
		err = &StoreError{Op: "dispatch", Scope: inv.handler.Tag(), Action: inv.key.action, Payload: inv.payload, Err: err}
	}
	t.cfg.metrics.Dispatched(inv.key.action, outcome)
	t.emit(ctx, activity.BuildActionDispatchedEvent(activity.StoreEventInput{
		Scope:   scopeContext(inv.handler),
		Action:  inv.key.action,
		Payload: inv.payload,
		Err:     err,
	}))

	if err != nil {
		inv.handler.fail(ctx, err)
		inv.result.Reject(err)
		return
	}
	inv.result.Resolve(result)
}

func callAction(ctx context.Context, inv *invocation) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return inv.action(ctx, &Handle{scope: inv.handler}, inv.payload...)
}

// cancelScope handles the unmount of s. Invocations handled by s are
// cancelled and every waiter is rejected. Invocations s only dispatched
// reject the waiters s started; the handler still runs for the rest and is
// cancelled only when no waiter is left.
func (d *dispatcher) cancelScope(s *Scope) {
	unmounted := func(inv *invocation) error {
		return &StoreError{Op: "dispatch", Scope: s.Tag(), Action: inv.key.action, Payload: inv.payload, Err: ErrStoreUnmounted}
	}

	d.mu.Lock()
	var (
		cancelled []*invocation
		dropped   []waiter
		reasons   []error
	)
	for key, inv := range d.pending {
		if inv.handler != s {
			kept := inv.waiters[:0]
			for _, w := range inv.waiters {
				if w.origin == s {
					dropped = append(dropped, w)
					reasons = append(reasons, unmounted(inv))
					continue
				}
				kept = append(kept, w)
			}
			inv.waiters = kept
			if len(kept) > 0 {
				continue
			}
		}
		delete(d.pending, key)
		if inv.task.Cancel() {
			cancelled = append(cancelled, inv)
		}
	}
	d.mu.Unlock()

	for i, w := range dropped {
		w.future.Reject(reasons[i])
	}
	for _, inv := range cancelled {
		d.tree.cfg.metrics.DispatchCancelled(inv.key.action)
		inv.result.Reject(unmounted(inv))
	}
}

// Pending reports how many dispatches are scheduled but not yet fired.
func (t *Tree) Pending() int {
	t.dispatcher.mu.Lock()
	defer t.dispatcher.mu.Unlock()
	return len(t.dispatcher.pending)
}
