package stores

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDispatchWithoutHandler(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{Tag: "a"})

	_, err := awaitFuture(t, a.Dispatch(ctx, "zzz", 1, "two"))
	if !errors.Is(err, ErrNoHandlerFound) {
		t.Fatalf("expected ErrNoHandlerFound, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, `"zzz"`) || !strings.Contains(msg, "[1 two]") {
		t.Fatalf("expected action and payload in %q", msg)
	}
}

func TestDispatchRunsNearestHandler(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	rec := &recorder{}
	handler := func(tag string) Action {
		return func(_ context.Context, h *Handle, payload ...any) (any, error) {
			rec.add(tag + ":" + h.Tag())
			return payload[0], nil
		}
	}
	a := mustMount(t, tree, nil, Definition{Tag: "a", Actions: map[string]Action{"save": handler("a")}})
	b := mustMount(t, tree, a, Definition{Tag: "b", Actions: map[string]Action{"save": handler("b")}})
	c := mustMount(t, tree, b, Definition{Tag: "c"})

	value, err := awaitFuture(t, c.Dispatch(ctx, "save", 7))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if value != 7 {
		t.Fatalf("expected handler result 7, got %v", value)
	}
	if diff := cmp.Diff([]string{"b:b"}, rec.list()); diff != "" {
		t.Fatalf("unexpected handler calls (-want +got):\n%s", diff)
	}
}

func TestDispatchIsDeferred(t *testing.T) {
	ctx := context.Background()
	sched := NewManualScheduler()
	tree := newTestTree(t, WithScheduler(sched))
	called := make(chan struct{}, 1)
	a := mustMount(t, tree, nil, Definition{Tag: "a", Actions: map[string]Action{
		"ping": func(context.Context, *Handle, ...any) (any, error) {
			called <- struct{}{}
			return "pong", nil
		},
	}})

	f := a.Dispatch(ctx, "ping")
	if f.Settled() {
		t.Fatalf("expected the dispatch to wait for the scheduler")
	}
	if tree.Pending() != 1 {
		t.Fatalf("expected one pending dispatch, got %d", tree.Pending())
	}
	if fired := sched.Turn(); fired != 1 {
		t.Fatalf("expected one task to fire, got %d", fired)
	}
	waitFor(t, called)
	value, err := awaitFuture(t, f)
	if err != nil || value != "pong" {
		t.Fatalf("expected pong, got %v (%v)", value, err)
	}
}

func TestDispatchDebouncesPerHandlerAndAction(t *testing.T) {
	ctx := context.Background()
	sched := NewManualScheduler()
	tree := newTestTree(t, WithScheduler(sched))

	var (
		mu    sync.Mutex
		calls []any
	)
	inc := func(_ context.Context, _ *Handle, payload ...any) (any, error) {
		mu.Lock()
		calls = append(calls, payload[0])
		mu.Unlock()
		return payload[0], nil
	}
	a := mustMount(t, tree, nil, Definition{Tag: "a", Actions: map[string]Action{"inc": inc}})

	f1 := a.Dispatch(ctx, "inc", 1)
	f2 := a.Dispatch(ctx, "inc", 2)
	f3 := a.Dispatch(ctx, "inc", 3)
	if tree.Pending() != 1 {
		t.Fatalf("expected a single pending invocation, got %d", tree.Pending())
	}
	if fired := sched.Turn(); fired != 1 {
		t.Fatalf("expected exactly one handler to fire, got %d", fired)
	}

	for i, f := range []*Future{f1, f2, f3} {
		value, err := awaitFuture(t, f)
		if err != nil {
			t.Fatalf("future %d: %v", i, err)
		}
		if value != 3 {
			t.Fatalf("future %d: expected the last payload's result 3, got %v", i, value)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]any{3}, calls); diff != "" {
		t.Fatalf("unexpected handler calls (-want +got):\n%s", diff)
	}
}

func TestDispatchDistinctActionsAreNotCollapsed(t *testing.T) {
	ctx := context.Background()
	sched := NewManualScheduler()
	tree := newTestTree(t, WithScheduler(sched))
	echo := func(_ context.Context, _ *Handle, payload ...any) (any, error) { return payload[0], nil }
	a := mustMount(t, tree, nil, Definition{Tag: "a", Actions: map[string]Action{"one": echo, "two": echo}})
	b := mustMount(t, tree, a, Definition{Tag: "b", Actions: map[string]Action{"one": echo}})

	fa := a.Dispatch(ctx, "one", "a")
	fb := b.Dispatch(ctx, "one", "b")
	f2 := a.Dispatch(ctx, "two", 2)
	if fired := sched.Turn(); fired != 3 {
		t.Fatalf("expected three invocations, got %d", fired)
	}
	for want, f := range map[any]*Future{"a": fa, "b": fb, 2: f2} {
		if value, err := awaitFuture(t, f); err != nil || value != want {
			t.Fatalf("expected %v, got %v (%v)", want, value, err)
		}
	}
}

func TestHandlerErrorRejectsAndReachesBoundary(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	tree := newTestTree(t)

	var (
		mu      sync.Mutex
		caught  []error
		scopeOf string
	)
	a := mustMount(t, tree, nil, Definition{Tag: "a", ErrorBoundary: func(s *Scope, err error) error {
		mu.Lock()
		defer mu.Unlock()
		caught = append(caught, err)
		scopeOf = s.Tag()
		return nil
	}})
	b := mustMount(t, tree, a, Definition{Tag: "b", Actions: map[string]Action{
		"fail": func(context.Context, *Handle, ...any) (any, error) { return nil, boom },
	}})

	_, err := awaitFuture(t, b.Dispatch(ctx, "fail"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(caught) != 1 || !errors.Is(caught[0], boom) {
		t.Fatalf("expected the boundary to catch boom, got %v", caught)
	}
	if scopeOf != "b" {
		t.Fatalf("expected the failing scope to be b, got %q", scopeOf)
	}
}

func TestHandlerPanicBecomesError(t *testing.T) {
	ctx := context.Background()
	var handled error
	done := make(chan struct{})
	tree := newTestTree(t, WithErrorHandler(func(_ *Scope, err error) {
		handled = err
		close(done)
	}))
	a := mustMount(t, tree, nil, Definition{Tag: "a", Actions: map[string]Action{
		"explode": func(context.Context, *Handle, ...any) (any, error) { panic("kaboom") },
	}})

	_, err := awaitFuture(t, a.Dispatch(ctx, "explode"))
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("expected the panic to surface as an error, got %v", err)
	}
	waitFor(t, done)
	if handled == nil {
		t.Fatalf("expected the unhandled render error to reach the error handler")
	}
}

func TestHandlerResultAwaited(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	pending := NewFuture()
	a := mustMount(t, tree, nil, Definition{Tag: "a", Actions: map[string]Action{
		"slow": func(context.Context, *Handle, ...any) (any, error) { return pending, nil },
	}})

	f := a.Dispatch(ctx, "slow")
	pending.Resolve("done")
	if value, err := awaitFuture(t, f); err != nil || value != "done" {
		t.Fatalf("expected done, got %v (%v)", value, err)
	}
}

func TestUnmountCancelsPendingDispatch(t *testing.T) {
	ctx := context.Background()
	sched := NewManualScheduler()
	tree := newTestTree(t, WithScheduler(sched))
	calls := 0
	a := mustMount(t, tree, nil, Definition{Tag: "a", Actions: map[string]Action{
		"go": func(context.Context, *Handle, ...any) (any, error) {
			calls++
			return nil, nil
		},
	}})

	f := a.Dispatch(ctx, "go")
	if err := a.Unmount(ctx); err != nil {
		t.Fatalf("unmount: %v", err)
	}
	if fired := sched.Turn(); fired != 0 {
		t.Fatalf("expected the cancelled task not to fire, got %d", fired)
	}
	if _, err := awaitFuture(t, f); !errors.Is(err, ErrStoreUnmounted) {
		t.Fatalf("expected ErrStoreUnmounted, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected the handler never to run, got %d calls", calls)
	}
}

func TestOriginUnmountKeepsMergedDispatchForMountedSiblings(t *testing.T) {
	ctx := context.Background()
	sched := NewManualScheduler()
	tree := newTestTree(t, WithScheduler(sched))
	var calls atomic.Int32
	a := mustMount(t, tree, nil, Definition{Tag: "a", Actions: map[string]Action{
		"inc": func(_ context.Context, _ *Handle, payload ...any) (any, error) {
			calls.Add(1)
			return payload[0], nil
		},
	}})
	x := mustMount(t, tree, a, Definition{Tag: "x"})
	y := mustMount(t, tree, a, Definition{Tag: "y"})

	fx := x.Dispatch(ctx, "inc", 1)
	fy := y.Dispatch(ctx, "inc", 2)
	if err := y.Unmount(ctx); err != nil {
		t.Fatalf("unmount: %v", err)
	}
	if _, err := awaitFuture(t, fy); !errors.Is(err, ErrStoreUnmounted) {
		t.Fatalf("expected y's dispatch to fail with ErrStoreUnmounted, got %v", err)
	}
	if fired := sched.Turn(); fired != 1 {
		t.Fatalf("expected the handler to fire for x, got %d", fired)
	}
	value, err := awaitFuture(t, fx)
	if err != nil {
		t.Fatalf("expected x's dispatch to succeed, got %v", err)
	}
	if value != 2 {
		t.Fatalf("expected the merged invocation's result 2, got %v", value)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one handler call, got %d", calls.Load())
	}
}

func TestOriginUnmountCancelsDispatchWithNoWaiters(t *testing.T) {
	ctx := context.Background()
	sched := NewManualScheduler()
	tree := newTestTree(t, WithScheduler(sched))
	a := mustMount(t, tree, nil, Definition{Tag: "a", Actions: map[string]Action{
		"inc": func(context.Context, *Handle, ...any) (any, error) { return nil, nil },
	}})
	y := mustMount(t, tree, a, Definition{Tag: "y"})

	f := y.Dispatch(ctx, "inc")
	if err := y.Unmount(ctx); err != nil {
		t.Fatalf("unmount: %v", err)
	}
	if tree.Pending() != 0 {
		t.Fatalf("expected no pending invocation, got %d", tree.Pending())
	}
	if fired := sched.Turn(); fired != 0 {
		t.Fatalf("expected the cancelled task not to fire, got %d", fired)
	}
	if _, err := awaitFuture(t, f); !errors.Is(err, ErrStoreUnmounted) {
		t.Fatalf("expected ErrStoreUnmounted, got %v", err)
	}
}

func TestHandlerWritesThroughHandle(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{Tag: "a", State: Entries{"count": 0}, Actions: map[string]Action{
		"add": func(ctx context.Context, h *Handle, payload ...any) (any, error) {
			current, err := h.Get("count")
			if err != nil {
				return nil, err
			}
			next := current.(int) + payload[0].(int)
			return next, h.Set(ctx, "count", next)
		},
	}})
	b := mustMount(t, tree, a, Definition{Tag: "b"})

	if _, err := awaitFuture(t, b.Dispatch(ctx, "add", 5)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := mustGet(t, b, "count"); got != 5 {
		t.Fatalf("expected count 5, got %v", got)
	}
}
