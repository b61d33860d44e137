package stores

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFindOwnerCountsHopsToNearestDeclaringScope(t *testing.T) {
	tree := newTestTree(t)
	root := mustMount(t, tree, nil, Definition{Tag: "a", State: Entries{"x": 1}})
	mid := mustMount(t, tree, root, Definition{Tag: "b", State: Entries{"y": 2}})
	leaf := mustMount(t, tree, mid, Definition{Tag: "c"})

	tree.mu.Lock()
	owner, hops := findOwner(leaf, layerState, "x")
	yOwner, yHops := findOwner(leaf, layerState, "y")
	missing, missingHops := findOwner(leaf, layerState, "zz")
	tree.mu.Unlock()

	if owner != root || hops != 2 {
		t.Fatalf("expected x owned by a at 2 hops, got %s at %d", owner.Tag(), hops)
	}
	if yOwner != mid || yHops != 1 {
		t.Fatalf("expected y owned by b at 1 hop, got %s at %d", yOwner.Tag(), yHops)
	}
	if missing != nil || missingHops != -1 {
		t.Fatalf("expected no owner for zz, got %v at %d", missing, missingHops)
	}
	if got := mustGet(t, leaf, "x"); got != mustGet(t, root, "x") {
		t.Fatalf("expected leaf to read the owner's x, got %v", got)
	}
}

func TestSetResolvesToAncestorOwner(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{Tag: "a", State: Entries{"x": 1}})
	b := mustMount(t, tree, a, Definition{Tag: "b"})

	if err := b.SetMany(ctx, map[string]any{"x": 2}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := mustGet(t, a, "x"); got != 2 {
		t.Fatalf("expected a.x to be 2, got %v", got)
	}
	if got := mustGet(t, b, "x"); got != 2 {
		t.Fatalf("expected b.x to be 2, got %v", got)
	}
	tree.mu.Lock()
	_, ownsX := b.state.own["x"]
	tree.mu.Unlock()
	if ownsX {
		t.Fatalf("expected b to keep reading through instead of owning x")
	}
}

func TestChildStateShadowsParent(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{Tag: "a", State: Entries{"x": 1}})
	b := mustMount(t, tree, a, Definition{Tag: "b", State: Entries{"x": 10}})

	if err := b.Set(ctx, "x", 11); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := mustGet(t, a, "x"); got != 1 {
		t.Fatalf("expected a.x untouched, got %v", got)
	}
	if got := mustGet(t, b, "x"); got != 11 {
		t.Fatalf("expected b.x 11, got %v", got)
	}
}

func TestStateShadowsDataAtTheSameLevel(t *testing.T) {
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{Tag: "a", Data: Entries{"title": "data"}, State: Entries{"title": "state"}})
	if got := mustGet(t, a, "title"); got != "state" {
		t.Fatalf("expected state to win, got %v", got)
	}
}

func TestMultiKeyWriteCommitsRootFirst(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	rec := &recorder{}
	a := mustMount(t, tree, nil, Definition{Tag: "a", State: Entries{"g": 0}})
	b := mustMount(t, tree, a, Definition{Tag: "b", State: Entries{"p": 0}})
	c := mustMount(t, tree, b, Definition{Tag: "c", State: Entries{"c": 0}})
	for _, s := range []*Scope{c, b, a} {
		s := s
		s.OnCommit(func(View) { rec.add(s.Tag()) })
	}

	if err := c.SetMany(ctx, map[string]any{"c": 1, "p": 1, "g": 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, rec.list()); diff != "" {
		t.Fatalf("unexpected commit order (-want +got):\n%s", diff)
	}
}

func TestObserverSeesEarlierOwnersCommitted(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{Tag: "a", State: Entries{"g": 0}})
	b := mustMount(t, tree, a, Definition{Tag: "b", State: Entries{"p": 0}})

	var seen any
	b.OnCommit(func(v View) {
		seen, _ = v.Get("g")
	})
	if err := b.SetMany(ctx, map[string]any{"g": 5, "p": 5}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if seen != 5 {
		t.Fatalf("expected b's render to see g=5, got %v", seen)
	}
}

func TestIdenticalWriteKeepsOwnState(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	nested := map[string]any{"b": 1}
	a := mustMount(t, tree, nil, Definition{Tag: "a", State: Entries{"a": nested, "n": 1}})

	tree.mu.Lock()
	before := a.state.own
	current := a.state.own["a"]
	tree.mu.Unlock()

	renders := 0
	a.OnCommit(func(View) { renders++ })

	if err := a.Set(ctx, "a", current); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := a.Set(ctx, "a.b", 1); err != nil {
		t.Fatalf("set path: %v", err)
	}
	if err := a.Set(ctx, "n", 1); err != nil {
		t.Fatalf("set scalar: %v", err)
	}

	tree.mu.Lock()
	after := a.state.own
	tree.mu.Unlock()
	if reflect.ValueOf(before).Pointer() != reflect.ValueOf(after).Pointer() {
		t.Fatalf("expected own state to keep its identity")
	}
	if renders != 3 {
		t.Fatalf("expected every write to still render, got %d", renders)
	}
}

func TestDeepPathWriteIsCopyOnWrite(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{Tag: "a", State: Entries{
		"a": map[string]any{"b": map[string]any{"c": 1, "d": map[string]any{"z": 1}}},
	}})

	tree.mu.Lock()
	before := a.state.own["a"]
	tree.mu.Unlock()
	sibling := before.(map[string]any)["b"].(map[string]any)["d"]

	if err := a.Set(ctx, "a.b.c", 42); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := mustGet(t, a, "a.b.c"); got != 42 {
		t.Fatalf("expected a.b.c to be 42, got %v", got)
	}
	after := mustGet(t, a, "a")
	if reflect.ValueOf(before).Pointer() == reflect.ValueOf(after).Pointer() {
		t.Fatalf("expected the top-level value to be replaced")
	}
	d := mustGet(t, a, "a.b.d")
	if reflect.ValueOf(d).Pointer() != reflect.ValueOf(sibling).Pointer() {
		t.Fatalf("expected untouched sibling to keep its reference")
	}
	old := before.(map[string]any)["b"].(map[string]any)["c"]
	if old != 1 {
		t.Fatalf("expected the previous value to stay unmodified, got %v", old)
	}
}

func TestMissingKeyReadsNil(t *testing.T) {
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{Tag: "a", State: Entries{"user": map[string]any{"name": "ann"}}})
	if got := mustGet(t, a, "nope"); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if got := mustGet(t, a, "user.missing.deeper"); got != nil {
		t.Fatalf("expected nil for a missing path, got %v", got)
	}
	if _, err := a.Get(42); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestUnmountedScopeRejectsAccess(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{Tag: "a", State: Entries{"x": 1}})
	b := mustMount(t, tree, a, Definition{Tag: "b", Actions: map[string]Action{
		"noop": func(context.Context, *Handle, ...any) (any, error) { return nil, nil },
	}})
	view, err := b.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if err := a.Unmount(ctx); err != nil {
		t.Fatalf("unmount: %v", err)
	}
	if !b.Unmounted() {
		t.Fatalf("expected children to unmount with their parent")
	}
	if _, err := b.Get("x"); !errors.Is(err, ErrStoreUnmounted) {
		t.Fatalf("expected ErrStoreUnmounted from get, got %v", err)
	}
	if err := b.Set(ctx, "x", 2); !errors.Is(err, ErrStoreUnmounted) {
		t.Fatalf("expected ErrStoreUnmounted from set, got %v", err)
	}
	if _, err := awaitFuture(t, b.Dispatch(ctx, "noop")); !errors.Is(err, ErrStoreUnmounted) {
		t.Fatalf("expected ErrStoreUnmounted from dispatch, got %v", err)
	}
	if _, err := view.Get("x"); !errors.Is(err, ErrStoreUnmounted) {
		t.Fatalf("expected ErrStoreUnmounted from a stale view, got %v", err)
	}
	if view.Has("x") || view.Len() != 0 || view.Keys() != nil {
		t.Fatalf("expected a stale view to report no keys, got has=%v len=%d keys=%v", view.Has("x"), view.Len(), view.Keys())
	}
	if len(tree.Roots()) != 0 {
		t.Fatalf("expected the root to be detached")
	}
	if err := a.Unmount(ctx); err != nil {
		t.Fatalf("expected a second unmount to be a no-op, got %v", err)
	}
}

func TestCommitToOwnerUnmountedMidWrite(t *testing.T) {
	ctx := context.Background()
	var target *Scope
	unmountFirst := func(next Host) Host {
		return HostFunc(func(ctx context.Context, s *Scope, produce Producer) (View, error) {
			if s == target {
				_ = s.Unmount(ctx)
			}
			return next.ScheduleUpdate(ctx, s, produce)
		})
	}
	tree := newTestTree(t, WithHostMiddleware(unmountFirst))
	a := mustMount(t, tree, nil, Definition{Tag: "a", State: Entries{"x": 1}})
	target = a

	if err := a.Set(ctx, "x", 2); !errors.Is(err, ErrStoreUnmounted) {
		t.Fatalf("expected ErrStoreUnmounted, got %v", err)
	}
}

func TestViewIsReadOnly(t *testing.T) {
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{Tag: "a", Data: Entries{"b": 1}, State: Entries{"a": 2}})
	view, err := a.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	err = view.Set("a", 3)
	if !errors.Is(err, ErrDirectMutation) {
		t.Fatalf("expected ErrDirectMutation, got %v", err)
	}
	if !strings.Contains(err.Error(), "Scope.Set") {
		t.Fatalf("expected the message to point at Scope.Set, got %q", err.Error())
	}
	if err := view.Delete("a"); !errors.Is(err, ErrDirectMutation) {
		t.Fatalf("expected ErrDirectMutation from delete, got %v", err)
	}
	if diff := cmp.Diff([]any{"a", "b"}, view.Keys()); diff != "" {
		t.Fatalf("unexpected keys (-want +got):\n%s", diff)
	}
	values, err := view.Map()
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"a": 2, "b": 1}, values); diff != "" {
		t.Fatalf("unexpected entries (-want +got):\n%s", diff)
	}
}

func TestUpdateDataRendersOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{Tag: "a", Data: Entries{"title": "a", "keep": 1}})
	renders := 0
	a.OnCommit(func(View) { renders++ })

	if err := a.UpdateData(ctx, Entries{"title": "a", "keep": 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if renders != 0 {
		t.Fatalf("expected no render for identical data, got %d", renders)
	}
	if err := a.UpdateData(ctx, Entries{"title": "b"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if renders != 1 {
		t.Fatalf("expected one render, got %d", renders)
	}
	if got := mustGet(t, a, "title"); got != "b" {
		t.Fatalf("expected title b, got %v", got)
	}
	if got := mustGet(t, a, "keep"); got != nil {
		t.Fatalf("expected dropped key to read nil, got %v", got)
	}
}

func TestMountValidation(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	boom := errors.New("boom")

	if _, err := tree.Mount(ctx, nil, Definition{State: Entries{42: 1}}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := tree.Mount(ctx, nil, Definition{InitialState: func(View) (Entries, error) { return nil, boom }}); !errors.Is(err, boom) {
		t.Fatalf("expected the initial state error, got %v", err)
	}
	if _, err := tree.Mount(ctx, nil, Definition{Protected: map[any]string{"x": "setX"}}); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments for an unowned protected key, got %v", err)
	}
	if len(tree.Roots()) != 0 {
		t.Fatalf("expected failed mounts to stay detached")
	}

	parent := mustMount(t, tree, nil, Definition{Tag: "parent"})
	if err := parent.Unmount(ctx); err != nil {
		t.Fatalf("unmount: %v", err)
	}
	if _, err := tree.Mount(ctx, parent, Definition{Tag: "child"}); !errors.Is(err, ErrStoreUnmounted) {
		t.Fatalf("expected ErrStoreUnmounted, got %v", err)
	}
}

func TestInitialStateSeesInheritedValues(t *testing.T) {
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{Tag: "a", State: Entries{"x": 1}})
	b := mustMount(t, tree, a, Definition{Tag: "b", InitialState: func(v View) (Entries, error) {
		x, err := v.Get("x")
		if err != nil {
			return nil, err
		}
		return Entries{"y": x.(int) + 1}, nil
	}})
	if got := mustGet(t, b, "y"); got != 2 {
		t.Fatalf("expected y derived from x, got %v", got)
	}
	if got := b.Revision(); got != 1 {
		t.Fatalf("expected the initial commit to be recorded, got revision %d", got)
	}
}

func TestSymbolKeys(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	token := NewSymbol("token")
	other := NewSymbol("token")
	a := mustMount(t, tree, nil, Definition{Tag: "a", State: Entries{token: "abc"}})
	b := mustMount(t, tree, a, Definition{Tag: "b"})

	if got := mustGet(t, b, token); got != "abc" {
		t.Fatalf("expected abc, got %v", got)
	}
	if got := mustGet(t, b, other); got != nil {
		t.Fatalf("expected a same-named symbol to be a distinct key, got %v", got)
	}
	if err := b.Set(ctx, token, "def"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := mustGet(t, a, token); got != "def" {
		t.Fatalf("expected def, got %v", got)
	}
}

func TestTagDefaults(t *testing.T) {
	tree := newTestTree(t)
	s := mustMount(t, tree, nil, Definition{})
	if !strings.HasPrefix(s.Tag(), "scope-") {
		t.Fatalf("expected a generated tag, got %q", s.Tag())
	}
	var missing *Scope
	if missing.Tag() != "root" {
		t.Fatalf("expected nil scope to be labelled root, got %q", missing.Tag())
	}
}

func TestTreeCloseUnmountsRoots(t *testing.T) {
	ctx := context.Background()
	tree := New()
	a, err := tree.Mount(ctx, nil, Definition{Tag: "a"})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := tree.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !a.Unmounted() {
		t.Fatalf("expected close to unmount roots")
	}
	if _, err := tree.Mount(ctx, nil, Definition{Tag: "late"}); !errors.Is(err, ErrSchedulerClosed) {
		t.Fatalf("expected ErrSchedulerClosed after close, got %v", err)
	}
}
