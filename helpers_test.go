package stores

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestTree(t *testing.T, opts ...Option) *Tree {
	t.Helper()
	tree := New(opts...)
	t.Cleanup(func() {
		_ = tree.Close(context.Background())
	})
	return tree
}

func mustMount(t *testing.T, tree *Tree, parent *Scope, def Definition) *Scope {
	t.Helper()
	s, err := tree.Mount(context.Background(), parent, def)
	if err != nil {
		t.Fatalf("mount %q: %v", def.Tag, err)
	}
	return s
}

func mustGet(t *testing.T, s *Scope, key any) any {
	t.Helper()
	value, err := s.Get(key)
	if err != nil {
		t.Fatalf("get %v: %v", key, err)
	}
	return value
}

func awaitFuture(t *testing.T, f *Future) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	value, err := f.Await(ctx)
	if err == context.DeadlineExceeded {
		t.Fatalf("future did not settle")
	}
	return value, err
}

// recorder collects labels from concurrent callbacks.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, label)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for signal")
	}
}

func waitTimeout() <-chan time.Time {
	return time.After(2 * time.Second)
}
