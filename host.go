package stores

import (
	"context"
	"fmt"

	"github.com/goliatone/go-stores/pkg/activity"
)

// Producer maps a scope's current own state to its next own state. It must
// not mutate old; returning old unchanged still commits and renders.
type Producer func(old Entries) (Entries, error)

// Host commits state updates for a scope and renders it. ScheduleUpdate
// returns once the update committed, with the scope's public view.
type Host interface {
	ScheduleUpdate(ctx context.Context, s *Scope, produce Producer) (View, error)
}

// HostFunc adapts a function to Host.
type HostFunc func(ctx context.Context, s *Scope, produce Producer) (View, error)

// ScheduleUpdate implements Host.
func (f HostFunc) ScheduleUpdate(ctx context.Context, s *Scope, produce Producer) (View, error) {
	return f(ctx, s, produce)
}

// HostMiddleware decorates a Host.
type HostMiddleware func(next Host) Host

func chainHost(base Host, middleware []HostMiddleware) Host {
	host := base
	for i := len(middleware) - 1; i >= 0; i-- {
		host = middleware[i](host)
	}
	return host
}

// memoryHost commits own state in memory, records it through the state
// committer and renders the scope after releasing the tree lock.
type memoryHost struct {
	tree *Tree
}

func (h *memoryHost) ScheduleUpdate(ctx context.Context, s *Scope, produce Producer) (View, error) {
	if s == nil {
		return View{}, fmt.Errorf("%w: scope is required", ErrInvalidArguments)
	}
	if produce == nil {
		produce = keepState
	}
	t := h.tree

	t.mu.Lock()
	if s.Unmounted() {
		t.mu.Unlock()
		return View{}, opError("commit", s, nil, ErrStoreUnmounted)
	}
	old := s.state.own
	next, err := produce(old)
	if err != nil {
		t.mu.Unlock()
		return View{}, opError("commit", s, nil, err)
	}
	if next == nil {
		next = Entries{}
	}
	_, meta, err := t.committer.Mutate(ctx, s.ref(), s.meta, func(snapshot *Entries) error {
		*snapshot = next
		return nil
	})
	if err != nil {
		t.mu.Unlock()
		return View{}, opError("commit", s, nil, err)
	}
	s.meta = meta
	changed := changedKeys(old, next)
	s.state.own = next
	t.mu.Unlock()

	t.cfg.metrics.Committed(s.Tag(), len(changed))
	t.emit(ctx, activity.BuildStateCommittedEvent(activity.StoreEventInput{
		Scope:    scopeContext(s),
		Keys:     keyNames(changed),
		Revision: meta.Revision,
	}))

	return t.render(s), nil
}

func keepState(old Entries) (Entries, error) {
	return old, nil
}

func changedKeys(old, next Entries) []any {
	if sameValue(old, next) {
		return nil
	}
	var keys []any
	for key, value := range next {
		if current, ok := old[key]; !ok || !sameValue(current, value) {
			keys = append(keys, key)
		}
	}
	for key := range old {
		if _, ok := next[key]; !ok {
			keys = append(keys, key)
		}
	}
	sortKeys(keys)
	return keys
}
