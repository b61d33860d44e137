package stores

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-stores/pkg/activity"
	"github.com/goliatone/go-stores/pkg/state"
	"github.com/google/uuid"
)

// Scope is a node of the ownership tree. It owns its state layer, reads
// through to its ancestors and routes writes to whichever ancestor owns a key.
//
// Scope methods are safe for concurrent use. Formulas run while the tree lock
// is held and must read through the Getter they receive.
type Scope struct {
	tree     *Tree
	id       uuid.UUID
	tag      string
	parent   *Scope
	children []*Scope
	depth    int
	def      Definition

	data      *layer
	state     *layer
	formulas  map[any]Formula
	actions   map[string]Action
	protected map[any]string
	meta      state.Meta

	unmounted atomic.Bool

	hookMu    sync.Mutex
	hookTasks map[string]*Task

	observerMu   sync.Mutex
	observers    map[uint64]func(View)
	observerIDs  []uint64
	nextObserver uint64

	renderMu   sync.Mutex
	renderErr  error
	recovering int // failure re-renders not yet run; they skip DidUpdate
}

// ID returns the stable identifier of the scope.
func (s *Scope) ID() string {
	if s == nil {
		return ""
	}
	return s.id.String()
}

// Tag returns the human-readable label, "root" for the fallback accessor.
func (s *Scope) Tag() string {
	if s == nil {
		return "root"
	}
	if s.tag == "" {
		return "scope-" + s.id.String()[:8]
	}
	return s.tag
}

// Parent returns the enclosing scope, nil at a root.
func (s *Scope) Parent() *Scope {
	if s == nil {
		return nil
	}
	return s.parent
}

// Depth is the number of hops to the root scope.
func (s *Scope) Depth() int {
	if s == nil {
		return -1
	}
	return s.depth
}

// Tree returns the tree the scope is mounted in.
func (s *Scope) Tree() *Tree {
	return s.tree
}

// Children returns the mounted child scopes.
func (s *Scope) Children() []*Scope {
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	return append([]*Scope(nil), s.children...)
}

// Unmounted reports whether teardown has happened.
func (s *Scope) Unmounted() bool {
	return s != nil && s.unmounted.Load()
}

// Revision returns the number of commits recorded for the scope.
func (s *Scope) Revision() uint64 {
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	return s.meta.Revision
}

func (s *Scope) ref() state.Ref {
	return state.Ref{ScopeID: s.ID(), Tag: s.tag}
}

func (s *Scope) check(op string, key any) error {
	if s.Unmounted() {
		return opError(op, s, key, ErrStoreUnmounted)
	}
	return nil
}

// Snapshot returns the merged view visible from the scope.
func (s *Scope) Snapshot() (View, error) {
	if err := s.check("snapshot", nil); err != nil {
		return View{}, err
	}
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	return s.snapshotLocked(), nil
}

// snapshotLocked merges every level of the chain leaf to root; at each level
// state shadows data.
func (s *Scope) snapshotLocked() View {
	entries := Entries{}
	for current := s; current != nil; current = current.parent {
		for key, value := range current.state.own {
			if _, seen := entries[key]; !seen {
				entries[key] = value
			}
		}
		for key, value := range current.data.own {
			if _, seen := entries[key]; !seen {
				entries[key] = value
			}
		}
	}
	return View{scope: s, entries: entries}
}

// lookupLocked reads a root key through the merged chain.
func (s *Scope) lookupLocked(root any) (any, bool) {
	for current := s; current != nil; current = current.parent {
		if value, ok := current.state.own[root]; ok {
			return value, true
		}
		if value, ok := current.data.own[root]; ok {
			return value, true
		}
	}
	return nil, false
}

// walk returns the first scope on the chain, starting at s, matching fn, and
// the number of hops to reach it.
func walk(s *Scope, fn func(*Scope) bool) (*Scope, int) {
	depth := 0
	for current := s; current != nil; current = current.parent {
		if fn(current) {
			return current, depth
		}
		depth++
	}
	return nil, -1
}

// findOwner returns the nearest scope whose own layer declares root.
// Inherited entries never count.
func findOwner(s *Scope, name layerName, root any) (*Scope, int) {
	return walk(s, func(current *Scope) bool {
		if name == layerState {
			return current.state.has(root)
		}
		return current.data.has(root)
	})
}

func findFormula(s *Scope, root any) (*Scope, int) {
	return walk(s, func(current *Scope) bool {
		_, ok := current.formulas[root]
		return ok
	})
}

func findHandler(s *Scope, action string) (*Scope, int) {
	return walk(s, func(current *Scope) bool {
		_, ok := current.actions[action]
		return ok
	})
}

// OnCommit registers fn to run after every render of the scope. The returned
// func removes it.
func (s *Scope) OnCommit(fn func(View)) (remove func()) {
	if fn == nil {
		return func() {}
	}
	s.observerMu.Lock()
	s.nextObserver++
	id := s.nextObserver
	s.observers[id] = fn
	s.observerIDs = append(s.observerIDs, id)
	s.observerMu.Unlock()

	return func() {
		s.observerMu.Lock()
		defer s.observerMu.Unlock()
		delete(s.observers, id)
		for i, existing := range s.observerIDs {
			if existing == id {
				s.observerIDs = append(s.observerIDs[:i:i], s.observerIDs[i+1:]...)
				break
			}
		}
	}
}

// Render runs a render pass: observers see the current view and a recorded
// handler or hook failure is re-raised and cleared.
func (s *Scope) Render() error {
	_, err := s.render()
	return err
}

func (s *Scope) render() (View, error) {
	if err := s.check("render", nil); err != nil {
		return View{}, err
	}
	s.tree.mu.Lock()
	view := s.snapshotLocked()
	s.tree.mu.Unlock()

	s.renderMu.Lock()
	err := s.renderErr
	s.renderErr = nil
	recovery := s.recovering > 0
	if recovery {
		s.recovering--
	}
	s.renderMu.Unlock()

	s.observerMu.Lock()
	observers := make([]func(View), 0, len(s.observerIDs))
	for _, id := range s.observerIDs {
		observers = append(observers, s.observers[id])
	}
	s.observerMu.Unlock()
	for _, fn := range observers {
		fn(view)
	}

	if s.def.DidUpdate != nil && !recovery {
		s.scheduleHook("did_update", s.def.DidUpdate)
	}
	return view, err
}

// fail records err for the next render and requests one.
func (s *Scope) fail(ctx context.Context, err error) {
	if err == nil || s.Unmounted() {
		return
	}
	s.renderMu.Lock()
	s.renderErr = errors.Join(s.renderErr, err)
	s.recovering++
	s.renderMu.Unlock()

	if _, updateErr := s.tree.host.ScheduleUpdate(ctx, s, keepState); updateErr != nil {
		s.renderMu.Lock()
		if s.recovering > 0 {
			s.recovering--
		}
		s.renderMu.Unlock()
		if errors.Is(updateErr, ErrStoreUnmounted) {
			return
		}
		s.tree.cfg.logger.Error("re-render after failure", "scope", s.Tag(), "err", updateErr)
	}
}

// scheduleHook defers hook, replacing a still-pending invocation of the same
// hook.
func (s *Scope) scheduleHook(name string, hook Hook) {
	if s.Unmounted() {
		return
	}
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	if previous := s.hookTasks[name]; previous != nil && previous.Cancel() {
		s.tree.cfg.logger.Debug("lifecycle hook replaced", "scope", s.Tag(), "hook", name)
	}
	var task *Task
	task, err := s.tree.scheduler.Defer(func() {
		s.hookMu.Lock()
		if s.hookTasks[name] == task {
			delete(s.hookTasks, name)
		}
		s.hookMu.Unlock()
		go s.runHook(name, hook)
	})
	if err != nil {
		s.tree.cfg.logger.Debug("lifecycle hook dropped", "scope", s.Tag(), "hook", name, "err", err)
		return
	}
	s.hookTasks[name] = task
}

func (s *Scope) runHook(name string, hook Hook) {
	if s.Unmounted() {
		return
	}
	ctx := WithScope(context.Background(), s)
	if err := callHook(ctx, s, hook); err != nil {
		s.fail(ctx, &StoreError{Op: name, Scope: s.Tag(), Err: err})
	}
}

func callHook(ctx context.Context, s *Scope, hook Hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook(ctx, &Handle{scope: s})
}

// UpdateData replaces the scope's data entries. Only changed keys are touched
// and a render runs only when something changed.
func (s *Scope) UpdateData(ctx context.Context, data Entries) error {
	if err := s.check("update_data", nil); err != nil {
		return err
	}
	for key := range data {
		if !ValidKey(key) {
			return opError("update_data", s, key, ErrInvalidKey)
		}
	}
	s.tree.mu.Lock()
	changed := s.data.replace(data)
	s.tree.mu.Unlock()
	if len(changed) == 0 {
		return nil
	}
	s.tree.render(s)
	return nil
}

// Unmount tears the scope down, children first. Pending hooks and dispatches
// owned by the scope are cancelled and their futures rejected.
func (s *Scope) Unmount(ctx context.Context) error {
	if s.Unmounted() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, child := range s.Children() {
		if err := child.Unmount(ctx); err != nil {
			return err
		}
	}
	if s.def.WillUnmount != nil {
		s.def.WillUnmount(s)
	}
	if !s.unmounted.CompareAndSwap(false, true) {
		return nil
	}

	s.hookMu.Lock()
	for name, task := range s.hookTasks {
		task.Cancel()
		delete(s.hookTasks, name)
	}
	s.hookMu.Unlock()
	s.tree.dispatcher.cancelScope(s)

	t := s.tree
	t.mu.Lock()
	if s.parent != nil {
		s.parent.children = removeScope(s.parent.children, s)
	} else {
		t.roots = removeScope(t.roots, s)
	}
	t.mu.Unlock()

	var err error
	if deleteErr := t.cfg.stateStore.Delete(ctx, s.ref()); deleteErr != nil {
		err = opError("unmount", s, nil, deleteErr)
	}

	t.cfg.metrics.ScopeUnmounted(s.Tag())
	t.emit(ctx, activity.BuildScopeUnmountedEvent(activity.StoreEventInput{Scope: scopeContext(s)}))
	t.cfg.logger.Debug("scope unmounted", "scope", s.Tag())
	return err
}

func removeScope(scopes []*Scope, target *Scope) []*Scope {
	for i, candidate := range scopes {
		if candidate == target {
			return append(scopes[:i:i], scopes[i+1:]...)
		}
	}
	return scopes
}
