package stores

import (
	"context"
	"fmt"

	"github.com/goliatone/go-stores/layering"
)

// Accessor is the consumer API shared by scopes and the root fallback.
type Accessor interface {
	Get(key any) (any, error)
	GetMany(spec any) (any, error)
	Set(ctx context.Context, key, value any) error
	SetMany(ctx context.Context, values any) error
	Dispatch(ctx context.Context, action string, payload ...any) *Future
}

// Get reads key from the scope. A formula declared at the scope or an ancestor
// wins over stored values; missing keys read as nil.
func (s *Scope) Get(key any) (any, error) {
	if !ValidKey(key) {
		return nil, opError("get", s, key, ErrInvalidKey)
	}
	if err := s.check("get", key); err != nil {
		return nil, err
	}
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	return s.getLocked(key)
}

// GetMany resolves a key, a []any of keys or bindings, or a map of prop name
// to binding. Publishing bindings yield a Pair in the slice form and a Setter
// under their SetterName in the map form.
func (s *Scope) GetMany(spec any) (any, error) {
	if err := s.check("get", nil); err != nil {
		return nil, err
	}
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	return s.getManyLocked(spec, false)
}

// Keys returns the root keys visible from the scope, formulas excluded.
func (s *Scope) Keys() []any {
	if s.Unmounted() {
		return nil
	}
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	return s.snapshotLocked().Keys()
}

// Set writes value at key through the key's owner.
func (s *Scope) Set(ctx context.Context, key, value any) error {
	if !ValidKey(key) {
		return opError("set", s, key, ErrInvalidKey)
	}
	return s.tree.write(ctx, s, Entries{key: value}, false)
}

// SetMany writes every entry of values, a map[string]any, map[any]any or
// Entries. Owners commit root first, each commit finishing before the next.
func (s *Scope) SetMany(ctx context.Context, values any) error {
	return s.tree.write(ctx, s, values, false)
}

// Dispatch schedules the nearest handler of action. The future settles with
// the handler's result.
func (s *Scope) Dispatch(ctx context.Context, action string, payload ...any) *Future {
	return s.tree.dispatcher.dispatch(ctx, s, action, payload, false)
}

func (s *Scope) getLocked(key any) (any, error) {
	return s.readLocked(key, nil)
}

// formulaFrame marks a formula being evaluated on the current read.
type formulaFrame struct {
	owner *Scope
	root  any
	next  *formulaFrame
}

func (f *formulaFrame) contains(owner *Scope, root any) bool {
	for frame := f; frame != nil; frame = frame.next {
		if frame.owner == owner && frame.root == root {
			return true
		}
	}
	return false
}

// readLocked resolves key; a formula reading its own key, directly or through
// other formulas, sees the stored value beneath it.
func (s *Scope) readLocked(key any, active *formulaFrame) (any, error) {
	if !ValidKey(key) {
		return nil, opError("get", s, key, ErrInvalidKey)
	}
	if s.Unmounted() {
		return nil, opError("get", s, key, ErrStoreUnmounted)
	}
	root, err := Prefix(key)
	if err != nil {
		return nil, opError("get", s, key, err)
	}
	var value any
	if owner, _ := findFormula(s, root); owner != nil && !active.contains(owner, root) {
		frame := &formulaFrame{owner: owner, root: root, next: active}
		value, err = owner.formulas[root](lockedGetter{scope: owner, active: frame})
		if err != nil {
			return nil, opError("formula", owner, root, err)
		}
	} else {
		var ok bool
		if value, ok = s.lookupLocked(root); !ok {
			return nil, nil
		}
	}
	if tail := pathTail(key); tail != nil {
		nested, _ := layering.GetPath(value, tail)
		return nested, nil
	}
	return value, nil
}

func (s *Scope) getManyLocked(spec any, strict bool) (any, error) {
	switch typed := spec.(type) {
	case string, *Symbol:
		return s.getLocked(typed)
	case []string:
		out := make([]any, 0, len(typed))
		for _, key := range typed {
			value, err := s.getLocked(key)
			if err != nil {
				return nil, err
			}
			out = append(out, value)
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(typed))
		for _, raw := range typed {
			binding, err := NormalizeBinding("", raw)
			if err != nil {
				return nil, opError("get", s, nil, err)
			}
			value, setter, err := s.resolveBindingLocked(binding, strict)
			if err != nil {
				return nil, err
			}
			if setter != nil {
				out = append(out, Pair{Value: value, Set: setter})
				continue
			}
			out = append(out, value)
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(typed))
		for prop, raw := range typed {
			binding, err := NormalizeBinding(prop, raw)
			if err != nil {
				return nil, opError("get", s, prop, err)
			}
			value, setter, err := s.resolveBindingLocked(binding, strict)
			if err != nil {
				return nil, err
			}
			out[binding.Prop] = value
			if setter != nil {
				out[binding.SetterName] = setter
			}
		}
		return out, nil
	default:
		return nil, opError("get", s, nil, fmt.Errorf("%w: unsupported spec %T", ErrInvalidArguments, spec))
	}
}

// lockedGetter reads with the tree lock already held. Formulas receive it.
type lockedGetter struct {
	scope  *Scope
	active *formulaFrame
}

func (g lockedGetter) Get(key any) (any, error) {
	return g.scope.readLocked(key, g.active)
}

func (g lockedGetter) GetMany(spec any) (any, error) {
	return g.scope.getManyLocked(spec, false)
}

func (g lockedGetter) Keys() []any {
	return g.scope.snapshotLocked().Keys()
}

func (g lockedGetter) evaluationScope() *Scope {
	return g.scope
}

// rootAccessor stands in when no scope encloses the caller. Every lookup
// fails with ErrNoOwnerFound or ErrNoHandlerFound, logged instead of returned
// in production mode.
type rootAccessor struct {
	tree *Tree
}

func (r rootAccessor) fail(op string, key any) error {
	err := &StoreError{Op: op, Scope: "root", Key: key, Err: ErrNoOwnerFound}
	if r.tree.lenient(err, false) {
		r.tree.warn("no enclosing scope", err, "op", op)
		return nil
	}
	return err
}

func (r rootAccessor) Get(key any) (any, error) {
	if !ValidKey(key) {
		return nil, &StoreError{Op: "get", Scope: "root", Key: key, Err: ErrInvalidKey}
	}
	return nil, r.fail("get", key)
}

func (r rootAccessor) GetMany(spec any) (any, error) {
	return nil, r.fail("get", nil)
}

func (r rootAccessor) Set(_ context.Context, key, _ any) error {
	if !ValidKey(key) {
		return &StoreError{Op: "set", Scope: "root", Key: key, Err: ErrInvalidKey}
	}
	return r.fail("set", key)
}

func (r rootAccessor) SetMany(_ context.Context, values any) error {
	if _, ok := normalizeEntries(values); !ok {
		return &StoreError{Op: "set", Scope: "root", Err: fmt.Errorf("%w: expected a key/value map, got %T", ErrInvalidArguments, values)}
	}
	return r.fail("set", nil)
}

func (r rootAccessor) Dispatch(_ context.Context, action string, payload ...any) *Future {
	err := handlerError(nil, action, payload)
	if r.tree.lenient(err, false) {
		r.tree.warn("no handler for action", err, "action", action)
		r.tree.cfg.metrics.Dispatched(action, OutcomeUnhandled)
		return Resolved(nil)
	}
	r.tree.cfg.metrics.Dispatched(action, OutcomeUnhandled)
	return Rejected(err)
}

// Handle is the capability view handed to action handlers and lifecycle
// hooks. Lookup failures through a Handle are never downgraded, whatever the
// mode.
type Handle struct {
	scope *Scope
}

// Tag returns the tag of the scope the handle is bound to.
func (h *Handle) Tag() string {
	return h.scope.Tag()
}

func (h *Handle) evaluationScope() *Scope {
	return h.scope
}

// Get reads key as Scope.Get does.
func (h *Handle) Get(key any) (any, error) {
	return h.scope.Get(key)
}

// GetMany resolves spec as Scope.GetMany does; setters it returns are strict.
func (h *Handle) GetMany(spec any) (any, error) {
	if err := h.scope.check("get", nil); err != nil {
		return nil, err
	}
	h.scope.tree.mu.Lock()
	defer h.scope.tree.mu.Unlock()
	return h.scope.getManyLocked(spec, true)
}

// Keys lists the root keys visible from the bound scope.
func (h *Handle) Keys() []any {
	return h.scope.Keys()
}

// Set writes through the owner of key. Pass the context the handler received
// so writes to the protected key being handled commit directly.
func (h *Handle) Set(ctx context.Context, key, value any) error {
	if !ValidKey(key) {
		return opError("set", h.scope, key, ErrInvalidKey)
	}
	return h.scope.tree.write(ctx, h.scope, Entries{key: value}, true)
}

// SetMany writes every entry of values.
func (h *Handle) SetMany(ctx context.Context, values any) error {
	return h.scope.tree.write(ctx, h.scope, values, true)
}

// Dispatch schedules another action from the bound scope.
func (h *Handle) Dispatch(ctx context.Context, action string, payload ...any) *Future {
	return h.scope.tree.dispatcher.dispatch(ctx, h.scope, action, payload, true)
}
