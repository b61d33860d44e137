package stores

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goliatone/go-stores/layering"
	"github.com/goliatone/go-stores/pkg/activity"
	"github.com/goliatone/go-stores/pkg/state"
	"github.com/google/uuid"
)

// Tree owns a set of scopes and the collaborators they share: the host that
// commits updates, the scheduler that defers handlers and the diagnostic
// policy. Scopes from different trees never interact.
type Tree struct {
	mu  sync.Mutex
	cfg config

	host          Host
	committer     state.Committer[Entries]
	scheduler     Scheduler
	ownsScheduler bool
	dispatcher    *dispatcher
	emitter       *activity.Emitter

	evalOnce     sync.Once
	evaluator    Evaluator
	cacheOnce    sync.Once
	programCache ProgramCache

	roots  []*Scope
	closed bool
}

// New constructs a tree. Without WithScheduler it starts its own loop, which
// Close stops.
func New(opts ...Option) *Tree {
	cfg := applyOptions(opts)
	t := &Tree{cfg: cfg}

	t.scheduler = cfg.scheduler
	if t.scheduler == nil {
		t.scheduler = NewLoop()
		t.ownsScheduler = true
	}
	t.committer = state.Committer[Entries]{Store: cfg.stateStore, Now: cfg.now}
	t.host = chainHost(&memoryHost{tree: t}, cfg.middleware)
	t.dispatcher = newDispatcher(t)
	t.emitter = activity.NewEmitter(cfg.activityHooks, cfg.activityConfig)
	for _, err := range cfg.optionErrs {
		cfg.logger.Warn("option ignored", "err", err)
	}
	return t
}

// Mode returns the diagnostic policy.
func (t *Tree) Mode() Mode {
	return t.cfg.mode
}

// Logger returns the tree's structured logger.
func (t *Tree) Logger() *slog.Logger {
	return t.cfg.logger
}

// Scheduler returns the scheduler deferring handlers and lifecycle hooks.
func (t *Tree) Scheduler() Scheduler {
	return t.scheduler
}

// Roots returns the mounted scopes without a parent.
func (t *Tree) Roots() []*Scope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Scope(nil), t.roots...)
}

// Close unmounts every root scope and stops the scheduler when the tree
// created it.
func (t *Tree) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	roots := append([]*Scope(nil), t.roots...)
	t.mu.Unlock()

	var errs []error
	for _, root := range roots {
		if err := root.Unmount(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if t.ownsScheduler {
		if err := t.scheduler.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Mount creates a scope under parent, or a root scope when parent is nil.
// Errors raised while computing the initial state are returned and the scope
// is not attached.
func (t *Tree) Mount(ctx context.Context, parent *Scope, def Definition) (*Scope, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if parent != nil {
		if parent.tree != t {
			return nil, &StoreError{Op: "mount", Scope: def.Tag, Err: fmt.Errorf("%w: parent belongs to another tree", ErrInvalidArguments)}
		}
		if parent.Unmounted() {
			return nil, opError("mount", parent, nil, ErrStoreUnmounted)
		}
	}
	if err := validateDefinition(def); err != nil {
		return nil, &StoreError{Op: "mount", Scope: def.Tag, Err: err}
	}

	s := &Scope{
		tree:      t,
		id:        uuid.New(),
		tag:       def.Tag,
		parent:    parent,
		def:       def,
		formulas:  copyFormulas(def.Formulas),
		actions:   copyActions(def.Actions),
		protected: copyProtected(def.Protected),
		observers: map[uint64]func(View){},
		hookTasks: map[string]*Task{},
	}
	var parentData, parentState *layer
	if parent != nil {
		s.depth = parent.depth + 1
		parentData, parentState = parent.data, parent.state
	}
	s.data = newLayer(parentData, copyEntries(def.Data))
	s.state = newLayer(parentState, copyEntries(def.State))

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, &StoreError{Op: "mount", Scope: def.Tag, Err: ErrSchedulerClosed}
	}
	if def.InitialState != nil {
		extra, err := def.InitialState(s.snapshotLocked())
		if err != nil {
			t.mu.Unlock()
			return nil, &StoreError{Op: "mount", Scope: s.Tag(), Err: err}
		}
		for key, value := range extra {
			if !ValidKey(key) {
				t.mu.Unlock()
				return nil, opError("mount", s, key, ErrInvalidKey)
			}
			s.state.own[key] = value
		}
	}
	for key := range s.protected {
		if !s.state.has(key) {
			t.mu.Unlock()
			return nil, opError("mount", s, key, fmt.Errorf("%w: protected key is not owned state", ErrInvalidArguments))
		}
	}
	initial := s.state.own
	_, meta, err := t.committer.Mutate(ctx, s.ref(), s.meta, func(snapshot *Entries) error {
		*snapshot = initial
		return nil
	})
	if err != nil {
		t.mu.Unlock()
		return nil, opError("mount", s, nil, err)
	}
	s.meta = meta
	if parent != nil {
		parent.children = append(parent.children, s)
	} else {
		t.roots = append(t.roots, s)
	}
	t.mu.Unlock()

	t.cfg.metrics.ScopeMounted(s.Tag())
	t.emit(ctx, activity.BuildScopeMountedEvent(activity.StoreEventInput{Scope: scopeContext(s), Revision: meta.Revision}))
	t.cfg.logger.Debug("scope mounted", "scope", s.Tag(), "depth", s.depth)

	if def.DidMount != nil {
		s.scheduleHook("did_mount", def.DidMount)
	}
	return s, nil
}

// From returns the scope carried by ctx when it belongs to this tree, or the
// root fallback accessor whose every lookup fails.
func (t *Tree) From(ctx context.Context) Accessor {
	if s := FromContext(ctx); s != nil && s.tree == t {
		return s
	}
	return rootAccessor{tree: t}
}

// render runs a render pass on s and routes any re-raised error.
func (t *Tree) render(s *Scope) View {
	view, err := s.render()
	if err != nil {
		t.routeRenderError(s, err)
	}
	return view
}

// routeRenderError hands err to the nearest error boundary, then the tree's
// error handler, then the log.
func (t *Tree) routeRenderError(s *Scope, err error) {
	for current := s; current != nil && err != nil; current = current.parent {
		if boundary := current.def.ErrorBoundary; boundary != nil {
			err = boundary(s, err)
		}
	}
	if err == nil {
		return
	}
	if t.cfg.errorHandler != nil {
		t.cfg.errorHandler(s, err)
		return
	}
	t.cfg.logger.Error("unhandled render error", "scope", s.Tag(), "err", err)
}

// lenient reports whether a lookup failure should be logged instead of
// returned.
func (t *Tree) lenient(err error, strict bool) bool {
	return !strict && t.cfg.mode == ModeProduction && lenient(err)
}

func (t *Tree) warn(msg string, err error, attrs ...any) {
	t.cfg.logger.Warn(msg, append(attrs, "err", err)...)
}

func validateDefinition(def Definition) error {
	for key := range def.Data {
		if !ValidKey(key) {
			return fmt.Errorf("%w: data key %v", ErrInvalidKey, key)
		}
	}
	for key := range def.State {
		if !ValidKey(key) {
			return fmt.Errorf("%w: state key %v", ErrInvalidKey, key)
		}
	}
	for key, formula := range def.Formulas {
		if !ValidKey(key) {
			return fmt.Errorf("%w: formula key %v", ErrInvalidKey, key)
		}
		if formula == nil {
			return fmt.Errorf("%w: formula %s is nil", ErrInvalidBindingDefinition, describeKey(key))
		}
	}
	for name, action := range def.Actions {
		if name == "" || action == nil {
			return fmt.Errorf("%w: action %q is empty", ErrInvalidArguments, name)
		}
	}
	for key, action := range def.Protected {
		if !ValidKey(key) {
			return fmt.Errorf("%w: protected key %v", ErrInvalidKey, key)
		}
		if action == "" {
			return fmt.Errorf("%w: protected key %s has no action", ErrInvalidArguments, describeKey(key))
		}
	}
	return nil
}

func copyEntries(src Entries) Entries {
	out := make(Entries, len(src))
	for key, value := range src {
		out[key] = layering.Clone(value)
	}
	return out
}

func copyFormulas(src map[any]Formula) map[any]Formula {
	out := make(map[any]Formula, len(src))
	for key, formula := range src {
		out[key] = formula
	}
	return out
}

func copyActions(src map[string]Action) map[string]Action {
	out := make(map[string]Action, len(src))
	for name, action := range src {
		out[name] = action
	}
	return out
}

func copyProtected(src map[any]string) map[any]string {
	out := make(map[any]string, len(src))
	for key, action := range src {
		out[key] = action
	}
	return out
}
