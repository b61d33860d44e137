package stores

import "context"

// Formula derives a value at read time from the keys visible to the scope
// that declares it.
type Formula func(Getter) (any, error)

// Getter is the read view handed to formulas.
type Getter interface {
	Get(key any) (any, error)
	GetMany(spec any) (any, error)
	Keys() []any
}

// Action handles a dispatched action. A returned Awaiter is awaited before the
// dispatch settles.
type Action func(ctx context.Context, h *Handle, payload ...any) (any, error)

// Hook runs a deferred lifecycle callback against the scope.
type Hook func(ctx context.Context, h *Handle) error

// Reducer may rewrite the patch about to be committed to a scope's own state.
// It must only return keys the scope owns. Reducers run while the tree lock
// is held and must read through current, never through Scope.Get or Set.
type Reducer func(current View, patch Entries) (Entries, error)

// ErrorBoundary receives errors re-raised while rendering scope or one of its
// descendants. Returning nil marks the error handled; a non-nil error keeps
// propagating toward the root.
type ErrorBoundary func(scope *Scope, err error) error

// Definition declares what a scope owns when it mounts.
type Definition struct {
	Tag string
	// Data is the read-only layer supplied by the caller.
	Data Entries
	// State seeds the owned layer. InitialState may add to it.
	State        Entries
	InitialState func(inherited View) (Entries, error)
	Formulas     map[any]Formula
	Actions      map[string]Action
	// Protected maps an owned key to the action a write to it is redirected to.
	Protected map[any]string
	Reducer   Reducer

	ErrorBoundary ErrorBoundary
	DidMount      Hook
	DidUpdate     Hook
	WillUnmount   func(*Scope)
}

// Evaluator executes expressions against a rule context.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string, opts ...CompileOption) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}

// CompileOption configures evaluator compile behaviour.
type CompileOption interface {
	applyCompileOption(*compileConfig)
}

type compileConfig struct {
	variables []string
}

type compileOptionFunc func(*compileConfig)

func (f compileOptionFunc) applyCompileOption(cfg *compileConfig) {
	if f != nil {
		f(cfg)
	}
}

// WithVariables declares the value names a compiled rule may reference.
// Engines that type-check at compile time (CEL) need them up front; the
// others ignore the option.
func WithVariables(names ...string) CompileOption {
	return compileOptionFunc(func(cfg *compileConfig) {
		cfg.variables = append(cfg.variables, names...)
	})
}

func applyCompileOptions(opts []CompileOption) compileConfig {
	var cfg compileConfig
	for _, opt := range opts {
		if opt != nil {
			opt.applyCompileOption(&cfg)
		}
	}
	return cfg
}
