package stores

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Function is a custom function callable from expressions.
type Function func(args ...any) (any, error)

// FunctionRegistry holds the custom functions shared by the evaluators of a
// tree. Names are matched case-insensitively and must not shadow a built-in
// binding such as get or scope.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]registeredFunction
}

type registeredFunction struct {
	name string
	fn   Function
}

// NewFunctionRegistry constructs an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{functions: map[string]registeredFunction{}}
}

// Register adds fn under name. Duplicates and reserved names are rejected.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return fmt.Errorf("%w: function name must not be empty", ErrInvalidArguments)
	case fn == nil:
		return fmt.Errorf("%w: function %q is nil", ErrInvalidArguments, name)
	}
	key := strings.ToLower(name)
	if reservedBindings[key] {
		return fmt.Errorf("%w: function name %q is reserved", ErrInvalidArguments, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.functions == nil {
		r.functions = map[string]registeredFunction{}
	}
	if existing, ok := r.functions[key]; ok {
		return fmt.Errorf("%w: function %q already registered as %q", ErrInvalidArguments, name, existing.name)
	}
	r.functions[key] = registeredFunction{name: name, fn: fn}
	return nil
}

// Clone returns an independent copy of the registry.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &FunctionRegistry{functions: make(map[string]registeredFunction, len(r.functions))}
	for key, entry := range r.functions {
		clone.functions[key] = entry
	}
	return clone
}

// Call runs the function registered under name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("stores: function registry is nil")
	}
	r.mu.RLock()
	entry, ok := r.functions[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("stores: function %q not registered", name)
	}
	return entry.fn(args...)
}

// Names returns the registered names, as given to Register, sorted.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for _, entry := range r.functions {
		names = append(names, entry.name)
	}
	sort.Strings(names)
	return names
}

func (r *FunctionRegistry) bound(name string) func(...any) (any, error) {
	return func(args ...any) (any, error) {
		return r.Call(name, args...)
	}
}

// WithFunctionRegistry exposes the functions of registry to expression formulas.
func WithFunctionRegistry(registry *FunctionRegistry) Option {
	return func(cfg *config) {
		if registry == nil {
			return
		}
		cfg.functions = registry.Clone()
	}
}

// WithCustomFunction registers fn under name for expression formulas. Invalid
// or duplicate registrations are logged when the tree is built.
func WithCustomFunction(name string, fn Function) Option {
	return func(cfg *config) {
		if cfg.functions == nil {
			cfg.functions = NewFunctionRegistry()
		}
		if err := cfg.functions.Register(name, fn); err != nil {
			cfg.optionErrs = append(cfg.optionErrs, err)
		}
	}
}
