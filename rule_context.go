package stores

import (
	"strings"
	"time"

	"github.com/goliatone/go-stores/layering"
)

// Names bound by every engine. A stored key with one of these names is
// still reachable through get().
const (
	bindingNow      = "now"
	bindingArgs     = "args"
	bindingMetadata = "metadata"
	bindingScope    = "scope"
	bindingGet      = "get"
	bindingDefined  = "defined"
	bindingCall     = "call"
)

var reservedBindings = map[string]bool{
	bindingNow:      true,
	bindingArgs:     true,
	bindingMetadata: true,
	bindingScope:    true,
	bindingGet:      true,
	bindingDefined:  true,
	bindingCall:     true,
}

// ScopeInfo identifies the scope an expression is evaluated for.
type ScopeInfo struct {
	Tag   string `json:"tag"`
	ID    string `json:"id"`
	Depth int    `json:"depth"`
}

func (i ScopeInfo) binding() map[string]any {
	return map[string]any{"tag": i.Tag, "id": i.ID, "depth": i.Depth}
}

// RuleContext carries the inputs of one expression evaluation.
type RuleContext struct {
	// Values holds the string keys visible to the scope, formulas included.
	Values map[string]any
	// Getter backs get() and defined(); without it they read Values.
	Getter   Getter
	Args     map[string]any
	Metadata map[string]any
	Scope    ScopeInfo
	Now      *time.Time
}

// NewRuleContext reads every string key visible through g. Scope is filled
// when g is bound to a scope (formula getters and handles).
func NewRuleContext(g Getter) (RuleContext, error) {
	ctx := RuleContext{Values: map[string]any{}, Getter: g}
	if g == nil {
		return ctx, nil
	}
	for _, key := range g.Keys() {
		name, ok := key.(string)
		if !ok {
			continue
		}
		value, err := g.Get(name)
		if err != nil {
			return RuleContext{}, err
		}
		ctx.Values[name] = value
	}
	if scoped, ok := g.(interface{ evaluationScope() *Scope }); ok {
		if s := scoped.evaluationScope(); s != nil {
			ctx.Scope = ScopeInfo{Tag: s.Tag(), ID: s.ID(), Depth: s.Depth()}
		}
	}
	return ctx, nil
}

func (ctx RuleContext) withDefaults() RuleContext {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	return ctx
}

func (ctx RuleContext) timestamp() time.Time {
	if ctx.Now == nil {
		return time.Now()
	}
	return *ctx.Now
}

func (ctx RuleContext) scopeLabel() string {
	if ctx.Scope.Tag != "" {
		return ctx.Scope.Tag
	}
	return "unknown"
}

// variables returns the value bindings shared by every engine. Reserved names
// win over stored keys of the same name.
func (ctx RuleContext) variables() map[string]any {
	vars := make(map[string]any, len(ctx.Values)+4)
	for key, value := range ctx.Values {
		if !reservedBindings[key] {
			vars[key] = value
		}
	}
	vars[bindingNow] = ctx.timestamp()
	vars[bindingArgs] = ctx.Args
	vars[bindingMetadata] = ctx.Metadata
	vars[bindingScope] = ctx.Scope.binding()
	return vars
}

// lookup backs get(key): dotted paths descend into nested values.
func (ctx RuleContext) lookup(key string) (any, error) {
	if ctx.Getter != nil {
		return ctx.Getter.Get(key)
	}
	root, rest, nested := strings.Cut(key, ".")
	value, ok := ctx.Values[root]
	if !ok || !nested {
		return value, nil
	}
	found, _ := layering.GetPath(value, strings.Split(rest, "."))
	return found, nil
}

// defined backs defined(key): it reports whether the root key is visible.
func (ctx RuleContext) defined(key string) bool {
	root, _, _ := strings.Cut(key, ".")
	if _, ok := ctx.Values[root]; ok {
		return true
	}
	if ctx.Getter == nil {
		return false
	}
	for _, visible := range ctx.Getter.Keys() {
		if visible == root {
			return true
		}
	}
	return false
}
