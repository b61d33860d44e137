package stores

import (
	"fmt"
	"sort"
	"strings"
	"time"

	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/builtin"
	exprvm "github.com/expr-lang/expr/vm"
)

// ExprEvaluatorOption configures an expr evaluator instance.
type ExprEvaluatorOption func(*exprEvaluator)

// ExprWithProgramCache shares compiled programs through cache.
func ExprWithProgramCache(cache ProgramCache) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		e.cache = cache
	}
}

// ExprWithFunctionRegistry exposes the functions of registry by name and
// through call(name, args...).
func ExprWithFunctionRegistry(registry *FunctionRegistry) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		if registry != nil {
			e.registry = registry.Clone()
		}
	}
}

// exprEvaluator runs expressions with github.com/expr-lang/expr. Programs are
// compiled against typed placeholders for the built-in bindings; stored keys
// resolve at run time and missing ones read nil. A stored key named like an
// expr builtin (count, len, sum) disables that builtin for the program.
type exprEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewExprEvaluator constructs an Evaluator backed by expr-lang/expr.
func NewExprEvaluator(opts ...ExprEvaluatorOption) Evaluator {
	e := &exprEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *exprEvaluator) engineName() string { return "expr" }

func (e *exprEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	program, err := e.program(expression, shadowedBuiltins(ctx.Values))
	if err != nil {
		return nil, err
	}
	return e.run(program, ctx.withDefaults(), expression)
}

// Compile disables the builtins named by WithVariables; the compiled rule
// then reads those names from the rule context.
func (e *exprEvaluator) Compile(expression string, opts ...CompileOption) (CompiledRule, error) {
	cfg := applyCompileOptions(opts)
	names := make(map[string]any, len(cfg.variables))
	for _, name := range cfg.variables {
		names[name] = nil
	}
	program, err := e.program(expression, shadowedBuiltins(names))
	if err != nil {
		return nil, err
	}
	return compiledRuleFunc(func(ctx RuleContext) (any, error) {
		return e.run(program, ctx.withDefaults(), expression)
	}), nil
}

func (e *exprEvaluator) program(expression string, shadowed []string) (*exprvm.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}
	key := cacheKey("expr", expression)
	if len(shadowed) > 0 {
		key = cacheKey("expr", strings.Join(shadowed, ",")+"\x00"+expression)
	}
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*exprvm.Program); ok {
				return program, nil
			}
		}
	}
	options := []exprlang.Option{
		exprlang.Env(e.compileEnv()),
		exprlang.AllowUndefinedVariables(),
	}
	for _, name := range shadowed {
		options = append(options, exprlang.DisableBuiltin(name))
	}
	program, err := exprlang.Compile(expression, options...)
	if err != nil {
		return nil, wrapEvaluationError("expr", expression, "", err)
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return program, nil
}

// compileEnv declares the types of the built-in bindings.
func (e *exprEvaluator) compileEnv() map[string]any {
	env := map[string]any{
		bindingNow:      time.Time{},
		bindingArgs:     map[string]any{},
		bindingMetadata: map[string]any{},
		bindingScope:    map[string]any{},
		bindingGet:      func(string) (any, error) { return nil, nil },
		bindingDefined:  func(string) bool { return false },
	}
	e.bindFunctions(env)
	return env
}

func (e *exprEvaluator) run(program *exprvm.Program, ctx RuleContext, expression string) (any, error) {
	env := ctx.variables()
	env[bindingGet] = ctx.lookup
	env[bindingDefined] = ctx.defined
	e.bindFunctions(env)
	result, err := exprlang.Run(program, env)
	if err != nil {
		return nil, wrapEvaluationError("expr", expression, ctx.scopeLabel(), err)
	}
	return result, nil
}

func (e *exprEvaluator) bindFunctions(env map[string]any) {
	if e.registry == nil {
		return
	}
	env[bindingCall] = e.registry.Call
	for _, name := range e.registry.Names() {
		env[name] = e.registry.bound(name)
	}
}

// shadowedBuiltins lists, sorted, the names in values that expr would
// otherwise resolve to a builtin function.
func shadowedBuiltins(values map[string]any) []string {
	var names []string
	for name := range values {
		if _, ok := builtin.Index[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// compiledRuleFunc adapts a function to CompiledRule.
type compiledRuleFunc func(RuleContext) (any, error)

func (f compiledRuleFunc) Evaluate(ctx RuleContext) (any, error) {
	return f(ctx)
}

func cacheKey(engine, expression string) string {
	return engine + "\x00" + expression
}
