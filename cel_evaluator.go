package stores

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// CELEvaluatorOption configures the CEL evaluator.
type CELEvaluatorOption func(*celEvaluator)

// CELWithProgramCache shares checked programs through cache.
func CELWithProgramCache(cache ProgramCache) CELEvaluatorOption {
	return func(e *celEvaluator) {
		e.cache = cache
	}
}

// CELWithFunctionRegistry exposes the functions of registry with up to
// maxCELArity arguments, and through call(name, [args]).
func CELWithFunctionRegistry(registry *FunctionRegistry) CELEvaluatorOption {
	return func(e *celEvaluator) {
		if registry != nil {
			e.registry = registry.Clone()
		}
	}
}

const maxCELArity = 3

var (
	celIdentifier = regexp.MustCompile(`^[_a-zA-Z][_a-zA-Z0-9]*$`)
	celReserved   = map[string]bool{
		"as": true, "break": true, "const": true, "continue": true, "else": true,
		"false": true, "for": true, "function": true, "if": true, "import": true,
		"in": true, "let": true, "loop": true, "package": true, "namespace": true,
		"null": true, "return": true, "true": true, "var": true, "void": true, "while": true,
	}
)

// celEvaluator type-checks expressions with cel-go. Every visible key is
// declared as a dyn variable, so a program is cached per expression and set
// of declared names. Referencing a key the scope cannot see is a check error.
type celEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewCELEvaluator constructs an Evaluator backed by cel-go.
func NewCELEvaluator(opts ...CELEvaluatorOption) Evaluator {
	e := &celEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *celEvaluator) engineName() string { return "cel" }

func (e *celEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	ctx = ctx.withDefaults()
	vars := celVariables(ctx.variables())
	program, err := e.program(expression, sortedNames(vars))
	if err != nil {
		return nil, err
	}
	return evalCEL(program, vars)
}

// Compile checks expression once against the names given with WithVariables.
func (e *celEvaluator) Compile(expression string, opts ...CompileOption) (CompiledRule, error) {
	cfg := applyCompileOptions(opts)
	names := append([]string(nil), cfg.variables...)
	sort.Strings(names)
	program, err := e.program(expression, names)
	if err != nil {
		return nil, err
	}
	return compiledRuleFunc(func(ctx RuleContext) (any, error) {
		vars := celVariables(ctx.withDefaults().variables())
		for _, name := range names {
			if _, ok := vars[name]; !ok {
				vars[name] = types.NullValue
			}
		}
		return evalCEL(program, vars)
	}), nil
}

func (e *celEvaluator) program(expression string, names []string) (celgo.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}
	key := cacheKey("cel", strings.Join(names, ",")+"\x00"+expression)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(celgo.Program); ok {
				return program, nil
			}
		}
	}

	env, err := e.environment(names)
	if err != nil {
		return nil, err
	}
	checked, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	program, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return program, nil
}

func (e *celEvaluator) environment(names []string) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable(bindingNow, celgo.TimestampType),
		celgo.Variable(bindingArgs, celgo.DynType),
		celgo.Variable(bindingMetadata, celgo.DynType),
		celgo.Variable(bindingScope, celgo.DynType),
	}
	for _, name := range names {
		if !reservedBindings[name] {
			opts = append(opts, celgo.Variable(name, celgo.DynType))
		}
	}
	if e.registry != nil {
		opts = append(opts, celgo.Function(bindingCall, celgo.Overload(
			"call_string_list",
			[]*celgo.Type{celgo.StringType, celgo.ListType(celgo.DynType)},
			celgo.DynType,
			celgo.BinaryBinding(func(name, args ref.Val) ref.Val {
				fn, ok := name.Value().(string)
				if !ok {
					return types.NewErr("stores: call name must be a string")
				}
				list, ok := args.(traits.Lister)
				if !ok {
					return types.NewErr("stores: call arguments must be a list")
				}
				size, _ := list.Size().Value().(int64)
				values := make([]ref.Val, 0, size)
				for i := int64(0); i < size; i++ {
					values = append(values, list.Get(types.Int(i)))
				}
				return e.invoke(fn, values)
			}),
		)))
		for _, name := range e.registry.Names() {
			if !celIdentifier.MatchString(name) || celReserved[name] {
				continue
			}
			opts = append(opts, celgo.Function(name, e.overloads(name)...))
		}
	}
	return celgo.NewEnv(opts...)
}

func (e *celEvaluator) overloads(name string) []celgo.FunctionOpt {
	fn := name
	opts := make([]celgo.FunctionOpt, 0, maxCELArity+1)
	for arity := 0; arity <= maxCELArity; arity++ {
		params := make([]*celgo.Type, arity)
		for i := range params {
			params[i] = celgo.DynType
		}
		opts = append(opts, celgo.Overload(
			fmt.Sprintf("%s_dyn_%d", fn, arity),
			params,
			celgo.DynType,
			celgo.FunctionBinding(func(values ...ref.Val) ref.Val {
				return e.invoke(fn, values)
			}),
		))
	}
	return opts
}

func (e *celEvaluator) invoke(name string, values []ref.Val) ref.Val {
	args := make([]any, 0, len(values))
	for _, value := range values {
		args = append(args, value.Value())
	}
	result, err := e.registry.Call(name, args...)
	if err != nil {
		return types.NewErr("%s", err.Error())
	}
	if result == nil {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(result)
}

func evalCEL(program celgo.Program, vars map[string]any) (any, error) {
	out, _, err := program.Eval(vars)
	if err != nil {
		return nil, err
	}
	return out.Value(), nil
}

// celVariables drops names CEL cannot declare and function values it cannot
// bind.
func celVariables(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for name, value := range vars {
		if !celIdentifier.MatchString(name) || celReserved[name] {
			continue
		}
		if value != nil && reflect.TypeOf(value).Kind() == reflect.Func {
			continue
		}
		out[name] = value
	}
	return out
}

func sortedNames(vars map[string]any) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
