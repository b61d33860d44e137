//go:build js_eval

package stores

import (
	"fmt"

	"github.com/dop251/goja"
)

// jsEvaluator runs expressions in a fresh goja runtime per evaluation.
// Visible keys become globals; get, defined and the registry functions are
// bound as Go callbacks.
type jsEvaluator struct {
	config jsEvaluatorConfig
}

// NewJSEvaluator constructs an Evaluator backed by goja.
func NewJSEvaluator(opts ...JSEvaluatorOption) Evaluator {
	return &jsEvaluator{config: applyJSEvaluatorOptions(opts)}
}

func (e *jsEvaluator) engineName() string { return "js" }

func (e *jsEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	return e.run(ctx.withDefaults(), program)
}

func (e *jsEvaluator) Compile(expression string, _ ...CompileOption) (CompiledRule, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	return compiledRuleFunc(func(ctx RuleContext) (any, error) {
		return e.run(ctx.withDefaults(), program)
	}), nil
}

func (e *jsEvaluator) program(expression string) (*goja.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}
	key := cacheKey("js", expression)
	if cache := e.config.cache; cache != nil {
		if cached, ok := cache.Get(key); ok {
			if program, ok := cached.(*goja.Program); ok {
				return program, nil
			}
		}
	}
	program, err := goja.Compile("", fmt.Sprintf("(function(){ return (%s); })()", expression), e.config.strict)
	if err != nil {
		return nil, err
	}
	if cache := e.config.cache; cache != nil {
		cache.Set(key, program)
	}
	return program, nil
}

func (e *jsEvaluator) run(ctx RuleContext, program *goja.Program) (any, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	for name, value := range ctx.variables() {
		if err := vm.Set(name, value); err != nil {
			return nil, err
		}
	}
	bindings := map[string]any{
		bindingGet:     ctx.lookup,
		bindingDefined: ctx.defined,
	}
	if registry := e.config.registry; registry != nil {
		bindings[bindingCall] = registry.Call
		for _, name := range registry.Names() {
			bindings[name] = registry.bound(name)
		}
	}
	for name, fn := range bindings {
		if err := vm.Set(name, fn); err != nil {
			return nil, err
		}
	}
	value, err := vm.RunProgram(program)
	if err != nil {
		return nil, err
	}
	return value.Export(), nil
}
