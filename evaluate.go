package stores

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoEvaluator indicates an expression formula without a usable evaluator.
var ErrNoEvaluator = errors.New("stores: evaluator not configured")

// Evaluator returns the evaluator used by expression formulas that were
// declared without one: WithEvaluator, else expr-lang/expr wired to the
// tree's program cache and function registry.
func (t *Tree) Evaluator() Evaluator {
	t.evalOnce.Do(func() {
		if t.cfg.evaluator != nil {
			t.evaluator = t.cfg.evaluator
			return
		}
		t.evaluator = NewExprEvaluator(
			ExprWithProgramCache(t.ProgramCache()),
			ExprWithFunctionRegistry(t.cfg.functions),
		)
	})
	return t.evaluator
}

// ProgramCache returns the cache shared by the evaluators the tree builds.
// Keys are prefixed per engine, so one cache serves all of them.
func (t *Tree) ProgramCache() ProgramCache {
	t.cacheOnce.Do(func() {
		t.programCache = t.cfg.programCache
		if t.programCache == nil {
			t.programCache = NewProgramCache()
		}
	})
	return t.programCache
}

// Functions returns a copy of the custom functions registered on the tree,
// nil when there are none.
func (t *Tree) Functions() *FunctionRegistry {
	return t.cfg.functions.Clone()
}

// Evaluate runs expr with evaluator, or the tree default when nil, and reports
// the attempt to the evaluator logger.
func (t *Tree) Evaluate(evaluator Evaluator, ctx RuleContext, expr string) (any, error) {
	if expr == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}
	if evaluator == nil {
		evaluator = t.Evaluator()
	}
	if evaluator == nil {
		return nil, ErrNoEvaluator
	}
	ctx = ctx.withDefaults()
	engine := evaluatorEngineName(evaluator)
	start := time.Now()
	value, evalErr := evaluator.Evaluate(ctx, expr)
	duration := time.Since(start)
	evalErr = wrapEvaluationError(engine, expr, ctx.scopeLabel(), evalErr)
	t.cfg.evaluatorLogger.LogEvaluation(EvaluatorLogEvent{
		Engine:   engine,
		Expr:     expr,
		Scope:    ctx.Scope,
		Duration: duration,
		Err:      evalErr,
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return value, nil
}

func evaluatorEngineName(e Evaluator) string {
	switch typed := e.(type) {
	case nil:
		return "unknown"
	case interface{ engineName() string }:
		return typed.engineName()
	default:
		return "custom"
	}
}
