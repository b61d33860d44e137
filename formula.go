package stores

import (
	"fmt"
	"strings"
)

// ExpressionFormula returns a formula evaluating expression against the
// string keys visible to the declaring scope. get(key) reads any key, formulas
// and dotted paths included, and defined(key) reports visibility. A nil
// evaluator uses the tree default.
func ExpressionFormula(evaluator Evaluator, expression string) Formula {
	expression = strings.TrimSpace(expression)
	return func(g Getter) (any, error) {
		if expression == "" {
			return nil, fmt.Errorf("%w: empty expression", ErrInvalidBindingDefinition)
		}
		ctx, err := NewRuleContext(g)
		if err != nil {
			return nil, err
		}
		if scoped, ok := g.(interface{ evaluationScope() *Scope }); ok {
			if s := scoped.evaluationScope(); s != nil && s.tree != nil {
				return s.tree.Evaluate(evaluator, ctx, expression)
			}
		}
		standalone := evaluator
		if standalone == nil {
			standalone = NewExprEvaluator()
		}
		ctx = ctx.withDefaults()
		value, err := standalone.Evaluate(ctx, expression)
		if err != nil {
			return nil, wrapEvaluationError(evaluatorEngineName(standalone), expression, ctx.scopeLabel(), err)
		}
		return value, nil
	}
}
