package stores

import (
	"errors"
	"fmt"
)

// EvaluationError reports an expression that failed to compile or run, with
// the engine and the scope it was evaluated for.
type EvaluationError struct {
	Engine string
	Expr   string
	Scope  string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	expr := "<empty>"
	if e.Expr != "" {
		expr = fmt.Sprintf("%q", e.Expr)
	}
	return fmt.Sprintf("stores: %s evaluation of %s in scope %s: %v", e.Engine, expr, e.Scope, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is(err, ErrEvaluationFailed) match any evaluation failure.
func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluationFailed
}

// wrapEvaluationError attaches evaluation metadata to err. An EvaluationError
// already in the chain only has its empty fields filled.
func wrapEvaluationError(engine, expr, scope string, err error) error {
	if err == nil {
		return nil
	}
	var existing *EvaluationError
	if errors.As(err, &existing) {
		if existing.Engine == "" {
			existing.Engine = engine
		}
		if existing.Expr == "" {
			existing.Expr = expr
		}
		if existing.Scope == "" || existing.Scope == "unknown" {
			existing.Scope = scope
		}
		return err
	}
	return &EvaluationError{Engine: engine, Expr: expr, Scope: scope, Err: err}
}
