package stores

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapEvaluationErrorCreatesMetadata(t *testing.T) {
	base := errors.New("boom")
	err := wrapEvaluationError("expr", "count > limit", "cart", base)

	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %T", err)
	}
	if evalErr.Engine != "expr" || evalErr.Expr != "count > limit" || evalErr.Scope != "cart" {
		t.Fatalf("unexpected metadata %+v", evalErr)
	}
	if !errors.Is(err, base) || !errors.Is(err, ErrEvaluationFailed) {
		t.Fatalf("expected the error to match both base and ErrEvaluationFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), `"count > limit" in scope cart`) {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestWrapEvaluationErrorFillsExisting(t *testing.T) {
	existing := &EvaluationError{Engine: "expr", Scope: "unknown", Err: errors.New("compile failure")}

	err := wrapEvaluationError("cel", "rule", "checkout", existing)
	if err != error(existing) {
		t.Fatalf("expected the existing error to be returned, got %v", err)
	}
	if existing.Engine != "expr" {
		t.Fatalf("existing engine should not be overwritten, got %q", existing.Engine)
	}
	if existing.Expr != "rule" || existing.Scope != "checkout" {
		t.Fatalf("expected empty fields to be filled, got %+v", existing)
	}
	if wrapEvaluationError("expr", "x", "a", nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
}

func TestCompileErrorCarriesScope(t *testing.T) {
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{
		Tag:      "cart",
		State:    Entries{"count": 1},
		Formulas: map[any]Formula{"broken": ExpressionFormula(nil, "count +")},
	})

	_, err := a.Get("broken")
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %v", err)
	}
	if evalErr.Scope != "cart" || evalErr.Engine != "expr" {
		t.Fatalf("expected the compile error to name cart and expr, got %+v", evalErr)
	}
}
