package stores

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidKey indicates a key that is neither a non-empty string nor a Symbol.
	ErrInvalidKey = errors.New("stores: invalid key")
	// ErrInvalidArguments indicates a call shape the accessor API does not accept.
	ErrInvalidArguments = errors.New("stores: invalid arguments")
	// ErrInvalidBindingDefinition indicates a binding declaration that cannot be normalized.
	ErrInvalidBindingDefinition = errors.New("stores: invalid binding definition")
	// ErrNoOwnerFound indicates no scope in the chain declares the key.
	ErrNoOwnerFound = errors.New("stores: no owner found")
	// ErrNoHandlerFound indicates no scope in the chain handles the action.
	ErrNoHandlerFound = errors.New("stores: no handler found")
	// ErrReadOnlyKeyWrite indicates a write routed through a data-only key.
	ErrReadOnlyKeyWrite = errors.New("stores: key is read-only")
	// ErrStoreUnmounted indicates access to a scope after teardown.
	ErrStoreUnmounted = errors.New("stores: store unmounted")
	// ErrReducerContractViolation indicates a reducer returned keys its scope does not own.
	ErrReducerContractViolation = errors.New("stores: reducer contract violation")
	// ErrDirectMutation indicates an attempt to mutate a snapshot instead of using Set.
	ErrDirectMutation = errors.New("stores: direct mutation is not allowed, use Scope.Set")
	// ErrProtectedRecursion indicates protected-key redirects chained past the configured bound.
	ErrProtectedRecursion = errors.New("stores: protected key redirect depth exceeded")
	// ErrSchedulerClosed indicates work was deferred onto a stopped scheduler.
	ErrSchedulerClosed = errors.New("stores: scheduler closed")
	// ErrDepthCollision reports two distinct owners at the same depth in one write.
	ErrDepthCollision = errors.New("stores: owner depth collision")
	// ErrEvaluationFailed matches every EvaluationError.
	ErrEvaluationFailed = errors.New("stores: expression evaluation failed")
)

// StoreError captures the operation metadata alongside the originating error.
type StoreError struct {
	Op      string
	Scope   string
	Key     any
	Action  string
	Payload []any
	Err     error
}

func (e *StoreError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("stores: ")
	b.WriteString(e.Op)
	if e.Scope != "" {
		fmt.Fprintf(&b, " scope=%s", e.Scope)
	}
	if e.Key != nil {
		fmt.Fprintf(&b, " key=%s", describeKey(e.Key))
	}
	if e.Action != "" {
		fmt.Fprintf(&b, " action=%q", e.Action)
	}
	if e.Payload != nil {
		fmt.Fprintf(&b, " payload=%v", e.Payload)
	}
	b.WriteString(": ")
	b.WriteString(strings.TrimPrefix(errString(e.Err), "stores: "))
	return b.String()
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

func describeKey(key any) string {
	switch typed := key.(type) {
	case string:
		return fmt.Sprintf("%q", typed)
	case *Symbol:
		return typed.String()
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// opError wraps err with operation metadata unless it already carries some.
func opError(op string, s *Scope, key any, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	return &StoreError{Op: op, Scope: s.Tag(), Key: key, Err: err}
}

func handlerError(s *Scope, action string, payload []any) error {
	if payload == nil {
		payload = []any{}
	}
	return &StoreError{
		Op:      "dispatch",
		Scope:   s.Tag(),
		Action:  action,
		Payload: payload,
		Err:     ErrNoHandlerFound,
	}
}

// lenient reports whether err may be downgraded to a logged diagnostic.
func lenient(err error) bool {
	return errors.Is(err, ErrNoOwnerFound) || errors.Is(err, ErrNoHandlerFound)
}
