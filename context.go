package stores

import "context"

type scopeContextKey struct{}

// WithScope returns a context that provides s to everything below it until a
// nearer WithScope shadows it.
func WithScope(ctx context.Context, s *Scope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeContextKey{}, s)
}

// FromContext returns the nearest scope provided through ctx, or nil.
func FromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeContextKey{}).(*Scope)
	return s
}

type protectedGuardKey struct{}

// protectedGuard marks that a handler is running for a protected key and
// counts how many redirects led here.
type protectedGuard struct {
	owner  *Scope
	key    any
	depth  int
	parent *protectedGuard
}

func guardFrom(ctx context.Context) *protectedGuard {
	if ctx == nil {
		return nil
	}
	guard, _ := ctx.Value(protectedGuardKey{}).(*protectedGuard)
	return guard
}

// withProtectedGuard records that writes to key at owner are privileged below
// the returned context.
func withProtectedGuard(ctx context.Context, owner *Scope, key any) context.Context {
	parent := guardFrom(ctx)
	depth := 1
	if parent != nil {
		depth = parent.depth + 1
	}
	return context.WithValue(ctx, protectedGuardKey{}, &protectedGuard{
		owner:  owner,
		key:    key,
		depth:  depth,
		parent: parent,
	})
}

// guarded reports whether ctx is inside the handler of the protected key.
func guarded(ctx context.Context, owner *Scope, key any) bool {
	for guard := guardFrom(ctx); guard != nil; guard = guard.parent {
		if guard.owner == owner && guard.key == key {
			return true
		}
	}
	return false
}

func redirectDepth(ctx context.Context) int {
	if guard := guardFrom(ctx); guard != nil {
		return guard.depth
	}
	return 0
}
