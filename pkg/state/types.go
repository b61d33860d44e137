package state

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"
)

var ErrRevisionMismatch = errors.New("state: revision mismatch")

// Ref identifies the own-state record of one scope.
type Ref struct {
	ScopeID string
	Tag     string
}

// Meta is storage-owned metadata used for ordering and auditing commits.
type Meta struct {
	Revision  uint64            `json:"revision"`
	UpdatedAt time.Time         `json:"updated_at,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Store loads/saves one snapshot for a single scope reference.
type Store[T any] interface {
	Load(ctx context.Context, ref Ref) (snapshot T, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error)
	Delete(ctx context.Context, ref Ref) error
}

// Committer serialises mutations against a Store.
type Committer[T any] struct {
	Store Store[T]
	Now   func() time.Time
}

type Mutator[T any] func(*T) error

// Identifier returns the deterministic storage key for the reference.
func (r Ref) Identifier() (string, error) {
	if r.ScopeID == "" {
		return "", fmt.Errorf("state: scope id is required (tag %q)", r.Tag)
	}
	return fmt.Sprintf("scope/%s", r.ScopeID), nil
}

// Mutate loads the snapshot for ref, checks that its revision equals
// expected.Revision, applies fn, validates the result when it implements
// Validate() error, then saves it with the next revision.
func (c Committer[T]) Mutate(ctx context.Context, ref Ref, expected Meta, fn Mutator[T]) (T, Meta, error) {
	var zero T
	if c.Store == nil {
		return zero, Meta{}, fmt.Errorf("state: store is required")
	}
	if fn == nil {
		return zero, Meta{}, fmt.Errorf("state: mutator is required")
	}

	snapshot, loaded, ok, err := c.Store.Load(ctx, ref)
	if err != nil {
		return zero, Meta{}, fmt.Errorf("state: load %q: %w", ref.Tag, err)
	}
	if !ok {
		snapshot = zero
		loaded = Meta{}
	}

	if expected.Revision != loaded.Revision {
		return zero, loaded, fmt.Errorf("%w: expected %d, got %d", ErrRevisionMismatch, expected.Revision, loaded.Revision)
	}

	if err := fn(&snapshot); err != nil {
		return zero, loaded, err
	}
	if err := validateValue(snapshot); err != nil {
		return zero, loaded, err
	}

	next := mergeMeta(loaded, expected)
	next.Revision = loaded.Revision + 1
	next.UpdatedAt = c.now()
	saved, err := c.Store.Save(ctx, ref, snapshot, next)
	if err != nil {
		return zero, loaded, fmt.Errorf("state: save %q: %w", ref.Tag, err)
	}
	return snapshot, saved, nil
}

func (c Committer[T]) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func validateValue[T any](value T) error {
	if v, ok := any(value).(interface{ Validate() error }); ok {
		return v.Validate()
	}
	if rv := reflect.ValueOf(value); rv.IsValid() && rv.Kind() != reflect.Pointer && rv.CanAddr() {
		if v, ok := rv.Addr().Interface().(interface{ Validate() error }); ok {
			return v.Validate()
		}
	}
	return nil
}

func mergeMeta(base, override Meta) Meta {
	out := base
	if override.Extra != nil {
		out.Extra = override.Extra
	}
	return out
}
