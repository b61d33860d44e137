package stores

import (
	"fmt"
	"sort"

	"github.com/goliatone/go-stores/internal/hydrate"
)

// Hydrate resolves spec, a map of prop name to binding, through a and decodes
// the result into T. Fields match json tags; published setters decode into
// fields of type Setter. T is validated when it implements Validate() error.
func Hydrate[T any](a interface{ GetMany(spec any) (any, error) }, spec map[string]any) (T, error) {
	var zero T
	if a == nil {
		return zero, fmt.Errorf("%w: accessor is required", ErrInvalidArguments)
	}
	resolved, err := a.GetMany(spec)
	if err != nil {
		return zero, err
	}
	payload, ok := resolved.(map[string]any)
	if !ok {
		if resolved == nil {
			payload = map[string]any{}
		} else {
			return zero, fmt.Errorf("%w: spec resolved to %T", ErrInvalidArguments, resolved)
		}
	}

	ctx := hydrate.Context{Props: make([]string, 0, len(spec))}
	for prop := range spec {
		ctx.Props = append(ctx.Props, prop)
	}
	sort.Strings(ctx.Props)
	if tagged, ok := a.(interface{ Tag() string }); ok {
		ctx.Scope = tagged.Tag()
	}

	decoder := hydrate.NewDecoder[T](hydrate.WithPostHook[T](func(_ hydrate.Context, value *T) error {
		return validateValue(value)
	}))
	return decoder.Decode(ctx, payload)
}

func validateValue(value any) error {
	if v, ok := value.(interface{ Validate() error }); ok {
		return v.Validate()
	}
	return nil
}
