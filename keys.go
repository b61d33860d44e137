package stores

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Symbol is a unique key. Two symbols with the same name are distinct keys and
// a symbol is never split into path segments.
type Symbol struct {
	name string
	id   uuid.UUID
}

// NewSymbol creates a unique key labelled name.
func NewSymbol(name string) *Symbol {
	return &Symbol{name: name, id: uuid.New()}
}

// Name returns the label given at creation.
func (s *Symbol) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

func (s *Symbol) String() string {
	if s == nil {
		return "Symbol(<nil>)"
	}
	return fmt.Sprintf("Symbol(%s)", s.name)
}

// ValidKey reports whether key is a non-empty string or a Symbol.
func ValidKey(key any) bool {
	switch typed := key.(type) {
	case string:
		return typed != ""
	case *Symbol:
		return typed != nil
	default:
		return false
	}
}

// Prefix returns the root segment used for ownership lookup: the symbol itself
// or the first dotted segment of a string key.
func Prefix(key any) (any, error) {
	if !ValidKey(key) {
		return nil, fmt.Errorf("%w: %v (%T)", ErrInvalidKey, key, key)
	}
	if str, ok := key.(string); ok {
		root, _, _ := strings.Cut(str, ".")
		if root == "" {
			return nil, fmt.Errorf("%w: %q has an empty root segment", ErrInvalidKey, str)
		}
		return root, nil
	}
	return key, nil
}

// pathTail returns the dotted segments after the root, nil for symbols and
// single-segment keys.
func pathTail(key any) []string {
	str, ok := key.(string)
	if !ok {
		return nil
	}
	segments := strings.Split(str, ".")
	if len(segments) < 2 {
		return nil
	}
	return segments[1:]
}

// sortKeys orders keys deterministically: strings first lexically, then
// symbols by name and identity.
func sortKeys(keys []any) {
	slices.SortStableFunc(keys, func(a, b any) int {
		as, aStr := a.(string)
		bs, bStr := b.(string)
		switch {
		case aStr && bStr:
			return cmp.Compare(as, bs)
		case aStr:
			return -1
		case bStr:
			return 1
		}
		sa, _ := a.(*Symbol)
		sb, _ := b.(*Symbol)
		if c := cmp.Compare(sa.Name(), sb.Name()); c != 0 {
			return c
		}
		if sa == nil || sb == nil {
			return 0
		}
		return cmp.Compare(sa.id.String(), sb.id.String())
	})
}

func normalizeEntries(values any) (map[any]any, bool) {
	switch typed := values.(type) {
	case Entries:
		out := make(map[any]any, len(typed))
		for k, v := range typed {
			out[k] = v
		}
		return out, true
	case map[any]any:
		out := make(map[any]any, len(typed))
		for k, v := range typed {
			out[k] = v
		}
		return out, true
	case map[string]any:
		out := make(map[any]any, len(typed))
		for k, v := range typed {
			out[k] = v
		}
		return out, true
	default:
		return nil, false
	}
}
