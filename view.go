package stores

import (
	"fmt"

	"github.com/goliatone/go-stores/layering"
)

// View is a frozen snapshot of the merged data and state visible from a scope.
// Reads fail once the scope unmounts, and Has, Keys and Len then report an
// empty view; writes always fail.
type View struct {
	scope   *Scope
	entries Entries
}

// Scope returns the scope the snapshot was taken from.
func (v View) Scope() *Scope {
	return v.scope
}

// Get reads key from the snapshot. Dotted keys descend into nested values.
func (v View) Get(key any) (any, error) {
	if err := v.check("view.get", key); err != nil {
		return nil, err
	}
	root, err := Prefix(key)
	if err != nil {
		return nil, opError("view.get", v.scope, key, err)
	}
	value, ok := v.entries[root]
	if !ok {
		return nil, nil
	}
	if tail := pathTail(key); tail != nil {
		nested, _ := layering.GetPath(value, tail)
		return nested, nil
	}
	return value, nil
}

// Has reports whether the root segment of key is present in the snapshot.
func (v View) Has(key any) bool {
	if v.check("view.has", key) != nil {
		return false
	}
	root, err := Prefix(key)
	if err != nil {
		return false
	}
	_, ok := v.entries[root]
	return ok
}

// Keys returns the snapshot keys in deterministic order.
func (v View) Keys() []any {
	if v.check("view.keys", nil) != nil {
		return nil
	}
	keys := make([]any, 0, len(v.entries))
	for key := range v.entries {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys
}

// Len returns the number of root keys in the snapshot.
func (v View) Len() int {
	if v.check("view.len", nil) != nil {
		return 0
	}
	return len(v.entries)
}

// Set always fails: snapshots are immutable and writes go through Scope.Set.
func (v View) Set(key, _ any) error {
	return &StoreError{Op: "view.set", Scope: v.scope.Tag(), Key: key, Err: ErrDirectMutation}
}

// Delete always fails for the same reason as Set.
func (v View) Delete(key any) error {
	return &StoreError{Op: "view.delete", Scope: v.scope.Tag(), Key: key, Err: ErrDirectMutation}
}

// Map returns the string-keyed entries of the snapshot. Symbol keys are
// rendered with their diagnostic name.
func (v View) Map() (map[string]any, error) {
	if err := v.check("view.map", nil); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(v.entries))
	for key, value := range v.entries {
		switch typed := key.(type) {
		case string:
			out[typed] = value
		default:
			out[fmt.Sprint(typed)] = value
		}
	}
	return out, nil
}

func (v View) check(op string, key any) error {
	if v.scope != nil && v.scope.Unmounted() {
		return &StoreError{Op: op, Scope: v.scope.Tag(), Key: key, Err: ErrStoreUnmounted}
	}
	return nil
}
