package stores

import (
	"math"
	"reflect"
)

// Entries maps keys (strings or *Symbol) to values.
type Entries map[any]any

type layerName int

const (
	layerData layerName = iota
	layerState
)

func (n layerName) String() string {
	if n == layerState {
		return "state"
	}
	return "data"
}

// layer holds one scope's own entries and falls through to the parent's layer
// of the same name on lookup.
type layer struct {
	own    Entries
	parent *layer
}

func newLayer(parent *layer, own Entries) *layer {
	if own == nil {
		own = Entries{}
	}
	return &layer{own: own, parent: parent}
}

// has reports whether key is an own entry of this layer.
func (l *layer) has(key any) bool {
	if l == nil {
		return false
	}
	_, ok := l.own[key]
	return ok
}

// lookup reads key from this layer or the nearest ancestor layer declaring it.
func (l *layer) lookup(key any) (any, bool) {
	for current := l; current != nil; current = current.parent {
		if value, ok := current.own[key]; ok {
			return value, true
		}
	}
	return nil, false
}

// replace swaps the own entries for entries, touching only keys whose value
// changed and deleting keys that are gone. It returns the changed keys.
func (l *layer) replace(entries Entries) []any {
	var changed []any
	for key, value := range entries {
		current, ok := l.own[key]
		if ok && sameValue(current, value) {
			continue
		}
		l.own[key] = value
		changed = append(changed, key)
	}
	for key := range l.own {
		if _, ok := entries[key]; !ok {
			delete(l.own, key)
			changed = append(changed, key)
		}
	}
	sortKeys(changed)
	return changed
}

// sameValue compares by identity for reference kinds and by value otherwise.
// NaN equals itself.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Len() == vb.Len() && va.Pointer() == vb.Pointer()
	case reflect.Float32, reflect.Float64:
		fa, fb := va.Float(), vb.Float()
		return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
	}
	if !va.Type().Comparable() {
		return false
	}
	return safeEqual(a, b)
}

func safeEqual(a, b any) (equal bool) {
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return a == b
}
