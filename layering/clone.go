// Package layering holds the value plumbing behind scope writes: deep and
// shallow cloning plus copy-on-write patching of nested paths.
package layering

import "reflect"

// Clone returns a deep copy of value. Maps, slices, arrays, pointers and
// structs are copied recursively; other kinds are returned as-is.
func Clone[T any](value T) T {
	cloned := cloneValue(reflect.ValueOf(value))
	if !cloned.IsValid() {
		var zero T
		return zero
	}
	if out, ok := cloned.Interface().(T); ok {
		return out
	}
	return value
}

// ShallowClone copies the top level of a map, slice or struct so a single
// entry can be replaced without touching the original container. Nested
// values keep their references.
func ShallowClone(value any) any {
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return value
	}
	cloned := shallowValue(v)
	if !cloned.IsValid() {
		return value
	}
	return cloned.Interface()
}

func shallowValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return reflect.MakeMap(v.Type())
		}
		clone := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			clone.SetMapIndex(iter.Key(), iter.Value())
		}
		return clone
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(clone, v)
		return clone
	case reflect.Struct:
		clone := reflect.New(v.Type()).Elem()
		clone.Set(v)
		return clone
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		clone := reflect.New(v.Type().Elem())
		clone.Elem().Set(v.Elem())
		return clone
	default:
		return v
	}
}

// cloner deep-copies values. Pointers already copied on this call are reused,
// so shared and cyclic references keep their shape.
type cloner struct {
	pointers map[uintptr]reflect.Value
}

func cloneValue(v reflect.Value) reflect.Value {
	c := cloner{pointers: map[uintptr]reflect.Value{}}
	return c.value(v)
}

func (c cloner) value(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		if seen, ok := c.pointers[v.Pointer()]; ok {
			return seen
		}
		clone := reflect.New(v.Type().Elem())
		c.pointers[v.Pointer()] = clone
		clone.Elem().Set(c.value(v.Elem()))
		return clone
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		elem := c.value(v.Elem())
		if !elem.IsValid() {
			return reflect.Zero(v.Type())
		}
		return elem.Convert(v.Type())
	case reflect.Struct:
		clone := reflect.New(v.Type()).Elem()
		clone.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if field := clone.Field(i); field.CanSet() {
				field.Set(c.value(v.Field(i)))
			}
		}
		return clone
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			value := c.value(iter.Value())
			if !value.IsValid() {
				value = reflect.Zero(v.Type().Elem())
			}
			clone.SetMapIndex(iter.Key(), value)
		}
		return clone
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			if value := c.value(v.Index(i)); value.IsValid() {
				clone.Index(i).Set(value)
			}
		}
		return clone
	case reflect.Array:
		clone := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			clone.Index(i).Set(c.value(v.Index(i)))
		}
		return clone
	default:
		return v
	}
}
