package layering

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

var (
	// ErrNotContainer indicates a path segment addressed a scalar value.
	ErrNotContainer = errors.New("layering: value is not a container")
	// ErrIndexOutOfRange indicates a slice segment outside the slice bounds.
	ErrIndexOutOfRange = errors.New("layering: index out of range")
	// ErrFieldNotFound indicates a struct has no field matching the segment.
	ErrFieldNotFound = errors.New("layering: field not found")
	// ErrTypeMismatch indicates the value cannot be stored in the container.
	ErrTypeMismatch = errors.New("layering: type mismatch")
)

// GetPath resolves segments below root. Maps are indexed by string keys,
// slices by decimal indexes and structs by field name or json tag.
func GetPath(root any, segments []string) (any, bool) {
	current := reflect.ValueOf(root)
	for _, segment := range segments {
		current = indirect(current)
		if !current.IsValid() {
			return nil, false
		}
		next, ok := child(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	if !current.IsValid() {
		return nil, len(segments) == 0
	}
	return current.Interface(), true
}

// SetPath returns a copy of root with value stored at segments. Only the
// containers along the path are cloned; siblings keep their references and
// root itself is never mutated. Missing intermediate containers are created
// as map[string]any.
func SetPath(root any, segments []string, value any) (any, error) {
	if len(segments) == 0 {
		return value, nil
	}
	if root == nil {
		root = map[string]any{}
	}
	head, rest := segments[0], segments[1:]
	v := reflect.ValueOf(root)

	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String && v.Type().Key().Kind() != reflect.Interface {
			return nil, fmt.Errorf("%w: map keyed by %s", ErrNotContainer, v.Type().Key())
		}
		key := reflect.ValueOf(head).Convert(keyType(v.Type()))
		var current any
		if existing := v.MapIndex(key); existing.IsValid() {
			current = existing.Interface()
		}
		next, err := SetPath(current, rest, value)
		if err != nil {
			return nil, err
		}
		elem, err := assignable(next, v.Type().Elem())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", head, err)
		}
		clone := shallowValue(v)
		clone.SetMapIndex(key, elem)
		return clone.Interface(), nil
	case reflect.Slice:
		index, err := strconv.Atoi(head)
		if err != nil || index < 0 || index > v.Len() {
			return nil, fmt.Errorf("%w: %s (len %d)", ErrIndexOutOfRange, head, v.Len())
		}
		var current any
		if index < v.Len() {
			current = v.Index(index).Interface()
		}
		next, err := SetPath(current, rest, value)
		if err != nil {
			return nil, err
		}
		elem, err := assignable(next, v.Type().Elem())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", head, err)
		}
		clone := shallowValue(v)
		if index == v.Len() {
			clone = reflect.Append(clone, elem)
		} else {
			clone.Index(index).Set(elem)
		}
		return clone.Interface(), nil
	case reflect.Pointer:
		if v.IsNil() || v.Elem().Kind() != reflect.Struct {
			return nil, fmt.Errorf("%w: %s", ErrNotContainer, v.Type())
		}
		updated, err := SetPath(v.Elem().Interface(), segments, value)
		if err != nil {
			return nil, err
		}
		clone := reflect.New(v.Type().Elem())
		clone.Elem().Set(reflect.ValueOf(updated))
		return clone.Interface(), nil
	case reflect.Struct:
		index, ok := fieldIndex(v.Type(), head)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrFieldNotFound, v.Type(), head)
		}
		next, err := SetPath(v.Field(index).Interface(), rest, value)
		if err != nil {
			return nil, err
		}
		elem, err := assignable(next, v.Type().Field(index).Type)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", head, err)
		}
		clone := shallowValue(v)
		clone.Field(index).Set(elem)
		return clone.Interface(), nil
	default:
		return nil, fmt.Errorf("%w: %s at %q", ErrNotContainer, v.Type(), head)
	}
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func child(v reflect.Value, segment string) (reflect.Value, bool) {
	switch v.Kind() {
	case reflect.Map:
		kind := v.Type().Key().Kind()
		if kind != reflect.String && kind != reflect.Interface {
			return reflect.Value{}, false
		}
		value := v.MapIndex(reflect.ValueOf(segment).Convert(keyType(v.Type())))
		return value, value.IsValid()
	case reflect.Slice, reflect.Array:
		index, err := strconv.Atoi(segment)
		if err != nil || index < 0 || index >= v.Len() {
			return reflect.Value{}, false
		}
		return v.Index(index), true
	case reflect.Struct:
		index, ok := fieldIndex(v.Type(), segment)
		if !ok {
			return reflect.Value{}, false
		}
		return v.Field(index), true
	default:
		return reflect.Value{}, false
	}
}

func keyType(mapType reflect.Type) reflect.Type {
	if mapType.Key().Kind() == reflect.Interface {
		return reflect.TypeOf("")
	}
	return mapType.Key()
}

func fieldIndex(structType reflect.Type, name string) (int, bool) {
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() {
			continue
		}
		if field.Name == name {
			return i, true
		}
		if tag, _, _ := strings.Cut(field.Tag.Get("json"), ","); tag != "" && tag == name {
			return i, true
		}
	}
	return 0, false
}

func assignable(value any, target reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(target), nil
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(target) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(target) && (target.Kind() != reflect.String || rv.Kind() == reflect.String) {
		return rv.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("%w: %s into %s", ErrTypeMismatch, rv.Type(), target)
}
