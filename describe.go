package stores

import (
	"fmt"
	"sort"
	"strings"
)

// FieldDescriptor describes a path visible from a scope, the inferred type of
// its value, the layer it lives in and the scope that declares it.
type FieldDescriptor struct {
	Path  string `json:"path"`
	Type  string `json:"type"`
	Layer string `json:"layer"`
	Owner string `json:"owner"`
}

// Describe flattens every key visible from the scope into descriptors sorted
// by path. Formulas are listed with type "formula".
func (s *Scope) Describe() ([]FieldDescriptor, error) {
	if err := s.check("describe", nil); err != nil {
		return nil, err
	}
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()

	var fields []FieldDescriptor
	seen := map[any]bool{}
	for current := s; current != nil; current = current.parent {
		for root := range current.formulas {
			if seen[root] {
				continue
			}
			seen[root] = true
			fields = append(fields, FieldDescriptor{Path: keyPath(root), Type: "formula", Layer: "formula", Owner: current.Tag()})
		}
		for _, named := range []struct {
			name  layerName
			layer *layer
		}{{layerState, current.state}, {layerData, current.data}} {
			for root, value := range named.layer.own {
				if seen[root] {
					continue
				}
				seen[root] = true
				for _, field := range deriveFieldDescriptors(value, keyPath(root)) {
					field.Layer = named.name.String()
					field.Owner = current.Tag()
					fields = append(fields, field)
				}
			}
		}
	}
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].Path < fields[j].Path
	})
	if fields == nil {
		fields = []FieldDescriptor{}
	}
	return fields, nil
}

func keyPath(key any) string {
	if str, ok := key.(string); ok {
		return str
	}
	return fmt.Sprint(key)
}

func deriveFieldDescriptors(value any, prefix string) []FieldDescriptor {
	switch typed := value.(type) {
	case nil:
		return []FieldDescriptor{{Path: prefix, Type: "nil"}}
	case map[string]any:
		if len(typed) == 0 {
			return []FieldDescriptor{{
				Path: prefix,
				Type: "map[string]any",
			}}
		}
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var fields []FieldDescriptor
		for _, key := range keys {
			fields = append(fields, deriveFieldDescriptors(typed[key], joinPath(prefix, key))...)
		}
		return fields
	case []any:
		elementType := "any"
		if len(typed) > 0 {
			elementType = typeName(typed[0])
		}
		return []FieldDescriptor{{
			Path: prefix,
			Type: "[]" + elementType,
		}}
	default:
		return []FieldDescriptor{{
			Path: prefix,
			Type: typeName(typed),
		}}
	}
}

func typeName(value any) string {
	if value == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", value)
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return strings.Join([]string{prefix, segment}, ".")
}
