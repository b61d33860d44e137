// Package openapi renders the keys visible from mounted scopes as an OpenAPI
// document: one component schema and one read path per scope.
package openapi

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	stores "github.com/goliatone/go-stores"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var ErrNoScopes = errors.New("openapi: at least one scope is required")

// Generator builds OpenAPI documents for scope trees.
type Generator struct {
	config generatorConfig
}

// NewGenerator constructs a generator with the supplied options.
func NewGenerator(opts ...GeneratorOption) Generator {
	cfg := defaultGeneratorConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return Generator{config: cfg}
}

// Generate documents every scope in scopes, keyed by its slash separated path.
func (g Generator) Generate(scopes map[string]*stores.Scope) (map[string]any, error) {
	if len(scopes) == 0 {
		return nil, ErrNoScopes
	}
	paths := make([]string, 0, len(scopes))
	for path := range scopes {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	components := map[string]any{}
	operations := map[string]any{}
	for _, path := range paths {
		name := componentName(path)
		if _, taken := components[name]; taken {
			return nil, fmt.Errorf("openapi: component name %q is used by more than one scope", name)
		}
		schema, err := scopeSchema(scopes[path])
		if err != nil {
			return nil, fmt.Errorf("openapi: scope %q: %w", path, err)
		}
		components[name] = schema
		operations[g.config.basePath+"/"+path] = map[string]any{
			"get": map[string]any{
				"operationId": "get:" + path,
				"responses": map[string]any{
					"200": map[string]any{
						"description": "Values visible from " + path,
						"content": map[string]any{
							g.config.contentType: map[string]any{
								"schema": map[string]any{"$ref": "#/components/schemas/" + name},
							},
						},
					},
				},
			},
		}
	}

	info := map[string]any{
		"title":   g.config.info.Title,
		"version": g.config.info.Version,
	}
	if g.config.info.Description != "" {
		info["description"] = g.config.info.Description
	}
	return map[string]any{
		"openapi":    g.config.openAPIVersion,
		"info":       info,
		"paths":      operations,
		"components": map[string]any{"schemas": components},
	}, nil
}

// scopeSchema combines the descriptors of a scope with its snapshot so each
// root property records the scope and layer that supply it.
func scopeSchema(scope *stores.Scope) (map[string]any, error) {
	fields, err := scope.Describe()
	if err != nil {
		return nil, err
	}
	view, err := scope.Snapshot()
	if err != nil {
		return nil, err
	}
	values, err := view.Map()
	if err != nil {
		return nil, err
	}

	properties := map[string]any{}
	for _, field := range fields {
		root, _, _ := strings.Cut(field.Path, ".")
		if _, done := properties[root]; done {
			continue
		}
		var property map[string]any
		if field.Layer == "formula" {
			property = map[string]any{"readOnly": true}
		} else {
			property, err = buildSchema(reflect.ValueOf(values[root]))
			if err != nil {
				return nil, err
			}
		}
		property["x-store-layer"] = field.Layer
		property["x-store-owner"] = field.Owner
		properties[root] = property
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
	}, nil
}

func componentName(path string) string {
	titler := cases.Title(language.English)
	var b strings.Builder
	for _, part := range strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '-' || r == '_' || r == '.' || r == ' '
	}) {
		b.WriteString(titler.String(part))
	}
	if b.Len() == 0 {
		return "Scope"
	}
	return b.String()
}

func buildSchema(rv reflect.Value) (map[string]any, error) {
	if !rv.IsValid() {
		return map[string]any{"nullable": true}, nil
	}
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return map[string]any{"nullable": true}, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Bool:
		return map[string]any{"type": "boolean"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return map[string]any{"type": "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}, nil
	case reflect.String:
		return map[string]any{"type": "string"}, nil
	case reflect.Struct:
		if rv.Type() == reflect.TypeOf(time.Time{}) {
			return map[string]any{"type": "string", "format": "date-time"}, nil
		}
		return schemaForStruct(rv)
	case reflect.Map:
		return schemaForMap(rv)
	case reflect.Slice, reflect.Array:
		return schemaForSlice(rv)
	case reflect.Func:
		return map[string]any{"type": "string", "format": "go:func", "readOnly": true}, nil
	default:
		return map[string]any{
			"type":   "string",
			"format": fmt.Sprintf("go:%s", rv.Type().String()),
		}, nil
	}
}

func schemaForMap(rv reflect.Value) (map[string]any, error) {
	if rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("openapi: map key type %s unsupported", rv.Type().Key())
	}
	properties := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		child, err := buildSchema(iter.Value())
		if err != nil {
			return nil, err
		}
		properties[iter.Key().String()] = child
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
	}, nil
}

func schemaForStruct(rv reflect.Value) (map[string]any, error) {
	rt := rv.Type()
	properties := map[string]any{}
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag := field.Tag.Get("json"); tag != "" {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		child, err := buildSchema(rv.Field(i))
		if err != nil {
			return nil, err
		}
		properties[name] = child
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
	}, nil
}

func schemaForSlice(rv reflect.Value) (map[string]any, error) {
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return map[string]any{"type": "string", "format": "byte"}, nil
	}
	items := map[string]any{}
	if rv.Len() > 0 {
		var err error
		if items, err = buildSchema(rv.Index(0)); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"type":  "array",
		"items": items,
	}, nil
}
