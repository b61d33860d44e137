package stores

import (
	"context"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Binding is the normalized declaration of a consumer's interest in a key.
type Binding struct {
	// Prop is the name the value is exposed under.
	Prop string
	// Key is the source key. It defaults to Prop when a Formula is given.
	Key any
	// Formula derives the value instead of reading Key.
	Formula Formula
	// Publish requests a setter alongside the value.
	Publish bool
	// Target overrides the key the setter writes to.
	Target any
	// SetterName is where the setter is exposed. Defaults to "set" + Prop.
	SetterName string
}

// Setter writes a single value through the binding's target key.
type Setter func(ctx context.Context, value any) error

// Pair is a published binding in the slice form of GetMany.
type Pair struct {
	Value any
	Set   Setter
}

// SetterNameFor returns the default setter name for prop.
func SetterNameFor(prop string) string {
	return "set" + cases.Title(language.Und, cases.NoLower).String(prop)
}

// NormalizeBinding turns a raw declaration into a Binding. raw may be nil (prop
// names the key), a string or *Symbol key, a Formula or a Binding.
func NormalizeBinding(prop string, raw any) (Binding, error) {
	var binding Binding
	switch typed := raw.(type) {
	case nil:
		binding = Binding{Prop: prop, Key: prop}
	case string:
		binding = Binding{Prop: prop, Key: typed}
	case *Symbol:
		binding = Binding{Prop: prop, Key: typed}
	case Formula:
		binding = Binding{Prop: prop, Formula: typed}
	case func(Getter) (any, error):
		binding = Binding{Prop: prop, Formula: typed}
	case Binding:
		binding = typed
		if binding.Prop == "" {
			binding.Prop = prop
		}
	case *Binding:
		if typed == nil {
			return Binding{}, fmt.Errorf("%w: nil binding for %q", ErrInvalidBindingDefinition, prop)
		}
		binding = *typed
		if binding.Prop == "" {
			binding.Prop = prop
		}
	default:
		return Binding{}, fmt.Errorf("%w: unsupported declaration %T for %q", ErrInvalidBindingDefinition, raw, prop)
	}

	if binding.Formula != nil && binding.Key == nil {
		if binding.Prop == "" {
			return Binding{}, fmt.Errorf("%w: formula binding needs a prop name", ErrInvalidBindingDefinition)
		}
		binding.Key = binding.Prop
	}
	if binding.Key == nil || binding.Key == "" {
		return Binding{}, fmt.Errorf("%w: key is required for %q", ErrInvalidBindingDefinition, binding.Prop)
	}
	if !ValidKey(binding.Key) {
		return Binding{}, fmt.Errorf("%w: %v (%T)", ErrInvalidKey, binding.Key, binding.Key)
	}
	if binding.Prop == "" {
		if str, ok := binding.Key.(string); ok {
			binding.Prop = str
		}
	}
	if binding.Target != nil {
		if !ValidKey(binding.Target) {
			return Binding{}, fmt.Errorf("%w: publish target %v (%T)", ErrInvalidKey, binding.Target, binding.Target)
		}
		binding.Publish = true
	}
	if binding.Publish && binding.SetterName == "" {
		if _, isSymbol := binding.target().(*Symbol); isSymbol || binding.Prop == "" {
			return Binding{}, fmt.Errorf("%w: publishing %s needs an explicit setter name", ErrInvalidBindingDefinition, describeKey(binding.target()))
		}
		binding.SetterName = SetterNameFor(binding.Prop)
	}
	return binding, nil
}

func (b Binding) target() any {
	if b.Target != nil {
		return b.Target
	}
	return b.Key
}

// resolveBindingLocked reads the binding value and, for publishing bindings,
// builds a setter after checking the target is not data-only.
func (s *Scope) resolveBindingLocked(b Binding, strict bool) (any, Setter, error) {
	var (
		value any
		err   error
	)
	if b.Formula != nil {
		value, err = b.Formula(lockedGetter{scope: s})
		if err != nil {
			return nil, nil, opError("formula", s, b.Key, err)
		}
	} else {
		value, err = s.getLocked(b.Key)
		if err != nil {
			return nil, nil, err
		}
	}
	if !b.Publish {
		return value, nil, nil
	}

	target := b.target()
	root, err := Prefix(target)
	if err != nil {
		return nil, nil, opError("bind", s, target, err)
	}
	if owner, _ := findOwner(s, layerState, root); owner == nil {
		if dataOwner, _ := findOwner(s, layerData, root); dataOwner != nil {
			return nil, nil, opError("bind", s, target, ErrReadOnlyKeyWrite)
		}
	}
	setter := func(ctx context.Context, next any) error {
		return s.tree.write(ctx, s, Entries{target: next}, strict)
	}
	return value, setter, nil
}
