package stores

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSetterNameFor(t *testing.T) {
	cases := map[string]string{
		"count":    "setCount",
		"userName": "setUserName",
		"x":        "setX",
	}
	for prop, want := range cases {
		if got := SetterNameFor(prop); got != want {
			t.Fatalf("SetterNameFor(%q): expected %q, got %q", prop, want, got)
		}
	}
}

func TestNormalizeBinding(t *testing.T) {
	sym := NewSymbol("token")
	double := Formula(func(Getter) (any, error) { return 2, nil })

	got, err := NormalizeBinding("count", nil)
	if err != nil || got.Key != "count" || got.Prop != "count" {
		t.Fatalf("expected prop to name the key, got %+v (%v)", got, err)
	}
	got, err = NormalizeBinding("total", "cart.total")
	if err != nil || got.Key != "cart.total" || got.Prop != "total" {
		t.Fatalf("expected an aliased key, got %+v (%v)", got, err)
	}
	got, err = NormalizeBinding("double", double)
	if err != nil || got.Key != "double" || got.Formula == nil {
		t.Fatalf("expected a formula binding keyed by prop, got %+v (%v)", got, err)
	}
	got, err = NormalizeBinding("count", Binding{Key: "count", Publish: true})
	if err != nil || got.SetterName != "setCount" {
		t.Fatalf("expected the default setter name, got %+v (%v)", got, err)
	}
	got, err = NormalizeBinding("token", Binding{Key: sym, Publish: true, SetterName: "rotate"})
	if err != nil || got.SetterName != "rotate" {
		t.Fatalf("expected the explicit setter name, got %+v (%v)", got, err)
	}

	if _, err := NormalizeBinding("token", Binding{Key: sym, Publish: true}); !errors.Is(err, ErrInvalidBindingDefinition) {
		t.Fatalf("expected a symbol without setter name to fail, got %v", err)
	}
	if _, err := NormalizeBinding("", Binding{}); !errors.Is(err, ErrInvalidBindingDefinition) {
		t.Fatalf("expected a missing key to fail, got %v", err)
	}
	if _, err := NormalizeBinding("n", Binding{Key: 3}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := NormalizeBinding("n", 3.5); !errors.Is(err, ErrInvalidBindingDefinition) {
		t.Fatalf("expected an unsupported declaration to fail, got %v", err)
	}
}

func TestGetManyForms(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{
		Tag:   "a",
		Data:  Entries{"title": "cart"},
		State: Entries{"count": 2, "label": "two"},
	})
	b := mustMount(t, tree, a, Definition{Tag: "b"})

	single, err := b.GetMany("count")
	if err != nil || single != 2 {
		t.Fatalf("expected 2, got %v (%v)", single, err)
	}

	list, err := b.GetMany([]string{"count", "title"})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if diff := cmp.Diff([]any{2, "cart"}, list); diff != "" {
		t.Fatalf("unexpected values (-want +got):\n%s", diff)
	}

	mixed, err := b.GetMany([]any{"label", Binding{Key: "count", Publish: true}})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	values := mixed.([]any)
	pair, ok := values[1].(Pair)
	if values[0] != "two" || !ok || pair.Value != 2 {
		t.Fatalf("expected a value and a pair, got %v", values)
	}
	if err := pair.Set(ctx, 9); err != nil {
		t.Fatalf("pair set: %v", err)
	}
	if got := mustGet(t, a, "count"); got != 9 {
		t.Fatalf("expected the pair to write through, got %v", got)
	}

	props, err := b.GetMany(map[string]any{
		"count":  nil,
		"name":   "title",
		"double": func(g Getter) (any, error) {
			v, err := g.Get("count")
			if err != nil {
				return nil, err
			}
			return v.(int) * 2, nil
		},
		"label": Binding{Key: "label", Publish: true},
	})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	out := props.(map[string]any)
	if out["count"] != 9 || out["name"] != "cart" || out["double"] != 18 || out["label"] != "two" {
		t.Fatalf("unexpected props %v", out)
	}
	setLabel, ok := out["setLabel"].(Setter)
	if !ok {
		t.Fatalf("expected a setLabel setter, got %T", out["setLabel"])
	}
	if err := setLabel(ctx, "nine"); err != nil {
		t.Fatalf("setter: %v", err)
	}
	if got := mustGet(t, a, "label"); got != "nine" {
		t.Fatalf("expected nine, got %v", got)
	}
}

func TestGetManyErrors(t *testing.T) {
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{Tag: "a", Data: Entries{"title": "t"}})

	if _, err := a.GetMany(42); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", err)
	}
	if _, err := a.GetMany(map[string]any{"bad": 42}); !errors.Is(err, ErrInvalidBindingDefinition) {
		t.Fatalf("expected ErrInvalidBindingDefinition, got %v", err)
	}
	if _, err := a.GetMany(map[string]any{"title": Binding{Key: "title", Publish: true}}); !errors.Is(err, ErrReadOnlyKeyWrite) {
		t.Fatalf("expected ErrReadOnlyKeyWrite for a data-only key, got %v", err)
	}
}

func TestBindingTargetOverride(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t)
	a := mustMount(t, tree, nil, Definition{Tag: "a", Data: Entries{"shown": "x"}, State: Entries{"draft": ""}})

	props, err := a.GetMany(map[string]any{"shown": Binding{Key: "shown", Target: "draft"}})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	setter := props.(map[string]any)["setShown"].(Setter)
	if err := setter(ctx, "typed"); err != nil {
		t.Fatalf("setter: %v", err)
	}
	if got := mustGet(t, a, "draft"); got != "typed" {
		t.Fatalf("expected the target to receive the write, got %v", got)
	}
}
