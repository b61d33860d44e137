package stores

import (
	"context"
	"fmt"
	"testing"
)

func benchChain(b *testing.B, depth int) *Scope {
	b.Helper()
	tree := New()
	b.Cleanup(func() { _ = tree.Close(context.Background()) })

	var parent *Scope
	for i := 0; i < depth; i++ {
		def := Definition{
			Tag:  fmt.Sprintf("level_%d", i),
			Data: Entries{"labels": map[string]any{"env": i}},
		}
		if i == 0 {
			def.State = Entries{"limits": map[string]any{"daily": 100, "weekly": 700}}
		}
		s, err := tree.Mount(context.Background(), parent, def)
		if err != nil {
			b.Fatalf("mount: %v", err)
		}
		parent = s
	}
	return parent
}

func BenchmarkTrace(b *testing.B) {
	leaf := benchChain(b, 10)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := leaf.Trace("limits.weekly"); err != nil {
			b.Fatalf("trace: %v", err)
		}
	}
}

func BenchmarkGetInherited(b *testing.B) {
	leaf := benchChain(b, 10)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := leaf.Get("limits.weekly"); err != nil {
			b.Fatalf("get: %v", err)
		}
	}
}
