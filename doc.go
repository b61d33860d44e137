// Package stores is a hierarchical state-propagation engine.
//
// A Tree holds scopes. Each Scope declares read-only data and owned state,
// reads through to its ancestors, and routes every write to the nearest
// scope that declares the key. Writes spanning several owners commit root
// first. Actions are dispatched up the chain to the nearest handler and run
// deferred, with repeated dispatches inside one scheduler turn collapsed into
// the last one. Once a scope unmounts, every read, write and pending dispatch
// through it fails with ErrStoreUnmounted.
//
//	tree := stores.New()
//	defer tree.Close(ctx)
//
//	app, _ := tree.Mount(ctx, nil, stores.Definition{
//		Tag:   "app",
//		State: stores.Entries{"count": 0},
//	})
//	page, _ := tree.Mount(ctx, app, stores.Definition{Tag: "page"})
//
//	_ = page.Set(ctx, "count", 1) // committed on app
package stores
