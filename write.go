package stores

import (
	"context"
	"fmt"
	"sort"

	"github.com/goliatone/go-stores/layering"
)

// writeGroup collects the keys of one write that share an owner.
type writeGroup struct {
	owner  *Scope
	keys   []any
	values Entries
}

// redirect is a write to a protected key, turned into a dispatch at its owner.
type redirect struct {
	owner  *Scope
	key    any
	root   any
	action string
	value  any
}

// write applies values from origin. Owners commit in ascending depth, each
// commit completing before the next starts. Protected keys are dispatched
// after the direct commits and awaited.
func (t *Tree) write(ctx context.Context, origin *Scope, values any, strict bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	entries, ok := normalizeEntries(values)
	if !ok {
		return opError("set", origin, nil, fmt.Errorf("%w: expected a key/value map, got %T", ErrInvalidArguments, values))
	}
	keys := make([]any, 0, len(entries))
	for key := range entries {
		if !ValidKey(key) {
			return opError("set", origin, key, ErrInvalidKey)
		}
		keys = append(keys, key)
	}
	sortKeys(keys)
	if err := origin.check("set", nil); err != nil {
		return err
	}

	for _, key := range keys {
		value, err := awaitValue(ctx, entries[key])
		if err != nil {
			return opError("set", origin, key, err)
		}
		entries[key] = value
	}
	// the scope may have gone away while values settled
	if err := origin.check("set", nil); err != nil {
		return err
	}

	groups, redirects, err := t.resolveWrite(ctx, origin, keys, entries, strict)
	if err != nil {
		return err
	}
	for _, group := range groups {
		if _, err := t.host.ScheduleUpdate(ctx, group.owner, group.produce); err != nil {
			return err
		}
	}
	for _, r := range redirects {
		if err := t.redirect(ctx, r, strict); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) resolveWrite(ctx context.Context, origin *Scope, keys []any, entries Entries, strict bool) ([]*writeGroup, []redirect, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		groups    []*writeGroup
		redirects []redirect
	)
	index := map[*Scope]*writeGroup{}
	for _, key := range keys {
		root, err := Prefix(key)
		if err != nil {
			return nil, nil, opError("set", origin, key, err)
		}
		owner, _ := findOwner(origin, layerState, root)
		if owner == nil {
			cause := ErrNoOwnerFound
			if dataOwner, _ := findOwner(origin, layerData, root); dataOwner != nil {
				cause = ErrReadOnlyKeyWrite
			}
			wrapped := opError("set", origin, key, cause)
			if t.lenient(wrapped, strict) {
				t.warn("write dropped", wrapped, "scope", origin.Tag(), "key", describeKey(key))
				continue
			}
			return nil, nil, wrapped
		}
		if action, ok := owner.protected[root]; ok && !guarded(ctx, owner, root) {
			redirects = append(redirects, redirect{owner: owner, key: key, root: root, action: action, value: entries[key]})
			continue
		}
		group := index[owner]
		if group == nil {
			group = &writeGroup{owner: owner, values: Entries{}}
			index[owner] = group
			groups = append(groups, group)
		}
		group.keys = append(group.keys, key)
		group.values[key] = entries[key]
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].owner.depth < groups[j].owner.depth
	})
	for i := 1; i < len(groups); i++ {
		if groups[i].owner.depth != groups[i-1].owner.depth {
			continue
		}
		collision := &StoreError{
			Op:    "set",
			Scope: origin.Tag(),
			Err: fmt.Errorf("%w: %s and %s at depth %d", ErrDepthCollision,
				groups[i-1].owner.Tag(), groups[i].owner.Tag(), groups[i].owner.depth),
		}
		if t.cfg.mode == ModeDevelopment {
			panic(collision)
		}
		t.cfg.logger.Debug("owner depth collision", "err", collision)
	}
	return groups, redirects, nil
}

// produce builds the owner's next own state. Untouched roots keep their
// references and a write that changes nothing returns old itself.
func (g *writeGroup) produce(old Entries) (Entries, error) {
	patch := Entries{}
	for _, key := range g.keys {
		root, _ := Prefix(key)
		base, patched := patch[root]
		if !patched {
			base = old[root]
		}
		value := g.values[key]
		tail := pathTail(key)
		if tail == nil {
			patch[root] = value
			continue
		}
		if existing, found := layering.GetPath(base, tail); found && sameValue(existing, value) {
			patch[root] = base
			continue
		}
		next, err := layering.SetPath(base, tail, value)
		if err != nil {
			return nil, opError("set", g.owner, key, err)
		}
		patch[root] = next
	}
	for root, value := range patch {
		if current, ok := old[root]; ok && sameValue(current, value) {
			delete(patch, root)
		}
	}

	if reducer := g.owner.def.Reducer; reducer != nil && len(patch) > 0 {
		reduced, err := reducer(g.owner.snapshotLocked(), patch)
		if err != nil {
			return nil, err
		}
		for key := range reduced {
			if !g.owner.state.has(key) {
				return nil, fmt.Errorf("%w: %s is not owned by %s", ErrReducerContractViolation, describeKey(key), g.owner.Tag())
			}
		}
		patch = reduced
	}
	if len(patch) == 0 {
		return old, nil
	}

	next := make(Entries, len(old))
	for key, value := range old {
		next[key] = value
	}
	for key, value := range patch {
		next[key] = value
	}
	return next, nil
}

// redirect dispatches a protected write to the owner's action with the value
// and key as payload, and waits for the handler.
func (t *Tree) redirect(ctx context.Context, r redirect, strict bool) error {
	if depth := redirectDepth(ctx); depth >= t.cfg.maxProtectedDepth {
		return opError("set", r.owner, r.key, fmt.Errorf("%w: %d redirects", ErrProtectedRecursion, depth))
	}
	guardedCtx := withProtectedGuard(ctx, r.owner, r.root)
	_, err := t.dispatcher.dispatch(guardedCtx, r.owner, r.action, []any{r.value, r.key}, strict).Await(ctx)
	return err
}
