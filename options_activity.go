package stores

import (
	"context"

	"github.com/goliatone/go-stores/pkg/activity"
)

// WithActivityHooks attaches activity hooks notified on mounts, commits,
// dispatches and unmounts. Hooks are cloned and nil entries dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := cloneActivityHooks(hooks)
	return func(cfg *config) {
		cfg.activityHooks = normalized
		if !cfg.activitySet {
			cfg.activityConfig.Enabled = true
		}
	}
}

// WithActivityConfig sets the emitter defaults (channel, actor, tenant).
func WithActivityConfig(activityCfg activity.Config) Option {
	return func(cfg *config) {
		cfg.activityConfig = activityCfg
		cfg.activitySet = true
	}
}

// ActivityHooks returns a clone of the hooks configured on the tree.
func (t *Tree) ActivityHooks() activity.Hooks {
	if t == nil {
		return nil
	}
	return cloneActivityHooks(t.cfg.activityHooks)
}

func cloneActivityHooks(hooks activity.Hooks) activity.Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]activity.ActivityHook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	if len(normalized) == 0 {
		return nil
	}
	return activity.Hooks(normalized)
}

func scopeContext(s *Scope) activity.ScopeContext {
	if s == nil {
		return activity.ScopeContext{}
	}
	out := activity.ScopeContext{
		ID:    s.ID(),
		Tag:   s.Tag(),
		Depth: s.depth,
	}
	if s.parent != nil {
		out.Parent = s.parent.ID()
	}
	return out
}

func (t *Tree) emit(ctx context.Context, event activity.Event) {
	if !t.emitter.Enabled() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := t.emitter.Emit(ctx, event); err != nil {
		t.cfg.logger.Debug("activity hook failed", "verb", event.Verb, "err", err)
	}
}

func keyNames(keys []any) []string {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if str, ok := key.(string); ok {
			names = append(names, str)
			continue
		}
		names = append(names, describeKey(key))
	}
	return names
}
