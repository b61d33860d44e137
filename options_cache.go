package stores

import "sync"

// ProgramCache stores compiled programs. Evaluators prefix keys with their
// engine name.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// WithProgramCache sets the cache shared by the evaluators the tree builds.
func WithProgramCache(cache ProgramCache) Option {
	return func(cfg *config) {
		cfg.programCache = cache
	}
}

type mapProgramCache struct {
	mu       sync.RWMutex
	programs map[string]any
}

// NewProgramCache returns an unbounded ProgramCache safe for concurrent use.
func NewProgramCache() ProgramCache {
	return &mapProgramCache{programs: map[string]any{}}
}

func (c *mapProgramCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.programs[key]
	return value, ok
}

func (c *mapProgramCache) Set(key string, value any) {
	c.mu.Lock()
	c.programs[key] = value
	c.mu.Unlock()
}
