package stores

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/goliatone/go-stores/pkg/activity"
	"github.com/goliatone/go-stores/pkg/state"
)

// Mode selects the diagnostic policy of a tree.
type Mode int

const (
	// ModeDevelopment fails loudly on lookup errors and depth collisions.
	ModeDevelopment Mode = iota
	// ModeProduction logs missing owners and handlers instead of failing.
	ModeProduction
)

func (m Mode) String() string {
	if m == ModeProduction {
		return "production"
	}
	return "development"
}

// ParseMode accepts "development"/"dev" and "production"/"prod".
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "development", "dev":
		return ModeDevelopment, nil
	case "production", "prod":
		return ModeProduction, nil
	default:
		return ModeDevelopment, fmt.Errorf("stores: unknown mode %q", value)
	}
}

// DefaultMaxProtectedDepth bounds chains of protected-key redirects.
const DefaultMaxProtectedDepth = 8

// Option configures a Tree.
type Option func(*config)

type config struct {
	mode              Mode
	logger            *slog.Logger
	scheduler         Scheduler
	middleware        []HostMiddleware
	stateStore        state.Store[Entries]
	metrics           Metrics
	activityHooks     activity.Hooks
	activityConfig    activity.Config
	activitySet       bool
	evaluator         Evaluator
	programCache      ProgramCache
	functions         *FunctionRegistry
	evaluatorLogger   EvaluatorLogger
	errorHandler      func(*Scope, error)
	maxProtectedDepth int
	now               func() time.Time
	optionErrs        []error
}

func applyOptions(opts []Option) config {
	cfg := config{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.metrics == nil {
		cfg.metrics = noopMetrics{}
	}
	if cfg.stateStore == nil {
		cfg.stateStore = state.NewMemoryStore[Entries]()
	}
	if cfg.evaluatorLogger == nil {
		cfg.evaluatorLogger = noopEvaluatorLogger{}
	}
	if cfg.maxProtectedDepth <= 0 {
		cfg.maxProtectedDepth = DefaultMaxProtectedDepth
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return cfg
}

// WithMode sets the diagnostic policy.
func WithMode(mode Mode) Option {
	return func(cfg *config) {
		cfg.mode = mode
	}
}

// WithLogger sets the structured logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithScheduler replaces the default goroutine loop. The tree does not close
// schedulers it did not create.
func WithScheduler(scheduler Scheduler) Option {
	return func(cfg *config) {
		cfg.scheduler = scheduler
	}
}

// WithHostMiddleware wraps the host used to commit state updates. Middleware
// applies in the order given, the first being outermost.
func WithHostMiddleware(middleware ...HostMiddleware) Option {
	return func(cfg *config) {
		for _, mw := range middleware {
			if mw != nil {
				cfg.middleware = append(cfg.middleware, mw)
			}
		}
	}
}

// WithStateStore records committed own state in store instead of a private
// in-memory store.
func WithStateStore(store state.Store[Entries]) Option {
	return func(cfg *config) {
		cfg.stateStore = store
	}
}

// WithMetrics attaches a metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(cfg *config) {
		cfg.metrics = metrics
	}
}

// WithEvaluator sets the evaluator used by expression formulas that do not
// bring their own.
func WithEvaluator(e Evaluator) Option {
	return func(cfg *config) {
		cfg.evaluator = e
	}
}

// WithErrorHandler receives render errors no error boundary handled.
func WithErrorHandler(handler func(*Scope, error)) Option {
	return func(cfg *config) {
		cfg.errorHandler = handler
	}
}

// WithMaxProtectedDepth bounds how many protected-key redirects may chain
// inside one write.
func WithMaxProtectedDepth(depth int) Option {
	return func(cfg *config) {
		cfg.maxProtectedDepth = depth
	}
}

// WithClock overrides the time source used for commit metadata.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		cfg.now = now
	}
}
