package stores

// Dispatch outcomes reported to Metrics.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeUnhandled = "unhandled"
)

// Metrics receives engine counters. pkg/metrics provides a Prometheus
// implementation.
type Metrics interface {
	ScopeMounted(tag string)
	ScopeUnmounted(tag string)
	Committed(tag string, keys int)
	Dispatched(action, outcome string)
	DispatchCancelled(action string)
}

type noopMetrics struct{}

func (noopMetrics) ScopeMounted(string) {}
func (noopMetrics) ScopeUnmounted(string) {}
func (noopMetrics) Committed(string, int) {}
func (noopMetrics) Dispatched(string, string) {}
func (noopMetrics) DispatchCancelled(string) {}
