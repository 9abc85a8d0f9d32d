package upstream

import (
	"sort"
	"sync"
	"time"

	"rollcall/internal/metrics"
)

// State represents the health state of an upstream source.
type State int

const (
	Healthy State = iota
	Unhealthy
)

func (s State) String() string {
	if s == Unhealthy {
		return "unhealthy"
	}
	return "healthy"
}

// Status tracks the health-related state for a single source
type Status struct {
	Name         string    `json:"name"`
	State        State     `json:"-"`
	StateName    string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	LastError    string    `json:"last_error,omitempty"`
	LastChange   time.Time `json:"last_change"`
}

// Tracker manages the health state of upstream sources
type Tracker struct {
	mu      sync.RWMutex
	sources map[string]*Status
	policy  HealthPolicy
	metrics *metrics.Registry
}

// NewTracker creates a new Tracker
func NewTracker(policy HealthPolicy, reg *metrics.Registry) *Tracker {
	return &Tracker{
		sources: make(map[string]*Status),
		policy:  policy,
		metrics: reg,
	}
}

// Register adds a source, healthy until proven otherwise
func (t *Tracker) Register(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sources[name]; !exists {
		t.sources[name] = &Status{
			Name:       name,
			State:      Healthy,
			LastChange: time.Now(),
		}
	}
}

// MarkFailure records a failed call against name
func (t *Tracker) MarkFailure(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	src, ok := t.sources[name]
	if !ok {
		return
	}
	t.metrics.Inc(metrics.UpstreamFailuresTotal)

	src.FailureCount++
	src.SuccessCount = 0
	if err != nil {
		src.LastError = err.Error()
	}
	if src.State == Healthy && src.FailureCount >= t.policy.FailureThreshold {
		src.State = Unhealthy
		src.LastChange = time.Now()
		t.metrics.Inc(metrics.UpstreamUnhealthy)
	}
}

// MarkSuccess records a successful call against name
func (t *Tracker) MarkSuccess(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	src, ok := t.sources[name]
	if !ok {
		return
	}
	src.SuccessCount++
	src.FailureCount = 0
	if src.State == Unhealthy && src.SuccessCount >= t.policy.SuccessThreshold {
		src.State = Healthy
		src.LastError = ""
		src.LastChange = time.Now()
		t.metrics.Add(metrics.UpstreamUnhealthy, -1)
	}
}

func (t *Tracker) IsHealthy(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	src, ok := t.sources[name]
	return ok && src.State == Healthy
}

// Snapshot returns a copy of every tracked source, sorted by name.
func (t *Tracker) Snapshot() []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Status, 0, len(t.sources))
	for _, src := range t.sources {
		s := *src
		s.StateName = s.State.String()
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
