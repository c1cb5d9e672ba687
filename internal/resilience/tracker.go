// Package resilience provides reliability patterns for external service calls.
package resilience

import (
	"sort"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State string

const (
	// StateClosed permits requests.
	StateClosed State = "closed"
	// StateOpen blocks requests until the reset timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen permits exactly one in-flight trial request.
	StateHalfOpen State = "half_open"
)

// ProviderHealth is a point-in-time snapshot of one provider's circuit.
type ProviderHealth struct {
	Provider            string    `json:"provider"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at"`
	LastStateChangeAt   time.Time `json:"last_state_change_at"`
	TotalRequests       uint64    `json:"total_requests"`
	TotalFailures       uint64    `json:"total_failures"`
	TotalSuccesses      uint64    `json:"total_successes"`
}

// SuccessRate returns the fraction of settled requests that succeeded,
// or 1 when no requests have settled yet.
func (h ProviderHealth) SuccessRate() float64 {
	if h.TotalRequests == 0 {
		return 1
	}
	return float64(h.TotalSuccesses) / float64(h.TotalRequests)
}

// record holds one provider's circuit state behind its own lock.
type record struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	lastStateChangeAt   time.Time
	totalRequests       uint64
	totalFailures       uint64
	totalSuccesses      uint64
	trialInFlight       bool
}

// Tracker tracks per-provider circuit breaker state. Unknown provider IDs
// behave as fresh closed records. The open→half_open transition is observed
// lazily on IsAvailable, never scheduled; trial admission is a check-and-set
// so concurrent callers cannot share the single half-open trial.
type Tracker struct {
	mu               sync.Mutex
	providers        map[string]*record
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time // for testing
	onChange         func(ProviderHealth)
}

// NewTracker creates a Tracker that opens a provider's circuit after
// failureThreshold consecutive failures and keeps it open for resetTimeout
// before admitting a half-open trial.
func NewTracker(failureThreshold int, resetTimeout time.Duration) *Tracker {
	return &Tracker{
		providers:        make(map[string]*record),
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// OnChange registers a callback invoked after every state transition.
// The callback runs outside the provider lock. Must be set before use.
func (t *Tracker) OnChange(fn func(ProviderHealth)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Configure updates the failure threshold and reset timeout (hot reload).
func (t *Tracker) Configure(failureThreshold int, resetTimeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failureThreshold = failureThreshold
	t.resetTimeout = resetTimeout
}

func (t *Tracker) limits() (int, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failureThreshold, t.resetTimeout
}

func (t *Tracker) record(provider string) *record {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.providers[provider]
	if !ok {
		r = &record{state: StateClosed}
		t.providers[provider] = r
	}
	return r
}

// IsAvailable reports whether the provider may be called right now.
// For an open circuit past its reset timeout this admits the caller as the
// single half-open trial; callers that receive true while half-open MUST
// settle the attempt with RecordSuccess or RecordFailure.
func (t *Tracker) IsAvailable(provider string) bool {
	_, timeout := t.limits()
	r := t.record(provider)

	r.mu.Lock()
	var changed *ProviderHealth
	var ok bool
	switch r.state {
	case StateClosed:
		ok = true
	case StateOpen:
		if t.now().Sub(r.lastStateChangeAt) >= timeout {
			r.state = StateHalfOpen
			r.trialInFlight = true
			r.lastStateChangeAt = t.now()
			changed = r.snapshot(provider)
			ok = true
		}
	case StateHalfOpen:
		if !r.trialInFlight {
			r.trialInFlight = true
			ok = true
		}
	}
	r.mu.Unlock()

	t.notify(changed)
	return ok
}

// RecordSuccess settles a permitted attempt as successful.
func (t *Tracker) RecordSuccess(provider string) {
	r := t.record(provider)

	r.mu.Lock()
	var changed *ProviderHealth
	r.totalRequests++
	r.totalSuccesses++
	switch r.state {
	case StateHalfOpen:
		r.state = StateClosed
		r.consecutiveFailures = 0
		r.trialInFlight = false
		r.lastStateChangeAt = t.now()
		changed = r.snapshot(provider)
	case StateClosed:
		r.consecutiveFailures = 0
	case StateOpen:
		// Late success from an abandoned call; counters only.
	}
	r.mu.Unlock()

	t.notify(changed)
}

// RecordFailure settles a permitted attempt as failed. Timeouts count the
// same as failures. A half-open trial failure restarts the full cooldown
// without escalating it.
func (t *Tracker) RecordFailure(provider string) {
	threshold, _ := t.limits()
	r := t.record(provider)

	r.mu.Lock()
	var changed *ProviderHealth
	r.totalRequests++
	r.totalFailures++
	r.lastFailureAt = t.now()
	switch r.state {
	case StateHalfOpen:
		r.state = StateOpen
		r.trialInFlight = false
		r.lastStateChangeAt = t.now()
		changed = r.snapshot(provider)
	case StateClosed:
		r.consecutiveFailures++
		if r.consecutiveFailures >= threshold {
			r.state = StateOpen
			r.lastStateChangeAt = t.now()
			changed = r.snapshot(provider)
		}
	case StateOpen:
		// Late failure from an abandoned call; counters only.
	}
	r.mu.Unlock()

	t.notify(changed)
}

// Snapshot returns the current health of one provider.
func (t *Tracker) Snapshot(provider string) ProviderHealth {
	r := t.record(provider)
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.snapshot(provider)
}

// Snapshots returns the health of all known providers, sorted by name.
func (t *Tracker) Snapshots() []ProviderHealth {
	t.mu.Lock()
	names := make([]string, 0, len(t.providers))
	for name := range t.providers {
		names = append(names, name)
	}
	t.mu.Unlock()
	sort.Strings(names)

	out := make([]ProviderHealth, 0, len(names))
	for _, name := range names {
		out = append(out, t.Snapshot(name))
	}
	return out
}

// Reset administratively closes one provider's circuit and clears its
// consecutive-failure count. Cumulative counters are preserved.
func (t *Tracker) Reset(provider string) {
	r := t.record(provider)

	r.mu.Lock()
	r.state = StateClosed
	r.consecutiveFailures = 0
	r.trialInFlight = false
	r.lastStateChangeAt = t.now()
	changed := r.snapshot(provider)
	r.mu.Unlock()

	t.notify(changed)
}

// ResetAll administratively closes every known circuit.
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	names := make([]string, 0, len(t.providers))
	for name := range t.providers {
		names = append(names, name)
	}
	t.mu.Unlock()

	for _, name := range names {
		t.Reset(name)
	}
}

// snapshot must be called with r.mu held.
func (r *record) snapshot(provider string) *ProviderHealth {
	return &ProviderHealth{
		Provider:            provider,
		State:               r.state,
		ConsecutiveFailures: r.consecutiveFailures,
		LastFailureAt:       r.lastFailureAt,
		LastStateChangeAt:   r.lastStateChangeAt,
		TotalRequests:       r.totalRequests,
		TotalFailures:       r.totalFailures,
		TotalSuccesses:      r.totalSuccesses,
	}
}

func (t *Tracker) notify(h *ProviderHealth) {
	if h == nil {
		return
	}
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn(*h)
	}
}
