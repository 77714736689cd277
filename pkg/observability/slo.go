package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Objective is the latency and success target for one tracked operation.
type Objective struct {
	Operation   string        `json:"operation"`
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"`
	// Window bounds how far back observations count. Zero keeps them all.
	Window time.Duration `json:"window"`
}

// Observation is one finished operation. Code is the failure code, empty
// when the operation succeeded.
type Observation struct {
	Operation string
	Latency   time.Duration
	Code      string
	At        time.Time
}

// Report summarises the observations inside an objective's window.
type Report struct {
	Operation    string         `json:"operation"`
	Runs         int            `json:"runs"`
	SuccessRate  float64        `json:"success_rate"`
	P99          time.Duration  `json:"p99"`
	BurnRate     float64        `json:"burn_rate"`
	BudgetLeft   float64        `json:"budget_left_pct"`
	Failures     map[string]int `json:"failures,omitempty"`
	InCompliance bool           `json:"in_compliance"`
}

func (r Report) String() string {
	state := "in compliance"
	if !r.InCompliance {
		state = "OUT OF COMPLIANCE"
	}
	return fmt.Sprintf("%s: %d runs, success %.1f%%, p99 %s, budget left %.1f%%, %s",
		r.Operation, r.Runs, r.SuccessRate*100, r.P99, r.BudgetLeft, state)
}

// SLOTracker keeps observations per operation and reports them against
// their objectives. Observations for operations without an objective are
// dropped.
type SLOTracker struct {
	mu           sync.Mutex
	objectives   map[string]Objective
	observations map[string][]Observation
	clock        func() time.Time
}

// NewSLOTracker creates a tracker for the given objectives.
func NewSLOTracker(objectives ...Objective) *SLOTracker {
	t := &SLOTracker{
		objectives:   make(map[string]Objective, len(objectives)),
		observations: make(map[string][]Observation),
		clock:        time.Now,
	}
	for _, o := range objectives {
		t.objectives[o.Operation] = o
	}
	return t
}

// WithClock overrides the clock for deterministic testing.
func (t *SLOTracker) WithClock(clock func() time.Time) *SLOTracker {
	t.clock = clock
	return t
}

// Record adds an observation and evicts the ones that fell out of the
// objective's window.
func (t *SLOTracker) Record(obs Observation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	obj, ok := t.objectives[obs.Operation]
	if !ok {
		return
	}
	if obs.At.IsZero() {
		obs.At = t.clock()
	}
	t.observations[obs.Operation] = append(t.inWindow(obj), obs)
}

// inWindow returns the observations of obj still inside its window.
// Callers hold t.mu.
func (t *SLOTracker) inWindow(obj Objective) []Observation {
	all := t.observations[obj.Operation]
	if obj.Window <= 0 {
		return all
	}
	start := t.clock().Add(-obj.Window)
	i := sort.Search(len(all), func(i int) bool { return all[i].At.After(start) })
	return all[i:]
}

// Report evaluates operation against its objective.
func (t *SLOTracker) Report(operation string) (Report, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	obj, ok := t.objectives[operation]
	if !ok {
		return Report{}, fmt.Errorf("no objective for operation %q", operation)
	}
	obs := t.inWindow(obj)
	r := Report{Operation: operation, Runs: len(obs), SuccessRate: 1, BudgetLeft: 100, InCompliance: true}
	if len(obs) == 0 {
		return r, nil
	}

	latencies := make([]time.Duration, len(obs))
	failed := 0
	for i, o := range obs {
		latencies[i] = o.Latency
		if o.Code != "" {
			failed++
			if r.Failures == nil {
				r.Failures = map[string]int{}
			}
			r.Failures[o.Code]++
		}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	r.P99 = latencies[min(len(latencies)*99/100, len(latencies)-1)]
	r.SuccessRate = float64(len(obs)-failed) / float64(len(obs))

	budget := 1 - obj.SuccessRate
	errorRate := 1 - r.SuccessRate
	switch {
	case budget > 0:
		r.BurnRate = errorRate / budget
		r.BudgetLeft = max(0, 100*(1-r.BurnRate))
	case errorRate > 0:
		r.BudgetLeft = 0
	}
	r.InCompliance = r.SuccessRate >= obj.SuccessRate && (obj.LatencyP99 <= 0 || r.P99 <= obj.LatencyP99)
	return r, nil
}

// Reports evaluates every objective, sorted by operation.
func (t *SLOTracker) Reports() []Report {
	t.mu.Lock()
	ops := make([]string, 0, len(t.objectives))
	for op := range t.objectives {
		ops = append(ops, op)
	}
	t.mu.Unlock()

	sort.Strings(ops)
	out := make([]Report, 0, len(ops))
	for _, op := range ops {
		if r, err := t.Report(op); err == nil {
			out = append(out, r)
		}
	}
	return out
}
