package errors

import (
	"sync"
	"time"
)

// Fault is one recorded stage failure: which stage, how many attempts were
// made, and how the failure was classified. Faults are what a degraded run
// surfaces to the caller in place of a hard failure.
type Fault struct {
	Stage    string    `json:"stage"`
	Instance string    `json:"instance,omitempty"`
	Attempts int       `json:"attempts"`
	Class    Class     `json:"class"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// Aggregator is the process-wide collector of per-stage failures for one run.
// It is strictly append-only: faults are never cleared during a run, so a
// retry that eventually succeeds still leaves its earlier failures visible.
// All methods are safe for concurrent use.
type Aggregator struct {
	mu     sync.Mutex
	faults []Fault
}

// NewAggregator creates an empty fault aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Record appends a fault for the given stage.
func (a *Aggregator) Record(stage, instance string, attempts int, class Class, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	a.faults = append(a.faults, Fault{
		Stage:    stage,
		Instance: instance,
		Attempts: attempts,
		Class:    class,
		Message:  msg,
		Time:     time.Now(),
	})
}

// Faults returns a copy of all recorded faults in append order.
func (a *Aggregator) Faults() []Fault {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Fault, len(a.faults))
	copy(out, a.faults)
	return out
}

// Len returns the number of recorded faults.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.faults)
}

// ByStage returns the faults recorded for the given stage, in append order.
func (a *Aggregator) ByStage(stage string) []Fault {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Fault
	for _, f := range a.faults {
		if f.Stage == stage {
			out = append(out, f)
		}
	}
	return out
}

// DegradedStages returns the distinct stage names that recorded at least one
// fault, in first-fault order. The quality gate uses this to decide which
// content stages are candidates for a remediation pass.
func (a *Aggregator) DegradedStages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, f := range a.faults {
		if !seen[f.Stage] {
			seen[f.Stage] = true
			out = append(out, f.Stage)
		}
	}
	return out
}
