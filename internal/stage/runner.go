// Package stage executes single stage nodes: it resolves the node's
// declared inputs from a state snapshot, invokes the external collaborator
// with exactly those inputs, applies the retry policy, and classifies the
// outcome. Collaborators never see the full run state; the restricted
// Inputs view is the isolation boundary between stages.
package stage

import (
	"context"
	"time"

	"github.com/trendops/evreport/internal/errors"
	"github.com/trendops/evreport/internal/logging"
	"github.com/trendops/evreport/internal/plan"
	"github.com/trendops/evreport/internal/state"
)

// Inputs is the restricted view of run state a collaborator receives:
// only the keys the stage node declared as reads.
type Inputs struct {
	node    *plan.StageNode
	values  map[string]any
	entries map[string][]state.Entry
	version uint64
}

// NewInputs builds a restricted input view from a snapshot.
func NewInputs(node *plan.StageNode, snap *state.Snapshot) *Inputs {
	in := &Inputs{
		node:    node,
		values:  make(map[string]any, len(node.Reads)),
		entries: make(map[string][]state.Entry, len(node.Reads)),
		version: snap.Version(),
	}
	for _, key := range node.Reads {
		if v, ok := snap.Get(key); ok {
			in.values[key] = v
		}
		if e := snap.Entries(key); e != nil {
			in.entries[key] = e
		}
	}
	return in
}

// Get returns the value of a declared input key.
func (in *Inputs) Get(key string) (any, bool) {
	v, ok := in.values[key]
	return v, ok
}

// Entries returns a declared fan-out input key's entries.
func (in *Inputs) Entries(key string) []state.Entry {
	return in.entries[key]
}

// Instance returns the entry matching the stage's own fan-out instance.
func (in *Inputs) Instance(key string) (any, bool) {
	for _, e := range in.entries[key] {
		if e.Instance == in.node.Instance {
			return e.Value, true
		}
	}
	return nil, false
}

// Version returns the store version the inputs were read at. The scheduler
// passes it back to the store for stale-read detection at merge time.
func (in *Inputs) Version() uint64 { return in.version }

// Invoker executes one external collaborator call for a stage node.
// Implementations classify their own failures with errors.Transient and
// errors.Fatal; unclassified failures are treated as fatal.
type Invoker interface {
	Invoke(ctx context.Context, node *plan.StageNode, in *Inputs) ([]state.Write, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, node *plan.StageNode, in *Inputs) ([]state.Write, error)

// Invoke calls the function.
func (f InvokerFunc) Invoke(ctx context.Context, node *plan.StageNode, in *Inputs) ([]state.Write, error) {
	return f(ctx, node, in)
}

// Placeholder is the tagged best-effort value a degraded stage writes for
// its content keys. Substitution is always recorded, never silent.
type Placeholder struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Result is one stage invocation outcome, consumed immediately by the
// scheduler.
type Result struct {
	Node        *plan.StageNode
	Writes      []state.Write
	Attempts    int
	ReadVersion uint64
	// Err is set when the stage degraded; Writes then hold tagged
	// placeholders for the node's content keys.
	Err *errors.StageError
}

// Degraded reports whether the stage exhausted its attempts or failed fatally.
func (r *Result) Degraded() bool { return r.Err != nil }

// Runner executes stage nodes under a retry policy.
type Runner struct {
	invoker      Invoker
	log          *logging.Logger
	maxAttempts  int
	backoffBase  time.Duration
	stageTimeout time.Duration
	categories   map[string]state.Category
}

// NewRunner creates a stage runner. maxAttempts is the total attempt budget
// including the first try; backoffBase is doubled after each failed attempt.
func NewRunner(invoker Invoker, log *logging.Logger, maxAttempts int, backoffBase, stageTimeout time.Duration) *Runner {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Runner{
		invoker:      invoker,
		log:          log,
		maxAttempts:  maxAttempts,
		backoffBase:  backoffBase,
		stageTimeout: stageTimeout,
		categories:   plan.Registry(),
	}
}

// Run invokes the node's collaborator, retrying transient failures up to
// the attempt budget with exponential backoff. Fatal failures are never
// retried. A stage that cannot succeed returns a degraded Result with
// placeholder writes rather than an error; the caller decides whether the
// stage was critical.
func (r *Runner) Run(ctx context.Context, node *plan.StageNode, snap *state.Snapshot) *Result {
	in := NewInputs(node, snap)
	log := r.log.WithStage(node.Name)

	var lastErr error
	attempts := 0
	for attempts < r.maxAttempts {
		attempts++

		writes, err := r.invokeOnce(ctx, node, in)
		if err == nil {
			log.Debug("stage completed", "attempts", attempts)
			return &Result{Node: node, Writes: writes, Attempts: attempts, ReadVersion: in.Version()}
		}
		lastErr = err

		if errors.ClassOf(err) != errors.ClassTransient {
			log.Warn("stage failed fatally", "attempt", attempts, "error", err)
			break
		}
		log.Warn("stage failed, will retry", "attempt", attempts, "error", err)

		if attempts < r.maxAttempts {
			if !r.backoff(ctx, attempts) {
				lastErr = errors.Transient(ctx.Err())
				break
			}
		}
	}

	stageErr := errors.NewStageError(node.Name, errors.ClassOf(lastErr), lastErr).WithAttempts(attempts)
	return &Result{
		Node:        node,
		Writes:      r.placeholders(node),
		Attempts:    attempts,
		ReadVersion: in.Version(),
		Err:         stageErr,
	}
}

// invokeOnce performs one attempt under the per-attempt timeout.
func (r *Runner) invokeOnce(ctx context.Context, node *plan.StageNode, in *Inputs) ([]state.Write, error) {
	if r.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.stageTimeout)
		defer cancel()
	}
	writes, err := r.invoker.Invoke(ctx, node, in)
	if err == nil && ctx.Err() != nil {
		// The collaborator returned after cancellation; treat as timed out.
		return nil, errors.Transient(errors.ErrCollaboratorTimeout)
	}
	return writes, err
}

// backoff sleeps base * 2^(attempt-1), returning false if the context was
// canceled first.
func (r *Runner) backoff(ctx context.Context, attempt int) bool {
	delay := r.backoffBase << (attempt - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// placeholders builds tagged best-effort writes for the node's content
// keys. Append-only keys get nothing; the fault record carries the error.
func (r *Runner) placeholders(node *plan.StageNode) []state.Write {
	var writes []state.Write
	for _, key := range node.Writes {
		if r.categories[key] == state.CategoryAppend {
			continue
		}
		writes = append(writes, state.Write{
			Key:   key,
			Value: Placeholder{Stage: node.Name, Reason: "stage degraded after retries"},
		})
	}
	return writes
}
