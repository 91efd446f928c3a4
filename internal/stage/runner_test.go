package stage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trendops/evreport/internal/errors"
	"github.com/trendops/evreport/internal/logging"
	"github.com/trendops/evreport/internal/plan"
	"github.com/trendops/evreport/internal/state"
)

func testNode() *plan.StageNode {
	return &plan.StageNode{
		Name:     "company.dossier:TSLA",
		Kind:     plan.KindCompanyDossier,
		Instance: "TSLA",
		Reads:    []string{plan.KeyCompanyIndex},
		Writes:   []string{plan.KeyCompanyDossier, plan.KeyEvidenceMap},
	}
}

func testSnapshot(t *testing.T) *state.Snapshot {
	t.Helper()
	s := state.NewStore(plan.Registry(), nil)
	err := s.Merge([]state.Write{{Key: plan.KeyCompanyIndex, Value: "index"}}, "company.index", "TSLA", nil, 0)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	return s.Snapshot()
}

func TestRunSuccess(t *testing.T) {
	invoker := InvokerFunc(func(ctx context.Context, node *plan.StageNode, in *Inputs) ([]state.Write, error) {
		if v, ok := in.Get(plan.KeyCompanyIndex); !ok || v == nil {
			t.Error("declared input not resolved from snapshot")
		}
		return []state.Write{{Key: plan.KeyCompanyDossier, Value: "dossier"}}, nil
	})

	r := NewRunner(invoker, logging.NopLogger(), 3, time.Millisecond, 0)
	res := r.Run(context.Background(), testNode(), testSnapshot(t))

	if res.Degraded() {
		t.Fatalf("Run() degraded with error %v", res.Err)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if len(res.Writes) != 1 || res.Writes[0].Value != "dossier" {
		t.Errorf("Writes = %v, want single dossier write", res.Writes)
	}
}

func TestRunRetriesTransientExactlyMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	invoker := InvokerFunc(func(ctx context.Context, node *plan.StageNode, in *Inputs) ([]state.Write, error) {
		calls.Add(1)
		return nil, errors.Transient(errors.ErrCollaboratorTimeout)
	})

	const maxAttempts = 3
	r := NewRunner(invoker, logging.NopLogger(), maxAttempts, time.Millisecond, 0)
	res := r.Run(context.Background(), testNode(), testSnapshot(t))

	if got := calls.Load(); got != maxAttempts {
		t.Errorf("invoker called %d times, want exactly %d", got, maxAttempts)
	}
	if !res.Degraded() {
		t.Fatal("Run() not degraded after exhausting attempts")
	}
	if res.Err.Class != errors.ClassTransient {
		t.Errorf("Err.Class = %s, want transient", res.Err.Class)
	}
	if res.Err.Attempts != maxAttempts {
		t.Errorf("Err.Attempts = %d, want %d", res.Err.Attempts, maxAttempts)
	}
}

func TestRunFatalNotRetried(t *testing.T) {
	var calls atomic.Int32
	invoker := InvokerFunc(func(ctx context.Context, node *plan.StageNode, in *Inputs) ([]state.Write, error) {
		calls.Add(1)
		return nil, errors.Fatal(errors.New("malformed input"))
	})

	r := NewRunner(invoker, logging.NopLogger(), 5, time.Millisecond, 0)
	res := r.Run(context.Background(), testNode(), testSnapshot(t))

	if got := calls.Load(); got != 1 {
		t.Errorf("invoker called %d times for fatal failure, want 1", got)
	}
	if !res.Degraded() || res.Err.Class != errors.ClassFatal {
		t.Errorf("Run() = %+v, want degraded with fatal class", res.Err)
	}
}

func TestRunSucceedsAfterRetry(t *testing.T) {
	var calls atomic.Int32
	invoker := InvokerFunc(func(ctx context.Context, node *plan.StageNode, in *Inputs) ([]state.Write, error) {
		if calls.Add(1) < 3 {
			return nil, errors.Transient(errors.ErrRateLimited)
		}
		return []state.Write{{Key: plan.KeyCompanyDossier, Value: "dossier"}}, nil
	})

	r := NewRunner(invoker, logging.NopLogger(), 3, time.Millisecond, 0)
	res := r.Run(context.Background(), testNode(), testSnapshot(t))

	if res.Degraded() {
		t.Fatalf("Run() degraded with error %v, want success on third attempt", res.Err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestRunDegradedWritesTaggedPlaceholders(t *testing.T) {
	invoker := InvokerFunc(func(ctx context.Context, node *plan.StageNode, in *Inputs) ([]state.Write, error) {
		return nil, errors.Transient(errors.ErrCollaboratorTimeout)
	})

	r := NewRunner(invoker, logging.NopLogger(), 2, time.Millisecond, 0)
	res := r.Run(context.Background(), testNode(), testSnapshot(t))

	if !res.Degraded() {
		t.Fatal("Run() not degraded")
	}
	// The content key gets a tagged placeholder; the append-only evidence
	// key gets nothing.
	if len(res.Writes) != 1 {
		t.Fatalf("got %d placeholder writes, want 1", len(res.Writes))
	}
	ph, ok := res.Writes[0].Value.(Placeholder)
	if !ok {
		t.Fatalf("placeholder value type = %T, want Placeholder", res.Writes[0].Value)
	}
	if ph.Stage != "company.dossier:TSLA" {
		t.Errorf("Placeholder.Stage = %q, want the degraded stage name", ph.Stage)
	}
	if res.Writes[0].Key != plan.KeyCompanyDossier {
		t.Errorf("placeholder key = %q, want company_dossiers", res.Writes[0].Key)
	}
}

func TestRunCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	invoker := InvokerFunc(func(ctx context.Context, node *plan.StageNode, in *Inputs) ([]state.Write, error) {
		calls.Add(1)
		cancel()
		return nil, errors.Transient(errors.ErrCollaboratorTimeout)
	})

	r := NewRunner(invoker, logging.NopLogger(), 5, time.Hour, 0)
	res := r.Run(ctx, testNode(), testSnapshot(t))

	if got := calls.Load(); got != 1 {
		t.Errorf("invoker called %d times after cancellation, want 1", got)
	}
	if !res.Degraded() {
		t.Fatal("Run() not degraded after cancellation")
	}
}

func TestRunPerAttemptTimeout(t *testing.T) {
	invoker := InvokerFunc(func(ctx context.Context, node *plan.StageNode, in *Inputs) ([]state.Write, error) {
		<-ctx.Done()
		return []state.Write{{Key: plan.KeyCompanyDossier, Value: "late"}}, nil
	})

	r := NewRunner(invoker, logging.NopLogger(), 2, time.Millisecond, 5*time.Millisecond)
	res := r.Run(context.Background(), testNode(), testSnapshot(t))

	if !res.Degraded() {
		t.Fatal("Run() accepted a result produced after the attempt timeout")
	}
	if !errors.Is(res.Err, errors.ErrCollaboratorTimeout) {
		t.Errorf("Err = %v, want ErrCollaboratorTimeout", res.Err)
	}
}

func TestInputsRestrictedToDeclaredReads(t *testing.T) {
	s := state.NewStore(plan.Registry(), nil)
	if err := s.Merge([]state.Write{{Key: plan.KeyCompanyIndex, Value: "index"}}, "company.index", "TSLA", nil, 0); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if err := s.Merge([]state.Write{{Key: plan.KeyMarketBrief, Value: "brief"}}, "market.brief", "eu/subsidy", nil, 0); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	in := NewInputs(testNode(), s.Snapshot())

	if _, ok := in.Get(plan.KeyCompanyIndex); !ok {
		t.Error("declared input key missing from Inputs")
	}
	if _, ok := in.Get(plan.KeyMarketBrief); ok {
		t.Error("undeclared key visible to collaborator")
	}
	if v, ok := in.Instance(plan.KeyCompanyIndex); !ok || v != "index" {
		t.Errorf("Instance() = %v, %v; want index, true", v, ok)
	}
}
