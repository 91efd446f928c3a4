package errors

import (
	"fmt"
	"testing"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"transient wrap", Transient(New("boom")), ClassTransient},
		{"fatal wrap", Fatal(New("boom")), ClassFatal},
		{"timeout sentinel", fmt.Errorf("call: %w", ErrCollaboratorTimeout), ClassTransient},
		{"rate limit sentinel", fmt.Errorf("call: %w", ErrRateLimited), ClassTransient},
		{"unclassified", New("boom"), ClassFatal},
		{"wrapped transient", fmt.Errorf("outer: %w", Transient(New("inner"))), ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.want {
				t.Errorf("ClassOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Transient(New("x"))) {
		t.Error("transient error should be retryable")
	}
	if IsRetryable(Fatal(New("x"))) {
		t.Error("fatal error should not be retryable")
	}
}

func TestClassifiedPreservesSentinel(t *testing.T) {
	err := Transient(fmt.Errorf("fetch: %w", ErrRateLimited))
	if !Is(err, ErrRateLimited) {
		t.Error("Transient should preserve errors.Is matching on the cause")
	}
}

func TestRequestError(t *testing.T) {
	err := NewRequestError("depth", "unknown depth token")
	if !Is(err, ErrInvalidRequest) {
		t.Error("RequestError should match ErrInvalidRequest")
	}
	want := "invalid request [field=depth]: unknown depth token"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if err.Severity() != SeverityCritical {
		t.Errorf("Severity() = %s, want critical", err.Severity())
	}
}

func TestPlanError(t *testing.T) {
	err := NewPlanError("no producer for input", ErrUnsatisfiableGraph).
		WithNode("report.compose").
		WithKey("market_brief")
	if !Is(err, ErrUnsatisfiableGraph) {
		t.Error("PlanError should match ErrUnsatisfiableGraph")
	}
	got := err.Error()
	want := "plan error [node=report.compose, key=market_brief]: no producer for input: unsatisfiable execution graph"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestStateError(t *testing.T) {
	err := NewStateError("second writer", ErrProducerConflict).
		WithKey("market_brief").
		WithProducer("company.dossier:TSLA")
	if !Is(err, ErrProducerConflict) {
		t.Error("StateError should match ErrProducerConflict")
	}
}

func TestStageError(t *testing.T) {
	err := NewStageError("stock.fetch:BYDDF", ClassTransient, ErrCollaboratorTimeout).
		WithAttempts(3)
	got := err.Error()
	want := "stage error [stage=stock.fetch:BYDDF, class=transient, attempts=3]: collaborator timed out"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if err.Severity() != SeverityWarning {
		t.Errorf("transient stage error severity = %s, want warning", err.Severity())
	}
	if NewStageError("x", ClassFatal, New("y")).Severity() != SeverityError {
		t.Error("fatal stage error severity should be error")
	}
}

func TestRunError(t *testing.T) {
	err := NewRunError("graph stuck", ErrGraphStuck).
		WithRunID("run-abc123").
		WithFaults([]Fault{{Stage: "a"}, {Stage: "b"}})
	if !Is(err, ErrGraphStuck) {
		t.Error("RunError should match ErrGraphStuck")
	}
	want := "run error [run=run-abc123]: graph stuck: execution graph stuck (2 stage faults recorded)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestAggregatorAppendOnly(t *testing.T) {
	agg := NewAggregator()
	agg.Record("stock.fetch:BYDDF", "BYDDF", 3, ClassTransient, ErrCollaboratorTimeout)
	agg.Record("stock.fetch:BYDDF", "BYDDF", 1, ClassFatal, New("bad ticker"))
	agg.Record("chart.render:returns", "returns", 1, ClassFatal, New("render failed"))

	if agg.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", agg.Len())
	}

	faults := agg.Faults()
	if faults[0].Stage != "stock.fetch:BYDDF" || faults[0].Attempts != 3 {
		t.Errorf("first fault = %+v, want stock.fetch:BYDDF with 3 attempts", faults[0])
	}

	// Mutating the returned slice must not affect the aggregator.
	faults[0].Stage = "mutated"
	if agg.Faults()[0].Stage != "stock.fetch:BYDDF" {
		t.Error("Faults() should return a copy")
	}

	byStage := agg.ByStage("stock.fetch:BYDDF")
	if len(byStage) != 2 {
		t.Errorf("ByStage() returned %d faults, want 2", len(byStage))
	}

	stages := agg.DegradedStages()
	if len(stages) != 2 {
		t.Fatalf("DegradedStages() = %v, want 2 distinct stages", stages)
	}
	if stages[0] != "stock.fetch:BYDDF" || stages[1] != "chart.render:returns" {
		t.Errorf("DegradedStages() = %v, want first-fault order", stages)
	}
}

func TestAggregatorConcurrent(t *testing.T) {
	agg := NewAggregator()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 50; j++ {
				agg.Record("s", "", 1, ClassTransient, New("e"))
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if agg.Len() != 400 {
		t.Errorf("Len() = %d, want 400", agg.Len())
	}
}
