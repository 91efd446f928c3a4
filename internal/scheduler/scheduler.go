// Package scheduler walks the execution graph, dispatching ready stage
// nodes to the stage runner under a parallelism bound and merging their
// results into the state store. A node becomes ready once every
// predecessor has completed or been accepted as a degraded partial.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trendops/evreport/internal/errors"
	"github.com/trendops/evreport/internal/event"
	"github.com/trendops/evreport/internal/logging"
	"github.com/trendops/evreport/internal/plan"
	"github.com/trendops/evreport/internal/stage"
	"github.com/trendops/evreport/internal/state"
)

// NodeStatus tracks one node through the scheduling loop.
type NodeStatus int

const (
	StatusPending NodeStatus = iota
	StatusRunning
	StatusDone
	StatusDegraded
	// StatusSkipped marks nodes never dispatched before the run deadline.
	StatusSkipped
)

// IsTerminal reports whether a node in this status unblocks its successors.
func (s NodeStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusDegraded || s == StatusSkipped
}

// Scheduler executes an execution graph against a state store.
type Scheduler struct {
	store       *state.Store
	runner      *stage.Runner
	agg         *errors.Aggregator
	log         *logging.Logger
	bus         *event.Bus
	parallelism int
	staleLimit  int

	status map[string]NodeStatus
}

// New creates a scheduler. parallelism bounds concurrent collaborator
// calls; staleLimit bounds how often a node is re-queued after a stale
// read before its result is accepted as-is.
func New(store *state.Store, runner *stage.Runner, agg *errors.Aggregator, log *logging.Logger, bus *event.Bus, parallelism, staleLimit int) *Scheduler {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Scheduler{
		store:       store,
		runner:      runner,
		agg:         agg,
		log:         log,
		bus:         bus,
		parallelism: parallelism,
		staleLimit:  staleLimit,
	}
}

// Status returns a node's scheduling status after Execute.
func (s *Scheduler) Status(name string) NodeStatus {
	return s.status[name]
}

// Execute runs the graph to completion. It returns nil when every node
// finished (successfully or as an accepted partial), ErrDeadlineExceeded
// when the run deadline elapsed with nodes pending, and ErrGraphStuck when
// remaining nodes can never become ready. Merged state is preserved in all
// cases so the caller can still evaluate quality on whatever accumulated.
func (s *Scheduler) Execute(ctx context.Context, g *plan.Graph) error {
	s.status = make(map[string]NodeStatus, len(g.Nodes))
	for name := range g.Nodes {
		s.status[name] = StatusPending
	}

	requeues := make(map[string]int)
	completed := make(chan *stage.Result)
	inflight := 0

	for {
		for inflight < s.parallelism {
			name, ok := s.nextReady(g)
			if !ok {
				break
			}
			s.dispatch(ctx, g.Nodes[name], completed)
			inflight++
		}

		if inflight == 0 {
			if s.allTerminal() {
				return nil
			}
			// Nothing running and nothing ready: the remainder cannot
			// resolve. The planner should prevent this; detect rather
			// than hang.
			return errors.ErrGraphStuck
		}

		select {
		case res := <-completed:
			inflight--
			s.handleResult(res, requeues)
		case <-ctx.Done():
			return s.drainAfterDeadline(completed, inflight)
		}
		s.publishDepth()
	}
}

// nextReady returns the first pending node, in topological order, whose
// predecessors are all terminal.
func (s *Scheduler) nextReady(g *plan.Graph) (string, bool) {
	for _, name := range g.Order {
		if s.status[name] != StatusPending {
			continue
		}
		ready := true
		for _, dep := range g.Nodes[name].DependsOn {
			if !s.status[dep].IsTerminal() {
				ready = false
				break
			}
		}
		if ready {
			return name, true
		}
	}
	return "", false
}

func (s *Scheduler) dispatch(ctx context.Context, node *plan.StageNode, completed chan<- *stage.Result) {
	s.status[node.Name] = StatusRunning
	s.publish(event.NewStageStartedEvent(node.Name, node.Instance))
	snap := s.store.Snapshot()
	go func() {
		completed <- s.runner.Run(ctx, node, snap)
	}()
}

// handleResult merges one stage result and updates the node status.
func (s *Scheduler) handleResult(res *stage.Result, requeues map[string]int) {
	node := res.Node

	if res.Degraded() {
		s.acceptDegraded(res)
		return
	}

	err := s.store.Merge(res.Writes, node.Kind, node.Instance, node.Reads, res.ReadVersion)
	switch {
	case err == nil:
		s.status[node.Name] = StatusDone
		s.publish(event.NewStageCompletedEvent(node.Name, res.Attempts))

	case errors.Is(err, errors.ErrStaleRead):
		if requeues[node.Name] < s.staleLimit {
			requeues[node.Name]++
			s.status[node.Name] = StatusPending
			s.log.WithStage(node.Name).Info("inputs changed after read, re-queueing")
			s.publish(event.NewStageRequeuedEvent(node.Name, "stale read"))
			return
		}
		// Requeue budget spent; accept the result against current state.
		if mergeErr := s.store.Merge(res.Writes, node.Kind, node.Instance, nil, s.store.Version()); mergeErr != nil {
			s.recordFault(node, res.Attempts, mergeErr)
			s.status[node.Name] = StatusDegraded
			return
		}
		s.status[node.Name] = StatusDone
		s.publish(event.NewStageCompletedEvent(node.Name, res.Attempts))

	default:
		// Producer conflicts and other merge violations are programming
		// errors; the stage degrades and the fault surfaces in errors[].
		s.recordFault(node, res.Attempts, err)
		s.status[node.Name] = StatusDegraded
		s.publish(event.NewStageDegradedEvent(node.Name, res.Attempts, err.Error()))
	}
}

// acceptDegraded merges a degraded result's placeholder writes and records
// the fault. Placeholders merge against current state; stale-read checks
// apply only to real results.
func (s *Scheduler) acceptDegraded(res *stage.Result) {
	node := res.Node
	if err := s.store.Merge(res.Writes, node.Kind, node.Instance, nil, s.store.Version()); err != nil {
		s.log.WithStage(node.Name).Error("placeholder merge failed", "error", err)
	}
	s.recordFault(node, res.Attempts, res.Err)
	s.status[node.Name] = StatusDegraded
	s.publish(event.NewStageDegradedEvent(node.Name, res.Attempts, res.Err.Error()))
}

// drainAfterDeadline waits for in-flight stages to observe cancellation,
// preserves whatever merged, and marks never-dispatched nodes skipped.
func (s *Scheduler) drainAfterDeadline(completed <-chan *stage.Result, inflight int) error {
	s.log.Warn("run deadline elapsed, canceling in-flight stages", "inflight", inflight)
	for i := 0; i < inflight; i++ {
		res := <-completed
		if res.Degraded() {
			s.acceptDegraded(res)
			continue
		}
		// A stage that finished before observing cancellation still counts.
		s.handleResult(res, map[string]int{})
	}
	for name, st := range s.status {
		if !st.IsTerminal() {
			s.status[name] = StatusSkipped
			s.agg.Record(name, "", 0, errors.ClassFatal, errors.ErrDeadlineExceeded)
		}
	}
	return errors.ErrDeadlineExceeded
}

// Rerun executes the named nodes once more against current state, in
// parallel under the same parallelism bound. Used by the quality gate's
// single remediation pass; fan-out re-writes replace the nodes' prior
// entries rather than duplicating them.
func (s *Scheduler) Rerun(ctx context.Context, g *plan.Graph, names []string) {
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(s.parallelism)

	for _, name := range names {
		node := g.Nodes[name]
		if node == nil {
			continue
		}
		grp.Go(func() error {
			snap := s.store.Snapshot()
			res := s.runner.Run(ctx, node, snap)
			if res.Degraded() {
				s.recordFault(node, res.Attempts, res.Err)
				return nil
			}
			if err := s.store.Merge(res.Writes, node.Kind, node.Instance, nil, s.store.Version()); err != nil {
				s.recordFault(node, res.Attempts, err)
			}
			return nil
		})
	}
	_ = grp.Wait() // workers never return errors
}

func (s *Scheduler) allTerminal() bool {
	for _, st := range s.status {
		if !st.IsTerminal() {
			return false
		}
	}
	return true
}

func (s *Scheduler) recordFault(node *plan.StageNode, attempts int, err error) {
	class := errors.ClassOf(err)
	var se *errors.StageError
	if errors.As(err, &se) {
		class = se.Class
	}
	s.agg.Record(node.Name, node.Instance, attempts, class, err)
	s.log.WithStage(node.Name).Warn("stage degraded", "attempts", attempts, "error", err)

	// Faults are also visible in run state for the compiled report.
	fault := errors.Fault{Stage: node.Name, Instance: node.Instance, Attempts: attempts, Class: class, Message: err.Error(), Time: time.Now()}
	if mergeErr := s.store.Merge([]state.Write{{Key: plan.KeyErrors, Value: fault}}, node.Kind, node.Instance, nil, s.store.Version()); mergeErr != nil {
		s.log.Error("failed to record fault in state", "error", mergeErr)
	}
}

func (s *Scheduler) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func (s *Scheduler) publishDepth() {
	if s.bus == nil {
		return
	}
	var pending, running, done, degraded int
	for _, st := range s.status {
		switch st {
		case StatusPending:
			pending++
		case StatusRunning:
			running++
		case StatusDone:
			done++
		case StatusDegraded:
			degraded++
		}
	}
	s.bus.Publish(event.NewQueueDepthChangedEvent(pending, running, done, degraded, len(s.status)))
}
