// Package scheduler places workloads on nodes. It owns the node
// registry, the scheduling queue and the assignment table, and drives
// placement through a pluggable scoring strategy with priority-based
// preemption as the fallback.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"

	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/plugins"
	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/preemption"
	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/queue"
	"github.com/forgelabs/forge-orchestrator/pkg/storage"
)

// defaultSchedulingPeriod is the run loop tick when none is configured.
const defaultSchedulingPeriod = 1 * time.Second

// assignment records where a workload runs and what it holds.
type assignment struct {
	workload *model.Workload
	nodeID   model.NodeID
	gpuIDs   []uint32
}

// Assignment is the externally visible placement of a workload.
type Assignment struct {
	WorkloadID string
	NodeID     model.NodeID
	GPUIDs     []uint32
}

// Scheduler is the placement decision engine. All methods are safe for
// concurrent use.
type Scheduler struct {
	mu sync.Mutex

	nodes       map[model.NodeID]*model.NodeResources
	nodeOrder   []model.NodeID
	assignments map[string]*assignment

	pending  *queue.SchedulingQueue
	strategy plugins.Strategy
	classes  *preemption.ClassTable
	ranker   preemption.Ranker
	store    storage.Store
	metrics  *Metrics

	schedulingPeriod time.Duration
	runningState     atomic.Int32
	lifecycleMu      sync.Mutex
	stopChan         chan struct{}
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithStore attaches a persistence store for workload and node records.
func WithStore(store storage.Store) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithClassTable overrides the standard priority class table.
func WithClassTable(table *preemption.ClassTable) Option {
	return func(s *Scheduler) { s.classes = table }
}

// WithRanker overrides the preemption victim ranker.
func WithRanker(ranker preemption.Ranker) Option {
	return func(s *Scheduler) { s.ranker = ranker }
}

// WithSchedulingPeriod sets the run loop tick interval.
func WithSchedulingPeriod(period time.Duration) Option {
	return func(s *Scheduler) { s.schedulingPeriod = period }
}

// New creates a scheduler using the given placement strategy.
func New(strategy plugins.Strategy, scope tally.Scope, opts ...Option) (*Scheduler, error) {
	classes, err := preemption.NewClassTable(preemption.StandardClasses()...)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		nodes:            make(map[model.NodeID]*model.NodeResources),
		assignments:      make(map[string]*assignment),
		pending:          queue.NewSchedulingQueue(),
		strategy:         strategy,
		classes:          classes,
		ranker:           preemption.NewPriorityRanker(),
		metrics:          NewMetrics(scope),
		schedulingPeriod: defaultSchedulingPeriod,
		stopChan:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Recover loads persisted nodes and workloads from the store and
// rebuilds the registry and the scheduling queue. Call it once before
// Start. Without a store it is a no-op.
func (s *Scheduler) Recover(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	nodes, err := s.store.ListNodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list persisted nodes")
	}
	for _, n := range nodes {
		if err := s.RegisterNode(n); err != nil {
			return errors.Wrapf(err, "restore node %s", n.NodeID)
		}
	}

	workloads, err := s.store.ListWorkloads(ctx)
	if err != nil {
		return errors.Wrap(err, "list persisted workloads")
	}
	for _, w := range workloads {
		s.pending.Enqueue(w)
	}
	s.metrics.QueueLen.Update(float64(s.pending.Len()))

	log.WithFields(log.Fields{
		"nodes":     len(nodes),
		"workloads": len(workloads),
	}).Info("recovered persisted state")
	return nil
}

// Submit resolves the workload's priority class and enqueues it for
// placement by the run loop.
func (s *Scheduler) Submit(w *model.Workload) error {
	s.metrics.APISubmit.Inc(1)

	if w.PriorityClass != "" {
		class := s.classes.Lookup(w.PriorityClass)
		w.Priority = class.Value
	}

	if s.store != nil {
		if err := s.store.SaveWorkload(context.Background(), w); err != nil {
			s.metrics.SubmitFail.Inc(1)
			return errors.Wrapf(err, "persist workload %s", w.ID)
		}
	}

	s.pending.Enqueue(w)
	s.metrics.SubmitSuccess.Inc(1)
	s.metrics.QueueLen.Update(float64(s.pending.Len()))

	log.WithFields(log.Fields{
		"workload_id": w.ID,
		"priority":    w.Priority,
		"class":       w.PriorityClass,
	}).Info("workload submitted")
	return nil
}

// RegisterNode adds a node to the registry. Registration order is
// stable and breaks scoring ties.
func (s *Scheduler) RegisterNode(n *model.NodeResources) error {
	s.mu.Lock()
	if _, ok := s.nodes[n.NodeID]; ok {
		s.mu.Unlock()
		return errors.Errorf("node %s already registered", n.NodeID)
	}
	s.nodes[n.NodeID] = n
	s.nodeOrder = append(s.nodeOrder, n.NodeID)
	s.metrics.NodeCount.Update(float64(len(s.nodes)))
	s.mu.Unlock()

	s.persistNode(n)
	log.WithField("node_id", n.NodeID).Info("node registered")
	return nil
}

// UpdateNode replaces the stored resources for a known node.
func (s *Scheduler) UpdateNode(n *model.NodeResources) error {
	s.mu.Lock()
	if _, ok := s.nodes[n.NodeID]; !ok {
		s.mu.Unlock()
		return errors.Errorf("node %s not registered", n.NodeID)
	}
	s.nodes[n.NodeID] = n
	s.mu.Unlock()

	s.persistNode(n)
	return nil
}

// UnregisterNode removes a node. Workloads assigned to it are
// re-admitted at the front of their priority tier.
func (s *Scheduler) UnregisterNode(id model.NodeID) error {
	s.mu.Lock()
	if _, ok := s.nodes[id]; !ok {
		s.mu.Unlock()
		return errors.Errorf("node %s not registered", id)
	}
	delete(s.nodes, id)
	for i, nodeID := range s.nodeOrder {
		if nodeID == id {
			s.nodeOrder = append(s.nodeOrder[:i], s.nodeOrder[i+1:]...)
			break
		}
	}

	var displaced []*model.Workload
	for workloadID, a := range s.assignments {
		if a.nodeID == id {
			displaced = append(displaced, a.workload)
			delete(s.assignments, workloadID)
		}
	}
	s.metrics.NodeCount.Update(float64(len(s.nodes)))
	s.mu.Unlock()

	for _, w := range displaced {
		s.pending.EnqueueFront(w)
	}
	if s.store != nil {
		if err := s.store.DeleteNode(context.Background(), id); err != nil {
			log.WithError(err).WithField("node_id", id).
				Warn("failed to delete node record")
		}
	}

	log.WithFields(log.Fields{
		"node_id":   id,
		"displaced": len(displaced),
	}).Info("node unregistered")
	return nil
}

// Schedule attempts to place the workload immediately and returns the
// decision. A nil decision node means placement failed; the caller
// decides whether to requeue.
func (s *Scheduler) Schedule(w *model.Workload) model.SchedulingDecision {
	start := time.Now()

	s.mu.Lock()
	decision := s.scheduleLocked(w)
	s.mu.Unlock()

	decision.Latency = time.Since(start)
	s.metrics.SchedulingLatency.Record(decision.Latency)

	if decision.Scheduled() {
		s.metrics.ScheduleSuccess.Inc(1)
		log.WithFields(log.Fields{
			"workload_id": w.ID,
			"node_id":     decision.NodeID,
			"score":       decision.Score,
			"preempted":   len(decision.Preempted),
		}).Info("workload scheduled")
	} else {
		s.metrics.ScheduleFail.Inc(1)
		log.WithFields(log.Fields{
			"workload_id": w.ID,
			"reason":      decision.Reason,
		}).Debug("workload not scheduled")
	}
	return decision
}

// scheduleLocked picks the best eligible node, falling back to
// preemption when the workload's class allows it.
func (s *Scheduler) scheduleLocked(w *model.Workload) model.SchedulingDecision {
	decision := model.SchedulingDecision{WorkloadID: w.ID}

	var best *model.NodeResources
	bestScore := 0.0
	for _, id := range s.nodeOrder {
		n := s.nodes[id]
		if !n.CanFit(w.Requirements) {
			continue
		}
		score := s.strategy.Score(w, n)
		if best == nil || score > bestScore {
			best = n
			bestScore = score
		}
	}

	if best != nil {
		gpuIDs, ok := best.Allocate(w.Requirements)
		if ok {
			s.assignments[w.ID] = &assignment{
				workload: w,
				nodeID:   best.NodeID,
				gpuIDs:   gpuIDs,
			}
			nodeID := best.NodeID
			decision.NodeID = &nodeID
			decision.Score = bestScore
			decision.Reason = fmt.Sprintf("placed by %s", s.strategy.Name())
			return decision
		}
	}

	return s.preemptLocked(w, decision)
}

// preemptLocked searches nodes in registration order for a victim set
// of strictly lower priority whose eviction makes the workload fit.
func (s *Scheduler) preemptLocked(
	w *model.Workload, decision model.SchedulingDecision) model.SchedulingDecision {
	class := s.classes.Lookup(w.PriorityClass)
	if class.Policy != preemption.PreemptLowerPriority {
		decision.Reason = "no eligible node; class forbids preemption"
		return decision
	}

	for _, id := range s.nodeOrder {
		n := s.nodes[id]
		victims, ok := s.ranker.VictimsToEvict(
			w.Requirements, n, s.runningOnLocked(id), w.Priority)
		if !ok {
			continue
		}

		// Release the victims' resources first so the exact-fit check
		// below sees the post-eviction node. Nothing else is committed
		// yet: assignments and the queue change only once the preemptor
		// is actually placed.
		for _, victim := range victims {
			n.Release(victim.Workload.Requirements, victim.GPUIDs)
		}

		gpuIDs, ok := n.Allocate(w.Requirements)
		if !ok {
			// The victim search approximates GPU fit by device count; an
			// exact re-check can still fail on GPU memory. Put every
			// victim back so the node is unchanged.
			for _, victim := range victims {
				restored, ok := n.Allocate(victim.Workload.Requirements)
				if !ok {
					log.WithFields(log.Fields{
						"workload_id": victim.Workload.ID,
						"node_id":     n.NodeID,
					}).Error("failed to restore victim after aborted preemption")
					continue
				}
				s.assignments[victim.Workload.ID].gpuIDs = restored
			}
			continue
		}

		for _, victim := range victims {
			delete(s.assignments, victim.Workload.ID)
			s.pending.EnqueueFront(victim.Workload)
			decision.Preempted = append(decision.Preempted, victim.Workload.ID)
		}
		s.metrics.WorkloadsEvicted.Inc(int64(len(victims)))

		s.assignments[w.ID] = &assignment{
			workload: w,
			nodeID:   n.NodeID,
			gpuIDs:   gpuIDs,
		}
		nodeID := n.NodeID
		decision.NodeID = &nodeID
		decision.Score = s.strategy.Score(w, n)
		decision.Reason = fmt.Sprintf(
			"placed by %s after evicting %d workloads",
			s.strategy.Name(), len(victims))
		s.metrics.SchedulePreempt.Inc(1)
		return decision
	}

	decision.Reason = "no eligible node and no sufficient victim set"
	return decision
}

// runningOnLocked lists the workloads assigned to a node.
func (s *Scheduler) runningOnLocked(id model.NodeID) []preemption.RunningWorkload {
	var running []preemption.RunningWorkload
	for _, a := range s.assignments {
		if a.nodeID == id {
			running = append(running, preemption.RunningWorkload{
				Workload: a.workload,
				NodeID:   a.nodeID,
				GPUIDs:   a.gpuIDs,
			})
		}
	}
	return running
}

// ScheduleNext dequeues the next ready workload and schedules it. Soft
// failures put the workload back with backoff. Returns false when no
// workload is ready.
func (s *Scheduler) ScheduleNext() (*model.SchedulingDecision, bool) {
	queued, err := s.pending.Dequeue()
	if err != nil {
		return nil, false
	}

	decision := s.Schedule(queued.Workload)
	if !decision.Scheduled() {
		s.pending.RecordFailure(queued)
	}
	s.metrics.QueueLen.Update(float64(s.pending.Len()))
	return &decision, true
}

// Release frees the resources held by a running workload.
func (s *Scheduler) Release(workloadID string) error {
	s.mu.Lock()
	a, ok := s.assignments[workloadID]
	if !ok {
		s.mu.Unlock()
		return errors.Errorf("workload %s is not assigned", workloadID)
	}
	delete(s.assignments, workloadID)
	if n, ok := s.nodes[a.nodeID]; ok {
		n.Release(a.workload.Requirements, a.gpuIDs)
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.DeleteWorkload(context.Background(), workloadID); err != nil {
			log.WithError(err).WithField("workload_id", workloadID).
				Warn("failed to delete workload record")
		}
	}

	log.WithFields(log.Fields{
		"workload_id": workloadID,
		"node_id":     a.nodeID,
	}).Info("workload released")
	return nil
}

// Cancel removes a pending workload from the queue. It returns false
// when the workload is not pending.
func (s *Scheduler) Cancel(workloadID string) bool {
	removed := s.pending.Remove(workloadID)
	if removed {
		s.metrics.QueueLen.Update(float64(s.pending.Len()))
		if s.store != nil {
			if err := s.store.DeleteWorkload(context.Background(), workloadID); err != nil {
				log.WithError(err).WithField("workload_id", workloadID).
					Warn("failed to delete workload record")
			}
		}
	}
	return removed
}

// Assignment returns the placement of a running workload.
func (s *Scheduler) Assignment(workloadID string) (Assignment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[workloadID]
	if !ok {
		return Assignment{}, false
	}
	return Assignment{
		WorkloadID: workloadID,
		NodeID:     a.nodeID,
		GPUIDs:     append([]uint32(nil), a.gpuIDs...),
	}, true
}

// QueueLen returns the number of pending workloads.
func (s *Scheduler) QueueLen() int {
	return s.pending.Len()
}

// Peek returns the front pending workload without removing it.
func (s *Scheduler) Peek() (*model.Workload, error) {
	return s.pending.Peek()
}

// PriorityClasses returns the registered priority classes.
func (s *Scheduler) PriorityClasses() []preemption.PriorityClass {
	return s.classes.Classes()
}

// NodeCount returns the number of registered nodes.
func (s *Scheduler) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// ClusterUtilization returns the mean cpu and memory utilization across
// registered nodes, or 0 when none are registered.
func (s *Scheduler) ClusterUtilization() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.nodes) == 0 {
		return 0
	}
	var total float64
	for _, n := range s.nodes {
		total += (n.CPUUtilization() + n.MemoryUtilization()) / 2
	}
	return total / float64(len(s.nodes))
}

func (s *Scheduler) persistNode(n *model.NodeResources) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveNode(context.Background(), n); err != nil {
		log.WithError(err).WithField("node_id", n.NodeID).
			Warn("failed to persist node record")
	}
}
