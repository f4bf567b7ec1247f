// Package queue implements the scheduling queue: a priority FIFO of
// pending workloads with exponential backoff for repeat failures.
package queue

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/forgelabs/forge-orchestrator/pkg/common/backoff"
	mlq "github.com/forgelabs/forge-orchestrator/pkg/common/queue"
	"github.com/forgelabs/forge-orchestrator/pkg/scheduler/model"
)

const (
	// backoffInitial is the delay after the first placement failure.
	backoffInitial = 2 * time.Second
	// backoffSaturation is where the exponent clamp levels the delay off.
	backoffSaturation = 256 * time.Second
	// backoffCeiling is the overall cap on any computed backoff.
	backoffCeiling = 300 * time.Second
)

// ErrEmpty is returned when no workload is ready to be dequeued.
var ErrEmpty = errors.New("no ready workload in scheduling queue")

// QueuedWorkload wraps a pending workload with its queue bookkeeping.
type QueuedWorkload struct {
	// Workload is the queued item.
	Workload *model.Workload
	// Sequence yields FIFO order within a priority tier. Normal arrivals
	// get strictly increasing positive values; re-admitted preemption
	// victims get strictly decreasing negative values so they sort ahead
	// of every normal arrival, matching their front-of-tier position.
	Sequence int64
	// Attempts counts failed placement attempts.
	Attempts uint32
	// BackoffUntil holds the workload out of dequeue until it passes.
	// Zero means the workload is ready.
	BackoffUntil time.Time
}

// Ready returns true once any backoff window has elapsed.
func (q *QueuedWorkload) Ready(now time.Time) bool {
	return q.BackoffUntil.IsZero() || !now.Before(q.BackoffUntil)
}

// SchedulingQueue orders pending workloads by priority descending, then by
// arrival sequence ascending. All methods are safe for concurrent use.
type SchedulingQueue struct {
	mu            sync.Mutex
	list          *mlq.MultiLevelList
	sequence      int64
	frontSequence int64
	policy        backoff.RetryPolicy
}

// NewSchedulingQueue creates an empty scheduling queue.
func NewSchedulingQueue() *SchedulingQueue {
	return &SchedulingQueue{
		list: mlq.NewMultiLevelList(),
		policy: backoff.NewExponentialPolicy(backoff.ExponentialConfig{
			InitialDelay: backoffInitial,
			MaxDelay:     backoffSaturation,
			Multiplier:   2.0,
		}),
	}
}

// Enqueue adds a workload with the next arrival sequence. The lock is
// held across the push so the sequence order and the list order cannot
// diverge under concurrent submitters.
func (q *SchedulingQueue) Enqueue(workload *model.Workload) {
	q.mu.Lock()
	q.sequence++
	queued := &QueuedWorkload{
		Workload: workload,
		Sequence: q.sequence,
	}
	q.list.Push(int(workload.Priority), queued)
	q.mu.Unlock()

	log.WithFields(log.Fields{
		"workload_id": workload.ID,
		"priority":    workload.Priority,
		"sequence":    queued.Sequence,
	}).Debug("workload enqueued")
}

// EnqueueFront re-admits a preemption victim at the front of its own
// priority tier with no backoff penalty.
func (q *SchedulingQueue) EnqueueFront(workload *model.Workload) {
	q.mu.Lock()
	q.frontSequence--
	queued := &QueuedWorkload{
		Workload: workload,
		Sequence: q.frontSequence,
	}
	q.list.PushFront(int(workload.Priority), queued)
	q.mu.Unlock()

	log.WithFields(log.Fields{
		"workload_id": workload.ID,
		"priority":    workload.Priority,
	}).Debug("workload re-admitted at front of tier")
}

// Dequeue removes and returns the highest-priority, earliest-arrived
// workload that is not in backoff. Items still in backoff keep their
// position.
func (q *SchedulingQueue) Dequeue() (*QueuedWorkload, error) {
	// Serialize the scan-and-remove so concurrent dequeues never return
	// the same workload.
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for _, level := range q.list.Levels() {
		var found *QueuedWorkload
		q.list.Scan(level, func(item interface{}) bool {
			queued := item.(*QueuedWorkload)
			if queued.Ready(now) {
				found = queued
				return false
			}
			return true
		})
		if found == nil {
			continue
		}
		q.list.Remove(level, func(item interface{}) bool {
			return item.(*QueuedWorkload) == found
		})
		return found, nil
	}
	return nil, ErrEmpty
}

// RecordFailure increments the attempt counter, applies exponential
// backoff and reinserts the workload at its sequence position so FIFO
// order within the tier is preserved.
func (q *SchedulingQueue) RecordFailure(queued *QueuedWorkload) {
	queued.Attempts++

	delay := q.policy.CalculateNextDelay(int(queued.Attempts))
	if delay > backoffCeiling {
		delay = backoffCeiling
	}
	queued.BackoffUntil = time.Now().Add(delay)

	q.mu.Lock()
	q.list.Insert(
		int(queued.Workload.Priority),
		queued,
		func(existing interface{}) bool {
			return existing.(*QueuedWorkload).Sequence > queued.Sequence
		})
	q.mu.Unlock()

	log.WithFields(log.Fields{
		"workload_id": queued.Workload.ID,
		"attempts":    queued.Attempts,
		"backoff":     delay,
	}).Debug("placement failure recorded")
}

// Remove cancels a pending workload by id. It returns true when the
// workload was found.
func (q *SchedulingQueue) Remove(workloadID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, level := range q.list.Levels() {
		removed := q.list.Remove(level, func(item interface{}) bool {
			return item.(*QueuedWorkload).Workload.ID == workloadID
		})
		if removed {
			return true
		}
	}
	return false
}

// Peek returns the front workload of the highest priority tier without
// removing it.
func (q *SchedulingQueue) Peek() (*model.Workload, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.list.PeekItem(q.list.GetHighestLevel())
	if err != nil {
		return nil, ErrEmpty
	}
	return item.(*QueuedWorkload).Workload, nil
}

// Len returns the number of pending workloads, including those in backoff.
func (q *SchedulingQueue) Len() int {
	return q.list.Size()
}

// IsEmpty returns true when the queue holds no workloads.
func (q *SchedulingQueue) IsEmpty() bool {
	return q.list.IsEmpty()
}
