// Package taskqueue implements the FIFO of ready TaskKeys bridging the
// directory scanner to the worker pool, including the queued/in-flight
// membership tracking needed to prevent duplicate dispatch.
package taskqueue

import (
	"sync"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/taskkey"
)

// Queue is a mutex+condvar FIFO of TaskKeys. Get blocks while the
// queue is empty unless the producer has signalled it is finished with
// the initial full scan, mirroring getNextTaskKey's contract.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items       []taskkey.Key
	queued      map[taskkey.Key]struct{}
	inFlight    map[taskkey.Key]struct{}
	producerEnd bool
	cancelled   bool
}

// New builds an empty queue.
func New() *Queue {
	q := &Queue{
		queued:   make(map[taskkey.Key]struct{}),
		inFlight: make(map[taskkey.Key]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues key unless it is already queued or already being
// processed by a worker (the dedup rule required to prevent duplicate
// pick-up between scans).
func (q *Queue) Push(key taskkey.Key) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[key]; ok {
		return
	}
	if _, ok := q.inFlight[key]; ok {
		return
	}
	q.items = append(q.items, key)
	q.queued[key] = struct{}{}
	q.cond.Signal()
}

// MarkProducerFinished records that the initial full scan has
// completed; subsequent Get calls on an empty queue return immediately
// instead of blocking.
func (q *Queue) MarkProducerFinished() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.producerEnd = true
	q.cond.Broadcast()
}

// Cancel unblocks any goroutine currently parked in Get and causes
// every future call to return immediately, regardless of producer
// state. Used to guarantee shutdown makes progress even if the
// producer never reaches its first MarkProducerFinished call.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = true
	q.cond.Broadcast()
}

// Get pops the next key, blocking while the queue is empty unless the
// producer has already finished its first pass or the queue has been
// cancelled. It moves the key from "queued" to "in flight" so a
// concurrent Push for the same key is suppressed until Done is called.
func (q *Queue) Get() (taskkey.Key, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.producerEnd || q.cancelled {
			return taskkey.Key{}, false
		}
		q.cond.Wait()
	}

	key := q.items[0]
	q.items = q.items[1:]
	delete(q.queued, key)
	q.inFlight[key] = struct{}{}
	return key, true
}

// Done releases key from the in-flight set once its worker has
// completed (successfully or not).
func (q *Queue) Done(key taskkey.Key) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, key)
}

// InFlight reports whether key currently has a worker dispatched for
// it, for callers implementing an additional membership check.
func (q *Queue) InFlight(key taskkey.Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inFlight[key]
	return ok
}

// Len reports the number of items currently queued (not in flight).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
