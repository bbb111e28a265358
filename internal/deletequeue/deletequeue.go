// Package deletequeue implements the background best-effort batch
// deletion consumer: a single worker goroutine that filters incoming
// paths through a safety predicate before removing them, batching bulk
// deletes when a task is large enough to make it worthwhile.
package deletequeue

import (
	"os"
	"sync"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/pattern"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/log"
)

// BulkThreshold is the minimum survivor count at which bulkDelete is
// used; smaller batches are removed one file at a time.
const BulkThreshold = 10

// Task is one set's worth of paths to consider for deletion.
type Task struct {
	Paths     []string
	Protected string // firstFile: must never be deleted
}

// Queue is a single-consumer channel-backed delete worker. It never
// propagates errors to callers: deletion is best-effort, and every
// failure is logged instead.
type Queue struct {
	tasks chan Task
	done  chan struct{}
	wg    sync.WaitGroup
	log   *log.LogHandle
}

// New creates a Queue with the given channel buffer depth.
func New(buffer int) *Queue {
	return &Queue{
		tasks: make(chan Task, buffer),
		done:  make(chan struct{}),
		log:   log.GetLogger("deletequeue"),
	}
}

// Enqueue submits a task. It never blocks the caller for long: the
// channel is buffered, and a full channel means the worker is behind,
// which surfaces as a blocking send rather than dropping work silently.
func (q *Queue) Enqueue(t Task) {
	q.tasks <- t
}

// Run starts the single worker goroutine; call Close to stop it and
// drain remaining tasks.
func (q *Queue) Run() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case t, ok := <-q.tasks:
				if !ok {
					return
				}
				q.process(t)
			case <-q.done:
				// Drain whatever is already queued before exiting.
				for {
					select {
					case t := <-q.tasks:
						q.process(t)
					default:
						return
					}
				}
			}
		}
	}()
}

// Close signals the worker to drain and exit, then waits for it.
func (q *Queue) Close() {
	close(q.done)
	q.wg.Wait()
}

func (q *Queue) process(t Task) {
	var survivors []string
	for _, p := range t.Paths {
		if isSafeToDelete(p, t.Protected) {
			survivors = append(survivors, p)
		}
	}
	if len(survivors) == 0 {
		return
	}

	if len(survivors) >= BulkThreshold {
		bulkDelete(q.log, survivors)
		return
	}
	q.deleteEach(survivors)
}

func (q *Queue) deleteEach(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			q.log.Warnf("delete %s failed: %v", p, err)
		}
	}
}

// bulkDelete has no real platform acceleration available on a
// standard-library-only build; it degrades to sequential removal but
// keeps the "attempt bulk, then log per-failure" contract's shape so a
// platform-specific implementation can slot in without changing the
// caller.
func bulkDelete(log *log.LogHandle, paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			log.Warnf("bulk delete: %s failed: %v", p, err)
		}
	}
}

var deleteSafeRegexp = pattern.DeleteSafeRegexp

func isSafeToDelete(path, protected string) bool {
	if path == protected {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	base := regexpBase(path)
	return deleteSafeRegexp.MatchString(base)
}

func regexpBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
