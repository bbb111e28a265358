// Package monitor implements the controller (C8): it owns the index,
// task queue, delete queue and scanner, and dispatches a bounded pool
// of workers running the set processor, using the pre-claim protocol
// described for avoiding duplicate dispatch of the same TaskKey.
package monitor

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/archive"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/deletequeue"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/fileindex"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/scanner"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/setproc"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/taskkey"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/taskqueue"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/log"
)

const idleSleep = 50 * time.Millisecond

// Config carries the tunables the original stdin prompts and hardcoded
// constants provided.
type Config struct {
	WatchDir     string
	OutputDir    string
	SetSize      int
	MaxThreads   int // per-worker parallel read threads
	MaxProcesses int // concurrent workers
	Acceleration int
	DeleteAfter  bool
}

// Controller owns the full compress-side pipeline for one watch
// directory.
type Controller struct {
	cfg     Config
	index   *fileindex.Index
	queue   *taskqueue.Queue
	deleteQ *deletequeue.Queue
	scan    *scanner.Scanner

	sem chan struct{}
	wg  sync.WaitGroup
	log *log.LogHandle
}

// New wires a Controller from its already-constructed components.
func New(cfg Config, idx *fileindex.Index, q *taskqueue.Queue, dq *deletequeue.Queue, sc *scanner.Scanner) *Controller {
	maxProcesses := cfg.MaxProcesses
	if maxProcesses <= 0 {
		maxProcesses = 1
	}
	return &Controller{
		cfg:     cfg,
		index:   idx,
		queue:   q,
		deleteQ: dq,
		scan:    sc,
		sem:     make(chan struct{}, maxProcesses),
		log:     log.GetLogger("monitor"),
	}
}

// Run starts the scanner and delete queue, then runs the dispatch loop
// until ctx is cancelled. On return, all in-flight workers have been
// awaited and the index has been flushed to disk.
func (c *Controller) Run(ctx context.Context) error {
	c.deleteQ.Run()
	defer c.deleteQ.Close()

	scanDone := make(chan error, 1)
	go func() { scanDone <- c.scan.Run(ctx) }()

	// Cancelling the queue directly, rather than relying solely on the
	// scanner marking its producer pass finished, guarantees the
	// dispatch loop's blocking Get unblocks on shutdown even if the
	// scanner's first full scan never completes.
	go func() {
		<-ctx.Done()
		c.queue.Cancel()
	}()

	c.dispatchLoop(ctx)

	c.wg.Wait()
	<-scanDone

	if err := c.index.Close(); err != nil {
		c.log.Errorf("flush index on shutdown: %v", err)
		return err
	}
	return nil
}

func (c *Controller) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		key, ok := c.queue.Get()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}

		if !c.tryDispatch(key) {
			c.queue.Done(key)
		}
	}
}

// tryDispatch fetches the FileSet for key, double-checks completeness,
// short-circuits if the output already exists, pre-claims the set by
// marking it processed before spawning the worker, and dispatches.
// It returns false if no worker was actually spawned (queue.Done must
// then be called by the caller).
func (c *Controller) tryDispatch(key taskkey.Key) bool {
	set, ok := c.index.GetFileSet(key)
	if !ok {
		return false
	}
	if !set.IsComplete(c.cfg.SetSize) {
		return false
	}

	outputPath := setproc.OutputPath(set.FirstFile, c.cfg.OutputDir)
	if _, err := os.Stat(outputPath); err == nil {
		c.index.MarkFileSetProcessed(key, true)
		return false
	}

	// Pre-claim before dispatch: prevents the next incremental scan
	// from re-enqueueing this key while the worker is running.
	c.index.MarkFileSetProcessed(key, true)

	c.sem <- struct{}{}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { <-c.sem }()
		defer c.queue.Done(key)

		opts := archive.Options{ReadThreads: c.cfg.MaxThreads, Acceleration: c.cfg.Acceleration}
		ok := setproc.Process(set, c.cfg.OutputDir, c.cfg.DeleteAfter, opts, c.deleteQ)
		if !ok {
			c.index.MarkFileSetProcessed(key, false)
			c.log.Warnf("set %s reverted to unprocessed after failure", key)
		}
	}()
	return true
}
