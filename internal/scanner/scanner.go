// Package scanner implements the directory monitor's producer side:
// one initial full scan (parallel, partitioned across a worker pool)
// followed by incremental scans every 300ms, feeding newly-complete
// sets to the task queue.
package scanner

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/fileindex"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/pattern"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/taskkey"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/taskqueue"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/log"
)

const (
	IncrementalInterval = 300 * time.Millisecond
	ErrorBackoff        = 1 * time.Second
)

// Scanner watches WatchDir for files matching Pattern and feeds
// complete, unprocessed sets to Queue via Index.
type Scanner struct {
	WatchDir    string
	Pattern     *pattern.FilePattern
	SetSize     int
	Concurrency int

	Index *fileindex.Index
	Queue *taskqueue.Queue

	log *log.LogHandle
}

// New builds a Scanner. Concurrency <= 0 defaults to 1.
func New(watchDir string, pat *pattern.FilePattern, setSize, concurrency int, idx *fileindex.Index, q *taskqueue.Queue) *Scanner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scanner{
		WatchDir:    watchDir,
		Pattern:     pat,
		SetSize:     setSize,
		Concurrency: concurrency,
		Index:       idx,
		Queue:       q,
		log:         log.GetLogger("scanner"),
	}
}

type direntry struct {
	name  string
	mtime int64
}

// listDir performs the single-threaded readdir the spec calls for
// (many filesystems serialise concurrent readdir calls anyway).
func (s *Scanner) listDir() ([]direntry, error) {
	entries, err := os.ReadDir(s.WatchDir)
	if err != nil {
		return nil, err
	}
	out := make([]direntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			s.log.Warnf("stat %s during scan: %v", e.Name(), err)
			continue
		}
		out = append(out, direntry{name: e.Name(), mtime: info.ModTime().UnixMilli()})
	}
	return out, nil
}

// FullScan enumerates the directory once, partitions the result across
// a bounded worker pool, reconciles the index, prunes vanished paths,
// enqueues every already-complete unprocessed set, saves the index, and
// marks the producer's first pass finished.
func (s *Scanner) FullScan(ctx context.Context) error {
	entries, err := s.listDir()
	if err != nil {
		return err
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.Concurrency)

	for _, e := range entries {
		e := e
		g.Go(func() error {
			s.observe(e)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.Index.Cleanup()
	s.enqueueEligible(s.Index.GetAllFileSets(false))
	if err := s.Index.SaveNow(); err != nil {
		s.log.Warnf("save index after full scan: %v", err)
	}
	s.Queue.MarkProducerFinished()
	return nil
}

// observe parses one directory entry and, if it matches the pattern
// and has changed, records it in the index.
func (s *Scanner) observe(e direntry) {
	run, frame, ok := s.Pattern.Match(e.name)
	if !ok {
		return
	}
	path := filepath.Join(s.WatchDir, e.name)
	if !s.Index.HasFileChanged(path, e.mtime) {
		return
	}
	s.Index.AddFile(path, run, frame, e.mtime, false)
}

func (s *Scanner) enqueueEligible(sets []fileindex.FileSet) {
	for _, set := range sets {
		if set.IsComplete(s.SetSize) && !set.Processed {
			s.Queue.Push(taskkey.Key{Run: set.Run, SetNumber: set.SetNumber})
		}
	}
}

// Run performs the initial full scan and then loops incremental scans
// every IncrementalInterval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	if err := s.FullScan(ctx); err != nil {
		s.log.Errorf("full scan failed: %v", err)
		// FullScan only marks the queue's producer pass finished on its
		// success path; without this, a startup misconfiguration (e.g. a
		// missing watch dir) leaves Queue.Get blocked forever and the
		// monitor can never shut down.
		s.Queue.MarkProducerFinished()
	}

	ticker := time.NewTicker(IncrementalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.incrementalScan(); err != nil {
				s.log.Errorf("incremental scan failed, retrying after backoff: %v", err)
				time.Sleep(ErrorBackoff)
			}
		}
	}
}

// incrementalScan re-enumerates the directory once and enqueues any
// touched set that has become complete.
func (s *Scanner) incrementalScan() error {
	entries, err := s.listDir()
	if err != nil {
		return err
	}

	touched := make(map[taskkey.Key]struct{})
	for _, e := range entries {
		run, frame, ok := s.Pattern.Match(e.name)
		if !ok {
			continue
		}
		path := filepath.Join(s.WatchDir, e.name)
		if !s.Index.HasFileChanged(path, e.mtime) {
			continue
		}
		key := s.Index.AddFile(path, run, frame, e.mtime, false)
		touched[key] = struct{}{}
	}

	for key := range touched {
		set, ok := s.Index.GetFileSet(key)
		if !ok {
			continue
		}
		if set.IsComplete(s.SetSize) && !set.Processed {
			s.Queue.Push(key)
		}
	}
	return nil
}
