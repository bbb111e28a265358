package monitor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/deletequeue"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/fileindex"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/monitor"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/pattern"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/scanner"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/taskqueue"
)

func TestControllerCompressesCompleteSetAndDeletesOriginals(t *testing.T) {
	watchDir := t.TempDir()
	outputDir := t.TempDir()
	pat := pattern.New("test")

	names := []string{"test_01_00001.tif", "test_01_00002.tif"}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(watchDir, n), []byte("frame-"+n), 0o644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}

	idx := fileindex.Open(watchDir, 2, pat)
	q := taskqueue.New()
	dq := deletequeue.New(4)
	sc := scanner.New(watchDir, pat, 2, 2, idx, q)

	cfg := monitor.Config{
		WatchDir:     watchDir,
		OutputDir:    outputDir,
		SetSize:      2,
		MaxThreads:   2,
		MaxProcesses: 2,
		Acceleration: 4,
		DeleteAfter:  true,
	}
	c := monitor.New(cfg, idx, q, dq, sc)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	archivePath := filepath.Join(outputDir, "test_01_00001.lz4")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(archivePath); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, err := os.Stat(archivePath); err != nil {
		t.Fatalf("expected archive to be produced at %s: %v", archivePath, err)
	}

	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(watchDir, names[1])); os.IsNotExist(err) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, err := os.Stat(filepath.Join(watchDir, names[1])); err == nil {
		t.Fatalf("expected non-reference original to be deleted")
	}
	if _, err := os.Stat(filepath.Join(watchDir, names[0])); err != nil {
		t.Fatalf("expected reference frame (first file) to survive deletion: %v", err)
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("Controller.Run did not return after cancellation")
	}
}

// TestControllerShutsDownAfterFailedInitialScan guards against the
// dispatch loop hanging forever in queue.Get when the watch directory
// never existed and no set is ever produced.
func TestControllerShutsDownAfterFailedInitialScan(t *testing.T) {
	watchDir := filepath.Join(t.TempDir(), "does-not-exist")
	outputDir := t.TempDir()
	pat := pattern.New("test")

	idx := fileindex.Open(t.TempDir(), 2, pat)
	q := taskqueue.New()
	dq := deletequeue.New(4)
	sc := scanner.New(watchDir, pat, 2, 2, idx, q)

	cfg := monitor.Config{
		WatchDir:     watchDir,
		OutputDir:    outputDir,
		SetSize:      2,
		MaxThreads:   2,
		MaxProcesses: 2,
		Acceleration: 4,
	}
	c := monitor.New(cfg, idx, q, dq, sc)

	ctx, cancel := context.WithCancel(context.Background())

	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	time.Sleep(50 * time.Millisecond) // let the failed full scan happen
	cancel()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("Controller.Run hung after cancellation following a failed initial scan")
	}
}
