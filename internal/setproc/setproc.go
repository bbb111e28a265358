// Package setproc implements the set processor (C6): for one complete
// FileSet, compress its members into an archive, verify the archive by
// round-trip decode, copy the reference frame, and hand the originals
// to the delete queue.
package setproc

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/archive"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/deletequeue"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/fileindex"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/log"
)

var procLog = log.GetLogger("setproc")

// OutputPath computes outputDir/stem(firstFile)+".lz4", a pure
// function of the reference frame's stem and the output directory.
func OutputPath(firstFile, outputDir string) string {
	stem := strings.TrimSuffix(filepath.Base(firstFile), filepath.Ext(firstFile))
	return filepath.Join(outputDir, stem+".lz4")
}

// Process implements processFileSet. It returns true on success
// (including the idempotent "output already exists" case) and false
// on any failure, in which case the caller must revert the set to
// unprocessed and no member of the set has been deleted.
func Process(set fileindex.FileSet, outputDir string, deleteAfter bool, opts archive.Options, dq *deletequeue.Queue) bool {
	if set.FirstFile == "" {
		procLog.Errorf("set %d/%d has no firstFile, skipping", set.Run, set.SetNumber)
		return false
	}

	outputPath := OutputPath(set.FirstFile, outputDir)
	if _, err := os.Stat(outputPath); err == nil {
		return true
	}

	if err := archive.Compress(set.Files, outputPath, opts); err != nil {
		procLog.Errorf("compress set %d/%d: %v", set.Run, set.SetNumber, err)
		os.Remove(outputPath)
		return false
	}

	if err := archive.VerifyRoundTrip(outputPath, set.Files); err != nil {
		procLog.Errorf("verify set %d/%d: %v", set.Run, set.SetNumber, err)
		os.Remove(outputPath)
		return false
	}

	refCopy := filepath.Join(outputDir, filepath.Base(set.FirstFile))
	if err := copyFile(set.FirstFile, refCopy); err != nil {
		procLog.Warnf("copy reference frame %s: %v (archive is canonical, continuing)", set.FirstFile, err)
	}

	if deleteAfter {
		dq.Enqueue(deletequeue.Task{Paths: set.Files, Protected: set.FirstFile})
	}

	return true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return out.Close()
}
