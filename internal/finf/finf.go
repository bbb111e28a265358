// Package finf implements the trivial numeric rewrite applied to
// ".finf" companion text files: three named fields are rescaled, every
// other line is copied through byte-for-byte.
package finf

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/log"
)

var finfLog = log.GetLogger("finf")

// ProcessAll finds every *.finf file directly under inputDir, rewrites
// it, and writes the result under outputDir with the same base name.
// It returns the number of files processed.
func ProcessAll(inputDir, outputDir string) (int, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", inputDir, err)
	}

	var finfFiles []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".finf") {
			finfFiles = append(finfFiles, filepath.Join(inputDir, e.Name()))
		}
	}
	if len(finfFiles) == 0 {
		finfLog.Infof("no .finf files found in %s", inputDir)
		return 0, nil
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", outputDir, err)
	}

	for _, in := range finfFiles {
		out := filepath.Join(outputDir, filepath.Base(in))
		if err := processFile(in, out); err != nil {
			finfLog.Errorf("process %s: %v", in, err)
			continue
		}
		finfLog.Infof("processed: %s", filepath.Base(in))
	}
	return len(finfFiles), nil
}

func processFile(inputPath, outputPath string) error {
	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", inputPath, err)
	}
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, rewriteLine(scanner.Text()))
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", inputPath, err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outputPath, err)
	}
	w := bufio.NewWriter(out)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// rewriteLine applies the "do"/"Nim"/"Eti" field rescale if the line's
// first whitespace-delimited token matches one of them, and leaves the
// line untouched otherwise.
func rewriteLine(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return line
	}

	switch fields[0] {
	case "do":
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return line
		}
		return fmt.Sprintf("do\t%v", v*10)
	case "Nim":
		v, err := strconv.Atoi(fields[1])
		if err != nil {
			return line
		}
		return fmt.Sprintf("Nim\t%d", v/10)
	case "Eti":
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return line
		}
		return fmt.Sprintf("Eti\t%v", v*10)
	default:
		return line
	}
}
