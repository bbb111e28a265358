// Command tif-decompress reads LZ4 archives produced by tif-compress
// and either extracts their member TIFFs as-is or sums groups of
// consecutive frames into header-preserving integrated TIFFs.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/appconfig"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/archive"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/finf"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/merge"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/log"
)

var mainLog = log.GetLogger("main")

const (
	runTypeExtract = 0
	runTypeMerge   = 1
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "tif-decompress"
	app.Usage = "extract or integrate frames from tif-compress archives"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "input-dir", Usage: "directory containing .lz4 archives"},
		cli.StringFlag{Name: "output-dir", Usage: "directory to write extracted/merged TIFFs to"},
		cli.StringFlag{Name: "prefix", Usage: "filename prefix"},
		cli.IntFlag{Name: "start-run", Usage: "first run number, inclusive"},
		cli.IntFlag{Name: "end-run", Usage: "last run number, inclusive"},
		cli.IntFlag{Name: "start-frame", Usage: "first frame number, inclusive"},
		cli.IntFlag{Name: "end-frame", Usage: "last frame number, inclusive"},
		cli.IntFlag{Name: "run-type", Usage: "0=extract, 1=merge", Value: -1},
		cli.IntFlag{Name: "merge-frame-num", Usage: "frames per integrated output (run-type=1 only)"},
		cli.BoolFlag{Name: "rewrite-finf", Usage: "also rewrite .finf companion files found in input-dir"},
		cli.StringFlag{Name: "config", Usage: "optional YAML config file"},
		cli.StringFlag{Name: "log-file", Value: "stderr"},
	}
	return app
}

func main() {
	app := newApp()
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		mainLog.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := appconfig.DefaultDecompressConfig()
	if configPath := c.String("config"); configPath != "" {
		loaded, err := appconfig.LoadDecompress(configPath)
		if err != nil && err != appconfig.ErrMissing {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	stdin := bufio.NewReader(os.Stdin)
	cfg.InputDir = orPrompt(c.String("input-dir"), cfg.InputDir, stdin, "input directory")
	cfg.OutputDir = orPrompt(c.String("output-dir"), cfg.OutputDir, stdin, "output directory")
	cfg.Prefix = orPrompt(c.String("prefix"), cfg.Prefix, stdin, "filename prefix")

	cfg.StartRun = intOrPrompt(c, "start-run", stdin, "start run", cfg.StartRun)
	cfg.EndRun = intOrPrompt(c, "end-run", stdin, "end run", cfg.EndRun)
	cfg.StartFrame = intOrPrompt(c, "start-frame", stdin, "start frame", cfg.StartFrame)
	cfg.EndFrame = intOrPrompt(c, "end-frame", stdin, "end frame", cfg.EndFrame)

	if c.IsSet("run-type") {
		cfg.RunType = c.Int("run-type")
	} else if c.String("config") == "" {
		cfg.RunType = promptInt(stdin, "run type (0=extract, 1=merge)", cfg.RunType)
	}
	if cfg.RunType == runTypeMerge {
		cfg.MergeFrameNum = intOrPrompt(c, "merge-frame-num", stdin, "merge frame num", cfg.MergeFrameNum)
	}
	if c.Bool("rewrite-finf") {
		cfg.RewriteFinf = true
	}
	if logFile := c.String("log-file"); logFile != "" {
		cfg.LogFile = logFile
	}

	log.InitLoggerRedirect(cfg.LogFile)

	if cfg.InputDir == "" || cfg.OutputDir == "" || cfg.Prefix == "" {
		return fmt.Errorf("input-dir, output-dir and prefix are all required")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	g := new(errgroup.Group)
	g.SetLimit(maxInt(cfg.MaxConcurrency, 1))

	for run := cfg.StartRun; run <= cfg.EndRun; run++ {
		run := run
		g.Go(func() error {
			if err := processRun(cfg, run); err != nil {
				mainLog.Errorf("run %02d: %v", run, err)
			}
			return nil // per-archive errors are logged and skipped, never fatal
		})
	}
	_ = g.Wait()

	if cfg.RewriteFinf {
		n, err := finf.ProcessAll(cfg.InputDir, cfg.OutputDir)
		if err != nil {
			mainLog.Errorf("finf rewrite: %v", err)
		} else {
			mainLog.Infof("rewrote %d .finf file(s)", n)
		}
	}
	return nil
}

func processRun(cfg appconfig.DecompressConfig, run int) error {
	prefixWithRun := fmt.Sprintf("%s_%02d_", cfg.Prefix, run)

	archives, err := findArchives(cfg.InputDir, prefixWithRun)
	if err != nil {
		return fmt.Errorf("list archives: %w", err)
	}
	if len(archives) == 0 {
		mainLog.Warnf("no archives found for run %02d in %s", run, cfg.InputDir)
		return nil
	}

	var entries []archive.FileEntry
	for _, path := range archives {
		decoded, err := archive.Decode(path)
		if err != nil {
			mainLog.Errorf("decode %s: %v", path, err)
			continue
		}
		entries = append(entries, decoded...)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no entries decoded for run %02d", run)
	}

	switch cfg.RunType {
	case runTypeExtract:
		return merge.Extract(entries, cfg.OutputDir)
	case runTypeMerge:
		return merge.Merge(entries, prefixWithRun, cfg.OutputDir, cfg.StartFrame, cfg.EndFrame, cfg.MergeFrameNum)
	default:
		return fmt.Errorf("unknown run-type %d", cfg.RunType)
	}
}

func findArchives(dir, prefixWithRun string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefixWithRun) && filepath.Ext(e.Name()) == ".lz4" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

func intOrPrompt(c *cli.Context, flagName string, stdin *bufio.Reader, label string, def int) int {
	if c.IsSet(flagName) {
		return c.Int(flagName)
	}
	if def != 0 {
		return def
	}
	return promptInt(stdin, label, def)
}

func promptLine(r *bufio.Reader, label string) string {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, _ := r.ReadString('\n')
	return trimNewline(line)
}

func promptInt(r *bufio.Reader, label string, def int) int {
	fmt.Fprintf(os.Stderr, "%s [%d]: ", label, def)
	line, _ := r.ReadString('\n')
	line = trimNewline(line)
	if line == "" {
		return def
	}
	v, err := strconv.Atoi(line)
	if err != nil {
		mainLog.Warnf("invalid integer %q, using default %d", line, def)
		return def
	}
	return v
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// orPrompt returns flagVal or configVal if either is set, and only
// falls through to a blocking stdin prompt when both are empty.
func orPrompt(flagVal, configVal string, r *bufio.Reader, label string) string {
	if flagVal != "" {
		return flagVal
	}
	if configVal != "" {
		return configVal
	}
	return promptLine(r, label)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
