// Command tif-compress watches a staging directory for numbered
// grayscale TIFF sets, packs each complete set into an LZ4 archive,
// verifies it by round-trip decode, and deletes the originals.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/urfave/cli"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/appconfig"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/deletequeue"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/fileindex"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/monitor"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/pattern"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/scanner"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/taskqueue"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/log"
)

var mainLog = log.GetLogger("main")

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "tif-compress"
	app.Usage = "watch a directory and continuously batch-compress numbered TIFF sets"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "watch-dir", Usage: "directory to monitor for incoming frames"},
		cli.StringFlag{Name: "output-dir", Usage: "directory to write archives and reference copies to"},
		cli.StringFlag{Name: "prefix", Usage: "filename prefix, e.g. \"test\" for test_01_00001.tif"},
		cli.IntFlag{Name: "set-size", Usage: "frames per set", Value: 0},
		cli.StringFlag{Name: "config", Usage: "optional YAML config file"},
		cli.StringFlag{Name: "log-file", Usage: "log file path; stdout and stderr are redirected into it (\"stderr\" keeps log output on stdout)", Value: "stderr"},
		cli.BoolFlag{Name: "keep-originals", Usage: "do not delete originals after a verified archive is written"},
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
	cfg := appconfig.DefaultCompressConfig()
	if configPath := c.String("config"); configPath != "" {
		loaded, err := appconfig.LoadCompress(configPath)
		if err != nil && err != appconfig.ErrMissing {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	stdin := bufio.NewReader(os.Stdin)
	cfg.WatchDir = orPrompt(c.String("watch-dir"), cfg.WatchDir, stdin, "watch directory")
	cfg.OutputDir = orPrompt(c.String("output-dir"), cfg.OutputDir, stdin, "output directory")
	cfg.Prefix = orPrompt(c.String("prefix"), cfg.Prefix, stdin, "filename prefix")

	if c.IsSet("set-size") {
		cfg.SetSize = c.Int("set-size")
	} else if c.String("config") == "" {
		cfg.SetSize = promptInt(stdin, "frames per set", cfg.SetSize)
	}
	if c.Bool("keep-originals") {
		cfg.DeleteAfter = false
	}
	if logFile := c.String("log-file"); logFile != "" {
		cfg.LogFile = logFile
	}

	log.InitLoggerRedirect(cfg.LogFile)

	if cfg.WatchDir == "" || cfg.OutputDir == "" || cfg.Prefix == "" {
		return fmt.Errorf("watch-dir, output-dir and prefix are all required")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	pat := pattern.New(cfg.Prefix)
	idx := fileindex.Open(cfg.WatchDir, cfg.SetSize, pat)
	q := taskqueue.New()
	dq := deletequeue.New(64)
	sc := scanner.New(cfg.WatchDir, pat, cfg.SetSize, runtime.GOMAXPROCS(0), idx, q)

	mc := monitor.New(monitor.Config{
		WatchDir:     cfg.WatchDir,
		OutputDir:    cfg.OutputDir,
		SetSize:      cfg.SetSize,
		MaxThreads:   cfg.MaxThreads,
		MaxProcesses: cfg.MaxProcesses,
		Acceleration: cfg.Acceleration,
		DeleteAfter:  cfg.DeleteAfter,
	}, idx, q, dq, sc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		mainLog.Infof("received signal %v, shutting down", s)
		cancel()
	}()

	mainLog.Infof("watching %s for %s_RR_NNNNN.tif sets of %d", cfg.WatchDir, cfg.Prefix, cfg.SetSize)
	return mc.Run(ctx)
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
