package appconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/appconfig"
)

func TestLoadCompressReturnsErrMissingForAbsentFile(t *testing.T) {
	cfg, err := appconfig.LoadCompress(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != appconfig.ErrMissing {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
	if cfg != appconfig.DefaultCompressConfig() {
		t.Fatalf("expected defaults on missing file, got %+v", cfg)
	}
}

func TestLoadCompressOverlaysYamlOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compress.yaml")
	yaml := "watch_dir: /data/in\noutput_dir: /data/out\nprefix: test\nset_size: 50\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := appconfig.LoadCompress(path)
	if err != nil {
		t.Fatalf("LoadCompress: %v", err)
	}
	if cfg.WatchDir != "/data/in" || cfg.OutputDir != "/data/out" || cfg.Prefix != "test" || cfg.SetSize != 50 {
		t.Fatalf("unexpected overlay result: %+v", cfg)
	}
	// Fields absent from the YAML keep the hardcoded defaults.
	if cfg.MaxThreads != 8 || cfg.Acceleration != 4 || !cfg.DeleteAfter {
		t.Fatalf("expected untouched fields to retain defaults: %+v", cfg)
	}
}

func TestLoadDecompressOverlaysYamlOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "decompress.yaml")
	yaml := "input_dir: /data/in\nrun_type: 1\nmerge_frame_num: 4\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := appconfig.LoadDecompress(path)
	if err != nil {
		t.Fatalf("LoadDecompress: %v", err)
	}
	if cfg.InputDir != "/data/in" || cfg.RunType != 1 || cfg.MergeFrameNum != 4 {
		t.Fatalf("unexpected overlay result: %+v", cfg)
	}
	if cfg.MaxConcurrency != 3 {
		t.Fatalf("expected default MaxConcurrency to survive, got %d", cfg.MaxConcurrency)
	}
}
