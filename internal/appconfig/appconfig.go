// Package appconfig loads optional YAML defaults for the two binaries.
// It sits below CLI flags and stdin prompts in the precedence order:
// flags win over config file, config file wins over stdin, stdin wins
// over these hardcoded defaults.
package appconfig

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrMissing is returned by LoadCompress and LoadDecompress when the
// given path does not exist;
// callers treat it as "use defaults" rather than a fatal error.
var ErrMissing = errors.New("config file not found")

// CompressConfig mirrors the five-line stdin contract of the compress
// binary, plus the fixed constants the original hardcoded in main().
type CompressConfig struct {
	WatchDir     string `yaml:"watch_dir"`
	OutputDir    string `yaml:"output_dir"`
	Prefix       string `yaml:"prefix"`
	SetSize      int    `yaml:"set_size"`
	MaxThreads   int    `yaml:"max_threads"`
	MaxProcesses int    `yaml:"max_processes"`
	Acceleration int    `yaml:"lz4_acceleration"`
	DeleteAfter  bool   `yaml:"delete_after"`
	LogFile      string `yaml:"log_file"`
}

// DefaultCompressConfig mirrors the original binary's fixed constants.
func DefaultCompressConfig() CompressConfig {
	return CompressConfig{
		SetSize:      100,
		MaxThreads:   8,
		MaxProcesses: 1,
		Acceleration: 4,
		DeleteAfter:  true,
		LogFile:      "stderr",
	}
}

// DecompressConfig mirrors the decompress binary's stdin contract.
type DecompressConfig struct {
	InputDir       string `yaml:"input_dir"`
	OutputDir      string `yaml:"output_dir"`
	Prefix         string `yaml:"prefix"`
	StartRun       int    `yaml:"start_run"`
	EndRun         int    `yaml:"end_run"`
	StartFrame     int    `yaml:"start_frame"`
	EndFrame       int    `yaml:"end_frame"`
	RunType        int    `yaml:"run_type"` // 0=extract, 1=merge
	MergeFrameNum  int    `yaml:"merge_frame_num"`
	RewriteFinf    bool   `yaml:"rewrite_finf"`
	MaxConcurrency int    `yaml:"max_concurrency"`
	LogFile        string `yaml:"log_file"`
}

// DefaultDecompressConfig mirrors the original decompress.cpp's
// hardcoded max_concurrent_tasks constant.
func DefaultDecompressConfig() DecompressConfig {
	return DecompressConfig{
		RunType:        0,
		MaxConcurrency: 3,
		LogFile:        "stderr",
	}
}

// LoadCompress reads a YAML file at path and overlays it onto
// DefaultCompressConfig: keys present in the file replace the defaults,
// absent keys keep them. A missing file returns ErrMissing and the
// untouched defaults.
func LoadCompress(path string) (CompressConfig, error) {
	cfg := DefaultCompressConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, ErrMissing
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDecompress is LoadCompress's counterpart for the decompressor.
func LoadDecompress(path string) (DecompressConfig, error) {
	cfg := DefaultDecompressConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, ErrMissing
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
