package archive_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/archive"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/errs"
)

func writeTemp(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestCompressDecodeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeTemp(t, dir, "a.tif", bytes.Repeat([]byte{0x11}, 4096)),
		writeTemp(t, dir, "b.tif", bytes.Repeat([]byte{0x22}, 128)),
		writeTemp(t, dir, "c.tif", []byte("small file")),
	}

	out := filepath.Join(dir, "out.lz4")
	if err := archive.Compress(files, out, archive.Options{ReadThreads: 2, Acceleration: 4}); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	entries, err := archive.Decode(out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(entries) != len(files) {
		t.Fatalf("expected %d entries, got %d", len(files), len(entries))
	}
	for i, f := range files {
		want, _ := os.ReadFile(f)
		if entries[i].Name != filepath.Base(f) {
			t.Fatalf("entry %d name = %s, want %s", i, entries[i].Name, filepath.Base(f))
		}
		if !bytes.Equal(entries[i].Data, want) {
			t.Fatalf("entry %d data mismatch", i)
		}
	}

	if err := archive.VerifyRoundTrip(out, files); err != nil {
		t.Fatalf("VerifyRoundTrip: %v", err)
	}
}

func TestCompressEmptyInput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.lz4")

	err := archive.Compress(nil, out, archive.Options{})
	if err != errs.ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if _, statErr := os.Stat(out); statErr == nil {
		t.Fatalf("expected no output file to be written")
	}
}

func TestDecodeBadMagic(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "garbage.lz4")
	if err := os.WriteFile(out, bytes.Repeat([]byte{0xFF}, 64), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	if _, err := archive.Decode(out); err == nil {
		t.Fatalf("expected an error decoding garbage data")
	}
}

func TestVerifyRoundTripDetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	files := []string{writeTemp(t, dir, "a.tif", []byte("original bytes"))}

	out := filepath.Join(dir, "out.lz4")
	if err := archive.Compress(files, out, archive.Options{ReadThreads: 1}); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	if err := os.WriteFile(files[0], []byte("mutated after archiving"), 0o644); err != nil {
		t.Fatalf("mutate source: %v", err)
	}

	if err := archive.VerifyRoundTrip(out, files); err == nil {
		t.Fatalf("expected verification to fail once source bytes changed")
	}
}
