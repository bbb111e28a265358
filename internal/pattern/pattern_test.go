package pattern_test

import (
	"testing"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/pattern"
)

func TestMatchParsesRunAndFrame(t *testing.T) {
	p := pattern.New("test")

	run, frame, ok := p.Match("test_01_00042.tif")
	if !ok {
		t.Fatalf("expected match")
	}
	if run != 1 || frame != 42 {
		t.Fatalf("expected run=1 frame=42, got run=%d frame=%d", run, frame)
	}
}

func TestMatchRejectsWrongShape(t *testing.T) {
	p := pattern.New("test")

	cases := []string{
		"test_1_00042.tif",
		"test_01_42.tif",
		"test_01_00042.tiff",
		"other_01_00042.tif",
		"test_01_00042.tif.bak",
		"",
	}
	for _, c := range cases {
		if _, _, ok := p.Match(c); ok {
			t.Fatalf("expected %q to not match", c)
		}
	}
}

func TestFormatRoundTrips(t *testing.T) {
	p := pattern.New("test")
	name := p.Format(1, 42)
	if name != "test_01_00042.tif" {
		t.Fatalf("unexpected formatted name: %s", name)
	}
	run, frame, ok := p.Match(name)
	if !ok || run != 1 || frame != 42 {
		t.Fatalf("Format then Match did not round-trip: run=%d frame=%d ok=%v", run, frame, ok)
	}
}

func TestZeroPad(t *testing.T) {
	if got := pattern.ZeroPad(7, 5); got != "00007" {
		t.Fatalf("expected 00007, got %s", got)
	}
}

func TestDeleteSafeRegexp(t *testing.T) {
	if !pattern.DeleteSafeRegexp.MatchString("test_01_00042.tif") {
		t.Fatalf("expected match")
	}
	if pattern.DeleteSafeRegexp.MatchString("test_01_00042.lz4") {
		t.Fatalf("expected no match for .lz4")
	}
}
