package tiffio_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/tiffio"
)

// buildBaselineTiff hand-assembles a minimal baseline little-endian TIFF
// with a single IFD, an 8-bit-per-sample strip, and extraLen zero bytes
// reserved past the strip so a caller can test patching in a wider
// sample without growing the file.
func buildBaselineTiff(width, height int, extraLen int) []byte {
	type entry struct {
		tag   uint16
		typ   uint16
		count uint32
		value uint32
	}
	const (
		typeShort = 3
		typeLong  = 4
	)
	stripByteCount := uint32(width * height)
	entries := []entry{
		{256, typeLong, 1, uint32(width)},
		{257, typeLong, 1, uint32(height)},
		{258, typeShort, 1, 8}, // BitsPerSample
		{259, typeShort, 1, 1}, // Compression
		{262, typeShort, 1, 1}, // Photometric
		{273, typeLong, 1, 0},  // StripOffsets, patched below
		{277, typeShort, 1, 1}, // SamplesPerPixel
		{278, typeLong, 1, uint32(height)}, // RowsPerStrip
		{279, typeLong, 1, stripByteCount}, // StripByteCounts
		{339, typeShort, 1, 1},             // SampleFormat: unsigned int
	}

	ifdSize := 2 + len(entries)*12 + 4
	dataOffset := uint32(8 + ifdSize)
	entries[5].value = dataOffset

	out := make([]byte, int(dataOffset)+width*height+extraLen)
	copy(out[0:2], []byte("II"))
	binary.LittleEndian.PutUint16(out[2:4], 42)
	binary.LittleEndian.PutUint32(out[4:8], 8)
	binary.LittleEndian.PutUint16(out[8:10], uint16(len(entries)))
	for i, e := range entries {
		off := 10 + i*12
		binary.LittleEndian.PutUint16(out[off:], e.tag)
		binary.LittleEndian.PutUint16(out[off+2:], e.typ)
		binary.LittleEndian.PutUint32(out[off+4:], e.count)
		if e.typ == typeShort {
			binary.LittleEndian.PutUint16(out[off+8:], uint16(e.value))
		} else {
			binary.LittleEndian.PutUint32(out[off+8:], e.value)
		}
	}
	binary.LittleEndian.PutUint32(out[10+len(entries)*12:], 0) // next IFD

	for i := 0; i < width*height; i++ {
		out[int(dataOffset)+i] = byte(i)
	}
	return out
}

func TestWriteScratchAlignedThenRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scratch.tif")

	width, height := 4, 3
	pixels := make([]int32, width*height)
	for i := range pixels {
		pixels[i] = int32(i) - 5
	}

	header := tiffio.DefaultHeaderInfo()
	header.Description = "test frame"
	if err := tiffio.WriteScratchAligned(path, pixels, width, height, header); err != nil {
		t.Fatalf("WriteScratchAligned: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read written tiff: %v", err)
	}

	img, err := tiffio.Read(data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if img.Width != width || img.Height != height {
		t.Fatalf("expected %dx%d, got %dx%d", width, height, img.Width, img.Height)
	}
	for i, p := range pixels {
		if int32(img.Pixels[i]) != p {
			t.Fatalf("pixel %d: expected %d, got %v", i, p, img.Pixels[i])
		}
	}
}

func TestWriteScratchAlignedPadsToPageBoundary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scratch.tif")

	width, height := 2, 2
	pixels := make([]int32, width*height)
	if err := tiffio.WriteScratchAligned(path, pixels, width, height, tiffio.DefaultHeaderInfo()); err != nil {
		t.Fatalf("WriteScratchAligned: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	// The strip data (16 bytes of int32 pixels) must start at a
	// multiple of 4096, i.e. the file size minus the strip length
	// must be page-aligned.
	stripLen := width * height * 4
	dataStart := len(data) - stripLen
	if dataStart%4096 != 0 {
		t.Fatalf("expected strip data to start on a 4096-byte boundary, starts at %d (file size %d)", dataStart, len(data))
	}
}

func TestWritePatchedPreservesHeaderBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "original.tif")

	width, height := 3, 2
	original := make([]int32, width*height)
	for i := range original {
		original[i] = int32(i)
	}
	header := tiffio.DefaultHeaderInfo()
	header.Software = "acquisition-1.0"
	if err := tiffio.WriteScratchAligned(path, original, width, height, header); err != nil {
		t.Fatalf("WriteScratchAligned: %v", err)
	}

	origBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read original: %v", err)
	}

	newPixels := make([]int32, width*height)
	for i := range newPixels {
		newPixels[i] = int32(100 + i)
	}

	patched, err := tiffio.WritePatched(origBytes, newPixels, width, height)
	if err != nil {
		t.Fatalf("WritePatched: %v", err)
	}
	if len(patched) != len(origBytes) {
		t.Fatalf("expected patched size to equal original size, got %d vs %d", len(patched), len(origBytes))
	}

	stripLen := width * height * 4
	headerLen := len(origBytes) - stripLen
	for i := 0; i < headerLen; i++ {
		if patched[i] != origBytes[i] {
			t.Fatalf("header byte %d differs after patch", i)
		}
	}

	img, err := tiffio.Read(patched)
	if err != nil {
		t.Fatalf("Read patched: %v", err)
	}
	for i, p := range newPixels {
		if int32(img.Pixels[i]) != p {
			t.Fatalf("patched pixel %d: expected %d, got %v", i, p, img.Pixels[i])
		}
	}
	if img.Header.Software != "acquisition-1.0" {
		t.Fatalf("expected Software tag to survive the patch, got %q", img.Header.Software)
	}
}

func TestWritePatchedRejectsOversizedPayload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.tif")

	width, height := 2, 2
	if err := tiffio.WriteScratchAligned(path, make([]int32, width*height), width, height, tiffio.DefaultHeaderInfo()); err != nil {
		t.Fatalf("WriteScratchAligned: %v", err)
	}
	origBytes, _ := os.ReadFile(path)

	oversized := make([]int32, (width+10)*(height+10))
	if _, err := tiffio.WritePatched(origBytes, oversized, width+10, height+10); err == nil {
		t.Fatalf("expected an error when the new payload does not fit strip 0")
	}
}

// TestWritePatchedAcceptsWiderPayloadThanOriginalStrip guards against a
// spurious rejection when the source archive entry was originally
// narrower than 32 bits per sample (e.g. an 8-bit acquisition): as long
// as the file has room past stripOffsets[0] for the new 32-bit payload,
// the patch must succeed even though stripByteCounts[0] describes the
// smaller original strip.
func TestWritePatchedAcceptsWiderPayloadThanOriginalStrip(t *testing.T) {
	width, height := 3, 2
	newPixelBytes := width * height * 4
	original := buildBaselineTiff(width, height, newPixelBytes-width*height)

	newPixels := make([]int32, width*height)
	for i := range newPixels {
		newPixels[i] = int32(1000 + i)
	}

	patched, err := tiffio.WritePatched(original, newPixels, width, height)
	if err != nil {
		t.Fatalf("expected WritePatched to accept a payload wider than the original strip, got: %v", err)
	}
	if len(patched) != len(original) {
		t.Fatalf("expected patched size to equal original size, got %d vs %d", len(patched), len(original))
	}
}
