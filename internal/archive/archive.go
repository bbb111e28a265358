// Package archive implements the fixed-layout LZ4 container: the
// metadata header, the parallel read/compress pipeline, and the
// decode + verification counterpart used before originals are deleted.
package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/errgroup"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/errs"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/log"
)

const (
	Magic   uint32 = 0x41345A4C // "LZ4A"
	Version uint32 = 1
)

var archiveLog = log.GetLogger("archive")

// FileEntry is one member of a decoded archive.
type FileEntry struct {
	Name string
	Data []byte
}

type fileRecord struct {
	name          string
	ext           string
	originalSize  uint64
	payloadOffset uint64
}

// Options tunes the parallel read/compress pipeline. ReadThreads bounds
// concurrent file reads; Acceleration is accepted for parity with the
// original LZ4_compress_fast(accel) call but the block-level Go codec
// used here has no equivalent knob (see design notes).
type Options struct {
	ReadThreads  int
	Acceleration int
}

func (o Options) readThreads() int {
	if o.ReadThreads <= 0 {
		return 1
	}
	return o.ReadThreads
}

type readResult struct {
	index int
	path  string
	name  string
	ext   string
	data  []byte
}

// Compress reads files (already ordered by frame index by the caller),
// concatenates their bytes in that order, LZ4-block-compresses the
// concatenation and writes the container to out.
func Compress(files []string, out string, opts Options) error {
	if len(files) == 0 {
		return errs.ErrEmptyInput
	}

	results := make([]readResult, len(files))

	g := new(errgroup.Group)
	g.SetLimit(opts.readThreads())
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			info, err := os.Stat(path)
			if err != nil {
				return errs.Wrap(errs.KindIO, fmt.Sprintf("stat %s", path), err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return errs.Wrap(errs.KindIO, fmt.Sprintf("read %s", path), err)
			}
			if int64(len(data)) != info.Size() {
				return fmt.Errorf("%s: short read: expected %d got %d", path, info.Size(), len(data))
			}
			results[i] = readResult{
				index: i,
				path:  path,
				name:  filepath.Base(path),
				ext:   filepath.Ext(path),
				data:  data,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// results is already ordered by construction (indexed by i), but
	// sort explicitly to make the "collected then sorted by caller
	// index" contract obvious to a reader and robust to future
	// unordered dispatch.
	sort.Slice(results, func(a, b int) bool { return results[a].index < results[b].index })

	var payload bytes.Buffer
	records := make([]fileRecord, 0, len(results))
	for _, r := range results {
		records = append(records, fileRecord{
			name:          r.name,
			ext:           r.ext,
			originalSize:  uint64(len(r.data)),
			payloadOffset: uint64(payload.Len()),
		})
		payload.Write(r.data)
	}

	metadata, err := serializeMetadata(records)
	if err != nil {
		return err
	}

	compressed, err := compressBlock(payload.Bytes())
	if err != nil {
		return err
	}

	if err := writeContainer(out, metadata, compressed); err != nil {
		return err
	}

	expected := 8 + int64(len(metadata)) + 8 + int64(len(compressed))
	info, err := os.Stat(out)
	if err != nil {
		return errs.Wrap(errs.KindIO, "stat written archive", err)
	}
	if info.Size() != expected {
		return fmt.Errorf("%w: expected %d, actual %d", errs.ErrSizeMismatch, expected, info.Size())
	}

	return nil
}

func compressBlock(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	var c lz4.Compressor
	n, err := c.CompressBlock(src, dst)
	if err != nil {
		return nil, errs.Wrap(errs.KindCompressBackend, "CompressBlock", err)
	}
	if n <= 0 {
		return nil, errs.ErrCompressFailed
	}
	return dst[:n], nil
}

func writeContainer(out string, metadata, compressed []byte) (err error) {
	f, cerr := os.Create(out)
	if cerr != nil {
		return errs.Wrap(errs.KindIO, "create archive", cerr)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = errs.Wrap(errs.KindIO, "close archive", cerr)
		}
	}()

	if err = binary.Write(f, binary.LittleEndian, uint64(len(metadata))); err != nil {
		return errs.Wrap(errs.KindIO, "write metadataLen", err)
	}
	if _, err = f.Write(metadata); err != nil {
		return errs.Wrap(errs.KindIO, "write metadata", err)
	}
	if err = binary.Write(f, binary.LittleEndian, uint64(len(compressed))); err != nil {
		return errs.Wrap(errs.KindIO, "write payloadLen", err)
	}
	if _, err = f.Write(compressed); err != nil {
		return errs.Wrap(errs.KindIO, "write payload", err)
	}
	return nil
}

func serializeMetadata(records []fileRecord) ([]byte, error) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, Magic)
	_ = binary.Write(&buf, binary.LittleEndian, Version)
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(records)))

	for _, r := range records {
		if err := writeString(&buf, r.name); err != nil {
			return nil, err
		}
		if err := writeString(&buf, r.ext); err != nil {
			return nil, err
		}
		_ = binary.Write(&buf, binary.LittleEndian, r.originalSize)
		_ = binary.Write(&buf, binary.LittleEndian, r.payloadOffset)
	}
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

// Decode reads and validates an archive, returning its members in
// original order.
func Decode(in string) ([]FileEntry, error) {
	f, err := os.Open(in)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "open archive", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "stat archive", err)
	}
	remaining := uint64(info.Size())

	var metadataLen uint64
	if err := binary.Read(f, binary.LittleEndian, &metadataLen); err != nil {
		return nil, fmt.Errorf("%w: metadataLen: %v", errs.ErrTruncatedMetadata, err)
	}
	remaining -= 8
	if metadataLen > remaining {
		return nil, fmt.Errorf("%w: metadataLen %d exceeds remaining %d bytes", errs.ErrTruncatedMetadata, metadataLen, remaining)
	}
	remaining -= metadataLen
	metadata := make([]byte, metadataLen)
	if _, err := readFull(f, metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata body: %v", errs.ErrTruncatedMetadata, err)
	}

	records, err := deserializeMetadata(metadata)
	if err != nil {
		return nil, err
	}

	var payloadLen uint64
	if err := binary.Read(f, binary.LittleEndian, &payloadLen); err != nil {
		return nil, fmt.Errorf("%w: payloadLen: %v", errs.ErrTruncatedMetadata, err)
	}
	if payloadLen > remaining-8 {
		return nil, fmt.Errorf("%w: payloadLen %d exceeds remaining %d bytes", errs.ErrTruncatedMetadata, payloadLen, remaining-8)
	}
	compressed := make([]byte, payloadLen)
	if _, err := readFull(f, compressed); err != nil {
		return nil, errs.Wrap(errs.KindIO, "read payload", err)
	}

	var totalOriginal uint64
	for _, r := range records {
		totalOriginal += r.originalSize
	}

	decompressed := make([]byte, totalOriginal)
	n, err := lz4.UncompressBlock(compressed, decompressed)
	if err != nil {
		return nil, errs.Wrap(errs.KindDecompressBackend, "UncompressBlock", err)
	}
	if uint64(n) != totalOriginal {
		return nil, fmt.Errorf("%w: expected %d decompressed bytes, got %d", errs.ErrSizeMismatch, totalOriginal, n)
	}

	entries := make([]FileEntry, 0, len(records))
	for _, r := range records {
		start := r.payloadOffset
		end := start + r.originalSize
		if end > uint64(len(decompressed)) {
			return nil, fmt.Errorf("%w: entry %s out of bounds", errs.ErrTruncatedMetadata, r.name)
		}
		data := make([]byte, r.originalSize)
		copy(data, decompressed[start:end])
		entries = append(entries, FileEntry{Name: r.name, Data: data})
	}
	return entries, nil
}

func deserializeMetadata(metadata []byte) ([]fileRecord, error) {
	buf := bytes.NewReader(metadata)

	var magic, version uint32
	if err := binary.Read(buf, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTruncatedMetadata, err)
	}
	if magic != Magic {
		return nil, errs.ErrBadMagic
	}
	if err := binary.Read(buf, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTruncatedMetadata, err)
	}
	if version != Version {
		return nil, errs.ErrVersionMismatch
	}

	var fileCount uint64
	if err := binary.Read(buf, binary.LittleEndian, &fileCount); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTruncatedMetadata, err)
	}

	records := make([]fileRecord, 0, fileCount)
	for i := uint64(0); i < fileCount; i++ {
		name, err := readString(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: name[%d]: %v", errs.ErrTruncatedMetadata, i, err)
		}
		ext, err := readString(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: ext[%d]: %v", errs.ErrTruncatedMetadata, i, err)
		}
		var originalSize, payloadOffset uint64
		if err := binary.Read(buf, binary.LittleEndian, &originalSize); err != nil {
			return nil, fmt.Errorf("%w: originalSize[%d]: %v", errs.ErrTruncatedMetadata, i, err)
		}
		if err := binary.Read(buf, binary.LittleEndian, &payloadOffset); err != nil {
			return nil, fmt.Errorf("%w: payloadOffset[%d]: %v", errs.ErrTruncatedMetadata, i, err)
		}
		records = append(records, fileRecord{name: name, ext: ext, originalSize: originalSize, payloadOffset: payloadOffset})
	}
	return records, nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// VerifyRoundTrip decodes archivePath and checks its entries have the
// same count, order, names and bytes as sourceFiles (already ordered
// the same way the archive was built).
func VerifyRoundTrip(archivePath string, sourceFiles []string) error {
	entries, err := Decode(archivePath)
	if err != nil {
		return err
	}
	if len(entries) != len(sourceFiles) {
		return fmt.Errorf("%w: entry count %d != source count %d", errs.ErrVerifyMismatchSentinel, len(entries), len(sourceFiles))
	}
	for i, path := range sourceFiles {
		want, err := os.ReadFile(path)
		if err != nil {
			return errs.Wrap(errs.KindIO, fmt.Sprintf("read source %s", path), err)
		}
		if entries[i].Name != filepath.Base(path) {
			return fmt.Errorf("%w: entry %d name %q != source name %q", errs.ErrVerifyMismatchSentinel, i, entries[i].Name, filepath.Base(path))
		}
		if !bytes.Equal(entries[i].Data, want) {
			return fmt.Errorf("%w: entry %d bytes differ from %s", errs.ErrVerifyMismatchSentinel, i, path)
		}
	}
	return nil
}
