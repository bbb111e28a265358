// Package fileindex implements the persistent, in-memory-authoritative
// state that maps TaskKeys to FileSets: the compressor's single source
// of truth for which frames have arrived, which sets are complete, and
// which have already been archived.
package fileindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/tidwall/btree"

	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/errs"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/pattern"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/internal/taskkey"
	"github.com/ShungoAoyagi/bl02b1-tif-compressor/log"
)

const (
	indexFileName = ".file_index.bin"
	pathFieldSize = 512
)

// FileSet is a snapshot of the frames known for one TaskKey. Callers
// that need to inspect a set while doing I/O should hold a copy
// obtained via Index.GetFileSet rather than a shared reference.
type FileSet struct {
	Run       uint16
	SetNumber int
	Files     []string // sorted by frame number, canonical absolute paths
	FirstFile string   // path whose frame number == SetNumber, "" if absent
	Processed bool
}

// Clone returns a deep-enough copy for safe handoff across goroutines.
func (fs FileSet) Clone() FileSet {
	out := fs
	out.Files = append([]string(nil), fs.Files...)
	return out
}

// IsComplete reports whether the set has at least setSize members.
func (fs FileSet) IsComplete(setSize int) bool {
	return len(fs.Files) >= setSize
}

type item struct {
	key taskkey.Key
	set *FileSet
}

func lessItem(a, b item) bool { return taskkey.Less(a.key, b.key) }

// Index owns fileSetMap, pathKeyMap and modTimeMap behind one mutex, as
// required by the single-lock discipline: all three maps are mutated
// atomically together so they never observe each other out of sync.
type Index struct {
	mu sync.RWMutex

	watchDir string
	setSize  int
	pat      *pattern.FilePattern

	tree       *btree.BTreeG[item]
	pathKeyMap map[string]taskkey.Key
	modTimeMap map[string]int64

	dirty bool
	log   *log.LogHandle
}

// Open loads the index from <watchDir>/.file_index.bin if present. A
// corrupt file is logged and discarded rather than propagated: the
// caller's next full scan is expected to rebuild coherent state.
func Open(watchDir string, setSize int, pat *pattern.FilePattern) *Index {
	idx := &Index{
		watchDir:   watchDir,
		setSize:    setSize,
		pat:        pat,
		tree:       btree.NewBTreeG(lessItem),
		pathKeyMap: make(map[string]taskkey.Key),
		modTimeMap: make(map[string]int64),
		log:        log.GetLogger("fileindex"),
	}

	path := idx.indexPath()
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			idx.log.Warnf("open index %s: %v", path, err)
		}
		return idx
	}
	defer f.Close()

	if err := idx.load(f); err != nil {
		idx.log.Errorf("%s: %v; discarding and rebuilding from scratch", errs.KindIndexCorrupt, err)
		idx.tree = btree.NewBTreeG(lessItem)
		idx.pathKeyMap = make(map[string]taskkey.Key)
		idx.modTimeMap = make(map[string]int64)
		idx.dirty = true
	}
	return idx
}

func (idx *Index) indexPath() string {
	return idx.watchDir + string(os.PathSeparator) + indexFileName
}

// AddFile records or updates a path's presence in the index, ensuring
// its FileSet exists, and sets FirstFile when frame == setNumber.
func (idx *Index) AddFile(path string, run uint16, frame int, mtimeMillis int64, processed bool) taskkey.Key {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	setNumber := taskkey.SetNumberFor(frame, idx.setSize)
	key := taskkey.Key{Run: run, SetNumber: setNumber}

	it, found := idx.tree.Get(item{key: key})
	if !found {
		it = item{key: key, set: &FileSet{Run: run, SetNumber: setNumber, Processed: processed}}
		idx.tree.Set(it)
	}

	set := it.set
	if !containsSorted(set.Files, path) {
		set.Files = insertSorted(set.Files, path)
	}
	if frame == setNumber {
		set.FirstFile = path
	}

	idx.pathKeyMap[path] = key
	idx.modTimeMap[path] = mtimeMillis
	idx.dirty = true
	return key
}

// HasFileChanged reports whether path is unknown, or known with a
// different recorded mtime than the one supplied.
func (idx *Index) HasFileChanged(path string, mtimeMillis int64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stored, ok := idx.modTimeMap[path]
	return !ok || stored != mtimeMillis
}

// MarkFileSetProcessed flips a set's processed flag. It is a no-op if
// the key is unknown (the set may have been cleaned up already).
func (idx *Index) MarkFileSetProcessed(key taskkey.Key, processed bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	it, found := idx.tree.Get(item{key: key})
	if !found {
		return
	}
	it.set.Processed = processed
	idx.dirty = true
}

// GetFileSet returns a snapshot copy of the FileSet for key, if any.
func (idx *Index) GetFileSet(key taskkey.Key) (FileSet, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	it, found := idx.tree.Get(item{key: key})
	if !found {
		return FileSet{}, false
	}
	return it.set.Clone(), true
}

// GetAllFileSets returns snapshot copies of every tracked FileSet, in
// (run, setNumber) order, optionally excluding already-processed sets.
func (idx *Index) GetAllFileSets(includeProcessed bool) []FileSet {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []FileSet
	idx.tree.Scan(func(it item) bool {
		if includeProcessed || !it.set.Processed {
			out = append(out, it.set.Clone())
		}
		return true
	})
	return out
}

// Cleanup drops paths whose filesystem entry no longer exists, and
// removes any FileSet left with zero members.
func (idx *Index) Cleanup() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for path, key := range idx.pathKeyMap {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		delete(idx.pathKeyMap, path)
		delete(idx.modTimeMap, path)

		it, found := idx.tree.Get(item{key: key})
		if !found {
			continue
		}
		it.set.Files = removeSorted(it.set.Files, path)
		if it.set.FirstFile == path {
			it.set.FirstFile = ""
		}
		if len(it.set.Files) == 0 {
			idx.tree.Delete(item{key: key})
		}
		idx.dirty = true
	}
}

// SaveNow persists the index unconditionally, clearing the dirty flag.
func (idx *Index) SaveNow() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.saveLocked()
}

// Close flushes the index to disk if it has unsaved mutations,
// mirroring the "rewritten at destruction" discipline described for
// the on-disk index.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.dirty {
		return nil
	}
	return idx.saveLocked()
}

func (idx *Index) saveLocked() error {
	path := idx.indexPath()
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(errs.KindIO, "create index tmp", err)
	}

	w := bufio.NewWriter(f)
	if err := idx.writeLocked(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.KindIO, "flush index", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindIO, "close index", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.KindIO, "rename index", err)
	}
	idx.dirty = false
	return nil
}

func (idx *Index) writeLocked(w io.Writer) error {
	setCount := uint32(idx.tree.Len())
	if err := binary.Write(w, binary.LittleEndian, setCount); err != nil {
		return errs.Wrap(errs.KindIO, "write setCount", err)
	}

	var writeErr error
	idx.tree.Scan(func(it item) bool {
		s := it.set
		if err := binary.Write(w, binary.LittleEndian, s.Run); err != nil {
			writeErr = err
			return false
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(s.SetNumber)); err != nil {
			writeErr = err
			return false
		}
		processedByte := uint8(0)
		if s.Processed {
			processedByte = 1
		}
		if err := binary.Write(w, binary.LittleEndian, processedByte); err != nil {
			writeErr = err
			return false
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(s.Files))); err != nil {
			writeErr = err
			return false
		}
		for _, p := range s.Files {
			var buf [pathFieldSize]byte
			if len(p) > pathFieldSize {
				writeErr = fmt.Errorf("path %q exceeds %d bytes", p, pathFieldSize)
				return false
			}
			copy(buf[:], p)
			if _, err := w.Write(buf[:]); err != nil {
				writeErr = err
				return false
			}
			if err := binary.Write(w, binary.LittleEndian, idx.modTimeMap[p]); err != nil {
				writeErr = err
				return false
			}
		}
		return true
	})
	if writeErr != nil {
		return errs.Wrap(errs.KindIO, "write index record", writeErr)
	}
	return nil
}

func (idx *Index) load(r io.Reader) error {
	br := bufio.NewReader(r)

	var setCount uint32
	if err := binary.Read(br, binary.LittleEndian, &setCount); err != nil {
		return fmt.Errorf("read setCount: %w", err)
	}

	tree := btree.NewBTreeG(lessItem)
	pathKeyMap := make(map[string]taskkey.Key)
	modTimeMap := make(map[string]int64)

	for i := uint32(0); i < setCount; i++ {
		var run uint16
		var setNumber uint32
		var processedByte uint8
		var fileCount uint32

		if err := binary.Read(br, binary.LittleEndian, &run); err != nil {
			return fmt.Errorf("read run: %w", err)
		}
		if err := binary.Read(br, binary.LittleEndian, &setNumber); err != nil {
			return fmt.Errorf("read setNumber: %w", err)
		}
		if err := binary.Read(br, binary.LittleEndian, &processedByte); err != nil {
			return fmt.Errorf("read processed: %w", err)
		}
		if err := binary.Read(br, binary.LittleEndian, &fileCount); err != nil {
			return fmt.Errorf("read fileCount: %w", err)
		}

		key := taskkey.Key{Run: run, SetNumber: int(setNumber)}
		set := &FileSet{Run: run, SetNumber: int(setNumber), Processed: processedByte != 0}

		for j := uint32(0); j < fileCount; j++ {
			var buf [pathFieldSize]byte
			if _, err := io.ReadFull(br, buf[:]); err != nil {
				return fmt.Errorf("read path: %w", err)
			}
			p := string(trimNulPadding(buf[:]))

			var mtime int64
			if err := binary.Read(br, binary.LittleEndian, &mtime); err != nil {
				return fmt.Errorf("read mtime: %w", err)
			}

			set.Files = append(set.Files, p)
			if run == set.Run {
				if _, frame, ok := idx.pat.Match(baseName(p)); ok && frame == set.SetNumber {
					set.FirstFile = p
				}
			}
			pathKeyMap[p] = key
			modTimeMap[p] = mtime
		}
		sort.Strings(set.Files)
		tree.Set(item{key: key, set: set})
	}

	idx.tree = tree
	idx.pathKeyMap = pathKeyMap
	idx.modTimeMap = modTimeMap
	return nil
}

func trimNulPadding(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == os.PathSeparator {
			return p[i+1:]
		}
	}
	return p
}

func containsSorted(files []string, path string) bool {
	i := sort.SearchStrings(files, path)
	return i < len(files) && files[i] == path
}

func insertSorted(files []string, path string) []string {
	i := sort.SearchStrings(files, path)
	files = append(files, "")
	copy(files[i+1:], files[i:])
	files[i] = path
	return files
}

func removeSorted(files []string, path string) []string {
	i := sort.SearchStrings(files, path)
	if i < len(files) && files[i] == path {
		return append(files[:i], files[i+1:]...)
	}
	return files
}
