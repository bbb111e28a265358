// Package taskkey defines the (run, setNumber) identifier used to
// address a FileSet across the index, task queue and worker pool.
package taskkey

import "fmt"

// Key identifies one set of frames within one run. SetNumber is the
// smallest frame index belonging to the set.
type Key struct {
	Run       uint16
	SetNumber int
}

// Less gives Key its total order: (Run, SetNumber) lexicographically.
// It is the comparator handed to the btree-backed index.
func Less(a, b Key) bool {
	if a.Run != b.Run {
		return a.Run < b.Run
	}
	return a.SetNumber < b.SetNumber
}

// SetNumberFor computes the set-key's setNumber for a given frame
// number and set size, per the invariant
// setNumber = ((frameNumber-1) div setSize) * setSize + 1.
func SetNumberFor(frameNumber, setSize int) int {
	return ((frameNumber-1)/setSize)*setSize + 1
}

func (k Key) String() string {
	return fmt.Sprintf("run=%02d/set=%05d", k.Run, k.SetNumber)
}
