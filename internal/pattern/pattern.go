// Package pattern parses and formats the fixed frame filename layout
// <prefix>_<RR>_<NNNNN>.tif used by the acquisition program.
package pattern

import (
	"fmt"
	"regexp"
	"strconv"
)

// FilePattern is an immutable descriptor of the filename shape the
// scanner and delete queue expect. RunDigits and FrameDigits are fixed
// at 2 and 5 respectively, matching the instrument's naming convention.
type FilePattern struct {
	Prefix string
	re     *regexp.Regexp
}

const (
	RunDigits   = 2
	FrameDigits = 5
	Extension   = ".tif"
)

// New builds a FilePattern for the given filename prefix.
func New(prefix string) *FilePattern {
	// e.g. prefix "test" -> ^test_(\d{2})_(\d{5})\.tif$
	expr := fmt.Sprintf(`^%s_(\d{%d})_(\d{%d})%s$`,
		regexp.QuoteMeta(prefix), RunDigits, FrameDigits, regexp.QuoteMeta(Extension))
	return &FilePattern{Prefix: prefix, re: regexp.MustCompile(expr)}
}

// Match reports whether name matches the pattern and, if so, extracts
// the run and frame numbers it encodes.
func (p *FilePattern) Match(name string) (run uint16, frame int, ok bool) {
	m := p.re.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	runVal, err := strconv.ParseUint(m[1], 10, 16)
	if err != nil {
		return 0, 0, false
	}
	frameVal, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return uint16(runVal), frameVal, true
}

// Format renders the canonical filename for a given run and frame.
func (p *FilePattern) Format(run uint16, frame int) string {
	return fmt.Sprintf("%s_%0*d_%0*d%s", p.Prefix, RunDigits, run, FrameDigits, frame, Extension)
}

// ZeroPad renders n left-padded with zeros to width digits, matching
// the original zeroPad(number, width) helper.
func ZeroPad(n, width int) string {
	return fmt.Sprintf("%0*d", width, n)
}

// DeleteSafeRegexp matches the filename shape the delete queue is
// allowed to remove, independent of any specific prefix.
var DeleteSafeRegexp = regexp.MustCompile(`.*_[0-9]{2}_[0-9]{5}\.tif$`)
