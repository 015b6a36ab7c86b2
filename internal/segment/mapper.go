// Package segment maps logical frame ids onto the video segment files that
// hold them. A segment is named after the id of its first frame and holds up
// to Size consecutive frames; an interrupted capture leaves a short segment,
// so starts are always taken from the directory and never assumed evenly
// spaced.
package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultSize is the number of frames encoded into one segment file.
const DefaultSize = 5

// Mapper translates between display indices, frame ids and segments. A
// non-positive Size behaves as DefaultSize.
type Mapper struct {
	Size int
}

// NewMapper returns a Mapper for segments of size frames. Non-positive sizes
// fall back to DefaultSize.
func NewMapper(size int) Mapper {
	if size <= 0 {
		size = DefaultSize
	}
	return Mapper{Size: size}
}

// size is m.Size, or DefaultSize for a zero-value Mapper.
func (m Mapper) size() int {
	if m.Size <= 0 {
		return DefaultSize
	}
	return m.Size
}

// SegmentIndexFor returns the position in the sorted start list of the
// segment holding a display index.
func (m Mapper) SegmentIndexFor(displayIndex int) int {
	return displayIndex / m.size()
}

// FrameIDForDisplayIndex maps a display index to a frame id using the sorted
// segment starts. ok is false when the index falls past the known segments.
func (m Mapper) FrameIDForDisplayIndex(displayIndex int, starts []int64) (int64, bool) {
	if displayIndex < 0 {
		return 0, false
	}
	i := m.SegmentIndexFor(displayIndex)
	if i >= len(starts) {
		return 0, false
	}
	return starts[i] + int64(displayIndex%m.size()), true
}

// DisplayIndexForFrameID is the reverse of FrameIDForDisplayIndex. It finds
// the last segment whose start is at most frameID and checks that frameID
// lies within [start, start+Size). Frames removed by retention, or never
// written, report false.
func (m Mapper) DisplayIndexForFrameID(frameID int64, starts []int64) (int, bool) {
	i := sort.Search(len(starts), func(i int) bool { return starts[i] > frameID }) - 1
	if i < 0 {
		return 0, false
	}
	off := frameID - starts[i]
	if off >= int64(m.size()) {
		return 0, false
	}
	return i*m.size() + int(off), true
}

// FileName renders the on-disk name of the segment starting at start.
func FileName(start int64, ext string) string {
	return strconv.FormatInt(start, 10) + ext
}

// ParseFileName extracts the start id from a segment file name. Names that
// are not a non-negative integer followed by ext are rejected.
func ParseFileName(name, ext string) (int64, bool) {
	if !strings.EqualFold(filepath.Ext(name), ext) {
		return 0, false
	}
	stem := name[:len(name)-len(ext)]
	if stem == "" || strings.HasPrefix(stem, "+") {
		return 0, false
	}
	start, err := strconv.ParseInt(stem, 10, 64)
	if err != nil || start < 0 {
		return 0, false
	}
	return start, true
}

// ScanDir lists the segment starts present in dir, sorted ascending. A
// missing directory yields no segments.
func ScanDir(dir, ext string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []int64{}, nil
		}
		return nil, fmt.Errorf("scan segments: %w", err)
	}

	starts := []int64{}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if start, ok := ParseFileName(e.Name(), ext); ok {
			starts = append(starts, start)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts, nil
}

// ListFiles returns the names of every regular file in dir carrying ext,
// whether or not the stem parses as a start id.
func ListFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list segment files: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
