package segment

import (
	"path/filepath"
	"sort"
	"sync"
)

// Location identifies where a frame lives on disk.
type Location struct {
	Start        int64  `json:"segment_start"`
	Offset       int    `json:"offset"`
	DisplayIndex int    `json:"display_index"`
	Path         string `json:"path"`
}

// Index is the set of finalized segment starts under one directory. It is
// built from a directory listing at startup, extended as the encoder
// finalizes segments and shrunk by retention. Safe for concurrent use.
type Index struct {
	mapper Mapper
	dir    string
	ext    string

	mu     sync.RWMutex
	starts []int64
}

// LoadIndex scans dir for segment files and builds an Index over them.
func LoadIndex(dir, ext string, size int) (*Index, error) {
	starts, err := ScanDir(dir, ext)
	if err != nil {
		return nil, err
	}
	return NewIndex(dir, ext, size, starts), nil
}

// NewIndex builds an Index over known starts, sorting and de-duplicating them.
func NewIndex(dir, ext string, size int, starts []int64) *Index {
	sorted := append([]int64(nil), starts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	uniq := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			uniq = append(uniq, s)
		}
	}

	return &Index{mapper: NewMapper(size), dir: dir, ext: ext, starts: uniq}
}

// Dir is the segment directory.
func (x *Index) Dir() string { return x.dir }

// Ext is the segment file extension, including the dot.
func (x *Index) Ext() string { return x.ext }

// Mapper returns the arithmetic used by the index.
func (x *Index) Mapper() Mapper { return x.mapper }

// Path returns the file path of the segment starting at start.
func (x *Index) Path(start int64) string {
	return filepath.Join(x.dir, FileName(start, x.ext))
}

// Len is the number of known segments.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.starts)
}

// Starts returns a copy of the sorted segment starts.
func (x *Index) Starts() []int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]int64{}, x.starts...)
}

// Append records a newly finalized segment. Starts normally arrive in
// increasing order; an out-of-order start is inserted in place and a
// duplicate is ignored.
func (x *Index) Append(start int64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	n := len(x.starts)
	if n == 0 || start > x.starts[n-1] {
		x.starts = append(x.starts, start)
		return
	}
	i := sort.Search(n, func(i int) bool { return x.starts[i] >= start })
	if i < n && x.starts[i] == start {
		return
	}
	x.starts = append(x.starts, 0)
	copy(x.starts[i+1:], x.starts[i:])
	x.starts[i] = start
}

// Remove drops starts from the index. Unknown starts are ignored.
func (x *Index) Remove(starts ...int64) {
	if len(starts) == 0 {
		return
	}
	drop := make(map[int64]struct{}, len(starts))
	for _, s := range starts {
		drop[s] = struct{}{}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	kept := x.starts[:0]
	for _, s := range x.starts {
		if _, ok := drop[s]; !ok {
			kept = append(kept, s)
		}
	}
	x.starts = kept
}

// Reset forgets every segment.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.starts = nil
}

// Members returns the frame id range [lo, hi) held by the segment starting at
// start. The range ends at the next segment's start when that comes sooner
// than start+Size, which is how a short segment is recognized.
func (x *Index) Members(start int64) (lo, hi int64, ok bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	i := sort.Search(len(x.starts), func(i int) bool { return x.starts[i] >= start })
	if i == len(x.starts) || x.starts[i] != start {
		return 0, 0, false
	}
	hi = start + int64(x.mapper.size())
	if i+1 < len(x.starts) && x.starts[i+1] < hi {
		hi = x.starts[i+1]
	}
	return start, hi, true
}

// FrameAt maps a display index to a frame id. Display positions that land in
// the missing tail of a short segment report false.
func (x *Index) FrameAt(displayIndex int) (int64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	id, ok := x.mapper.FrameIDForDisplayIndex(displayIndex, x.starts)
	if !ok {
		return 0, false
	}
	i := x.mapper.SegmentIndexFor(displayIndex)
	if i+1 < len(x.starts) && id >= x.starts[i+1] {
		return 0, false
	}
	return id, true
}

// Locate finds the segment file and offset holding frameID.
func (x *Index) Locate(frameID int64) (Location, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	d, ok := x.mapper.DisplayIndexForFrameID(frameID, x.starts)
	if !ok {
		return Location{}, false
	}
	start := x.starts[x.mapper.SegmentIndexFor(d)]
	return Location{
		Start:        start,
		Offset:       int(frameID - start),
		DisplayIndex: d,
		Path:         x.Path(start),
	}, true
}
