package segment

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadIndex(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"10.mp4", "0.mp4", "5.mp4"} {
		touch(t, dir, name)
	}

	idx, err := LoadIndex(dir, ".mp4", 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 5, 10}, idx.Starts())
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, filepath.Join(dir, "10.mp4"), idx.Path(10))
}

func TestNewIndex_SortsAndDedups(t *testing.T) {
	idx := NewIndex("v", ".mp4", 5, []int64{10, 0, 10, 5})
	assert.Equal(t, []int64{0, 5, 10}, idx.Starts())
}

func TestAppend(t *testing.T) {
	idx := NewIndex("v", ".mp4", 5, nil)
	idx.Append(0)
	idx.Append(5)
	idx.Append(5)
	idx.Append(3)
	assert.Equal(t, []int64{0, 3, 5}, idx.Starts())
}

func TestRemoveAndReset(t *testing.T) {
	idx := NewIndex("v", ".mp4", 5, []int64{0, 5, 10})
	idx.Remove(5, 99)
	assert.Equal(t, []int64{0, 10}, idx.Starts())

	idx.Reset()
	assert.Empty(t, idx.Starts())
}

func TestMembers(t *testing.T) {
	idx := NewIndex("v", ".mp4", 5, []int64{0, 5, 8, 13})

	lo, hi, ok := idx.Members(0)
	require.True(t, ok)
	assert.Equal(t, [2]int64{0, 5}, [2]int64{lo, hi})

	lo, hi, ok = idx.Members(5)
	require.True(t, ok)
	assert.Equal(t, [2]int64{5, 8}, [2]int64{lo, hi}, "short segment ends at the next start")

	lo, hi, ok = idx.Members(13)
	require.True(t, ok)
	assert.Equal(t, [2]int64{13, 18}, [2]int64{lo, hi})

	_, _, ok = idx.Members(7)
	assert.False(t, ok)
}

func TestFrameAt_RejectsShortSegmentTail(t *testing.T) {
	idx := NewIndex("v", ".mp4", 5, []int64{0, 5, 8})

	id, ok := idx.FrameAt(6)
	require.True(t, ok)
	assert.Equal(t, int64(6), id)

	_, ok = idx.FrameAt(8)
	assert.False(t, ok, "segment 5 only holds 5..7")

	id, ok = idx.FrameAt(10)
	require.True(t, ok)
	assert.Equal(t, int64(8), id)
}

func TestLocate(t *testing.T) {
	idx := NewIndex("/videos", ".mp4", 5, []int64{0, 5, 8})

	loc, ok := idx.Locate(9)
	require.True(t, ok)
	assert.Equal(t, Location{Start: 8, Offset: 1, DisplayIndex: 11, Path: filepath.Join("/videos", "8.mp4")}, loc)

	_, ok = idx.Locate(42)
	assert.False(t, ok)
}

func TestIndex_ConcurrentAccess(t *testing.T) {
	idx := NewIndex("v", ".mp4", 5, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			idx.Append(int64(i * 5))
		}(i)
		go func() {
			defer wg.Done()
			idx.Locate(12)
			idx.Starts()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, idx.Len())
}
