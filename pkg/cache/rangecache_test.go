package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.corestream.dev/corestream/pkg/objectstore"
)

func TestRangeCache_ExactHit(t *testing.T) {
	c := NewRangeCache(RangeCacheOptions{Capacity: 4})

	c.PutSlice("f1", objectstore.Range{Start: 10, End: 20}, []byte("0123456789"))

	data, ok := c.GetSlice("f1", objectstore.Range{Start: 10, End: 20})
	require.True(t, ok)
	require.Equal(t, []byte("0123456789"), data)
}

func TestRangeCache_SubsetHit(t *testing.T) {
	c := NewRangeCache(RangeCacheOptions{Capacity: 4})

	c.PutSlice("f1", objectstore.Range{Start: 0, End: 100}, make([]byte, 100))

	_, ok := c.GetSlice("f1", objectstore.Range{Start: 40, End: 60})
	require.True(t, ok)
}

func TestRangeCache_MissOutsideCachedExtent(t *testing.T) {
	c := NewRangeCache(RangeCacheOptions{Capacity: 4})

	c.PutSlice("f1", objectstore.Range{Start: 0, End: 10}, make([]byte, 10))

	_, ok := c.GetSlice("f1", objectstore.Range{Start: 5, End: 15})
	require.False(t, ok)
}

func TestRangeCache_AdjacentPutsCoalesce(t *testing.T) {
	c := NewRangeCache(RangeCacheOptions{Capacity: 4})

	c.PutSlice("f1", objectstore.Range{Start: 0, End: 10}, bytesOf(10, 'a'))
	c.PutSlice("f1", objectstore.Range{Start: 10, End: 20}, bytesOf(10, 'b'))

	require.Len(t, c.extents["f1"], 1)

	data, ok := c.GetSlice("f1", objectstore.Range{Start: 0, End: 20})
	require.True(t, ok)
	require.Equal(t, append(bytesOf(10, 'a'), bytesOf(10, 'b')...), data)
}

func TestRangeCache_FooterPinnedAcrossForgetfulEviction(t *testing.T) {
	c := NewRangeCache(RangeCacheOptions{Capacity: 1})

	c.PinFooter("f1", "footer-meta")
	c.PutSlice("other", objectstore.Range{Start: 0, End: 1}, []byte("x"))

	v, ok := c.GetFooter("f1")
	require.True(t, ok)
	require.Equal(t, "footer-meta", v)
}

func TestRangeCache_FileNumCountsDistinctPaths(t *testing.T) {
	c := NewRangeCache(RangeCacheOptions{Capacity: 4})

	c.PutSlice("f1", objectstore.Range{Start: 0, End: 1}, []byte("x"))
	c.PinFooter("f2", "meta")

	require.Equal(t, 2, c.FileNum())
}

func bytesOf(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
