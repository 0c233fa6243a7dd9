// Copyright (C) 2024 corestream authors.
// See LICENSE for copying information.

package index

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestColumnIndexer_ThreeTermsThreeSegments(t *testing.T) {
	c := NewColumnIndexer()
	for _, seg := range []uint32{0, 1, 2} {
		c.Push([]byte("a"), seg, 1)
		c.Push([]byte("b"), seg, 1)
		c.Push([]byte("c"), seg, 1)
	}

	var buf bytes.Buffer
	meta, err := c.Write(&buf)
	require.NoError(t, err)

	require.Equal(t, []byte("a"), meta.MinVal)
	require.Equal(t, []byte("c"), meta.MaxVal)
	require.Equal(t, uint32(1), meta.MinLen)
	require.Equal(t, uint32(1), meta.MaxLen)

	data := buf.Bytes()
	fst, err := OpenFST(data, meta)
	require.NoError(t, err)

	seen := map[string]bool{}
	it, err := fst.Iterator(nil, nil)
	for ; err == nil; err = it.Next() {
		key, val := it.Current()
		seen[string(key)] = true
		offset, size := Unpack(val)
		bm := ReadPostingBitmap(data, offset, size)
		require.True(t, Contains(bm, 0))
		require.True(t, Contains(bm, 1))
		require.True(t, Contains(bm, 2))
	}

	require.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)
}

func TestColumnIndexer_DuplicatePushIsIdempotent(t *testing.T) {
	c := NewColumnIndexer()
	c.Push([]byte("a"), 0, 1)
	c.Push([]byte("a"), 0, 1)
	c.Push([]byte("a"), 0, 1)

	var buf bytes.Buffer
	meta, err := c.Write(&buf)
	require.NoError(t, err)

	data := buf.Bytes()
	fst, err := OpenFST(data, meta)
	require.NoError(t, err)

	val, ok, err := fst.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	offset, size := Unpack(val)
	bm := ReadPostingBitmap(data, offset, size)
	require.True(t, Contains(bm, 0))
}

func TestColumnIndexer_EmptySkipsWrite(t *testing.T) {
	c := NewColumnIndexer()
	require.True(t, c.Empty())
	var buf bytes.Buffer
	_, err := c.Write(&buf)
	require.Error(t, err)
}

func TestPackUnpack_RoundTrip(t *testing.T) {
	v := pack(123456, 789)
	offset, size := Unpack(v)
	require.Equal(t, uint32(123456), offset)
	require.Equal(t, uint32(789), size)
}
