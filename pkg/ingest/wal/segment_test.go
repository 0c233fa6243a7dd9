// Copyright (C) 2024 corestream authors.
// See LICENSE for copying information.

package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go.corestream.dev/corestream/pkg/corerr"
)

func TestWAL_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.wal")

	w, err := OpenForWrite(path, Header{"writer_id": "1"}, 0)
	require.NoError(t, err)

	const n = 100
	entries := make([][]byte, n)
	for i := 0; i < n; i++ {
		entries[i] = []byte(fmt.Sprintf("hello world %d", i))
	}

	base := w.Size()
	for i, e := range entries {
		pos, err := w.Write(e)
		require.NoError(t, err)
		require.Equal(t, Position(base), pos)
		base += int64(entryHeaderLen + len(e))
	}
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	r, err := OpenForRead(path)
	require.NoError(t, err)
	require.Equal(t, "1", r.Header()["writer_id"])

	for i := 0; i < n; i++ {
		before := r.CurrentPosition()
		payload, err := r.ReadEntry()
		require.NoError(t, err)
		require.NotNil(t, payload)
		require.Equal(t, entries[i], payload)
		require.Equal(t, before+int64(entryHeaderLen+len(entries[i])), r.CurrentPosition())
	}

	payload, err := r.ReadEntry()
	require.NoError(t, err)
	require.Nil(t, payload)

	require.NoError(t, r.Close())
}

func TestWAL_TruncatedTrailingEntryIsCleanEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.wal")

	w, err := OpenForWrite(path, Header{}, 0)
	require.NoError(t, err)
	_, err = w.Write([]byte("complete entry"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Append 3 garbage bytes, simulating a crash mid-write of the next
	// entry's header.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := OpenForRead(path)
	require.NoError(t, err)

	payload, err := r.ReadEntry()
	require.NoError(t, err)
	require.Equal(t, []byte("complete entry"), payload)

	payload, err = r.ReadEntry()
	require.NoError(t, err)
	require.Nil(t, payload, "truncated trailing header must read as clean EOF")
	require.NoError(t, r.Close())

	// Replay truncates the file back to the last full entry.
	require.NoError(t, Truncate(path, r.CurrentPosition()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, r.CurrentPosition(), info.Size())
}

func TestWAL_CorruptCRCHaltsReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.wal")

	w, err := OpenForWrite(path, Header{}, 0)
	require.NoError(t, err)
	_, err = w.Write([]byte("good entry"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Flip a byte inside the payload, after the header, to break the CRC.
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, int64(len(Magic)+entryHeaderLen+2))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := OpenForRead(path)
	require.NoError(t, err)
	_, err = r.ReadEntry()
	require.Error(t, err)
	require.True(t, errors.Is(err, corerr.Corrupt))
}

func TestWAL_OpenForWriteAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.wal")

	w, err := OpenForWrite(path, Header{}, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = OpenForWrite(path, Header{}, 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, corerr.AlreadyExists))
}
