// Copyright (C) 2024 corestream authors.
// See LICENSE for copying information.

package objectstore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"go.corestream.dev/corestream/pkg/corerr"
)

func TestGetFileContents_RangeBeyondEOF(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.Put(ctx, "k", bytes.NewReader([]byte("hello")), 5))

	_, err := GetFileContents(ctx, store, "k", &Range{Start: 0, End: 10})
	require.Error(t, err)
	require.True(t, errors.Is(err, corerr.IoError))
}

func TestGetFileContents_FullRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.Put(ctx, "k", bytes.NewReader([]byte("hello world")), 11))

	data, err := GetFileContents(ctx, store, "k", nil)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	data, err = GetFileContents(ctx, store, "k", &Range{Start: 6, End: 11})
	require.NoError(t, err)
	require.Equal(t, "world", string(data))
}
