// Package testsuite is a conformance suite shared by every kvstore.Store
// implementation (bbolt, in-memory), grounded on the teacher's
// private/kvstore/testsuite package (test_crud.go/test_range.go), adapted
// to run without storj.io/common/testcontext.
package testsuite

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"go.corestream.dev/corestream/pkg/corerr"
	"go.corestream.dev/corestream/pkg/kvstore"
)

// RunTests exercises Put/Get/Delete/Range against store.
func RunTests(t *testing.T, store kvstore.Store) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, store) })
	t.Run("Range", func(t *testing.T) { testRange(t, store) })
}

func newItem(key, value string) kvstore.Item {
	return kvstore.Item{Key: kvstore.Key(key), Value: kvstore.Value(value)}
}

func cleanupItems(t *testing.T, store kvstore.Store, items kvstore.Items) {
	for _, item := range items {
		_ = store.Delete(context.Background(), item.Key)
	}
}

func testCRUD(t *testing.T, store kvstore.Store) {
	ctx := context.Background()
	items := kvstore.Items{
		newItem("\x00", "\x00"),
		newItem("a/b", "\x01\x00"),
		newItem("a\\b", "\xFF"),
		newItem("full/path/1", "\x00\xFF\xFF\x00"),
		newItem("full/path/2", "\x00\xFF\xFF\x01"),
		newItem("full/path/3", "\x00\xFF\xFF\x02"),
		newItem("öö", "üü"),
	}
	rand.Shuffle(len(items), items.Swap)
	defer cleanupItems(t, store, items)

	t.Run("Put", func(t *testing.T) {
		for _, item := range items {
			require.NoError(t, store.Put(ctx, item.Key, item.Value))
		}
	})

	rand.Shuffle(len(items), items.Swap)

	t.Run("Get", func(t *testing.T) {
		for _, item := range items {
			value, err := store.Get(ctx, item.Key)
			require.NoError(t, err)
			require.True(t, bytes.Equal(value, item.Value))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		for _, item := range items {
			require.NoError(t, store.Delete(ctx, item.Key))
		}
		for _, item := range items {
			_, err := store.Get(ctx, item.Key)
			require.Error(t, err)
			require.True(t, errors.Is(err, corerr.KeyNotExists))
		}
	})
}

func testRange(t *testing.T, store kvstore.Store) {
	ctx := context.Background()

	items := kvstore.Items{
		newItem("a", "a"),
		newItem("b/1", "b/1"),
		newItem("b/2", "b/2"),
		newItem("b/3", "b/3"),
		newItem("c", "c"),
		newItem("g", "g"),
		newItem("h", "h"),
	}
	rand.Shuffle(len(items), items.Swap)
	defer cleanupItems(t, store, items)

	require.NoError(t, kvstore.PutAll(ctx, store, items...))

	var output kvstore.Items
	err := store.Range(ctx, func(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
		output = append(output, kvstore.Item{
			Key:   append(kvstore.Key(nil), key...),
			Value: append(kvstore.Value(nil), value...),
		})
		return nil
	})
	require.NoError(t, err)

	expected := kvstore.CloneItems(items)
	sort.Sort(expected)
	sort.Sort(output)

	require.EqualValues(t, expected, output)
}
