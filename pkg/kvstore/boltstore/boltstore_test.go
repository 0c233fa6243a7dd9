package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go.corestream.dev/corestream/pkg/kvstore/testsuite"
)

func TestSuite(t *testing.T) {
	dbname := filepath.Join(t.TempDir(), "bolt.db")
	store, err := New(dbname, "bucket")
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	testsuite.RunTests(t, store)
}
