package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemoveOutermostLimit_AddsNoLimitWhenAbsent(t *testing.T) {
	out, err := RemoveOutermostLimit("SELECT * FROM t")
	require.NoError(t, err)
	require.NotContains(t, out, "limit")
	require.NotContains(t, out, "LIMIT")
}

func TestRemoveOutermostLimit_StripsOutermostLimit(t *testing.T) {
	out, err := RemoveOutermostLimit("SELECT * FROM t LIMIT 10")
	require.NoError(t, err)
	require.NotContains(t, out, "limit 10")
}

func TestRemoveOutermostLimit_PreservesSubqueryLimit(t *testing.T) {
	out, err := RemoveOutermostLimit("SELECT * FROM (SELECT * FROM t LIMIT 5) AS sub LIMIT 10")
	require.NoError(t, err)
	require.Contains(t, out, "limit 5")
	require.NotContains(t, out, "limit 10")
}

func TestRemoveOutermostLimit_UnionPreservesBranchLimits(t *testing.T) {
	out, err := RemoveOutermostLimit("(SELECT * FROM t LIMIT 5) UNION (SELECT * FROM u LIMIT 7) LIMIT 20")
	require.NoError(t, err)
	require.Contains(t, out, "limit 5")
	require.Contains(t, out, "limit 7")
	require.NotContains(t, out, "limit 20")
}
