package search

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputePartitions_CoversFullRange(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	parts := ComputePartitions(start, end, 4, nil)
	require.NotEmpty(t, parts)
	require.True(t, parts[0].StartTS.Equal(start))
	require.True(t, parts[len(parts)-1].EndTS.Equal(end))
	for i := 1; i < len(parts); i++ {
		require.True(t, parts[i].StartTS.Equal(parts[i-1].EndTS))
	}
}

func TestComputePartitions_EmptyRangeReturnsNil(t *testing.T) {
	now := time.Now()
	require.Nil(t, ComputePartitions(now, now, 4, nil))
}

func TestDynamicPartitionSize_ClampsToOneMinute(t *testing.T) {
	start := time.Now()
	end := start.Add(time.Second)
	require.Equal(t, time.Minute, DynamicPartitionSize(start, end, 100))
}

func TestSelectFollowers_DedupsByAddrStably(t *testing.T) {
	candidates := []Follower{
		{GRPCAddr: "a:1", NodeID: "n1"},
		{GRPCAddr: "b:1", NodeID: "n2"},
		{GRPCAddr: "a:1", NodeID: "n1-dup"},
	}
	got := SelectFollowers(candidates, 10, rand.New(rand.NewSource(1)))
	require.Len(t, got, 2)
	require.Equal(t, "a:1", got[0].GRPCAddr)
	require.Equal(t, "b:1", got[1].GRPCAddr)
}

func TestSelectFollowers_RandomSubsetRespectsN(t *testing.T) {
	var candidates []Follower
	for i := 0; i < 20; i++ {
		candidates = append(candidates, Follower{GRPCAddr: string(rune('a' + i))})
	}
	got := SelectFollowers(candidates, 5, rand.New(rand.NewSource(42)))
	require.Len(t, got, 5)

	seen := map[string]bool{}
	for _, f := range got {
		require.False(t, seen[f.GRPCAddr], "duplicate follower selected")
		seen[f.GRPCAddr] = true
	}
}
