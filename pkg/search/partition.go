package search

import (
	"math/rand"
	"sort"
	"time"
)

// DynamicPartitionSize chooses a time-bucketing step for [start, end),
// aiming for a target partition count (spec.md §4.10: "dynamic partition
// size"): the range is divided into roughly targetPartitions buckets,
// clamped to a minimum of one minute so a narrow range doesn't explode
// into thousands of empty partitions.
func DynamicPartitionSize(start, end time.Time, targetPartitions int) time.Duration {
	if targetPartitions <= 0 {
		targetPartitions = 1
	}
	total := end.Sub(start)
	if total <= 0 {
		return time.Minute
	}
	step := total / time.Duration(targetPartitions)
	if step < time.Minute {
		step = time.Minute
	}
	return step
}

// ComputePartitions derives SearchPartitions by time-bucketing
// [start, end) at step granularity (spec.md §4.10 step 2). estimator
// supplies the estimated row/file counts for a bucket; it may be nil, in
// which case estimates are left zero.
func ComputePartitions(start, end time.Time, targetPartitions int, estimator func(s, e time.Time) (rows int64, files int)) []Partition {
	if !end.After(start) {
		return nil
	}
	step := DynamicPartitionSize(start, end, targetPartitions)

	var out []Partition
	for cur := start; cur.Before(end); cur = cur.Add(step) {
		bucketEnd := cur.Add(step)
		if bucketEnd.After(end) {
			bucketEnd = end
		}
		p := Partition{StartTS: cur, EndTS: bucketEnd}
		if estimator != nil {
			p.EstRows, p.EstFiles = estimator(cur, bucketEnd)
		}
		out = append(out, p)
	}
	return out
}

// SelectFollowers chooses n followers from candidates (spec.md §4.10
// step 3): candidates are first deduplicated by GRPCAddr in their
// original order (stable dedup), then, if more than n remain, n are
// picked by uniform random choice via rnd for stateless load
// distribution. rnd must not be nil.
func SelectFollowers(candidates []Follower, n int, rnd *rand.Rand) []Follower {
	deduped := dedupByAddr(candidates)
	if n <= 0 || n >= len(deduped) {
		return deduped
	}
	perm := rnd.Perm(len(deduped))[:n]
	sort.Ints(perm)
	out := make([]Follower, len(perm))
	for i, idx := range perm {
		out[i] = deduped[idx]
	}
	return out
}

func dedupByAddr(candidates []Follower) []Follower {
	seen := make(map[string]bool, len(candidates))
	out := make([]Follower, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.GRPCAddr] {
			continue
		}
		seen[c.GRPCAddr] = true
		out = append(out, c)
	}
	return out
}
