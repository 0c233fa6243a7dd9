package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvaluate_FirstOccurrenceEmits(t *testing.T) {
	store := NewMemStore()
	cfg := Config{TimeWindow: 5 * time.Minute}
	now := time.Now()

	d, err := Evaluate(context.Background(), store, cfg, now, map[string]interface{}{
		"service": "api", "host": "h1", "level": "error", "message": "boom",
	})
	require.NoError(t, err)
	require.True(t, d.Emit)
	require.Equal(t, 1, d.State.OccurrenceCount)
}

func TestEvaluate_WithinWindowSuppressesAndIncrements(t *testing.T) {
	store := NewMemStore()
	cfg := Config{TimeWindow: 5 * time.Minute}
	now := time.Now()
	row := map[string]interface{}{"service": "api", "host": "h1", "level": "error", "message": "boom"}

	first, err := Evaluate(context.Background(), store, cfg, now, row)
	require.NoError(t, err)
	require.True(t, first.Emit)

	second, err := Evaluate(context.Background(), store, cfg, now.Add(time.Minute), row)
	require.NoError(t, err)
	require.False(t, second.Emit)
	require.Equal(t, 2, second.State.OccurrenceCount)
	require.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestEvaluate_AfterWindowExpiresEmitsAgainAndResetsCount(t *testing.T) {
	store := NewMemStore()
	cfg := Config{TimeWindow: time.Minute}
	now := time.Now()
	row := map[string]interface{}{"service": "api", "host": "h1", "level": "error", "message": "boom"}

	_, err := Evaluate(context.Background(), store, cfg, now, row)
	require.NoError(t, err)

	third, err := Evaluate(context.Background(), store, cfg, now.Add(2*time.Hour), row)
	require.NoError(t, err)
	require.True(t, third.Emit)
	require.Equal(t, 1, third.State.OccurrenceCount)
}

func TestEffectiveWindow_UsesTriggerFrequencyWhenLarger(t *testing.T) {
	cfg := Config{TimeWindow: time.Minute, TriggerFrequency: 10 * time.Minute}
	require.Equal(t, 20*time.Minute, cfg.EffectiveWindow())
}

func TestEffectiveWindow_UsesConfiguredWindowWhenLarger(t *testing.T) {
	cfg := Config{TimeWindow: time.Hour, TriggerFrequency: time.Minute}
	require.Equal(t, time.Hour, cfg.EffectiveWindow())
}

func TestFingerprint_FallsBackToSemanticGroupWhenNoFieldsConfigured(t *testing.T) {
	cfg := Config{}
	row := map[string]interface{}{"service": "api", "host": "h1", "level": "error", "message": "boom", "unrelated": "x"}
	otherRow := map[string]interface{}{"service": "api", "host": "h1", "level": "error", "message": "boom", "unrelated": "y"}

	require.Equal(t, Fingerprint(cfg, row), Fingerprint(cfg, otherRow))
}

func TestFingerprint_DistinctRowsHashDifferently(t *testing.T) {
	cfg := Config{}
	a := map[string]interface{}{"service": "api", "host": "h1", "level": "error", "message": "boom"}
	b := map[string]interface{}{"service": "api", "host": "h2", "level": "error", "message": "boom"}
	require.NotEqual(t, Fingerprint(cfg, a), Fingerprint(cfg, b))
}

func TestEvaluateBatch_SuppressesDuplicatesWithinSameBatch(t *testing.T) {
	store := NewMemStore()
	cfg := Config{TimeWindow: 5 * time.Minute}
	now := time.Now()
	row := map[string]interface{}{"service": "api", "host": "h1", "level": "error", "message": "boom"}

	emitted, err := EvaluateBatch(context.Background(), store, cfg, now, []map[string]interface{}{row, row, row})
	require.NoError(t, err)
	require.Len(t, emitted, 1)
}

func TestCleanup_RemovesStateOlderThanCutoff(t *testing.T) {
	store := NewMemStore()
	now := time.Now()
	require.NoError(t, store.Put(context.Background(), State{Fingerprint: "old", LastSeenAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.Put(context.Background(), State{Fingerprint: "new", LastSeenAt: now}))

	n, err := Cleanup(context.Background(), store, now, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = store.Get(context.Background(), "old")
	require.Error(t, err)
	_, err = store.Get(context.Background(), "new")
	require.NoError(t, err)
}
