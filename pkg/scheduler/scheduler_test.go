package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.corestream.dev/corestream/pkg/corerr"
	"go.corestream.dev/corestream/pkg/eventbus"
)

func newTestScheduler(t *testing.T) (*Scheduler, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(nil)
	s := New(NewMemStore(), bus, nil, Options{DrainInterval: 5 * time.Millisecond})
	t.Cleanup(func() {
		s.Close()
		bus.Close()
	})
	return s, bus
}

func TestScheduler_PushDuplicateKeyFails(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.Push(ctx, Trigger{Org: "o1", Module: "alert", ModuleKey: "k1", NextRunAt: time.Now()})
	require.NoError(t, err)

	_, err = s.Push(ctx, Trigger{Org: "o1", Module: "alert", ModuleKey: "k1", NextRunAt: time.Now()})
	require.Error(t, err)
	require.ErrorIs(t, err, corerr.AlreadyExists)
}

func TestScheduler_PullSelectsDueWaitingTriggers(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	_, err := s.Push(ctx, Trigger{Org: "o1", Module: "alert", ModuleKey: "due", NextRunAt: past})
	require.NoError(t, err)
	_, err = s.Push(ctx, Trigger{Org: "o1", Module: "alert", ModuleKey: "notdue", NextRunAt: future})
	require.NoError(t, err)

	pulled, err := s.Pull(ctx, 10, time.Minute, time.Minute)
	require.NoError(t, err)
	require.Len(t, pulled, 1)
	require.Equal(t, "due", pulled[0].ModuleKey)
	require.Equal(t, StatusProcessing, pulled[0].Status)
}

func TestScheduler_LeaseExpiryReclaimsStuckProcessingTrigger(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.Push(ctx, Trigger{
		Org: "o1", Module: "alert", ModuleKey: "stuck",
		NextRunAt: time.Now().Add(-time.Hour),
		Status:    StatusProcessing,
		StartTime: time.Now().Add(-time.Hour),
		Timeout:   time.Minute,
	})
	require.NoError(t, err)

	pulled, err := s.Pull(ctx, 10, time.Minute, time.Minute)
	require.NoError(t, err)
	require.Len(t, pulled, 1)
	require.Equal(t, "stuck", pulled[0].ModuleKey)
}

func TestScheduler_UpdateStatusCoalescerPreservesPerKeyOrder(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.Push(ctx, Trigger{Org: "o1", Module: "alert", ModuleKey: "k1", NextRunAt: time.Now(), MaxRetries: 100})
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.UpdateStatus(ctx, "o1", "alert", "k1", StatusProcessing, i, nil))
	}

	require.Eventually(t, func() bool {
		got, err := s.Get(ctx, "o1", "alert", "k1")
		return err == nil && got.Retries == 5
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_UpdateStatusOnDeletedRowIsDroppedNotError(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.Push(ctx, Trigger{Org: "o1", Module: "alert", ModuleKey: "k1", NextRunAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "o1", "alert", "k1"))

	err = s.UpdateStatus(ctx, "o1", "alert", "k1", StatusCompleted, 0, nil)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = s.Get(ctx, "o1", "alert", "k1")
	require.Error(t, err)
}

func TestScheduler_RetriesExceedingMaxSilencesAndReturnsToWaiting(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.Push(ctx, Trigger{Org: "o1", Module: "alert", ModuleKey: "k1", NextRunAt: time.Now(), MaxRetries: 2, Status: StatusProcessing})
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, "o1", "alert", "k1", StatusProcessing, 3, nil))

	require.Eventually(t, func() bool {
		got, err := s.Get(ctx, "o1", "alert", "k1")
		return err == nil && got.IsSilenced && got.Status == StatusWaiting
	}, time.Second, 5*time.Millisecond)
}
