// Package scheduler implements the job contract of spec.md §4.7
// (component C7): triggers are pushed, leased out in pull batches, and
// mutated through a batch coalescer that preserves per-key order while
// allowing cross-key reordering. Storage is abstracted behind the Store
// interface so both an in-memory implementation (tests) and a
// kvstore/relational-backed one (pkg/metastore) can serve it, mirroring
// the teacher's pattern of a thin domain type wrapping a pluggable
// persistence backend (e.g. pointerdb.Service over metainfo.DB).
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go.corestream.dev/corestream/pkg/corerr"
	"go.corestream.dev/corestream/pkg/eventbus"
)

// Error is this package's errs.Class.
var Error = corerr.Class("scheduler")

// Status is a Trigger's position in the Waiting → Processing →
// {Completed | Waiting} state machine (spec.md §4.7).
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Trigger is a single scheduled job instance, deduped on (Org, Module,
// ModuleKey).
type Trigger struct {
	ID         string
	Org        string
	Module     string
	ModuleKey  string
	Status     Status
	Retries    int
	MaxRetries int
	IsSilenced bool
	IsRealtime bool

	NextRunAt time.Time
	StartTime time.Time
	Data      []byte

	// Timeout bounds how long this module's jobs may sit Processing
	// before lease expiry reclaims them (spec.md "module's timeout").
	Timeout time.Duration
}

// Store is the persistence contract the Scheduler drives. Implementations
// must make Push atomic with the (org, module, module_key) uniqueness
// check, and Pull atomic with respect to lease-expiry reclaim.
type Store interface {
	Insert(ctx context.Context, t Trigger) error
	// CompareAndSwap applies mutate to the stored row matching
	// (org, module, key) if it still exists, returning
	// corerr.KeyNotExists (swallowed by the caller, per spec.md's
	// drop-silently-on-delete decision) if the row was concurrently
	// removed.
	CompareAndSwap(ctx context.Context, org, module, key string, mutate func(Trigger) Trigger) error
	Delete(ctx context.Context, org, module, key string) error
	Get(ctx context.Context, org, module, key string) (Trigger, error)
	List(ctx context.Context, module string) ([]Trigger, error)
	ListByOrg(ctx context.Context, org, module string) ([]Trigger, error)
	LenModule(ctx context.Context, module string) (int, error)
	// PullWaiting returns up to n triggers with status Waiting and
	// NextRunAt <= now, reclaiming any Processing trigger whose
	// StartTime+Timeout has passed into Waiting first. Selection and the
	// Waiting->Processing transition happen atomically.
	PullWaiting(ctx context.Context, n int, now time.Time) ([]Trigger, error)
}

// statusUpdate is one update fed to the batch coalescer.
type statusUpdate struct {
	org, module, key string
	apply            func(Trigger) Trigger
}

// Scheduler is the C7 job queue: Store-backed state plus an in-process
// batch coalescer that drains concurrent status/trigger updates into
// ordered-per-key, cross-key-reorderable drain cycles (spec.md §4.7).
type Scheduler struct {
	store Store
	bus   *eventbus.Bus
	log   *zap.Logger

	updates chan statusUpdate
	drainWG sync.WaitGroup

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Options configures a Scheduler.
type Options struct {
	// DrainInterval is how often queued updates are flushed to Store in
	// one batch; spec.md leaves the cadence unspecified beyond "one
	// multi-row update per drain cycle".
	DrainInterval time.Duration
	QueueDepth    int
}

// New starts a Scheduler with its coalescer goroutine running; callers
// must call Close to stop it cleanly.
func New(store Store, bus *eventbus.Bus, log *zap.Logger, opts Options) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = 50 * time.Millisecond
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 1024
	}
	s := &Scheduler{
		store:   store,
		bus:     bus,
		log:     log,
		updates: make(chan statusUpdate, opts.QueueDepth),
		closeCh: make(chan struct{}),
	}
	s.drainWG.Add(1)
	go s.drainLoop(opts.DrainInterval)
	return s
}

// Push inserts a new trigger, failing with corerr.AlreadyExists if one
// already exists for (org, module, module_key).
func (s *Scheduler) Push(ctx context.Context, t Trigger) (Trigger, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusWaiting
	}
	if err := s.store.Insert(ctx, t); err != nil {
		return Trigger{}, Error.Wrap(err)
	}
	s.bus.Publish(eventbus.Event{Kind: eventbus.KindPut, Key: triggerKey(t.Org, t.Module, t.ModuleKey)})
	return t, nil
}

// Pull atomically selects up to concurrency Waiting triggers whose
// NextRunAt has elapsed, reclaiming lease-expired Processing triggers
// first (spec.md §4.7). alertTimeout/reportTimeout select which per-
// module timeout governs reclaim for triggers that don't carry their own
// Timeout; the chosen timeout is stored on the trigger.
func (s *Scheduler) Pull(ctx context.Context, concurrency int, alertTimeout, reportTimeout time.Duration) ([]Trigger, error) {
	triggers, err := s.store.PullWaiting(ctx, concurrency, time.Now())
	if err != nil {
		return nil, Error.Wrap(err)
	}
	for i := range triggers {
		t := &triggers[i]
		if t.Timeout > 0 {
			continue
		}
		if t.Module == "alert" {
			t.Timeout = alertTimeout
		} else {
			t.Timeout = reportTimeout
		}
		timeout := t.Timeout
		err := s.store.CompareAndSwap(ctx, t.Org, t.Module, t.ModuleKey, func(st Trigger) Trigger {
			st.Timeout = timeout
			return st
		})
		if err != nil && !errors.Is(err, corerr.KeyNotExists) {
			return nil, Error.Wrap(err)
		}
	}
	return triggers, nil
}

// UpdateTrigger queues a full trigger replacement through the coalescer.
func (s *Scheduler) UpdateTrigger(ctx context.Context, t Trigger) error {
	return s.enqueue(ctx, statusUpdate{
		org: t.Org, module: t.Module, key: t.ModuleKey,
		apply: func(Trigger) Trigger { return t },
	})
}

// UpdateStatus queues a status/retries/data mutation through the
// coalescer, implementing the retry/backoff/silence transition in
// spec.md §4.7: Completed clears retries; a non-completed status that
// exceeds the module's MaxRetries sets IsSilenced and returns the
// trigger to Waiting at a backed-off NextRunAt instead of bubbling an
// error.
func (s *Scheduler) UpdateStatus(ctx context.Context, org, module, key string, status Status, retries int, data []byte) error {
	return s.enqueue(ctx, statusUpdate{
		org: org, module: module, key: key,
		apply: func(t Trigger) Trigger {
			t.Status = status
			t.Retries = retries
			t.Data = data
			if status == StatusCompleted {
				t.Retries = 0
				t.IsSilenced = false
				return t
			}
			if t.MaxRetries > 0 && t.Retries > t.MaxRetries {
				t.IsSilenced = true
				t.Status = StatusWaiting
				t.NextRunAt = time.Now().Add(backoff(t.Retries))
			}
			return t
		},
	})
}

// backoff is a linear back-off (30s per retry) capped at 1 hour, applied when a
// trigger is silenced after exceeding its module's retry budget.
func backoff(retries int) time.Duration {
	d := time.Duration(retries) * time.Second * 30
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

func (s *Scheduler) enqueue(ctx context.Context, u statusUpdate) error {
	select {
	case s.updates <- u:
		return nil
	case <-ctx.Done():
		return Error.Wrap(corerr.Cancelled)
	case <-s.closeCh:
		return Error.New("scheduler is closed")
	}
}

// drainLoop is the coalescer: it batches queued updates per interval and
// applies them to Store, preserving the enqueue order for any given
// (org, module, key) by applying updates to that key in arrival order,
// while different keys within the same batch may be applied in any
// order (spec.md §5 ordering guarantee).
func (s *Scheduler) drainLoop(interval time.Duration) {
	defer s.drainWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []statusUpdate
	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		s.applyBatch(batch)
	}

	for {
		select {
		case u := <-s.updates:
			pending = append(pending, u)
		case <-ticker.C:
			flush()
		case <-s.closeCh:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case u := <-s.updates:
					pending = append(pending, u)
				default:
					flush()
					return
				}
			}
		}
	}
}

// applyBatch groups batch by (org,module,key), preserving within-key
// order, then applies each key's merged mutation once.
func (s *Scheduler) applyBatch(batch []statusUpdate) {
	order := make([]string, 0, len(batch))
	byKey := make(map[string][]statusUpdate, len(batch))
	for _, u := range batch {
		k := triggerKey(u.org, u.module, u.key)
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], u)
	}

	ctx := context.Background()
	for _, k := range order {
		ups := byKey[k]
		first := ups[0]
		err := s.store.CompareAndSwap(ctx, first.org, first.module, first.key, func(t Trigger) Trigger {
			for _, u := range ups {
				t = u.apply(t)
			}
			return t
		})
		if err != nil {
			// spec.md §4.7 failure semantics: a concurrently-deleted row
			// is logged and dropped, not retried or surfaced as an error.
			if !errors.Is(err, corerr.KeyNotExists) {
				s.log.Warn("scheduler: batch update failed", zap.String("key", k), zap.Error(err))
			}
			continue
		}
		s.bus.Publish(eventbus.Event{Kind: eventbus.KindPut, Key: k})
	}
}

// Delete removes a trigger and emits a watch event.
func (s *Scheduler) Delete(ctx context.Context, org, module, key string) error {
	if err := s.store.Delete(ctx, org, module, key); err != nil {
		return Error.Wrap(err)
	}
	s.bus.Publish(eventbus.Event{Kind: eventbus.KindDelete, Key: triggerKey(org, module, key)})
	return nil
}

// Get returns a single trigger.
func (s *Scheduler) Get(ctx context.Context, org, module, key string) (Trigger, error) {
	t, err := s.store.Get(ctx, org, module, key)
	if err != nil {
		return Trigger{}, Error.Wrap(err)
	}
	return t, nil
}

// List returns every trigger for module (all orgs) if module is
// non-empty, else every trigger.
func (s *Scheduler) List(ctx context.Context, module string) ([]Trigger, error) {
	ts, err := s.store.List(ctx, module)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return ts, nil
}

// ListByOrg returns every trigger for org, optionally narrowed to module.
func (s *Scheduler) ListByOrg(ctx context.Context, org, module string) ([]Trigger, error) {
	ts, err := s.store.ListByOrg(ctx, org, module)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return ts, nil
}

// LenModule returns the number of triggers currently registered for module.
func (s *Scheduler) LenModule(ctx context.Context, module string) (int, error) {
	n, err := s.store.LenModule(ctx, module)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return n, nil
}

// Close stops the coalescer after flushing any already-queued updates.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.closeCh) })
	s.drainWG.Wait()
}

func triggerKey(org, module, key string) string { return org + "/" + module + "/" + key }
