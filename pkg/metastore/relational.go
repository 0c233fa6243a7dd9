package metastore

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"go.corestream.dev/corestream/pkg/corerr"
	"go.corestream.dev/corestream/pkg/scheduler"
)

// Tables mirror spec.md §6's relational surface. Column sets are
// intentionally minimal: enough to round-trip the scheduler/dedup/
// metadata operations this core implements, not the full frontend
// schema (short URLs, templates, destinations, ... are out of core per
// spec.md's non-goals and are carried only as pass-through rows an
// external service owns).

// ScheduledJob mirrors the scheduler's Trigger for the relational
// backend Store implementation.
type ScheduledJob struct {
	ID         string `gorm:"primaryKey"`
	Org        string `gorm:"index:idx_scheduled_jobs_org_module_key,unique"`
	Module     string `gorm:"index:idx_scheduled_jobs_org_module_key,unique"`
	ModuleKey  string `gorm:"index:idx_scheduled_jobs_org_module_key,unique"`
	Status     string
	Retries    int
	MaxRetries int
	IsSilenced bool
	IsRealtime bool
	NextRunAt  time.Time
	StartTime  time.Time
	Data       []byte
	TimeoutNs  int64
}

// AlertDedupState mirrors dedup.State for the relational backend.
type AlertDedupState struct {
	Fingerprint     string `gorm:"primaryKey"`
	FirstSeenAt     time.Time
	LastSeenAt      time.Time `gorm:"index"`
	OccurrenceCount int
}

// DistinctValueField tracks, per (org, stream, field), the set of
// distinct values observed — used by UIs to populate filter dropdowns
// without scanning data.
type DistinctValueField struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	Org      string `gorm:"index:idx_distinct_value_fields,unique"`
	Stream   string `gorm:"index:idx_distinct_value_fields,unique"`
	Field    string `gorm:"index:idx_distinct_value_fields,unique"`
	ValueJSON []byte
}

// RePattern is a named regular expression used by enrichment/redaction
// rules.
type RePattern struct {
	ID      string `gorm:"primaryKey"`
	Org     string `gorm:"index"`
	Name    string
	Pattern string
}

// SourceMap associates a frontend build artifact with its source map
// blob reference, for error-tracking stack symbolication.
type SourceMap struct {
	ID          string `gorm:"primaryKey"`
	Org         string `gorm:"index"`
	ReleaseName string
	ObjectKey   string
}

// CompactorManualJob records an operator-triggered one-off compaction
// request for the immutable mover (C3) to pick up.
type CompactorManualJob struct {
	ID        string `gorm:"primaryKey"`
	Org       string `gorm:"index"`
	Stream    string
	StartedAt time.Time
	Status    string
}

// BackfillJob records a historical reindex/reprocess request.
type BackfillJob struct {
	ID        string `gorm:"primaryKey"`
	Org       string `gorm:"index"`
	Stream    string
	StartTime time.Time
	EndTime   time.Time
	Status    string
}

// Folder groups saved searches/dashboards in the (out-of-core) frontend;
// retained here only as a foreign-key target for Organization-scoped
// listings.
type Folder struct {
	ID   string `gorm:"primaryKey"`
	Org  string `gorm:"index"`
	Name string
}

// Organization is a tenant.
type Organization struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	CreatedAt time.Time
}

// User is an account, many-to-many with Organization via OrgUser.
type User struct {
	ID    string `gorm:"primaryKey"`
	Email string `gorm:"uniqueIndex"`
}

// OrgUser is the join row between Organization and User, carrying role.
type OrgUser struct {
	OrgID  string `gorm:"primaryKey"`
	UserID string `gorm:"primaryKey"`
	Role   string
}

// Template is an out-of-core notification template, persisted here so
// the scheduler/dedup path can reference it by ID.
type Template struct {
	ID   string `gorm:"primaryKey"`
	Org  string `gorm:"index"`
	Name string
	Body string
}

// Destination is an out-of-core notification transport configuration
// (email/slack/webhook), referenced by alert triggers.
type Destination struct {
	ID   string `gorm:"primaryKey"`
	Org  string `gorm:"index"`
	Kind string
	ConfigJSON []byte
}

// EnrichmentTable describes an enrichment stream's metadata, backing
// pkg/plan's EnrichScan node (C9).
type EnrichmentTable struct {
	ID     string `gorm:"primaryKey"`
	Org    string `gorm:"index"`
	Name   string
	SchemaJSON []byte
}

// SystemSetting is a single org-scoped or global key/value setting (e.g.
// circuit-breaker knobs from spec.md §6).
type SystemSetting struct {
	Org   string `gorm:"primaryKey"`
	Key   string `gorm:"primaryKey"`
	Value string
}

// allModels is migrated, in order, by Migrate. Order matters only in
// that GORM creates tables in this order; foreign keys here are logical
// (string IDs), not enforced constraints, so there is no ordering
// constraint beyond readability.
var allModels = []interface{}{
	&Organization{},
	&User{},
	&OrgUser{},
	&Folder{},
	&ScheduledJob{},
	&AlertDedupState{},
	&DistinctValueField{},
	&RePattern{},
	&SourceMap{},
	&CompactorManualJob{},
	&BackfillJob{},
	&Template{},
	&Destination{},
	&EnrichmentTable{},
	&SystemSetting{},
}

// Open dials a GORM connection for driver ("sqlite" or "postgres") and
// dsn, dispatching across backends the way spec.md §9 describes ("a sum
// type over backends, or a small trait object chosen at runtime from
// configuration").
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, Error.Wrap(corerr.Wrap(corerr.Unsupported, corerr.IoError))
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}
	return db, nil
}

// Migrate runs the append-only AutoMigrate pass for every table in
// spec.md §6. Migrations never drop or retype existing columns; GORM's
// AutoMigrate is additive by construction, matching that contract, and
// is safe to call repeatedly (idempotent).
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels...); err != nil {
		return Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}
	return nil
}

// RelationalStore adapts a *gorm.DB into scheduler.Store, so the
// scheduler can run against SQLite/Postgres instead of the in-memory
// MemStore in multi-node deployments.
type RelationalStore struct {
	db *gorm.DB
}

// NewRelationalStore wraps db (already migrated via Migrate).
func NewRelationalStore(db *gorm.DB) *RelationalStore {
	return &RelationalStore{db: db}
}

func toRow(t scheduler.Trigger) ScheduledJob {
	return ScheduledJob{
		ID: t.ID, Org: t.Org, Module: t.Module, ModuleKey: t.ModuleKey,
		Status: string(t.Status), Retries: t.Retries, MaxRetries: t.MaxRetries,
		IsSilenced: t.IsSilenced, IsRealtime: t.IsRealtime,
		NextRunAt: t.NextRunAt, StartTime: t.StartTime, Data: t.Data,
		TimeoutNs: int64(t.Timeout),
	}
}

func toTrigger(r ScheduledJob) scheduler.Trigger {
	return scheduler.Trigger{
		ID: r.ID, Org: r.Org, Module: r.Module, ModuleKey: r.ModuleKey,
		Status: scheduler.Status(r.Status), Retries: r.Retries, MaxRetries: r.MaxRetries,
		IsSilenced: r.IsSilenced, IsRealtime: r.IsRealtime,
		NextRunAt: r.NextRunAt, StartTime: r.StartTime, Data: r.Data,
		Timeout: time.Duration(r.TimeoutNs),
	}
}

// Insert implements scheduler.Store, translating GORM's unique-
// constraint violation on (org, module, module_key) into
// corerr.AlreadyExists per spec.md §7.
func (s *RelationalStore) Insert(ctx context.Context, t scheduler.Trigger) error {
	err := s.db.WithContext(ctx).Create(toRow(t)).Error
	if err != nil {
		return corerr.Wrap(corerr.AlreadyExists, err)
	}
	return nil
}

// CompareAndSwap implements scheduler.Store.
func (s *RelationalStore) CompareAndSwap(ctx context.Context, org, module, key string, mutate func(scheduler.Trigger) scheduler.Trigger) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row ScheduledJob
		err := tx.Where("org = ? AND module = ? AND module_key = ?", org, module, key).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return corerr.KeyNotExists
		}
		if err != nil {
			return corerr.Wrap(corerr.IoError, err)
		}
		updated := toRow(mutate(toTrigger(row)))
		return tx.Model(&ScheduledJob{}).Where("id = ?", row.ID).Select("*").Updates(updated).Error
	})
}

// Delete implements scheduler.Store.
func (s *RelationalStore) Delete(ctx context.Context, org, module, key string) error {
	return s.db.WithContext(ctx).
		Where("org = ? AND module = ? AND module_key = ?", org, module, key).
		Delete(&ScheduledJob{}).Error
}

// Get implements scheduler.Store.
func (s *RelationalStore) Get(ctx context.Context, org, module, key string) (scheduler.Trigger, error) {
	var row ScheduledJob
	err := s.db.WithContext(ctx).Where("org = ? AND module = ? AND module_key = ?", org, module, key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return scheduler.Trigger{}, corerr.KeyNotExists
	}
	if err != nil {
		return scheduler.Trigger{}, corerr.Wrap(corerr.IoError, err)
	}
	return toTrigger(row), nil
}

// List implements scheduler.Store.
func (s *RelationalStore) List(ctx context.Context, module string) ([]scheduler.Trigger, error) {
	q := s.db.WithContext(ctx)
	if module != "" {
		q = q.Where("module = ?", module)
	}
	var rows []ScheduledJob
	if err := q.Find(&rows).Error; err != nil {
		return nil, corerr.Wrap(corerr.IoError, err)
	}
	return rowsToTriggers(rows), nil
}

// ListByOrg implements scheduler.Store.
func (s *RelationalStore) ListByOrg(ctx context.Context, org, module string) ([]scheduler.Trigger, error) {
	q := s.db.WithContext(ctx).Where("org = ?", org)
	if module != "" {
		q = q.Where("module = ?", module)
	}
	var rows []ScheduledJob
	if err := q.Find(&rows).Error; err != nil {
		return nil, corerr.Wrap(corerr.IoError, err)
	}
	return rowsToTriggers(rows), nil
}

// LenModule implements scheduler.Store.
func (s *RelationalStore) LenModule(ctx context.Context, module string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ScheduledJob{}).Where("module = ?", module).Count(&n).Error
	if err != nil {
		return 0, corerr.Wrap(corerr.IoError, err)
	}
	return int(n), nil
}

// PullWaiting implements scheduler.Store: reclaims lease-expired
// Processing rows, then selects and leases up to n Waiting rows, all
// within one transaction so the selection and transition are atomic.
func (s *RelationalStore) PullWaiting(ctx context.Context, n int, now time.Time) ([]scheduler.Trigger, error) {
	var leased []ScheduledJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stuck []ScheduledJob
		if err := tx.Where("status = ? AND timeout_ns > 0", string(scheduler.StatusProcessing)).Find(&stuck).Error; err != nil {
			return err
		}
		for _, row := range stuck {
			if now.Sub(row.StartTime) > time.Duration(row.TimeoutNs) {
				if err := tx.Model(&ScheduledJob{}).Where("id = ?", row.ID).Update("status", string(scheduler.StatusWaiting)).Error; err != nil {
					return err
				}
			}
		}

		var candidates []ScheduledJob
		err := tx.Where("status = ? AND is_realtime = ? AND next_run_at <= ?", string(scheduler.StatusWaiting), false, now).
			Limit(n).Find(&candidates).Error
		if err != nil {
			return err
		}
		for _, row := range candidates {
			row.Status = string(scheduler.StatusProcessing)
			row.StartTime = now
			if err := tx.Model(&ScheduledJob{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
				"status": row.Status, "start_time": row.StartTime,
			}).Error; err != nil {
				return err
			}
			leased = append(leased, row)
		}
		return nil
	})
	if err != nil {
		return nil, corerr.Wrap(corerr.IoError, err)
	}
	return rowsToTriggers(leased), nil
}

func rowsToTriggers(rows []ScheduledJob) []scheduler.Trigger {
	out := make([]scheduler.Trigger, len(rows))
	for i, r := range rows {
		out[i] = toTrigger(r)
	}
	return out
}
