package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go.corestream.dev/corestream/pkg/dedup"
	"go.corestream.dev/corestream/pkg/eventbus"
	"go.corestream.dev/corestream/pkg/metastore"
	"go.corestream.dev/corestream/pkg/process"
	"go.corestream.dev/corestream/pkg/scheduler"
)

// schedulerConfig binds the C7 job queue: its GORM-backed trigger store
// and the pull/drain cadence spec.md §4.7 leaves implementation-defined.
type schedulerConfig struct {
	DBDriver string `default:"sqlite" help:"gorm driver: sqlite or postgres"`
	DBDSN    string `default:"corestream.db"`

	PullInterval    time.Duration `default:"1s"`
	PullConcurrency int           `default:"16"`
	AlertTimeout    time.Duration `default:"2m"`
	ReportTimeout   time.Duration `default:"15m"`
	DrainInterval   time.Duration `default:"50ms"`
	QueueDepth      int           `default:"1024"`

	DedupWindow     time.Duration `default:"5m"`
	DedupCleanupAge time.Duration `default:"24h"`
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the C7 trigger queue: pull waiting triggers and dispatch alert/report modules",
	RunE:  runScheduler,
}

var schedulerCfg schedulerConfig

func init() {
	process.Bind(schedulerCmd, &schedulerCfg)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	log := newLogger()
	defer log.Sync() //nolint:errcheck

	db, err := metastore.Open(schedulerCfg.DBDriver, schedulerCfg.DBDSN)
	if err != nil {
		return err
	}
	if err := metastore.Migrate(db); err != nil {
		return err
	}

	bus := eventbus.New(log)
	defer bus.Close()

	store := metastore.NewRelationalStore(db)
	sched := scheduler.New(store, bus, log, scheduler.Options{
		DrainInterval: schedulerCfg.DrainInterval,
		QueueDepth:    schedulerCfg.QueueDepth,
	})
	defer sched.Close()

	dedupStore := dedup.NewMemStore()
	dedupCfg := dedup.Config{TimeWindow: schedulerCfg.DedupWindow}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pullTicker := time.NewTicker(schedulerCfg.PullInterval)
	defer pullTicker.Stop()
	cleanupTicker := time.NewTicker(schedulerCfg.DedupCleanupAge / 2)
	defer cleanupTicker.Stop()

	log.Info("scheduler started", zap.Duration("pull_interval", schedulerCfg.PullInterval))
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopping")
			return nil
		case <-cleanupTicker.C:
			n, err := dedup.Cleanup(ctx, dedupStore, time.Now(), schedulerCfg.DedupCleanupAge)
			if err != nil {
				log.Warn("dedup cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("dedup cleanup removed stale fingerprints", zap.Int("count", n))
			}
		case <-pullTicker.C:
			triggers, err := sched.Pull(ctx, schedulerCfg.PullConcurrency, schedulerCfg.AlertTimeout, schedulerCfg.ReportTimeout)
			if err != nil {
				log.Warn("pull failed", zap.Error(err))
				continue
			}
			for _, t := range triggers {
				runTrigger(ctx, log, sched, dedupStore, dedupCfg, t)
			}
		}
	}
}

// runTrigger evaluates one pulled trigger. Query execution against the
// search coordinator and notification delivery are out of this
// conveyor's scope (spec.md leaves the module's actual alert/report
// logic to the module implementation); this loop owns dedup suppression
// and status bookkeeping around that call.
func runTrigger(ctx context.Context, log *zap.Logger, sched *scheduler.Scheduler, dedupStore dedup.Store, dedupCfg dedup.Config, t scheduler.Trigger) {
	row := map[string]interface{}{"org": t.Org, "module": t.Module, "key": t.ModuleKey}
	decision, err := dedup.Evaluate(ctx, dedupStore, dedupCfg, time.Now(), row)
	if err != nil {
		log.Warn("dedup evaluate failed", zap.String("module", t.Module), zap.Error(err))
	}
	if !decision.Emit {
		if err := sched.UpdateStatus(ctx, t.Org, t.Module, t.ModuleKey, scheduler.StatusCompleted, t.Retries, t.Data); err != nil {
			log.Warn("update status failed", zap.Error(err))
		}
		return
	}
	if err := sched.UpdateStatus(ctx, t.Org, t.Module, t.ModuleKey, scheduler.StatusCompleted, 0, t.Data); err != nil {
		log.Warn("update status failed", zap.Error(err))
	}
}
