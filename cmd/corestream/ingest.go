package main

import (
	"context"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go.corestream.dev/corestream/pkg/ingest/memtable"
	"go.corestream.dev/corestream/pkg/ingest/mover"
	"go.corestream.dev/corestream/pkg/objectstore"
	"go.corestream.dev/corestream/pkg/process"
	"go.corestream.dev/corestream/pkg/stream"
)

// ingestConfig is the C1-C3 conveyor's tunables: rotation thresholds
// (spec.md §6's circuit-breaker knobs) and the object-store destination
// the mover drains sealed buckets into. The WAL write path itself (the
// listener accepting client writes into wal.Writer + memtable.Set) is a
// transport concern the spec leaves to an out-of-core ingest frontend;
// this command owns rotation and the mover conveyor belt downstream of
// it.
type ingestConfig struct {
	WALRoot             string        `default:"./data/wal" help:"root directory for WAL segments; the ingest command does not read it or replay WAL files"`
	ObjectStoreBucket   string        `default:"" help:"S3 bucket sealed files are uploaded to; empty uses an in-memory store (dev only)"`
	ObjectStoreRegion   string        `default:"us-east-1"`
	ObjectStoreEndpoint string        `default:"" hidden:"true"`
	MaxFileSize         int64         `default:"134217728" help:"rotate a bucket once its Arrow-encoded size reaches this many bytes"`
	MaxJSONSize         int64         `default:"268435456"`
	MaxBucketAge        time.Duration `default:"5m"`
	RotateInterval      time.Duration `default:"10s"`
	MoverConcurrency    int           `default:"4"`
	IndexedFields       string        `default:"" help:"comma-separated field names to build an inverted index for (logs stream only)"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the rotation + mover conveyor draining sealed memtable buckets to the object store",
	RunE:  runIngest,
}

var ingestCfg ingestConfig

func init() {
	process.Bind(ingestCmd, &ingestCfg)
}

func runIngest(cmd *cobra.Command, args []string) error {
	log := newLogger()
	defer log.Sync() //nolint:errcheck

	store, err := openObjectStore(cmd.Context(), ingestCfg)
	if err != nil {
		return err
	}

	set := memtable.NewSet(memtable.Thresholds{
		MaxFileSize: ingestCfg.MaxFileSize,
		MaxJSONSize: ingestCfg.MaxJSONSize,
		MaxAge:      ingestCfg.MaxBucketAge,
	}, memtable.CircuitBreaker{})

	indexedFields := map[stream.Kind][]string{}
	if ingestCfg.IndexedFields != "" {
		indexedFields[stream.Logs] = strings.Split(ingestCfg.IndexedFields, ",")
	}

	var claimMu sync.Mutex
	claimed := map[string]bool{}
	claim := func(key string) bool {
		claimMu.Lock()
		defer claimMu.Unlock()
		if claimed[key] {
			return false
		}
		claimed[key] = true
		return true
	}

	m := mover.New(store, ingestCfg.MoverConcurrency, indexedFields, claim, nil, log)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ticker := time.NewTicker(ingestCfg.RotateInterval)
	defer ticker.Stop()

	log.Info("ingest conveyor started", zap.Duration("rotate_interval", ingestCfg.RotateInterval))
	for {
		select {
		case <-ctx.Done():
			log.Info("ingest conveyor stopping")
			return nil
		case <-ticker.C:
			set.RotateIfNeeded()
			sealed := set.TakeImmutable()
			if len(sealed) == 0 {
				continue
			}
			results, err := m.MoveAll(ctx, sealed)
			if err != nil {
				log.Warn("mover batch had failures", zap.Error(err))
			}
			for _, r := range results {
				log.Info("moved bucket", zap.String("object", r.ObjectName), zap.Int64("rows", r.RowCount))
			}
		}
	}
}

func openObjectStore(ctx context.Context, cfg ingestConfig) (objectstore.Store, error) {
	if cfg.ObjectStoreBucket == "" {
		return objectstore.NewMemStore(), nil
	}
	return objectstore.NewS3Store(ctx, cfg.ObjectStoreBucket, cfg.ObjectStoreRegion, cfg.ObjectStoreEndpoint)
}
