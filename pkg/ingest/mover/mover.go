// Package mover drains sealed memtable buckets into immutable columnar
// files in the object store (spec.md §3/§4.3, component C3): one bounded
// worker pool writes each bucket's batches to Parquet, optionally builds
// and packages a Puffin-wrapped inverted index for configured fields
// (C4/C5), uploads both, and only then lets the caller delete the WAL
// segments the bucket was built from.
package mover

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go.corestream.dev/corestream/pkg/index"
	"go.corestream.dev/corestream/pkg/ingest/memtable"
	"go.corestream.dev/corestream/pkg/objectstore"
	"go.corestream.dev/corestream/pkg/puffin"
	"go.corestream.dev/corestream/pkg/stream"
)

// Error is this package's errs.Class.
var Error = errs.Class("mover")

// Claimer grants at-most-once ownership of a sealed bucket to one mover
// worker: Claim returns false if another worker (in this process or, via
// a shared backing store, another process) already owns bucketKey.
// Callers typically key this on (org, stream_type, stream, schema_key,
// CreatedAt) since a *memtable.Bucket has no separate identity.
type Claimer func(bucketKey string) bool

// WALDeleter removes the WAL segments a bucket's batches were sourced
// from, once the bucket's data is durably persisted to the object
// store.
type WALDeleter func(ctx context.Context, bucket *memtable.Bucket) error

// Mover is the bounded worker pool draining sealed memtable buckets.
type Mover struct {
	Store         objectstore.Store
	Concurrency   int
	IndexedFields map[stream.Kind][]string
	Claim         Claimer
	DeleteWAL     WALDeleter
	Log           *zap.Logger
}

// New builds a Mover; Concurrency <= 0 defaults to 4.
func New(store objectstore.Store, concurrency int, indexedFields map[stream.Kind][]string, claim Claimer, deleteWAL WALDeleter, log *zap.Logger) *Mover {
	if concurrency <= 0 {
		concurrency = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Mover{
		Store:         store,
		Concurrency:   concurrency,
		IndexedFields: indexedFields,
		Claim:         claim,
		DeleteWAL:     deleteWAL,
		Log:           log,
	}
}

// Result is what MoveAll reports for one successfully moved bucket.
type Result struct {
	ObjectName string
	PuffinName string
	RowCount   int64
}

func bucketKey(b *memtable.Bucket) string {
	return fmt.Sprintf("%s/%s/%s/%s/%d", b.ID.Org, b.ID.Kind, b.ID.Name, b.SchemaKey, b.CreatedAt.UnixNano())
}

// MoveAll moves every bucket in buckets, up to Concurrency at a time. A
// bucket already claimed by another worker is skipped, not errored: the
// caller may be racing a peer process over the same sealed-bucket queue.
func (m *Mover) MoveAll(ctx context.Context, buckets []*memtable.Bucket) ([]Result, error) {
	var (
		mu      sync.Mutex
		results []Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.Concurrency)

	for _, b := range buckets {
		b := b
		if m.Claim != nil && !m.Claim(bucketKey(b)) {
			continue
		}
		g.Go(func() error {
			res, err := m.moveOne(gctx, b)
			if err != nil {
				m.Log.Warn("mover: failed to move bucket",
					zap.String("org", b.ID.Org), zap.String("stream", b.ID.Name), zap.Error(err))
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, Error.Wrap(err)
	}
	return results, nil
}

func (m *Mover) moveOne(ctx context.Context, b *memtable.Bucket) (Result, error) {
	parquetBytes, rowCount, err := encodeParquet(b)
	if err != nil {
		return Result{}, Error.Wrap(err)
	}

	now := time.Now().UTC()
	objName := stream.ObjectName(b.ID, now.Year(), int(now.Month()), now.Day(), now.Hour(), b.SchemaKey, objectstore.NewULID(), "parquet")

	if err := m.Store.Put(ctx, objName, bytes.NewReader(parquetBytes), int64(len(parquetBytes))); err != nil {
		return Result{}, Error.Wrap(err)
	}

	res := Result{ObjectName: objName, RowCount: rowCount}

	fields := m.IndexedFields[b.ID.Kind]
	if len(fields) > 0 {
		puffinBytes, err := buildInvertedIndexPuffin(b, fields)
		if err != nil {
			return Result{}, Error.Wrap(err)
		}
		if puffinBytes != nil {
			puffinName := stream.PuffinName(objName)
			if err := m.Store.Put(ctx, puffinName, bytes.NewReader(puffinBytes), int64(len(puffinBytes))); err != nil {
				return Result{}, Error.Wrap(err)
			}
			res.PuffinName = puffinName
		}
	}

	if m.DeleteWAL != nil {
		if err := m.DeleteWAL(ctx, b); err != nil {
			return Result{}, Error.Wrap(err)
		}
	}

	return res, nil
}

// encodeParquet writes every batch in b.Entries to a single Parquet file,
// preserving arrival order, and returns the total row count written.
func encodeParquet(b *memtable.Bucket) ([]byte, int64, error) {
	schema := b.Schema.Arrow()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(
		parquet.WithVersion(parquet.V2_LATEST),
		parquet.WithCompression(compress.Codecs.Zstd),
	)
	writer, err := pqarrow.NewFileWriter(schema, &buf, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, 0, Error.Wrap(err)
	}

	var rows int64
	for _, entry := range b.Entries {
		if entry.Batch == nil {
			continue
		}
		if err := writer.Write(entry.Batch); err != nil {
			_ = writer.Close()
			return nil, 0, Error.Wrap(err)
		}
		rows += entry.Batch.NumRows()
	}
	if err := writer.Close(); err != nil {
		return nil, 0, Error.Wrap(err)
	}
	return buf.Bytes(), rows, nil
}

// buildInvertedIndexPuffin builds one index.ColumnIndexer per field in
// fields from b's string-typed columns and packages all of them into a
// single Puffin file (blob type "corestream_column_index", one blob per
// field), matching the per-column buffer layout of spec.md §3/§4.4. A
// field with no values across the whole bucket (or that isn't a string
// column) is silently skipped; if every field is empty, no Puffin file
// is produced at all (nil, nil).
func buildInvertedIndexPuffin(b *memtable.Bucket, fields []string) ([]byte, error) {
	indexers := make(map[string]*index.ColumnIndexer, len(fields))
	for _, f := range fields {
		indexers[f] = index.NewColumnIndexer()
	}

	var rowID uint32
	for _, entry := range b.Entries {
		if entry.Batch == nil {
			continue
		}
		rec := entry.Batch
		for _, f := range fields {
			idx := rec.Schema().FieldIndices(f)
			if len(idx) == 0 {
				continue
			}
			col, ok := rec.Column(idx[0]).(*array.String)
			if !ok {
				continue
			}
			for row := 0; row < col.Len(); row++ {
				if col.IsNull(row) {
					continue
				}
				term := col.Value(row)
				indexers[f].Push([]byte(term), (rowID+uint32(row))/index.SegmentLength, uint32(len(term)))
			}
		}
		rowID += uint32(rec.NumRows())
	}

	w := puffin.NewWriter()
	var wrote bool
	for _, f := range fields {
		if indexers[f].Empty() {
			continue
		}
		var buf bytes.Buffer
		if _, err := indexers[f].Write(&buf); err != nil {
			return nil, Error.Wrap(err)
		}
		w.AddBlob("corestream_column_index", f, buf.Bytes())
		wrote = true
	}
	if !wrote {
		return nil, nil
	}
	return w.Finish(false)
}
