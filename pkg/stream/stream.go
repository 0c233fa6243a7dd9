// Package stream defines stream identity and schema types shared across
// ingestion, indexing, and query (spec.md §3).
package stream

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// Kind is the stream_type component of a stream's identity.
type Kind string

// Stream kinds known to the core.
const (
	Logs        Kind = "logs"
	Metrics     Kind = "metrics"
	Traces      Kind = "traces"
	Enrichment  Kind = "enrichment"
)

// TimestampField is the mandatory monotonic field every schema carries.
const TimestampField = "_timestamp"

// ID addresses a stream by (org_id, stream_type, stream_name).
type ID struct {
	Org  string
	Kind Kind
	Name string
}

func (id ID) String() string {
	return fmt.Sprintf("%s/%s/%s", id.Org, id.Kind, id.Name)
}

// Field is one ordered entry of a schema.
type Field struct {
	Name     string
	Type     arrow.DataType
	Nullable bool
}

// Schema is an ordered list of fields with a mandatory _timestamp field.
// Schemas evolve by append-only field addition.
type Schema struct {
	Fields []Field
}

// Validate checks the mandatory-timestamp invariant.
func (s Schema) Validate() error {
	for _, f := range s.Fields {
		if f.Name == TimestampField {
			if f.Nullable {
				return fmt.Errorf("stream: %s must not be nullable", TimestampField)
			}
			if f.Type.ID() != arrow.INT64 {
				return fmt.Errorf("stream: %s must be int64 microseconds", TimestampField)
			}
			return nil
		}
	}
	return fmt.Errorf("stream: schema missing mandatory %s field", TimestampField)
}

// Arrow converts the schema to an Arrow schema for record batch construction.
func (s Schema) Arrow() *arrow.Schema {
	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = arrow.Field{Name: f.Name, Type: f.Type, Nullable: f.Nullable}
	}
	return arrow.NewSchema(fields, nil)
}

// Key returns a stable short digest of the schema's shape: the ordered
// (name, type, nullable) tuples. Two schemas with the same Key are
// considered the same schema_key bucket in the memtable (spec.md §3).
func (s Schema) Key() string {
	h := sha256.New()
	for _, f := range s.Fields {
		fmt.Fprintf(h, "%s\x00%s\x00%v\x00", f.Name, f.Type.String(), f.Nullable)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Merge appends fields present in other but absent from s, by name.
// Merge is append-only and conflict-free when callers serialize it behind
// a monotonic start_dt, per spec.md §9.
func Merge(base, other Schema) Schema {
	seen := make(map[string]bool, len(base.Fields))
	for _, f := range base.Fields {
		seen[f.Name] = true
	}
	merged := append([]Field(nil), base.Fields...)
	for _, f := range other.Fields {
		if !seen[f.Name] {
			merged = append(merged, f)
			seen[f.Name] = true
		}
	}
	return Schema{Fields: merged}
}

// WALPath builds the WAL segment path per spec.md §3:
// <wal_root>/<stream_kind>/<org>/<stype>/<stream>/<writer_id>/<Y>/<M>/<D>/<H>/<schema_key>/<seq>.wal
func WALPath(root string, id ID, writerID string, year, month, day, hour int, schemaKey string, seq uint64) string {
	return path.Join(
		root,
		string(id.Kind),
		id.Org,
		string(id.Kind),
		id.Name,
		writerID,
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", month),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%02d", hour),
		schemaKey,
		fmt.Sprintf("%d.wal", seq),
	)
}

// ObjectName builds the object-store key for a sealed columnar file, per
// spec.md §6: files/<org>/<stream_type>/<stream>/<Y>/<M>/<D>/<H>/<schema_key>/<ulid>.parquet
func ObjectName(id ID, year, month, day, hour int, schemaKey, ulid, ext string) string {
	return strings.Join([]string{
		"files", id.Org, string(id.Kind), id.Name,
		fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month), fmt.Sprintf("%02d", day), fmt.Sprintf("%02d", hour),
		schemaKey, ulid + "." + ext,
	}, "/")
}

// PuffinName derives the sibling Puffin index object name: the parquet
// name with its extension replaced by .puffin (spec.md §6).
func PuffinName(objectName string) string {
	ext := path.Ext(objectName)
	return strings.TrimSuffix(objectName, ext) + ".puffin"
}
