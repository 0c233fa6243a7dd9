// Package plan implements the custom distributed physical-plan operators
// of spec.md §4.9 (component C9): Go-native Arrow execution nodes plus a
// protobuf-based codec and the partial/final plan-splitting logic the
// search coordinator (C10) drives.
package plan

import (
	"context"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"go.corestream.dev/corestream/pkg/corerr"
)

// Error is this package's errs.Class.
var Error = corerr.Class("plan")

// Node is a physical execution node: every custom operator in this
// package produces an ordered sequence of record batches against a fixed
// output schema. Execute may be called once; nodes are not rewindable.
type Node interface {
	Schema() *arrow.Schema
	Execute(ctx context.Context) ([]arrow.Record, error)
}

// EmptyScan is a leaf placeholder representing "the table will be
// materialized on this node" (spec.md §4.9): it never reads data itself,
// only advertises the schema and ordering a parent operator can rely on.
type EmptyScan struct {
	Name         string
	SchemaValue  *arrow.Schema
	Projection   []string
	Filters      []string
	Limit        *int64
	SortedByTime bool
}

// Schema returns the scan's declared schema.
func (s *EmptyScan) Schema() *arrow.Schema { return s.SchemaValue }

// Execute returns no batches: EmptyScan is resolved by substituting a
// concrete scan node via GetFinalPlan once follower data arrives.
func (s *EmptyScan) Execute(ctx context.Context) ([]arrow.Record, error) {
	return nil, nil
}

// SortedDescendingByTimestamp reports whether this scan's output
// ordering satisfies a SortPreservingMerge parent: descending
// `_timestamp` iff SortedByTime and the schema carries that field.
func (s *EmptyScan) SortedDescendingByTimestamp() bool {
	if !s.SortedByTime {
		return false
	}
	_, ok := s.SchemaValue.FieldsByName("_timestamp")
	return ok
}

// EnrichmentFetcher fetches enrichment rows for (org, name) from the
// metadata store, as JSON-decodable row maps, for EnrichScan to convert
// into an Arrow batch.
type EnrichmentFetcher func(ctx context.Context, org, name string) ([]map[string]interface{}, error)

// EnrichScan is a leaf that fetches enrichment table rows for (org,
// name) at execution time and converts them into a single Arrow batch
// matching schema (spec.md §4.9).
type EnrichScan struct {
	Org     string
	Name    string
	Schema_ *arrow.Schema
	Fetch   EnrichmentFetcher
	Mem     memory.Allocator
}

// Schema returns the enrichment table's schema.
func (s *EnrichScan) Schema() *arrow.Schema { return s.Schema_ }

// Execute fetches enrichment rows and yields exactly one batch.
func (s *EnrichScan) Execute(ctx context.Context) ([]arrow.Record, error) {
	rows, err := s.Fetch(ctx, s.Org, s.Name)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	mem := s.Mem
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	rec := rowsToRecord(mem, s.Schema_, rows)
	return []arrow.Record{rec}, nil
}

// rowsToRecord builds a single record batch from row maps matching
// schema, field by field; unsupported field types fall back to a null
// column rather than failing the whole scan (enrichment tables are
// best-effort metadata, not the hot ingest path).
func rowsToRecord(mem memory.Allocator, schema *arrow.Schema, rows []map[string]interface{}) arrow.Record {
	builders := make([]array.Builder, schema.NumFields())
	for i, f := range schema.Fields() {
		builders[i] = array.NewBuilder(mem, f.Type)
		defer builders[i].Release()
	}
	for _, row := range rows {
		for i, f := range schema.Fields() {
			v, ok := row[f.Name]
			if !ok || v == nil {
				builders[i].AppendNull()
				continue
			}
			appendValue(builders[i], v)
		}
	}
	cols := make([]arrow.Array, schema.NumFields())
	for i, b := range builders {
		cols[i] = b.NewArray()
		defer cols[i].Release()
	}
	return array.NewRecord(schema, cols, int64(len(rows)))
}

func appendValue(b array.Builder, v interface{}) {
	switch builder := b.(type) {
	case *array.StringBuilder:
		if s, ok := v.(string); ok {
			builder.Append(s)
			return
		}
		builder.AppendNull()
	case *array.Int64Builder:
		switch n := v.(type) {
		case int64:
			builder.Append(n)
		case float64:
			builder.Append(int64(n))
		case int:
			builder.Append(int64(n))
		default:
			builder.AppendNull()
		}
	case *array.Float64Builder:
		if f, ok := v.(float64); ok {
			builder.Append(f)
			return
		}
		builder.AppendNull()
	case *array.BooleanBuilder:
		if bo, ok := v.(bool); ok {
			builder.Append(bo)
			return
		}
		builder.AppendNull()
	default:
		b.AppendNull()
	}
}

// appendFromColumn copies the value at row from src into a builder of
// the same logical type, preserving nulls.
func appendFromColumn(b array.Builder, src arrow.Array, row int) {
	if src.IsNull(row) {
		b.AppendNull()
		return
	}
	switch builder := b.(type) {
	case *array.StringBuilder:
		builder.Append(src.(*array.String).Value(row))
	case *array.Int64Builder:
		builder.Append(src.(*array.Int64).Value(row))
	case *array.Int32Builder:
		builder.Append(src.(*array.Int32).Value(row))
	case *array.Float64Builder:
		builder.Append(src.(*array.Float64).Value(row))
	case *array.BooleanBuilder:
		builder.Append(src.(*array.Boolean).Value(row))
	default:
		b.AppendNull()
	}
}

// AggregateTopK wraps an aggregation input and, after it completes,
// emits only the top-k rows ordered by sort_field (spec.md §4.9). Ties
// are broken by input row order; output cardinality never exceeds Limit.
type AggregateTopK struct {
	Input      Node
	SortField  string
	Descending bool
	Limit      int
}

type rowRef struct {
	record int
	row    int
	key    float64
}

// Schema delegates to the wrapped input.
func (a *AggregateTopK) Schema() *arrow.Schema { return a.Input.Schema() }

// Execute runs Input, then truncates/sorts its combined rows to the top
// Limit by SortField.
func (a *AggregateTopK) Execute(ctx context.Context) ([]arrow.Record, error) {
	records, err := a.Input.Execute(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	idx := a.Schema().FieldIndices(a.SortField)
	if len(idx) == 0 {
		return nil, Error.New("aggregate_top_k: unknown sort field %q", a.SortField)
	}
	fieldIdx := idx[0]

	var all []rowRef
	for ri, rec := range records {
		col := rec.Column(fieldIdx)
		for row := 0; row < int(rec.NumRows()); row++ {
			all = append(all, rowRef{record: ri, row: row, key: numericAt(col, row)})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if a.Descending {
			return all[i].key > all[j].key
		}
		return all[i].key < all[j].key
	})
	if len(all) > a.Limit {
		all = all[:a.Limit]
	}

	mem := memory.NewGoAllocator()
	return []arrow.Record{sliceRows(mem, a.Schema(), records, all)}, nil
}

func numericAt(col arrow.Array, row int) float64 {
	switch c := col.(type) {
	case *array.Int64:
		return float64(c.Value(row))
	case *array.Float64:
		return c.Value(row)
	case *array.Int32:
		return float64(c.Value(row))
	default:
		return 0
	}
}

func sliceRows(mem memory.Allocator, schema *arrow.Schema, records []arrow.Record, refs []rowRef) arrow.Record {
	builders := make([]array.Builder, schema.NumFields())
	for i, f := range schema.Fields() {
		builders[i] = array.NewBuilder(mem, f.Type)
		defer builders[i].Release()
	}
	for _, ref := range refs {
		rec := records[ref.record]
		for i := range schema.Fields() {
			appendFromColumn(builders[i], rec.Column(i), ref.row)
		}
	}
	cols := make([]arrow.Array, schema.NumFields())
	for i, b := range builders {
		cols[i] = b.NewArray()
		defer cols[i].Release()
	}
	return array.NewRecord(schema, cols, int64(len(refs)))
}

// StreamingAggs performs an incremental group-by aggregation over
// Input's batches (spec.md §4.9): Input.Execute hands over all batches
// at once, and it maintains running state per group key, keyed on GroupFields,
// and emits one row per distinct group at the end of Input's stream.
type StreamingAggs struct {
	Input       Node
	GroupFields []string
	AggField    string
	Agg         AggFunc
	OutSchema   *arrow.Schema
}

// AggFunc names a supported aggregate: sum, count, min, max.
type AggFunc string

const (
	AggSum   AggFunc = "sum"
	AggCount AggFunc = "count"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

// Schema returns the aggregation's declared output schema.
func (s *StreamingAggs) Schema() *arrow.Schema { return s.OutSchema }

type aggState struct {
	groupValues []interface{}
	acc         float64
	count       int64
	init        bool
}

// Execute streams Input's batches, maintaining one running aggState per
// distinct group key, then emits a single output batch.
func (s *StreamingAggs) Execute(ctx context.Context) ([]arrow.Record, error) {
	records, err := s.Input.Execute(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	inSchema := s.Input.Schema()
	groupIdx := make([]int, len(s.GroupFields))
	for i, f := range s.GroupFields {
		idx := inSchema.FieldIndices(f)
		if len(idx) == 0 {
			return nil, Error.New("streaming_aggs: unknown group field %q", f)
		}
		groupIdx[i] = idx[0]
	}
	var aggIdx int
	if s.AggField != "" {
		idx := inSchema.FieldIndices(s.AggField)
		if len(idx) == 0 {
			return nil, Error.New("streaming_aggs: unknown agg field %q", s.AggField)
		}
		aggIdx = idx[0]
	}

	order := make([]string, 0)
	states := map[string]*aggState{}
	for _, rec := range records {
		for row := 0; row < int(rec.NumRows()); row++ {
			key := groupKey(rec, groupIdx, row)
			st, ok := states[key]
			if !ok {
				values := make([]interface{}, len(groupIdx))
				for i, gi := range groupIdx {
					values[i] = cellValue(rec.Column(gi), row)
				}
				st = &aggState{groupValues: values}
				states[key] = st
				order = append(order, key)
			}
			if s.AggField == "" {
				st.count++
				continue
			}
			v := numericAt(rec.Column(aggIdx), row)
			st.count++
			switch {
			case !st.init:
				st.acc = v
				st.init = true
			case s.Agg == AggMin && v < st.acc:
				st.acc = v
			case s.Agg == AggMax && v > st.acc:
				st.acc = v
			case s.Agg == AggSum:
				st.acc += v
			}
		}
	}

	mem := memory.NewGoAllocator()
	builders := make([]array.Builder, s.OutSchema.NumFields())
	for i, f := range s.OutSchema.Fields() {
		builders[i] = array.NewBuilder(mem, f.Type)
		defer builders[i].Release()
	}
	for _, key := range order {
		st := states[key]
		for i, v := range st.groupValues {
			appendValue(builders[i], v)
		}
		last := len(st.groupValues)
		switch s.Agg {
		case AggCount:
			appendValue(builders[last], st.count)
		default:
			appendValue(builders[last], st.acc)
		}
	}
	cols := make([]arrow.Array, s.OutSchema.NumFields())
	for i, b := range builders {
		cols[i] = b.NewArray()
		defer cols[i].Release()
	}
	return []arrow.Record{array.NewRecord(s.OutSchema, cols, int64(len(order)))}, nil
}

func cellValue(col arrow.Array, row int) interface{} {
	if col.IsNull(row) {
		return nil
	}
	switch c := col.(type) {
	case *array.String:
		return c.Value(row)
	case *array.Int64:
		return c.Value(row)
	case *array.Float64:
		return c.Value(row)
	case *array.Boolean:
		return c.Value(row)
	default:
		return nil
	}
}

func groupKey(rec arrow.Record, idx []int, row int) string {
	var b []byte
	for _, i := range idx {
		v := cellValue(rec.Column(i), row)
		b = append(b, []byte(toKeyPart(v))...)
		b = append(b, 0)
	}
	return string(b)
}

func toKeyPart(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return itoa64(t)
	case float64:
		return itoa64(int64(t))
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// UnionTable merges several inputs sharing a compatible schema into one
// logical stream (spec.md §4.9: folder-level union across streams),
// passing batches through unmodified and concatenating across inputs in
// the order given.
type UnionTable struct {
	Inputs []Node
}

// Schema returns the widened schema across every input: fields are
// ordered as in the first input, a field is nullable if any input
// declares it nullable, and per-field metadata is merged (spec.md
// §4.9's folder-level union may combine streams whose schemas have
// evolved independently via append-only field addition, so nullability
// and metadata can legitimately differ across inputs).
func (u *UnionTable) Schema() *arrow.Schema {
	if len(u.Inputs) == 0 {
		return arrow.NewSchema(nil, nil)
	}
	base := u.Inputs[0].Schema()
	fields := make([]arrow.Field, base.NumFields())
	for i, f := range base.Fields() {
		fields[i] = f
	}
	for _, in := range u.Inputs[1:] {
		s := in.Schema()
		for i := range fields {
			idx := s.FieldIndices(fields[i].Name)
			if len(idx) == 0 {
				continue
			}
			other := s.Field(idx[0])
			fields[i].Nullable = fields[i].Nullable || other.Nullable
			fields[i].Metadata = mergeMetadata(fields[i].Metadata, other.Metadata)
		}
	}
	return arrow.NewSchema(fields, nil)
}

// mergeMetadata combines two field metadata maps, keeping a's value for
// keys present in both.
func mergeMetadata(a, b arrow.Metadata) arrow.Metadata {
	if b.Len() == 0 {
		return a
	}
	keys := append([]string(nil), a.Keys()...)
	vals := append([]string(nil), a.Values()...)
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	for i, k := range b.Keys() {
		if seen[k] {
			continue
		}
		keys = append(keys, k)
		vals = append(vals, b.Values()[i])
	}
	return arrow.NewMetadata(keys, vals)
}

// Execute concatenates every input's batches in input order.
func (u *UnionTable) Execute(ctx context.Context) ([]arrow.Record, error) {
	var out []arrow.Record
	for _, in := range u.Inputs {
		recs, err := in.Execute(ctx)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, recs...)
	}
	return out, nil
}
