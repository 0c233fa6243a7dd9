package plan

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "host", Type: arrow.BinaryTypes.String},
		{Name: "count", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
}

func recordOf(t *testing.T, schema *arrow.Schema, hosts []string, counts []int64) arrow.Record {
	t.Helper()
	mem := memory.NewGoAllocator()
	hb := array.NewStringBuilder(mem)
	defer hb.Release()
	cb := array.NewInt64Builder(mem)
	defer cb.Release()
	for i := range hosts {
		hb.Append(hosts[i])
		cb.Append(counts[i])
	}
	return array.NewRecord(schema, []arrow.Array{hb.NewArray(), cb.NewArray()}, int64(len(hosts)))
}

type fakeNode struct {
	schema  *arrow.Schema
	records []arrow.Record
}

func (f *fakeNode) Schema() *arrow.Schema { return f.schema }
func (f *fakeNode) Execute(ctx context.Context) ([]arrow.Record, error) {
	return f.records, nil
}

func TestAggregateTopK_OrdersAndTruncates(t *testing.T) {
	schema := testSchema()
	rec := recordOf(t, schema, []string{"a", "b", "c", "d"}, []int64{10, 40, 30, 20})
	input := &fakeNode{schema: schema, records: []arrow.Record{rec}}

	node := &AggregateTopK{Input: input, SortField: "count", Descending: true, Limit: 2}
	out, err := node.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.EqualValues(t, 2, out[0].NumRows())

	hosts := out[0].Column(0).(*array.String)
	require.Equal(t, "b", hosts.Value(0))
	require.Equal(t, "c", hosts.Value(1))
}

func TestStreamingAggs_SumsByGroup(t *testing.T) {
	schema := testSchema()
	rec := recordOf(t, schema, []string{"a", "b", "a", "b"}, []int64{1, 2, 3, 4})
	input := &fakeNode{schema: schema, records: []arrow.Record{rec}}

	outSchema := arrow.NewSchema([]arrow.Field{
		{Name: "host", Type: arrow.BinaryTypes.String},
		{Name: "total", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	node := &StreamingAggs{Input: input, GroupFields: []string{"host"}, AggField: "count", Agg: AggSum, OutSchema: outSchema}
	out, err := node.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.EqualValues(t, 2, out[0].NumRows())

	totals := map[string]float64{}
	hosts := out[0].Column(0).(*array.String)
	vals := out[0].Column(1).(*array.Float64)
	for i := 0; i < int(out[0].NumRows()); i++ {
		totals[hosts.Value(i)] = vals.Value(i)
	}
	require.Equal(t, 4.0, totals["a"])
	require.Equal(t, 6.0, totals["b"])
}

func TestUnionTable_ConcatenatesInOrder(t *testing.T) {
	schema := testSchema()
	rec1 := recordOf(t, schema, []string{"a"}, []int64{1})
	rec2 := recordOf(t, schema, []string{"b"}, []int64{2})
	u := &UnionTable{Inputs: []Node{
		&fakeNode{schema: schema, records: []arrow.Record{rec1}},
		&fakeNode{schema: schema, records: []arrow.Record{rec2}},
	}}
	out, err := u.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Same(t, rec1, out[0])
	require.Same(t, rec2, out[1])
}

func TestUnionTable_SchemaWidensNullability(t *testing.T) {
	strict := arrow.NewSchema([]arrow.Field{
		{Name: "host", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "count", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	}, nil)
	loose := arrow.NewSchema([]arrow.Field{
		{Name: "host", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "count", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	}, nil)
	u := &UnionTable{Inputs: []Node{
		&fakeNode{schema: strict},
		&fakeNode{schema: loose},
	}}
	got := u.Schema()
	require.True(t, got.Field(0).Nullable, "host should widen to nullable since one input declares it nullable")
	require.False(t, got.Field(1).Nullable)
}

func TestEmptyScan_SortedDescendingByTimestamp(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "_timestamp", Type: arrow.PrimitiveTypes.Int64}}, nil)
	scan := &EmptyScan{SchemaValue: schema, SortedByTime: true}
	require.True(t, scan.SortedDescendingByTimestamp())

	scan2 := &EmptyScan{SchemaValue: schema, SortedByTime: false}
	require.False(t, scan2.SortedDescendingByTimestamp())
}

func TestGetPartialPlan_SplitsAtLowestExchange(t *testing.T) {
	schema := testSchema()
	scan := &EmptyScan{SchemaValue: schema}
	ex := &ExchangeNode{Child: scan}
	top := &AggregateTopK{Input: ex, SortField: "count", Descending: true, Limit: 10}

	partial, err := GetPartialPlan(top)
	require.NoError(t, err)
	require.Same(t, Node(scan), partial)
}

func TestGetFinalPlan_ReplacesExchangeSubtree(t *testing.T) {
	schema := testSchema()
	scan := &EmptyScan{SchemaValue: schema}
	ex := &ExchangeNode{Child: scan}
	top := &AggregateTopK{Input: ex, SortField: "count", Descending: true, Limit: 10}

	rec := recordOf(t, schema, []string{"a"}, []int64{5})
	replacement := &fakeNode{schema: schema, records: []arrow.Record{rec}}

	final, err := GetFinalPlan(top, replacement)
	require.NoError(t, err)

	out, err := final.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.EqualValues(t, 1, out[0].NumRows())
}

func TestGetPartialPlan_NoExchangeRunsWholeTree(t *testing.T) {
	schema := testSchema()
	rec := recordOf(t, schema, []string{"a"}, []int64{1})
	input := &fakeNode{schema: schema, records: []arrow.Record{rec}}
	top := &AggregateTopK{Input: input, SortField: "count", Limit: 10}

	partial, err := GetPartialPlan(top)
	require.NoError(t, err)
	require.Same(t, Node(top), partial)
}

func TestRewriteGlobalLimit_PushesLimitToScan(t *testing.T) {
	schema := testSchema()
	scan := &EmptyScan{SchemaValue: schema}
	ex := &ExchangeNode{Child: scan}
	top := &AggregateTopK{Input: ex, SortField: "count", Limit: 10}

	RewriteGlobalLimit(top, 100)
	require.NotNil(t, scan.Limit)
	require.EqualValues(t, 100, *scan.Limit)
}
