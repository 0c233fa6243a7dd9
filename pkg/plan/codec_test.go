package plan

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/require"
)

func TestNodeCodec_RoundTripsEmptyScan(t *testing.T) {
	limit := int64(50)
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "_timestamp", Type: arrow.PrimitiveTypes.Int64},
		{Name: "host", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	scan := &EmptyScan{
		Name:         "web_logs",
		SchemaValue:  schema,
		Projection:   []string{"_timestamp", "host"},
		Filters:      []string{"host = 'a'"},
		Limit:        &limit,
		SortedByTime: true,
	}

	env, err := NodeToEnvelope(scan)
	require.NoError(t, err)

	codec := ProtoCodec{}
	data, err := codec.Encode(env)
	require.NoError(t, err)

	decodedEnv, err := codec.Decode(data)
	require.NoError(t, err)

	node, err := EnvelopeToNode(decodedEnv)
	require.NoError(t, err)

	got, ok := node.(*EmptyScan)
	require.True(t, ok)
	require.Equal(t, scan.Name, got.Name)
	require.Equal(t, scan.Projection, got.Projection)
	require.Equal(t, scan.Filters, got.Filters)
	require.Equal(t, scan.SortedByTime, got.SortedByTime)
	require.NotNil(t, got.Limit)
	require.Equal(t, *scan.Limit, *got.Limit)
	require.Equal(t, schema.NumFields(), got.Schema().NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		require.Equal(t, schema.Field(i).Name, got.Schema().Field(i).Name)
		require.Equal(t, schema.Field(i).Nullable, got.Schema().Field(i).Nullable)
		require.True(t, arrow.TypeEqual(schema.Field(i).Type, got.Schema().Field(i).Type))
	}
}

func TestProtoCodec_RoundTripsEnvelope(t *testing.T) {
	env := &Envelope{
		Kind: "empty_scan",
		Fields: map[string]interface{}{
			"name":  "web_logs",
			"limit": 100.0,
		},
		Children: []*Envelope{
			{Kind: "enrich_scan", Fields: map[string]interface{}{"name": "hosts"}},
		},
	}

	codec := ProtoCodec{}
	data, err := codec.Encode(env)
	require.NoError(t, err)

	got, err := codec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, "empty_scan", got.Kind)
	require.Equal(t, "web_logs", got.Fields["name"])
	require.Equal(t, 100.0, got.Fields["limit"])
	require.Len(t, got.Children, 1)
	require.Equal(t, "enrich_scan", got.Children[0].Kind)
}

func TestRegistry_DecodeFallsThroughToSecondCodec(t *testing.T) {
	env := &Envelope{Kind: "union_table"}
	data, err := ProtoCodec{}.Encode(env)
	require.NoError(t, err)

	reg := NewRegistry(failingCodec{}, ProtoCodec{})
	got, err := reg.Decode(data)
	require.NoError(t, err)
	require.Equal(t, "union_table", got.Kind)
}

type failingCodec struct{}

func (failingCodec) Name() string                        { return "broken.v0" }
func (failingCodec) Encode(p *Envelope) ([]byte, error)   { return nil, Error.New("encode unsupported") }
func (failingCodec) Decode(data []byte) (*Envelope, error) { return nil, Error.New("always fails") }
