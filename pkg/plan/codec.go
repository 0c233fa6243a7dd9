package plan

import (
	"github.com/apache/arrow-go/v18/arrow"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec encodes and decodes a named plan representation to and from the
// wire. Several codecs may be registered; Decode tries each in turn and
// returns the first success, so a rolling deploy can decode plans
// produced by an older or newer coordinator version (spec.md §4.9).
type Codec interface {
	Name() string
	Encode(p *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}

// Envelope is the wire-transferable description of a plan tree: a
// generic, self-describing node graph that Encode/Decode round-trip via
// a protobuf struct value, since the concrete Node implementations in
// this package are Go closures/funcs that do not themselves serialize.
type Envelope struct {
	Kind     string
	Fields   map[string]interface{}
	Children []*Envelope
}

func (e *Envelope) toProto() (*structpb.Value, error) {
	m := map[string]interface{}{
		"kind":   e.Kind,
		"fields": e.Fields,
	}
	children := make([]interface{}, len(e.Children))
	for i, c := range e.Children {
		cv, err := c.toProto()
		if err != nil {
			return nil, err
		}
		children[i] = cv.AsInterface()
	}
	m["children"] = children
	return structpb.NewValue(m)
}

func envelopeFromProto(v *structpb.Value) (*Envelope, error) {
	m := v.GetStructValue()
	if m == nil {
		return nil, Error.New("codec: plan envelope is not a struct value")
	}
	e := &Envelope{
		Kind:   m.Fields["kind"].GetStringValue(),
		Fields: map[string]interface{}{},
	}
	if f := m.Fields["fields"].GetStructValue(); f != nil {
		for k, v := range f.Fields {
			e.Fields[k] = v.AsInterface()
		}
	}
	if cs := m.Fields["children"].GetListValue(); cs != nil {
		for _, cv := range cs.Values {
			child, err := envelopeFromProto(cv)
			if err != nil {
				return nil, err
			}
			e.Children = append(e.Children, child)
		}
	}
	return e, nil
}

// ProtoCodec is the default Codec, encoding an Envelope as a protobuf
// structpb.Value wire message (google.golang.org/protobuf), matching the
// teacher's pattern of sending dynamic, schema-less plan descriptions
// across process boundaries over gRPC.
type ProtoCodec struct{}

// Name identifies this codec on the wire.
func (ProtoCodec) Name() string { return "proto.v1" }

// Encode marshals p to protobuf wire bytes.
func (ProtoCodec) Encode(p *Envelope) ([]byte, error) {
	v, err := p.toProto()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	data, err := proto.Marshal(v)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return data, nil
}

// Decode unmarshals protobuf wire bytes produced by Encode.
func (ProtoCodec) Decode(data []byte) (*Envelope, error) {
	v := &structpb.Value{}
	if err := proto.Unmarshal(data, v); err != nil {
		return nil, Error.Wrap(err)
	}
	e, err := envelopeFromProto(v)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return e, nil
}

// Registry tries each registered codec's Decode in order and returns the
// first success, so a coordinator talking to mixed-version followers can
// still decode whichever wire format the sender used.
type Registry struct {
	codecs []Codec
}

// NewRegistry builds a Registry trying codecs in the given priority
// order. With no arguments it defaults to ProtoCodec alone.
func NewRegistry(codecs ...Codec) *Registry {
	if len(codecs) == 0 {
		codecs = []Codec{ProtoCodec{}}
	}
	return &Registry{codecs: codecs}
}

// Encode uses the highest-priority codec.
func (r *Registry) Encode(p *Envelope) ([]byte, error) {
	return r.codecs[0].Encode(p)
}

// Decode tries every registered codec in order, returning the first
// success; if none succeed it returns the last codec's error.
func (r *Registry) Decode(data []byte) (*Envelope, error) {
	var lastErr error
	for _, c := range r.codecs {
		e, err := c.Decode(data)
		if err == nil {
			return e, nil
		}
		lastErr = err
	}
	return nil, Error.Wrap(lastErr)
}

// NodeToEnvelope converts a concrete physical-plan Node into its
// self-describing wire Envelope. Only *EmptyScan is handled; every other
// node type (EnrichScan, AggregateTopK, StreamingAggs, UnionTable,
// ExchangeNode) is an error rather than a silent drop, since a
// coordinator that can't encode a node can't ship a partial plan to a
// follower.
func NodeToEnvelope(n Node) (*Envelope, error) {
	switch s := n.(type) {
	case *EmptyScan:
		e := &Envelope{
			Kind: "empty_scan",
			Fields: map[string]interface{}{
				"name":           s.Name,
				"schema":         encodeSchema(s.SchemaValue),
				"projection":     stringsToList(s.Projection),
				"filters":        stringsToList(s.Filters),
				"sorted_by_time": s.SortedByTime,
			},
		}
		if s.Limit != nil {
			e.Fields["limit"] = float64(*s.Limit)
		}
		return e, nil
	default:
		return nil, Error.New("codec: unsupported node type %T", n)
	}
}

// EnvelopeToNode reconstructs a Node from an Envelope produced by
// NodeToEnvelope. Only the "empty_scan" kind is handled and the
// Envelope's Children are not decoded; any other kind is an error.
func EnvelopeToNode(e *Envelope) (Node, error) {
	switch e.Kind {
	case "empty_scan":
		schema, err := decodeSchema(e.Fields["schema"])
		if err != nil {
			return nil, Error.Wrap(err)
		}
		s := &EmptyScan{
			Name:         stringField(e.Fields, "name"),
			SchemaValue:  schema,
			Projection:   stringsFromList(e.Fields["projection"]),
			Filters:      stringsFromList(e.Fields["filters"]),
			SortedByTime: boolField(e.Fields, "sorted_by_time"),
		}
		if lim, ok := e.Fields["limit"]; ok {
			l := int64(lim.(float64))
			s.Limit = &l
		}
		return s, nil
	default:
		return nil, Error.New("codec: unsupported envelope kind %q", e.Kind)
	}
}

func stringField(fields map[string]interface{}, key string) string {
	s, _ := fields[key].(string)
	return s
}

func boolField(fields map[string]interface{}, key string) bool {
	b, _ := fields[key].(bool)
	return b
}

func stringsToList(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func stringsFromList(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// encodeSchema flattens an Arrow schema to a structpb-compatible value:
// an ordered list of (name, type, nullable) field descriptions. Only
// int64, float64 and bool keep their own type; every other Arrow type is
// encoded, and decoded back, as utf8.
func encodeSchema(s *arrow.Schema) interface{} {
	if s == nil {
		return []interface{}{}
	}
	fields := make([]interface{}, s.NumFields())
	for i, f := range s.Fields() {
		fields[i] = map[string]interface{}{
			"name":     f.Name,
			"type":     arrowTypeName(f.Type),
			"nullable": f.Nullable,
		}
	}
	return fields
}

func decodeSchema(v interface{}) (*arrow.Schema, error) {
	list, ok := v.([]interface{})
	if !ok {
		return arrow.NewSchema(nil, nil), nil
	}
	fields := make([]arrow.Field, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, Error.New("codec: malformed schema field entry")
		}
		nullable, _ := m["nullable"].(bool)
		fields = append(fields, arrow.Field{
			Name:     stringField(m, "name"),
			Type:     arrowTypeFromName(stringField(m, "type")),
			Nullable: nullable,
		})
	}
	return arrow.NewSchema(fields, nil), nil
}

func arrowTypeName(t arrow.DataType) string {
	switch t.ID() {
	case arrow.INT64:
		return "int64"
	case arrow.FLOAT64:
		return "float64"
	case arrow.BOOL:
		return "bool"
	default:
		return "utf8"
	}
}

func arrowTypeFromName(name string) arrow.DataType {
	switch name {
	case "int64":
		return arrow.PrimitiveTypes.Int64
	case "float64":
		return arrow.PrimitiveTypes.Float64
	case "bool":
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}
