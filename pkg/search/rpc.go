package search

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// jsonCodec is a grpc/encoding.Codec marshaling request/response structs
// as JSON rather than protobuf wire format: the coordinator's RPC
// payloads are themselves JSON-encoded per spec.md §6 ("request
// (JSON-encoded)"), so the wire codec mirrors that rather than adding a
// second, redundant protobuf schema on top.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "corestream-json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CodecName is passed via grpc.CallContentSubtype/grpc.ForceCodec so
// client and server agree to use jsonCodec instead of protobuf.
const CodecName = "corestream-json"

const serviceName = "corestream.search.v1.QueryNode"

// QueryNodeServer is implemented by a follower: it executes the partial
// plan a coordinator dispatches against its local files (spec.md §6's
// gRPC surface consumed by coordinator).
type QueryNodeServer interface {
	Search(ctx context.Context, req *Request) (*Response, error)
	SearchPartition(ctx context.Context, req *PartitionRequest) (*PartitionResponse, error)
	CuckooFilterQuery(ctx context.Context, req *CuckooFilterQueryRequest) (*CuckooFilterQueryResponse, error)
}

func searchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryNodeServer).Search(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Search"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(QueryNodeServer).Search(ctx, req.(*Request))
	}
	return interceptor(ctx, in, info, handler)
}

func searchPartitionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PartitionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryNodeServer).SearchPartition(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/SearchPartition"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(QueryNodeServer).SearchPartition(ctx, req.(*PartitionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func cuckooFilterQueryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CuckooFilterQueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryNodeServer).CuckooFilterQuery(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/CuckooFilterQuery"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(QueryNodeServer).CuckooFilterQuery(ctx, req.(*CuckooFilterQueryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-declared grpc.ServiceDesc for QueryNode,
// playing the role a protoc-gen-go-grpc-generated _grpc.pb.go file would
// normally fill, since this service's messages travel as JSON rather
// than a generated protobuf schema (see jsonCodec).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*QueryNodeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Search", Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			return searchHandler(srv, ctx, dec, interceptor)
		}},
		{MethodName: "SearchPartition", Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			return searchPartitionHandler(srv, ctx, dec, interceptor)
		}},
		{MethodName: "CuckooFilterQuery", Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			return cuckooFilterQueryHandler(srv, ctx, dec, interceptor)
		}},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "corestream/search.proto",
}

// RegisterQueryNodeServer registers impl on s under the QueryNode
// service name.
func RegisterQueryNodeServer(s *grpc.Server, impl QueryNodeServer) {
	s.RegisterService(&ServiceDesc, impl)
}

// QueryNodeClient is the coordinator-side stub dispatching RPCs to one
// follower over cc.
type QueryNodeClient struct {
	cc *grpc.ClientConn
}

// NewQueryNodeClient wraps an established connection.
func NewQueryNodeClient(cc *grpc.ClientConn) *QueryNodeClient {
	return &QueryNodeClient{cc: cc}
}

func (c *QueryNodeClient) Search(ctx context.Context, req *Request) (*Response, error) {
	out := new(Response)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/Search", req, out, grpc.ForceCodec(jsonCodec{}))
	return out, err
}

func (c *QueryNodeClient) SearchPartition(ctx context.Context, req *PartitionRequest) (*PartitionResponse, error) {
	out := new(PartitionResponse)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/SearchPartition", req, out, grpc.ForceCodec(jsonCodec{}))
	return out, err
}

func (c *QueryNodeClient) CuckooFilterQuery(ctx context.Context, req *CuckooFilterQueryRequest) (*CuckooFilterQueryResponse, error) {
	out := new(CuckooFilterQueryResponse)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/CuckooFilterQuery", req, out, grpc.ForceCodec(jsonCodec{}))
	return out, err
}

// statusFor translates err into the gRPC status the coordinator expects
// to see on the wire (spec.md §7: "Errors crossing the gRPC boundary are
// carried in tonic::Status::Internal, with the payload a JSON-encoded
// ErrorCode").
func statusFor(code ErrorCode, err error) error {
	payload, _ := json.Marshal(code)
	return status.Error(codes.Internal, string(payload))
}
