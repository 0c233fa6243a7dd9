package search

import (
	"context"

	"go.uber.org/zap"

	"go.corestream.dev/corestream/pkg/corerr"
)

// PlanRunner executes a follower's partial plan (already split and
// decoded via pkg/plan) against local files and returns the opaque
// JSON-encoded result payload spec.md §6 carries over the wire.
type PlanRunner func(ctx context.Context, req *Request) ([]byte, error)

// PartitionReporter answers SearchPartition for a local stream.
type PartitionReporter func(ctx context.Context, req *PartitionRequest) ([]Partition, error)

// FollowerServer implements QueryNodeServer, translating local errors
// into the gRPC-boundary ErrorCode contract of spec.md §7 before they
// leave the process.
type FollowerServer struct {
	Run        PlanRunner
	Partitions PartitionReporter
	Filters    FilterStore
	Log        *zap.Logger
}

// NewFollowerServer wires run/partitions/filters behind the QueryNode
// RPC surface; log defaults to a no-op logger.
func NewFollowerServer(run PlanRunner, partitions PartitionReporter, filters FilterStore, log *zap.Logger) *FollowerServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &FollowerServer{Run: run, Partitions: partitions, Filters: filters, Log: log}
}

// Search executes the dispatched partial plan and returns its result,
// or a gRPC Internal status carrying a JSON ErrorCode on failure
// (spec.md §7).
func (f *FollowerServer) Search(ctx context.Context, req *Request) (*Response, error) {
	result, err := f.Run(ctx, req)
	if err != nil {
		f.Log.Warn("follower search failed", zap.String("trace_id", req.TraceID), zap.Error(err))
		code := errorCodeFor(err)
		return nil, statusFor(code, err)
	}
	return &Response{TraceID: req.TraceID, Result: result}, nil
}

// SearchPartition reports this follower's visible partitions for a stream.
func (f *FollowerServer) SearchPartition(ctx context.Context, req *PartitionRequest) (*PartitionResponse, error) {
	parts, err := f.Partitions(ctx, req)
	if err != nil {
		return nil, statusFor(errorCodeFor(err), err)
	}
	return &PartitionResponse{Partitions: parts}, nil
}

// CuckooFilterQuery probes f.Filters for the requested hours. The wire
// request carries only hours, no terms (spec.md §6), so this reports
// every hour that has any filter recorded at all — the coarse presence
// check the RPC doc comment describes ("prune follower files").
func (f *FollowerServer) CuckooFilterQuery(ctx context.Context, req *CuckooFilterQueryRequest) (*CuckooFilterQueryResponse, error) {
	found, err := QueryCuckooFilters(ctx, f.Filters, req.OrgID, req.StreamName, req.Hours, nil)
	if err != nil {
		return nil, statusFor(errorCodeFor(err), err)
	}
	return &CuckooFilterQueryResponse{FoundHours: found}, nil
}

func errorCodeFor(err error) ErrorCode {
	switch corerr.CodeFor(err) {
	case corerr.CodeUnsupported:
		return ErrUnsupported
	case corerr.CodeTimeout:
		return ErrTimeout
	case corerr.CodeCancelled:
		return ErrCancelled
	default:
		return ErrServerInternal
	}
}
