// Package search implements the coordinator of spec.md §4.10 (component
// C10): SQL parsing glue, time-bucketed partitioning, stable follower
// selection, physical-plan build/split via pkg/plan, gRPC dispatch to
// query-node followers, and result merging.
package search

import (
	"time"

	"go.corestream.dev/corestream/pkg/corerr"
)

// Error is this package's errs.Class.
var Error = corerr.Class("search")

// ErrorCode is the stable string clients key failures on (spec.md §7):
// every user-visible failure is translated to one of these before
// crossing the gRPC boundary.
type ErrorCode string

const (
	ErrServerInternal ErrorCode = "server_internal_error"
	ErrUnsupported    ErrorCode = "unsupported"
	ErrTimeout        ErrorCode = "timeout"
	ErrCancelled      ErrorCode = "cancelled"
)

// Request is a coordinator-level search request (spec.md §6's
// SearchRequest): Query carries the raw SQL the caller wants executed,
// scoped to (OrgID, StreamType), and Params is the opaque JSON payload
// the SQL frontend augments the logical plan with (filters, time range,
// limit, etc.) — out-of-core concerns this package passes through
// unopened.
type Request struct {
	TraceID    string
	OrgID      string
	StreamType string
	UserID     string
	Query      string
	StartTime  time.Time
	EndTime    time.Time
	Params     []byte
}

// Response is the coordinator's result: the merged result rows encoded
// as opaque JSON (spec.md §6's SearchResponse), plus aggregated scan
// stats for observability.
type Response struct {
	TraceID     string
	Result      []byte
	ScanStats   ScanStats
	FollowerErr map[string]string
}

// ScanStats aggregates per-follower scan accounting across a query.
type ScanStats struct {
	FilesScanned  int64
	RowsScanned   int64
	BytesScanned  int64
	FollowerCount int
}

// Add accumulates other into s.
func (s *ScanStats) Add(other ScanStats) {
	s.FilesScanned += other.FilesScanned
	s.RowsScanned += other.RowsScanned
	s.BytesScanned += other.BytesScanned
}

// Partition is one time-bucketed slice of the query's [start, end) range
// (spec.md §4.10's SearchPartitions), along with its estimated cost.
type Partition struct {
	StartTS       time.Time
	EndTS         time.Time
	EstRows       int64
	EstFiles      int
}

// Follower describes one online query-node the coordinator may dispatch
// partial plans to.
type Follower struct {
	GRPCAddr string
	NodeID   string
}

// PartitionRequest asks a follower to report the partitions of a stream
// it can see (spec.md §6's SearchPartitionRequest).
type PartitionRequest struct {
	TraceID    string
	OrgID      string
	StreamType string
	StreamName string
	StartTS    time.Time
	EndTS      time.Time
}

// PartitionResponse is a follower's partition report.
type PartitionResponse struct {
	Partitions []Partition
}

// CuckooFilterQueryRequest probes a follower's per-hour cuckoo filters
// for a stream (spec.md §6): used to prune files before dispatching the
// real Search RPC.
type CuckooFilterQueryRequest struct {
	OrgID      string
	StreamName string
	TraceID    string
	Hours      []string // YYYYMMDDHH
}

// CuckooFilterQueryResponse reports which of the probed hours have any
// cuckoo filter recorded for the stream; the request carries no terms.
type CuckooFilterQueryResponse struct {
	FoundHours []string
}
