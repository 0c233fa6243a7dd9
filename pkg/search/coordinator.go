package search

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go.corestream.dev/corestream/pkg/corerr"
)

// FollowerClient is the subset of QueryNodeClient the coordinator
// depends on; tests substitute a fake implementation instead of dialing
// real gRPC connections.
type FollowerClient interface {
	Search(ctx context.Context, req *Request) (*Response, error)
}

// Dialer resolves a follower's GRPCAddr to a client, typically by
// caching grpc.ClientConns keyed by address.
type Dialer func(addr string) (FollowerClient, error)

// FollowerLister returns the currently online query-node followers
// (spec.md §4.10 step 3's "online query-node list").
type FollowerLister func(ctx context.Context) ([]Follower, error)

// Merger combines one Response per follower into the coordinator's
// final Response (spec.md §4.10 step 6-7: "feed them as MemoryExec
// inputs into the final plan; execute locally"). NewCoordinator installs
// no default merger: the caller supplies one, and cmd/corestream passes a
// byte-concatenation merger (concatMerge).
type Merger func(traceID string, results [][]byte) ([]byte, error)

// Coordinator implements spec.md §4.10's query flow.
type Coordinator struct {
	Followers        FollowerLister
	Dial             Dialer
	Merge            Merger
	FollowerCount    int
	PartitionTargets int
	Rand             *rand.Rand
	Log              *zap.Logger
}

// NewCoordinator builds a Coordinator with the given collaborators;
// followerCount is the number of followers dispatched per query
// (spec.md §4.10 step 3).
func NewCoordinator(followers FollowerLister, dial Dialer, merge Merger, followerCount int) *Coordinator {
	return &Coordinator{
		Followers:        followers,
		Dial:             dial,
		Merge:            merge,
		FollowerCount:    followerCount,
		PartitionTargets: 16,
		Rand:             rand.New(rand.NewSource(1)),
		Log:              zap.NewNop(),
	}
}

// Run executes the full coordinator flow for req: rewrite the follower
// SQL, select followers, dispatch Search RPCs concurrently, and merge
// their responses.
func (c *Coordinator) Run(ctx context.Context, req *Request) (*Response, error) {
	followerSQL, err := RemoveOutermostLimit(req.Query)
	if err != nil {
		// Not every dialect the caller sends is parseable by this
		// frontend (CTE syntax in particular); ship the query through
		// unmodified rather than failing the whole search.
		followerSQL = req.Query
	}

	candidates, err := c.Followers(ctx)
	if err != nil {
		return nil, Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}
	selected := SelectFollowers(candidates, c.FollowerCount, c.Rand)
	if len(selected) == 0 {
		return nil, Error.New("%s: no querier node online", ErrServerInternal)
	}

	partReq := *req
	partReq.Query = followerSQL

	results := make([][]byte, len(selected))
	followerErrs := make(map[string]string)
	var errMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range selected {
		i, f := i, f
		g.Go(func() error {
			client, err := c.Dial(f.GRPCAddr)
			if err != nil {
				errMu.Lock()
				followerErrs[f.GRPCAddr] = err.Error()
				errMu.Unlock()
				return nil
			}
			resp, err := client.Search(gctx, &partReq)
			if err != nil {
				errMu.Lock()
				followerErrs[f.GRPCAddr] = err.Error()
				errMu.Unlock()
				return nil
			}
			results[i] = resp.Result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Error.Wrap(err)
	}

	// Each follower owns a distinct partition (spec.md §4.10 step 3), so
	// a failed follower means missing data, not a degraded-but-complete
	// result: any follower error or timeout is a hard failure, not a
	// partial one (spec.md §4.10 failure policy).
	if len(followerErrs) > 0 {
		return nil, Error.New("%s: follower failed: %v", ErrServerInternal, followerErrs)
	}

	merged, err := c.Merge(req.TraceID, results)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	return &Response{
		TraceID:   req.TraceID,
		Result:    merged,
		ScanStats: ScanStats{FollowerCount: len(selected)},
	}, nil
}

// WithTimeout derives a per-request deadline from the tenant's
// configured query_timeout (spec.md §5's cancellation model).
func WithTimeout(ctx context.Context, queryTimeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}
