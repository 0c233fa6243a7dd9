package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeFollowerClient struct {
	result []byte
	err    error
}

func (f *fakeFollowerClient) Search(ctx context.Context, req *Request) (*Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &Response{TraceID: req.TraceID, Result: f.result}, nil
}

func concatMerger(traceID string, results [][]byte) ([]byte, error) {
	var out []byte
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func TestCoordinator_Run_DispatchesAndMerges(t *testing.T) {
	followers := func(ctx context.Context) ([]Follower, error) {
		return []Follower{{GRPCAddr: "f1:1"}, {GRPCAddr: "f2:1"}}, nil
	}
	dial := func(addr string) (FollowerClient, error) {
		switch addr {
		case "f1:1":
			return &fakeFollowerClient{result: []byte("A")}, nil
		case "f2:1":
			return &fakeFollowerClient{result: []byte("B")}, nil
		}
		return nil, Error.New("unknown addr")
	}

	c := NewCoordinator(followers, dial, concatMerger, 2)
	resp, err := c.Run(context.Background(), &Request{TraceID: "t1", Query: "SELECT * FROM t LIMIT 5"})
	require.NoError(t, err)
	require.Equal(t, 2, resp.ScanStats.FollowerCount)
	require.Len(t, resp.Result, 2)
}

func TestCoordinator_Run_NoFollowersIsServerInternalError(t *testing.T) {
	followers := func(ctx context.Context) ([]Follower, error) { return nil, nil }
	c := NewCoordinator(followers, nil, concatMerger, 2)
	_, err := c.Run(context.Background(), &Request{TraceID: "t1", Query: "SELECT 1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), string(ErrServerInternal))
}

func TestCoordinator_Run_FollowerFailureIsHardFailure(t *testing.T) {
	followers := func(ctx context.Context) ([]Follower, error) {
		return []Follower{{GRPCAddr: "f1:1"}, {GRPCAddr: "f2:1"}}, nil
	}
	dial := func(addr string) (FollowerClient, error) {
		if addr == "f1:1" {
			return &fakeFollowerClient{err: Error.New("boom")}, nil
		}
		return &fakeFollowerClient{result: []byte("ok")}, nil
	}
	c := NewCoordinator(followers, dial, concatMerger, 2)
	_, err := c.Run(context.Background(), &Request{TraceID: "t1", Query: "SELECT 1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), string(ErrServerInternal))
}

func TestCoordinator_Run_AllFollowersFailingIsHardFailure(t *testing.T) {
	followers := func(ctx context.Context) ([]Follower, error) {
		return []Follower{{GRPCAddr: "f1:1"}, {GRPCAddr: "f2:1"}}, nil
	}
	dial := func(addr string) (FollowerClient, error) {
		return &fakeFollowerClient{err: Error.New("boom")}, nil
	}
	c := NewCoordinator(followers, dial, concatMerger, 2)
	_, err := c.Run(context.Background(), &Request{TraceID: "t1", Query: "SELECT 1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), string(ErrServerInternal))
}
