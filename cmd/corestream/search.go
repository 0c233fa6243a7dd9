package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.corestream.dev/corestream/pkg/plan"
	"go.corestream.dev/corestream/pkg/process"
	"go.corestream.dev/corestream/pkg/search"
)

// searchConfig binds the C10 coordinator/follower gRPC surface. A single
// binary plays both roles: it serves QueryNode RPCs for plans routed to
// it, and (if FollowerAddrs and CoordinatorHTTP are both non-empty)
// coordinates incoming client
// queries by fanning out to the configured peer set, mirroring the
// teacher's single-binary-many-roles satellite/storagenode split
// expressed as one process with two responsibilities instead of two
// binaries.
type searchConfig struct {
	ListenAddr      string `default:":7070" help:"address this node's QueryNode gRPC server listens on"`
	FollowerAddrs   string `default:"" help:"comma-separated peer QueryNode addresses this node coordinates queries across; empty runs follower-only"`
	FollowerCount   int    `default:"3" help:"number of followers SelectFollowers picks per query"`
	CoordinatorHTTP string `default:"" help:"address to serve the client-facing /query HTTP endpoint on; empty disables it"`
}

func followerAddrs() []string {
	if searchCfg.FollowerAddrs == "" {
		return nil
	}
	return strings.Split(searchCfg.FollowerAddrs, ",")
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Serve the QueryNode gRPC surface and, if peers are configured, coordinate fan-out queries",
	RunE:  runSearch,
}

var searchCfg searchConfig

func init() {
	process.Bind(searchCmd, &searchCfg)
}

func runSearch(cmd *cobra.Command, args []string) error {
	log := newLogger()
	defer log.Sync() //nolint:errcheck

	lis, err := net.Listen("tcp", searchCfg.ListenAddr)
	if err != nil {
		return search.Error.New("listen on %s: %v", searchCfg.ListenAddr, err)
	}

	runner := planRunner(log)
	srv := search.NewFollowerServer(runner, noPartitionsReporter, search.NewMemFilterStore(), log)

	grpcServer := grpc.NewServer()
	search.RegisterQueryNodeServer(grpcServer, srv)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	addrs := followerAddrs()
	if len(addrs) > 0 && searchCfg.CoordinatorHTTP != "" {
		coord, closeConns := newCoordinator(addrs)
		defer closeConns()
		httpSrv := &http.Server{Addr: searchCfg.CoordinatorHTTP, Handler: queryHandler(coord)}
		go func() {
			<-ctx.Done()
			_ = httpSrv.Close()
		}()
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("coordinator http server stopped", zap.Error(err))
			}
		}()
		log.Info("coordinator http listening", zap.String("addr", searchCfg.CoordinatorHTTP), zap.Int("followers", len(addrs)))
	}

	log.Info("search node listening", zap.String("addr", searchCfg.ListenAddr), zap.Int("followers", len(addrs)))
	return grpcServer.Serve(lis)
}

// queryHandler exposes Coordinator.Run as the client-facing entry point
// spec.md §4.10 describes abstractly ("a query arrives at a query
// node"); JSON-over-HTTP is the transport, matching this package's RPC
// codec choice (jsonCodec in rpc.go) rather than introducing a second,
// differently-shaped wire format.
func queryHandler(coord *search.Coordinator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req search.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := coord.Run(r.Context(), &req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// planRunner executes a follower-side plan against the local engine.
// The SQL-to-plan compiler that would turn req.Query into a pkg/plan
// node tree isn't specified by spec.md beyond the wire contract itself
// (§4.10/§6); until it exists, an empty result set over the scan-only
// plan root documents the integration point without fabricating a
// parser spec.md never describes.
func planRunner(log *zap.Logger) search.PlanRunner {
	return func(ctx context.Context, req *search.Request) ([]byte, error) {
		root := &plan.EmptyScan{}
		if _, err := root.Execute(ctx); err != nil {
			return nil, search.Error.Wrap(err)
		}
		return []byte("{}"), nil
	}
}

func noPartitionsReporter(ctx context.Context, req *search.PartitionRequest) ([]search.Partition, error) {
	return search.ComputePartitions(req.StartTS, req.EndTS, 0, nil), nil
}

// newCoordinator builds a Coordinator dialing addrs lazily, caching one
// *grpc.ClientConn per follower address across queries. The returned
// func closes every cached connection.
func newCoordinator(addrs []string) (*search.Coordinator, func()) {
	var (
		mu    sync.Mutex
		conns = map[string]*grpc.ClientConn{}
	)
	dial := func(addr string) (search.FollowerClient, error) {
		mu.Lock()
		defer mu.Unlock()
		if cc, ok := conns[addr]; ok {
			return search.NewQueryNodeClient(cc), nil
		}
		cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, err
		}
		conns[addr] = cc
		return search.NewQueryNodeClient(cc), nil
	}

	lister := func(ctx context.Context) ([]search.Follower, error) {
		out := make([]search.Follower, len(addrs))
		for i, addr := range addrs {
			out[i] = search.Follower{GRPCAddr: addr}
		}
		return out, nil
	}

	coord := search.NewCoordinator(lister, dial, concatMerge, searchCfg.FollowerCount)
	closeConns := func() {
		mu.Lock()
		defer mu.Unlock()
		for _, cc := range conns {
			_ = cc.Close()
		}
	}
	return coord, closeConns
}

func concatMerge(traceID string, results [][]byte) ([]byte, error) {
	var out []byte
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}
