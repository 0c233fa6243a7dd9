package plan

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// ExchangeNode marks the boundary between a coordinator-side plan and
// the subtree each follower executes independently (spec.md §4.9's
// DistributedExchange). GetPartialPlan/GetFinalPlan walk the tree to
// find the lowest such node and split the plan there.
type ExchangeNode struct {
	Child Node
}

// Schema delegates to Child.
func (e *ExchangeNode) Schema() *arrow.Schema { return e.Child.Schema() }

// Execute always returns an error without running Child; ExchangeNode only has meaning as a split
// marker on the coordinator side, never as something actually run.
func (e *ExchangeNode) Execute(ctx context.Context) ([]arrow.Record, error) {
	return nil, Error.New("exchange: node must be split via GetPartialPlan/GetFinalPlan before execution")
}

// Shape describes what GetPartialPlan found when walking a tree for its
// lowest DistributedExchange node.
type Shape int

const (
	// ShapeNoExchange means the tree has no DistributedExchange node at
	// all: the whole plan runs on a single follower, unsplit.
	ShapeNoExchange Shape = iota
	// ShapeSingleExchange means exactly one lowest exchange node was
	// found and the tree was split there.
	ShapeSingleExchange
	// ShapeUnsupported means the tree's exchange placement doesn't match
	// a shape this splitter understands (e.g. more than one exchange
	// node on independent branches) — GetPartialPlan/GetFinalPlan return
	// NotImplemented for these.
	ShapeUnsupported
)

// ErrNotImplemented is returned by GetPartialPlan/GetFinalPlan for a
// plan shape this splitter does not support.
var ErrNotImplemented = Error.New("plan shape not implemented")

// findLowestExchange walks the tree depth-first and returns the deepest
// (closest-to-leaf) *ExchangeNode, the count of exchange nodes found in
// total, and whether the walk covers a shape this splitter understands.
func findLowestExchange(n Node) (lowest *ExchangeNode, count int, supported bool) {
	supported = true
	var walk func(Node) *ExchangeNode
	walk = func(node Node) *ExchangeNode {
		switch t := node.(type) {
		case *ExchangeNode:
			count++
			child := walk(t.Child)
			if child != nil {
				return child
			}
			return t
		case *AggregateTopK:
			return walk(t.Input)
		case *StreamingAggs:
			return walk(t.Input)
		case *UnionTable:
			var found *ExchangeNode
			for _, in := range t.Inputs {
				if r := walk(in); r != nil {
					if found != nil && found != r {
						supported = false
					}
					found = r
				}
			}
			return found
		case *EmptyScan, *EnrichScan:
			return nil
		default:
			return nil
		}
	}
	lowest = walk(n)
	return lowest, count, supported
}

// GetPartialPlan returns the subtree below the lowest DistributedExchange
// node in tree — the piece a follower actually executes against its own
// local data. If tree has no exchange node, the follower runs the whole
// tree as given. Any other exchange placement is unsupported.
func GetPartialPlan(tree Node) (Node, error) {
	lowest, _, supported := findLowestExchange(tree)
	if !supported {
		return nil, ErrNotImplemented
	}
	if lowest == nil {
		return tree, nil
	}
	return lowest.Child, nil
}

// GetFinalPlan returns tree with the lowest DistributedExchange node's
// subtree replaced by replacement — typically a concrete in-memory scan
// over the batches a follower's partial-plan execution produced. If tree
// has no exchange node, replacement becomes the whole plan.
func GetFinalPlan(tree Node, replacement Node) (Node, error) {
	_, _, supported := findLowestExchange(tree)
	if !supported {
		return nil, ErrNotImplemented
	}
	var rewrite func(Node) Node
	rewrite = func(node Node) Node {
		switch t := node.(type) {
		case *ExchangeNode:
			return replacement
		case *AggregateTopK:
			return &AggregateTopK{Input: rewrite(t.Input), SortField: t.SortField, Descending: t.Descending, Limit: t.Limit}
		case *StreamingAggs:
			return &StreamingAggs{Input: rewrite(t.Input), GroupFields: t.GroupFields, AggField: t.AggField, Agg: t.Agg, OutSchema: t.OutSchema}
		case *UnionTable:
			ins := make([]Node, len(t.Inputs))
			for i, in := range t.Inputs {
				ins[i] = rewrite(in)
			}
			return &UnionTable{Inputs: ins}
		default:
			return node
		}
	}
	out := rewrite(tree)
	if findsNoExchangeUsed(tree) {
		return replacement, nil
	}
	return out, nil
}

func findsNoExchangeUsed(tree Node) bool {
	lowest, _, _ := findLowestExchange(tree)
	return lowest == nil
}

// RewriteGlobalLimit pushes limit down onto the lowest exchange's child
// scan when the child is an *EmptyScan (spec.md §4.9's limit-rewriting
// tree-rewriter): a follower can stop scanning early once it has
// produced at least limit rows, instead of shipping its whole partition
// back to the coordinator only to have it truncated there.
func RewriteGlobalLimit(tree Node, limit int64) Node {
	lowest, _, supported := findLowestExchange(tree)
	if !supported || lowest == nil {
		return tree
	}
	if scan, ok := lowest.Child.(*EmptyScan); ok {
		l := limit
		scan.Limit = &l
	}
	return tree
}
