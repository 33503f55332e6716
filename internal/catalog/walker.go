package catalog

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the number of catalog requests in flight at once. The
// catalog API starts returning 429s well before it documents any limit.
const DefaultChunkSize = 6

// Fetcher is the subset of Client the walker needs.
type Fetcher interface {
	GetChildren(ctx context.Context, nodeID string, kind Kind) ([]*Node, error)
	GetPricing(ctx context.Context, nodeID string) (*PricingLeaf, error)
}

// WalkStats summarises one BuildTree call.
type WalkStats struct {
	NodesExpanded int
	PricingLeaves int
	Failures      int
}

func (s *WalkStats) add(o WalkStats) {
	s.NodesExpanded += o.NodesExpanded
	s.PricingLeaves += o.PricingLeaves
	s.Failures += o.Failures
}

// Walker expands catalog roots into fully populated trees.
type Walker struct {
	fetcher   Fetcher
	chunkSize int
	logger    zerolog.Logger
}

func NewWalker(fetcher Fetcher, chunkSize int, logger zerolog.Logger) *Walker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Walker{fetcher: fetcher, chunkSize: chunkSize, logger: logger}
}

type taskOp int

const (
	opExpand taskOp = iota
	opPrice
)

type task struct {
	node *Node
	op   taskOp
}

type taskResult struct {
	children []*Node
	leaf     *PricingLeaf
	err      error
}

// BuildTree populates root in place and returns it. Fetch failures are logged
// and counted; the affected subtree is left empty and the walk continues.
// The returned error is only ever a context error.
func (w *Walker) BuildTree(ctx context.Context, root *Node) (*Node, WalkStats, error) {
	var stats WalkStats
	visited := map[string]bool{root.ID: true}
	stack := []task{{node: root, op: opExpand}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return root, stats, err
		}

		n := w.chunkSize
		if n > len(stack) {
			n = len(stack)
		}
		chunk := make([]task, n)
		for i := 0; i < n; i++ {
			chunk[i] = stack[len(stack)-1-i]
		}
		stack = stack[:len(stack)-n]

		results := w.runChunk(ctx, chunk)

		var next []task
		for i, t := range chunk {
			next = append(next, w.apply(t, results[i], visited, &stats)...)
		}
		// Reverse so the first pending task is popped first.
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}
	return root, stats, nil
}

// runChunk issues every task concurrently and waits for all of them. Each
// goroutine writes only its own result slot, so one failure never cancels
// its siblings.
func (w *Walker) runChunk(ctx context.Context, chunk []task) []taskResult {
	results := make([]taskResult, len(chunk))
	var g errgroup.Group
	for i, t := range chunk {
		i, t := i, t
		g.Go(func() error {
			results[i] = w.run(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (w *Walker) run(ctx context.Context, t task) taskResult {
	switch t.op {
	case opPrice:
		leaf, err := w.fetcher.GetPricing(ctx, t.node.ID)
		return taskResult{leaf: leaf, err: err}
	default:
		var res taskResult
		for _, kind := range t.node.Kind.ChildKinds(t.node.IsGroup) {
			children, err := w.fetcher.GetChildren(ctx, t.node.ID, kind)
			if err != nil {
				res.err = err
				continue
			}
			res.children = append(res.children, children...)
		}
		return res
	}
}

// apply attaches a finished task's output to the tree and returns the
// follow-up tasks in processing order.
func (w *Walker) apply(t task, r taskResult, visited map[string]bool, stats *WalkStats) []task {
	if r.err != nil {
		stats.Failures++
		w.logger.Warn().
			Err(r.err).
			Str("node_id", t.node.ID).
			Str("kind", string(t.node.Kind)).
			Bool("pricing", t.op == opPrice).
			Msg("catalog fetch failed, skipping")
	}

	if t.op == opPrice {
		if r.leaf != nil {
			t.node.PricingLeaves = append(t.node.PricingLeaves, r.leaf)
			stats.PricingLeaves++
		}
		return nil
	}

	stats.NodesExpanded++
	t.node.Children = r.children

	var next []task
	if t.node.Kind == KindPlan && t.node.Pricable() {
		next = append(next, task{node: t.node, op: opPrice})
	}
	for _, child := range r.children {
		if t.node.Kind == KindPlan && child.Kind == KindDeployment && child.Pricable() {
			next = append(next, task{node: child, op: opPrice})
		}
		if len(child.Kind.ChildKinds(child.IsGroup)) == 0 || visited[child.ID] {
			continue
		}
		visited[child.ID] = true
		next = append(next, task{node: child, op: opExpand})
	}
	return next
}

// BuildForest walks each root in turn. Roots are walked sequentially so the
// chunk size stays the global bound on in-flight requests.
func (w *Walker) BuildForest(ctx context.Context, roots []*Node) ([]*Node, WalkStats, error) {
	var total WalkStats
	for _, root := range roots {
		_, stats, err := w.BuildTree(ctx, root)
		total.add(stats)
		if err != nil {
			return roots, total, err
		}
		w.logger.Debug().
			Str("node_id", root.ID).
			Str("name", root.Name).
			Int("expanded", stats.NodesExpanded).
			Int("pricing_leaves", stats.PricingLeaves).
			Int("failures", stats.Failures).
			Msg("catalog tree built")
	}
	return roots, total, nil
}
