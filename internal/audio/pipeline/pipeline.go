package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pipeline is a DAG of registered Drivers rooted at one or more source
// nodes. Run starts every node concurrently and returns once all of them
// have completed.
type Pipeline struct {
	roots []*Driver
}

// New builds a Pipeline from its root (source) drivers. Children reachable
// through Register calls on those roots are discovered automatically.
func New(roots ...*Driver) *Pipeline {
	return &Pipeline{roots: roots}
}

// Run starts every node in the pipeline as its own goroutine under a
// shared errgroup.Group, returning nil only once every node returned nil.
// The first node to return a non-nil error cancels the group's derived
// context, which every node's CancelToken observes cooperatively; the
// aggregate error is that first failure (spec §4.3's "Ok iff every
// descendant returned Ok").
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	seen := make(map[*Driver]bool)
	var all []*Driver
	for _, root := range p.roots {
		for _, d := range root.descendants() {
			if !seen[d] {
				seen[d] = true
				all = append(all, d)
			}
		}
	}

	for _, d := range all {
		d := d
		g.Go(func() error {
			return d.run(gctx)
		})
	}

	return g.Wait()
}
