package pipeline

import (
	"context"
	"fmt"

	"github.com/coissac/pmomusic/internal/audio/chunk"
	"github.com/coissac/pmomusic/internal/core"
)

// Driver holds a Node's logic plus the plumbing the runtime needs to wire
// it into a DAG: its inbound channel endpoint (nil for a source) and the
// outbound channels created for each registered child.
type Driver struct {
	name string
	node Node

	in       <-chan chunk.AudioSegment
	children []*Driver
	outChans []chan chunk.AudioSegment
}

// NewDriver wraps node as a named driver. in is the channel this node reads
// from; pass nil for a source node.
func NewDriver(name string, node Node, in <-chan chunk.AudioSegment) *Driver {
	return &Driver{name: name, node: node, in: in}
}

// Register adds child as a downstream consumer of d, creating the bounded
// channel between them and validating that child's declared input type can
// accept everything d's declared output type can produce. Registration
// fails with core.ErrTypeMismatch on an incompatible pair, and refuses to
// register anything on a terminal sink (OutputType() == nil).
func (d *Driver) Register(child *Driver) error {
	outReq := d.node.OutputType()
	if outReq == nil {
		return fmt.Errorf("pipeline: node %q is a terminal sink, cannot register children: %w", d.name, core.ErrTypeMismatch)
	}
	inReq := child.node.InputType()
	if inReq == nil {
		return fmt.Errorf("pipeline: node %q is a source, cannot be registered as a child: %w", child.name, core.ErrTypeMismatch)
	}
	if !Compatible(*outReq, *inReq) {
		return fmt.Errorf("pipeline: %q output incompatible with %q input: %w", d.name, child.name, core.ErrTypeMismatch)
	}

	ch := make(chan chunk.AudioSegment, DefaultChannelSize)
	d.outChans = append(d.outChans, ch)
	d.children = append(d.children, child)
	child.in = ch
	return nil
}

// Name returns the driver's diagnostic name.
func (d *Driver) Name() string { return d.name }

// descendants returns d and every node reachable from it, depth-first.
func (d *Driver) descendants() []*Driver {
	all := []*Driver{d}
	for _, c := range d.children {
		all = append(all, c.descendants()...)
	}
	return all
}

// run executes this driver's node and closes its outbound channels once
// the node returns, regardless of outcome, so downstream nodes observe a
// clean channel close rather than hanging forever.
func (d *Driver) run(ctx context.Context) error {
	outs := make([]chan<- chunk.AudioSegment, len(d.outChans))
	for i, c := range d.outChans {
		outs[i] = c
	}

	token := core.NewCancelToken(ctx)
	err := d.node.Run(token, d.in, outs)

	for _, c := range d.outChans {
		close(c)
	}

	if err != nil {
		return fmt.Errorf("pipeline: node %q: %w", d.name, err)
	}
	return nil
}
