package bridge

import (
	"context"
	"fmt"

	"github.com/mbocsi/wearbridge/proto"
)

// ErrNoReachableNode is returned by remote reads when no nearby node is
// connected. It satisfies errors.Is(err, proto.ErrNotFound).
var ErrNoReachableNode = fmt.Errorf("no reachable node: %w", proto.ErrNotFound)

// ReadTarget picks the node a read resolves against when the caller names
// neither Locally nor FromNode.
type ReadTarget int

const (
	// MostRecentlyConnected picks the nearby node with the latest
	// ConnectedAt; ties go to the greatest id.
	MostRecentlyConnected ReadTarget = iota
	// LastReported picks the last node in the order the data layer
	// reported them.
	LastReported
)

func (t ReadTarget) String() string {
	switch t {
	case MostRecentlyConnected:
		return "most-recently-connected"
	case LastReported:
		return "last-reported"
	default:
		return "unknown"
	}
}

func (t ReadTarget) pick(nodes []proto.Node) proto.Node {
	if t == LastReported {
		return nodes[len(nodes)-1]
	}
	best := nodes[0]
	for _, n := range nodes[1:] {
		switch {
		case n.ConnectedAt.After(best.ConnectedAt):
			best = n
		case n.ConnectedAt.Equal(best.ConnectedAt) && n.ID > best.ID:
			best = n
		}
	}
	return best
}

// ReadOption selects the authority a read resolves against.
type ReadOption func(*readOptions)

type readOptions struct {
	locally bool
	node    string
}

// Locally reads the calling node's own items.
func Locally() ReadOption {
	return func(o *readOptions) { o.locally = true }
}

// FromNode reads the items owned by the node with the given id.
func FromNode(id string) ReadOption {
	return func(o *readOptions) { o.node = id }
}

// Nodes returns the ids of nearby connected nodes, in the order the data
// layer reported them. A non-empty capability restricts the result to
// reachable nodes advertising it.
func (b *Bridge) Nodes(ctx context.Context, capability string) ([]string, error) {
	nodes, err := b.nearbyNodes(ctx, capability)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids, nil
}

func (b *Bridge) nearbyNodes(ctx context.Context, capability string) ([]proto.Node, error) {
	var nodes []proto.Node
	if capability == "" {
		connected, err := b.layer.ConnectedNodes(ctx)
		if err != nil {
			return nil, fmt.Errorf("connected nodes: %w", err)
		}
		nodes = connected
	} else {
		info, err := b.layer.GetCapability(ctx, capability, proto.FilterReachable)
		if err != nil {
			return nil, fmt.Errorf("capability %q: %w", capability, err)
		}
		nodes = info.Nodes
	}

	nearby := make([]proto.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.IsNearby {
			nearby = append(nearby, n)
		}
	}
	return nearby, nil
}

// authority resolves the node whose items a read addresses.
func (b *Bridge) authority(ctx context.Context, opts []ReadOption) (string, error) {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	switch {
	case o.node != "":
		return o.node, nil
	case o.locally:
		local, err := b.layer.LocalNode(ctx)
		if err != nil {
			return "", fmt.Errorf("local node: %w", err)
		}
		return local.ID, nil
	}

	nodes, err := b.nearbyNodes(ctx, "")
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", ErrNoReachableNode
	}
	target := b.readTarget.pick(nodes)
	b.logger.Debug("Resolved read target", "node", target.ID, "policy", b.readTarget.String())
	return target.ID, nil
}
