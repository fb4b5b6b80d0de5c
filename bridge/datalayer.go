package bridge

import (
	"context"
	"io"

	"github.com/mbocsi/wearbridge/proto"
)

// DataLayer is the node-side data layer client the Bridge sits on.
// client.Client implements it against a hub.
//
// Listener registration is not deduplicated: adding the same listener
// twice delivers every push twice. The Bridge refcounts its own
// registrations to avoid that.
type DataLayer interface {
	// ConnectedNodes lists the other nodes currently connected.
	ConnectedNodes(ctx context.Context) ([]proto.Node, error)
	GetCapability(ctx context.Context, name string, filter proto.CapabilityFilter) (proto.CapabilityInfo, error)
	LocalNode(ctx context.Context) (proto.Node, error)

	// SendMessage delivers data to one node and returns the request id.
	SendMessage(ctx context.Context, nodeID, path string, data []byte) (string, error)

	// PutDataItem stores the request under the local node's authority.
	PutDataItem(ctx context.Context, req *proto.PutDataRequest) (proto.DataItem, error)
	// GetDataItem returns proto.ErrNotFound when nothing is stored at uri.
	GetDataItem(ctx context.Context, uri proto.URI) (proto.DataItem, error)
	// GetDataItems returns every item matching filter; the zero URI
	// matches everything.
	GetDataItems(ctx context.Context, filter proto.URI) ([]proto.DataItem, error)
	// DeleteDataItems deletes the local node's items at filter.Path.
	DeleteDataItems(ctx context.Context, filter proto.URI) (int, error)
	OpenAsset(ctx context.Context, asset proto.Asset) (io.ReadCloser, error)

	AddListener(l proto.Listener)
	RemoveListener(l proto.Listener)
	AddCapabilityListener(ctx context.Context, l proto.CapabilityListener, name string) error
	RemoveCapabilityListener(ctx context.Context, l proto.CapabilityListener, name string) error
}
