package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbocsi/wearbridge/proto"
)

// SyncData stores item at path under the local node. The previous value
// at path, if any, is replaced.
func (b *Bridge) SyncData(ctx context.Context, path string, item *proto.DataMap) (proto.DataItem, error) {
	if item == nil {
		item = proto.NewDataMap()
	}
	if err := proto.CheckReserved(item); err != nil {
		return proto.DataItem{}, fmt.Errorf("sync data %s: %w", path, err)
	}
	return b.put(ctx, path, proto.WrapItem(item))
}

// SyncDataArray stores items as one list at path. items must not be empty.
func (b *Bridge) SyncDataArray(ctx context.Context, path string, items []*proto.DataMap) (proto.DataItem, error) {
	if len(items) == 0 {
		return proto.DataItem{}, fmt.Errorf("sync data array %s: %w", path, proto.ErrEmptyArray)
	}
	for i, item := range items {
		if err := proto.CheckReserved(item); err != nil {
			return proto.DataItem{}, fmt.Errorf("sync data array %s[%d]: %w", path, i, err)
		}
	}
	return b.put(ctx, path, proto.WrapArray(items))
}

// SyncRawData stores m at path with no item or list wrapper.
func (b *Bridge) SyncRawData(ctx context.Context, path string, m *proto.DataMap) (proto.DataItem, error) {
	if m == nil {
		m = proto.NewDataMap()
	}
	if err := proto.CheckReserved(m); err != nil {
		return proto.DataItem{}, fmt.Errorf("sync raw data %s: %w", path, err)
	}
	return b.put(ctx, path, proto.WrapRaw(m))
}

func (b *Bridge) put(ctx context.Context, path string, env proto.Envelope) (proto.DataItem, error) {
	req, err := proto.NewPutDataRequest(path, env)
	if err != nil {
		return proto.DataItem{}, fmt.Errorf("put %s: %w", path, err)
	}
	item, err := b.layer.PutDataItem(ctx, req)
	if err != nil {
		return proto.DataItem{}, fmt.Errorf("put %s: %w", path, err)
	}
	b.logger.Debug("Data synced", "uri", item.URI.String(), "kind", env.Kind.String(), "seq", item.Seq)
	return item, nil
}

func (b *Bridge) getItem(ctx context.Context, path string, opts []ReadOption) (proto.DataItem, error) {
	if err := proto.ValidatePath(path); err != nil {
		return proto.DataItem{}, err
	}
	authority, err := b.authority(ctx, opts)
	if err != nil {
		return proto.DataItem{}, err
	}
	uri := proto.URI{Authority: authority, Path: path}
	item, err := b.layer.GetDataItem(ctx, uri)
	if err != nil {
		return proto.DataItem{}, fmt.Errorf("get %s: %w", uri, err)
	}
	return item, nil
}

// GetData reads the single item stored at path. It fails with
// proto.ErrNotFound when nothing is stored there and proto.ErrMalformed
// when the stored value is not a single item.
func (b *Bridge) GetData(ctx context.Context, path string, opts ...ReadOption) (*proto.DataMap, error) {
	item, err := b.getItem(ctx, path, opts)
	if err != nil {
		return nil, fmt.Errorf("get data: %w", err)
	}
	env, err := item.Envelope()
	if err != nil {
		return nil, fmt.Errorf("get data %s: %w", item.URI, err)
	}
	if env.Kind != proto.EnvelopeItem {
		return nil, fmt.Errorf("get data %s: %w: stored value is %s, not an item", item.URI, proto.ErrMalformed, env.Kind)
	}
	return env.Item, nil
}

// GetDataArray reads the list stored at path. A missing record, or one
// that is not a list, yields an empty slice.
func (b *Bridge) GetDataArray(ctx context.Context, path string, opts ...ReadOption) ([]*proto.DataMap, error) {
	item, err := b.getItem(ctx, path, opts)
	if errors.Is(err, proto.ErrNotFound) {
		return []*proto.DataMap{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get data array: %w", err)
	}
	env, err := item.Envelope()
	if err != nil {
		return nil, fmt.Errorf("get data array %s: %w", item.URI, err)
	}
	if env.Kind != proto.EnvelopeArray {
		return []*proto.DataMap{}, nil
	}
	return env.Items, nil
}

// GetAllData returns the flat map of every item at path across all
// nodes, or of every visible item when path is empty. No match is an
// empty slice, not an error.
func (b *Bridge) GetAllData(ctx context.Context, path string) ([]*proto.DataMap, error) {
	var filter proto.URI
	if path != "" {
		if err := proto.ValidatePath(path); err != nil {
			return nil, fmt.Errorf("get all data: %w", err)
		}
		filter.Path = path
	}

	items, err := b.layer.GetDataItems(ctx, filter)
	if errors.Is(err, proto.ErrNotFound) {
		return []*proto.DataMap{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get all data %q: %w", path, err)
	}

	maps := make([]*proto.DataMap, 0, len(items))
	for _, item := range items {
		m, err := item.DataMap()
		if err != nil {
			return nil, fmt.Errorf("get all data %s: %w", item.URI, err)
		}
		maps = append(maps, m)
	}
	return maps, nil
}

// DeleteData removes the local node's item at path and reports how many
// items were deleted.
func (b *Bridge) DeleteData(ctx context.Context, path string) (int, error) {
	if err := proto.ValidatePath(path); err != nil {
		return 0, fmt.Errorf("delete data: %w", err)
	}
	n, err := b.layer.DeleteDataItems(ctx, proto.URI{Path: path})
	if err != nil {
		return 0, fmt.Errorf("delete data %s: %w", path, err)
	}
	return n, nil
}
