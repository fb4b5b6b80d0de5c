package bridge

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/mbocsi/wearbridge/proto"
)

// SyncBitmap encodes img as PNG and stores it as an asset under key
// assetName, at path/assetName.
func (b *Bridge) SyncBitmap(ctx context.Context, path, assetName string, img image.Image) (proto.DataItem, error) {
	if err := checkAssetName(assetName); err != nil {
		return proto.DataItem{}, fmt.Errorf("sync bitmap: %w", err)
	}
	if err := proto.ValidatePath(path); err != nil {
		return proto.DataItem{}, fmt.Errorf("sync bitmap: %w", err)
	}
	asset, err := assetFromBitmap(img)
	if err != nil {
		return proto.DataItem{}, fmt.Errorf("sync bitmap %s: %w", path, err)
	}
	m := proto.NewDataMap().PutAsset(assetName, asset)
	return b.put(ctx, proto.JoinPath(path, assetName), proto.WrapRaw(m))
}

// GetBitmap reads the bitmap stored by SyncBitmap. The read target rules
// of GetData apply.
func (b *Bridge) GetBitmap(ctx context.Context, path, assetName string, opts ...ReadOption) (image.Image, error) {
	if err := checkAssetName(assetName); err != nil {
		return nil, fmt.Errorf("get bitmap: %w", err)
	}
	if err := proto.ValidatePath(path); err != nil {
		return nil, fmt.Errorf("get bitmap: %w", err)
	}
	item, err := b.getItem(ctx, proto.JoinPath(path, assetName), opts)
	if err != nil {
		return nil, fmt.Errorf("get bitmap: %w", err)
	}
	m, err := item.DataMap()
	if err != nil {
		return nil, fmt.Errorf("get bitmap %s: %w", item.URI, err)
	}
	asset, ok := m.GetAsset(assetName)
	if !ok {
		return nil, fmt.Errorf("get bitmap %s: %w: no asset %q", item.URI, proto.ErrMalformed, assetName)
	}

	rc, err := b.layer.OpenAsset(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("get bitmap %s: open asset: %w", item.URI, err)
	}
	defer rc.Close()

	img, err := png.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("get bitmap %s: %w: %v", item.URI, proto.ErrMalformed, err)
	}
	return img, nil
}

func assetFromBitmap(img image.Image) (proto.Asset, error) {
	if img == nil {
		return proto.Asset{}, fmt.Errorf("%w: asset from bitmap is nil", proto.ErrMalformed)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return proto.Asset{}, fmt.Errorf("%w: encode png: %v", proto.ErrMalformed, err)
	}
	if buf.Len() == 0 {
		return proto.Asset{}, fmt.Errorf("%w: asset from bitmap is nil", proto.ErrMalformed)
	}
	return proto.NewAssetFromBytes(buf.Bytes()), nil
}

func checkAssetName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: asset name %q", proto.ErrInvalidPath, name)
	}
	if name == proto.ItemKey || name == proto.ArrayKey {
		return fmt.Errorf("%w: asset name %q", proto.ErrReservedKey, name)
	}
	return nil
}
