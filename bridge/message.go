package bridge

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mbocsi/wearbridge/proto"
)

// SendMessage sends payload to path on every nearby node, or every nearby
// node advertising capability when it is non-empty. Sends run
// concurrently; the first failure is returned. With no target nodes it
// succeeds without sending anything. A nil payload sends an empty map.
func (b *Bridge) SendMessage(ctx context.Context, path string, payload *proto.DataMap, capability string) error {
	if err := proto.ValidatePath(path); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if payload == nil {
		payload = proto.NewDataMap()
	}
	data, err := payload.Bytes()
	if err != nil {
		return fmt.Errorf("send message %s: %w", path, err)
	}

	nodes, err := b.Nodes(ctx, capability)
	if err != nil {
		return fmt.Errorf("send message %s: %w", path, err)
	}
	if len(nodes) == 0 {
		b.logger.Debug("No target nodes for message", "path", path, "capability", capability)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range nodes {
		g.Go(func() error {
			requestID, err := b.layer.SendMessage(gctx, id, path, data)
			if err != nil {
				return fmt.Errorf("send message %s to %s: %w", path, id, err)
			}
			b.logger.Debug("Message sent", "path", path, "node", id, "request_id", requestID)
			return nil
		})
	}
	return g.Wait()
}
