package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/mbocsi/wearbridge/proto"
)

func (c *Client) ConnectedNodes(ctx context.Context) ([]proto.Node, error) {
	msg, err := proto.NewMessage(proto.TypeListNodes, nil)
	if err != nil {
		return nil, err
	}
	var resp proto.NodesPayload
	if err := c.request(ctx, msg, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

func (c *Client) GetCapability(ctx context.Context, name string, filter proto.CapabilityFilter) (proto.CapabilityInfo, error) {
	msg, err := proto.NewMessage(proto.TypeGetCapability, proto.CapabilityRequestPayload{Name: name, Filter: filter})
	if err != nil {
		return proto.CapabilityInfo{}, err
	}
	var info proto.CapabilityInfo
	if err := c.request(ctx, msg, &info); err != nil {
		return proto.CapabilityInfo{}, err
	}
	return info, nil
}

func (c *Client) LocalNode(ctx context.Context) (proto.Node, error) {
	msg, err := proto.NewMessage(proto.TypeLocalNode, nil)
	if err != nil {
		return proto.Node{}, err
	}
	var resp proto.NodePayload
	if err := c.request(ctx, msg, &resp); err != nil {
		return proto.Node{}, err
	}
	return resp.Node, nil
}

func (c *Client) SendMessage(ctx context.Context, nodeID, path string, data []byte) (string, error) {
	msg, err := proto.NewMessage(proto.TypeSendMessage, proto.MessagePayload{Data: data})
	if err != nil {
		return "", err
	}
	msg.Path = path
	msg.Recipient = nodeID
	var resp proto.SendResultPayload
	if err := c.request(ctx, msg, &resp); err != nil {
		return "", err
	}
	return resp.RequestID, nil
}

func (c *Client) PutDataItem(ctx context.Context, req *proto.PutDataRequest) (proto.DataItem, error) {
	env, err := req.Envelope.Bytes()
	if err != nil {
		return proto.DataItem{}, err
	}
	payload := proto.PutDataPayload{Path: req.Path, Envelope: env}
	for _, a := range req.Envelope.Assets() {
		if !a.HasData() {
			continue
		}
		if payload.Assets == nil {
			payload.Assets = make(map[string][]byte)
		}
		payload.Assets[a.Digest] = a.Data()
	}

	msg, err := proto.NewMessage(proto.TypePutData, payload)
	if err != nil {
		return proto.DataItem{}, err
	}
	msg.Path = req.Path
	var resp proto.DataItemPayload
	if err := c.request(ctx, msg, &resp); err != nil {
		return proto.DataItem{}, err
	}
	return proto.DecodeDataItem(resp)
}

func (c *Client) GetDataItem(ctx context.Context, uri proto.URI) (proto.DataItem, error) {
	msg, err := proto.NewMessage(proto.TypeGetData, proto.URIPayload{URI: uri.String()})
	if err != nil {
		return proto.DataItem{}, err
	}
	var resp proto.DataItemPayload
	if err := c.request(ctx, msg, &resp); err != nil {
		return proto.DataItem{}, err
	}
	return proto.DecodeDataItem(resp)
}

func (c *Client) GetDataItems(ctx context.Context, filter proto.URI) ([]proto.DataItem, error) {
	msg, err := proto.NewMessage(proto.TypeListData, proto.URIPayload{URI: filter.String()})
	if err != nil {
		return nil, err
	}
	var resp proto.DataItemsPayload
	if err := c.request(ctx, msg, &resp); err != nil {
		return nil, err
	}
	return proto.DecodeDataItems(resp.Items)
}

func (c *Client) DeleteDataItems(ctx context.Context, filter proto.URI) (int, error) {
	msg, err := proto.NewMessage(proto.TypeDeleteData, proto.URIPayload{URI: filter.String()})
	if err != nil {
		return 0, err
	}
	var resp proto.DeletePayload
	if err := c.request(ctx, msg, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// OpenAsset returns the asset bytes, fetching them from the hub when the
// asset only carries its digest. Fetched bytes are checked against it.
func (c *Client) OpenAsset(ctx context.Context, asset proto.Asset) (io.ReadCloser, error) {
	if asset.HasData() {
		return io.NopCloser(bytes.NewReader(asset.Data())), nil
	}
	msg, err := proto.NewMessage(proto.TypeGetAsset, proto.AssetRequestPayload{Digest: asset.Digest})
	if err != nil {
		return nil, err
	}
	var resp proto.AssetPayload
	if err := c.request(ctx, msg, &resp); err != nil {
		return nil, err
	}
	if !asset.Verify(resp.Data) {
		return nil, fmt.Errorf("%w: asset %s failed digest check", proto.ErrMalformed, asset.Digest)
	}
	return io.NopCloser(bytes.NewReader(resp.Data)), nil
}

// AddListener registers l for message and data pushes. Registering the
// same listener twice delivers every push to it twice.
func (c *Client) AddListener(l proto.Listener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listeners = append(c.listeners, l)
}

// RemoveListener removes one registration of l.
func (c *Client) RemoveListener(l proto.Listener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// AddCapabilityListener registers l for changes of capability name. The
// hub subscription is made for the first listener of a name.
func (c *Client) AddCapabilityListener(ctx context.Context, l proto.CapabilityListener, name string) error {
	if err := proto.ValidateCapabilityName(name); err != nil {
		return err
	}
	c.listenerMu.Lock()
	first := len(c.capListeners[name]) == 0
	c.capListeners[name] = append(c.capListeners[name], l)
	c.listenerMu.Unlock()

	if !first {
		return nil
	}
	if err := c.capabilitySubscription(ctx, proto.TypeSubscribeCapability, name); err != nil {
		c.dropCapabilityListener(l, name)
		return err
	}
	return nil
}

func (c *Client) RemoveCapabilityListener(ctx context.Context, l proto.CapabilityListener, name string) error {
	if last := c.dropCapabilityListener(l, name); !last {
		return nil
	}
	return c.capabilitySubscription(ctx, proto.TypeUnsubscribeCapability, name)
}

// dropCapabilityListener removes one registration of l and reports
// whether name has no listeners left.
func (c *Client) dropCapabilityListener(l proto.CapabilityListener, name string) bool {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	ls := c.capListeners[name]
	for i, existing := range ls {
		if existing == l {
			ls = append(ls[:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(c.capListeners, name)
		return true
	}
	c.capListeners[name] = ls
	return false
}

func (c *Client) capabilitySubscription(ctx context.Context, msgType, name string) error {
	msg, err := proto.NewMessage(msgType, proto.CapabilityRequestPayload{Name: name})
	if err != nil {
		return err
	}
	return c.request(ctx, msg, nil)
}

func (c *Client) snapshotListeners() []proto.Listener {
	c.listenerMu.RLock()
	defer c.listenerMu.RUnlock()
	return append([]proto.Listener(nil), c.listeners...)
}

func (c *Client) handleMessage(msg proto.Message) {
	var payload proto.MessagePayload
	if len(msg.Payload) > 0 {
		if err := msg.DecodePayload(&payload); err != nil {
			c.logger.Warn("Invalid message payload", "error", err)
			return
		}
	}
	ev := proto.MessageEvent{
		RequestID:    msg.ID,
		Path:         msg.Path,
		SourceNodeID: msg.Sender,
		Data:         payload.Data,
	}
	for _, l := range c.snapshotListeners() {
		l.OnMessageReceived(ev)
	}
}

func (c *Client) handleDataChanged(msg proto.Message) {
	var payload proto.DataChangedPayload
	if err := msg.DecodePayload(&payload); err != nil {
		c.logger.Warn("Invalid data_changed payload", "error", err)
		return
	}
	events := make([]proto.DataEvent, 0, len(payload.Events))
	for _, p := range payload.Events {
		item, err := proto.DecodeDataItem(p.Item)
		if err != nil {
			c.logger.Warn("Skipping data event with invalid uri", "uri", p.Item.URI, "error", err)
			continue
		}
		events = append(events, proto.DataEvent{Type: p.Type, Item: item})
	}

	for _, l := range c.snapshotListeners() {
		buf := proto.NewDataEventBuffer(slices.Clone(events), func() {
			c.logger.Debug("Data event buffer released", "events", len(events))
		})
		l.OnDataChanged(buf)
		if !buf.Released() {
			c.logger.Warn("Listener did not release data event buffer", "events", len(events))
			buf.Release()
		}
	}
}

func (c *Client) handleCapabilityChanged(msg proto.Message) {
	var info proto.CapabilityInfo
	if err := msg.DecodePayload(&info); err != nil {
		c.logger.Warn("Invalid capability_changed payload", "error", err)
		return
	}
	c.listenerMu.RLock()
	ls := append([]proto.CapabilityListener(nil), c.capListeners[info.Name]...)
	c.listenerMu.RUnlock()
	for _, l := range ls {
		l.OnCapabilityChanged(info)
	}
}
