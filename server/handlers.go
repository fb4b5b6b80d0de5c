package server

import (
	"log/slog"

	"github.com/mbocsi/wearbridge/proto"
)

// Handle dispatches one frame received from client. Every request frame
// is answered with a response frame carrying the same id.
func (c *Coordinator) Handle(client Client, msg proto.Message) {
	meta := client.Meta()
	meta.touch()

	if msg.Type == proto.TypeIdentify {
		c.handleIdentify(client, msg)
		return
	}
	if !meta.IsIdentified() {
		c.fail(client, msg, proto.Errorf(proto.CodeNotIdentified, "identify before sending %s", msg.Type))
		return
	}
	msg.Sender = meta.ID()

	switch msg.Type {
	case proto.TypeSendMessage:
		c.handleSendMessage(client, msg)
	case proto.TypePutData:
		c.handlePutData(client, msg)
	case proto.TypeGetData:
		c.handleGetData(client, msg)
	case proto.TypeListData:
		c.handleListData(client, msg)
	case proto.TypeDeleteData:
		c.handleDeleteData(client, msg)
	case proto.TypeGetAsset:
		c.handleGetAsset(client, msg)
	case proto.TypeListNodes:
		c.respond(client, msg, proto.NodesPayload{Nodes: c.Registery.Nodes(msg.Sender)})
	case proto.TypeLocalNode:
		c.respond(client, msg, proto.NodePayload{Node: meta.Node()})
	case proto.TypeGetCapability:
		c.handleGetCapability(client, msg)
	case proto.TypeAddCapability, proto.TypeRemoveCapability:
		c.handleCapabilityAdvert(client, msg)
	case proto.TypeSubscribeCapability, proto.TypeUnsubscribeCapability:
		c.handleCapabilitySubscription(client, msg)
	default:
		slog.Warn("Unhandled message type", "type", msg.Type, "sender", msg.Sender)
		c.fail(client, msg, proto.Errorf(proto.CodeUnsupportedType, "unsupported message type %q", msg.Type))
	}
}

func (c *Coordinator) respond(client Client, req proto.Message, payload any) {
	resp, err := proto.NewMessage(proto.TypeResponse, payload)
	if err != nil {
		c.fail(client, req, err)
		return
	}
	resp.ID = req.ID
	resp.Path = req.Path
	if err := client.Send(resp); err != nil {
		slog.Warn("Failed to send response", "type", req.Type, "to", client.Meta().ID(), "error", err)
	}
}

func (c *Coordinator) fail(client Client, req proto.Message, err error) {
	resp, _ := proto.NewMessage(proto.TypeResponse, nil)
	resp.ID = req.ID
	resp.Path = req.Path
	resp.Error = proto.AsError(err)
	slog.Debug("Request failed", "type", req.Type, "sender", req.Sender, "code", resp.Error.Code, "error", resp.Error.Message)
	if err := client.Send(resp); err != nil {
		slog.Warn("Failed to send error response", "type", req.Type, "to", client.Meta().ID(), "error", err)
	}
}

func (c *Coordinator) ack(client Client, payload proto.IdAckPayload) {
	msg, err := proto.NewMessage(proto.TypeIdentifyAck, payload)
	if err != nil {
		slog.Error("Failed to build identify_ack", "error", err)
		return
	}
	if err := client.Send(msg); err != nil {
		slog.Warn("Failed to send identify_ack", "to", client.Meta().ID(), "error", err)
	}
}

// ---------- identify ---------- //

func (c *Coordinator) handleIdentify(client Client, msg proto.Message) {
	meta := client.Meta()
	if meta.IsIdentified() {
		slog.Warn("Node identified twice", "id", meta.ID())
		c.ack(client, proto.IdAckPayload{AssignedId: meta.ID(), Status: "ok", Node: meta.Node()})
		return
	}

	var p proto.IdentifyPayload
	if err := msg.DecodePayload(&p); err != nil {
		slog.Warn("Invalid identify payload", "conn", meta.ID(), "error", err)
		c.ack(client, proto.IdAckPayload{Status: "invalid payload"})
		return
	}
	for _, name := range p.Capabilities {
		if err := proto.ValidateCapabilityName(name); err != nil {
			c.ack(client, proto.IdAckPayload{Status: err.Error()})
			return
		}
	}

	id := c.Registery.Identify(client, p.ProposedName, p.ProposedName, p.Firmware, p.Relayed)
	for _, name := range p.Capabilities {
		c.Registery.AddCapability(id, name)
	}
	c.ack(client, proto.IdAckPayload{AssignedId: id, Status: "ok", Node: meta.Node()})
	slog.Info("Node identified", "id", id, "firmware", p.Firmware, "relayed", p.Relayed, "capabilities", len(p.Capabilities))

	for _, name := range p.Capabilities {
		c.publishCapabilityChanged(name)
	}
}

// ---------- messages ---------- //

func (c *Coordinator) handleSendMessage(client Client, msg proto.Message) {
	if err := proto.ValidatePath(msg.Path); err != nil {
		c.fail(client, msg, err)
		return
	}
	target, ok := c.Registery.Get(msg.Recipient)
	if !ok || !target.Meta().IsIdentified() {
		c.fail(client, msg, proto.Errorf(proto.CodeNotFound, "node %q is not connected", msg.Recipient))
		return
	}

	forward := proto.Message{
		Type:      proto.TypeMessage,
		ID:        msg.ID,
		Path:      msg.Path,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Payload:   msg.Payload,
		Timestamp: msg.Timestamp,
	}
	if err := target.Send(forward); err != nil {
		c.fail(client, msg, proto.Errorf(proto.CodeUnavailable, "deliver to %s: %v", msg.Recipient, err))
		return
	}
	slog.Debug("Message routed", "path", msg.Path, "sender", msg.Sender, "recipient", msg.Recipient, "size", len(msg.Payload))
	c.respond(client, msg, proto.SendResultPayload{RequestID: msg.ID})
}

// ---------- data items ---------- //

func (c *Coordinator) handlePutData(client Client, msg proto.Message) {
	var p proto.PutDataPayload
	if err := msg.DecodePayload(&p); err != nil {
		c.fail(client, msg, err)
		return
	}
	item, err := c.Store.Put(msg.Sender, p.Path, p.Envelope, p.Assets)
	if err != nil {
		c.fail(client, msg, err)
		return
	}
	slog.Debug("Data item stored", "uri", item.URI.String(), "seq", item.Seq, "assets", len(p.Assets))
	c.respond(client, msg, proto.EncodeDataItem(item))
	c.broadcastDataEvents(msg.Sender, []proto.DataEvent{{Type: proto.DataChanged, Item: item}})
}

func (c *Coordinator) handleGetData(client Client, msg proto.Message) {
	uri, err := decodeURI(msg)
	if err != nil {
		c.fail(client, msg, err)
		return
	}
	if uri.Authority == "" || uri.Path == "" {
		c.fail(client, msg, proto.Errorf(proto.CodeInvalidInput, "get_data needs a full uri, got %s", uri))
		return
	}
	item, err := c.Store.Get(uri)
	if err != nil {
		c.fail(client, msg, err)
		return
	}
	c.respond(client, msg, proto.EncodeDataItem(item))
}

func (c *Coordinator) handleListData(client Client, msg proto.Message) {
	filter, err := decodeURI(msg)
	if err != nil {
		c.fail(client, msg, err)
		return
	}
	items := c.Store.List(filter)
	payload := proto.DataItemsPayload{Items: make([]proto.DataItemPayload, 0, len(items))}
	for _, item := range items {
		payload.Items = append(payload.Items, proto.EncodeDataItem(item))
	}
	c.respond(client, msg, payload)
}

// handleDeleteData only ever deletes the sender's own items.
func (c *Coordinator) handleDeleteData(client Client, msg proto.Message) {
	filter, err := decodeURI(msg)
	if err != nil {
		c.fail(client, msg, err)
		return
	}
	filter.Authority = msg.Sender
	deleted := c.Store.Delete(filter)
	c.respond(client, msg, proto.DeletePayload{Deleted: len(deleted)})

	if len(deleted) == 0 {
		return
	}
	events := make([]proto.DataEvent, 0, len(deleted))
	for _, item := range deleted {
		events = append(events, proto.DataEvent{Type: proto.DataDeleted, Item: proto.DataItem{URI: item.URI, Seq: item.Seq}})
	}
	c.broadcastDataEvents(msg.Sender, events)
}

func (c *Coordinator) handleGetAsset(client Client, msg proto.Message) {
	var p proto.AssetRequestPayload
	if err := msg.DecodePayload(&p); err != nil {
		c.fail(client, msg, err)
		return
	}
	data, ok := c.Store.Asset(p.Digest)
	if !ok {
		c.fail(client, msg, proto.Errorf(proto.CodeNotFound, "no asset %s", p.Digest))
		return
	}
	c.respond(client, msg, proto.AssetPayload{Digest: p.Digest, Data: data})
}

// broadcastDataEvents replicates a change to every identified node,
// the writer included, and to observers of TopicData.
func (c *Coordinator) broadcastDataEvents(sender string, events []proto.DataEvent) {
	payload := proto.DataChangedPayload{Events: make([]proto.DataEventPayload, 0, len(events))}
	for _, ev := range events {
		payload.Events = append(payload.Events, proto.DataEventPayload{Type: ev.Type, Item: proto.EncodeDataItem(ev.Item)})
	}
	msg, err := proto.NewMessage(proto.TypeDataChanged, payload)
	if err != nil {
		slog.Error("Failed to build data_changed", "error", err)
		return
	}
	msg.Sender = sender

	sent := 0
	for _, node := range c.Registery.List() {
		if !node.Meta().IsIdentified() {
			continue
		}
		if err := node.Send(msg); err != nil {
			slog.Warn("Failed to replicate data change", "to", node.Meta().ID(), "error", err)
			continue
		}
		sent++
	}
	c.Broker.Publish(TopicData, msg)
	slog.Debug("Data change replicated", "sender", sender, "events", len(events), "nodes", sent)
}

func decodeURI(msg proto.Message) (proto.URI, error) {
	var p proto.URIPayload
	if err := msg.DecodePayload(&p); err != nil {
		return proto.URI{}, err
	}
	return proto.ParseURI(p.URI)
}

// ---------- capabilities ---------- //

func decodeCapabilityRequest(msg proto.Message) (proto.CapabilityRequestPayload, error) {
	var p proto.CapabilityRequestPayload
	if err := msg.DecodePayload(&p); err != nil {
		return p, err
	}
	return p, proto.ValidateCapabilityName(p.Name)
}

func (c *Coordinator) handleGetCapability(client Client, msg proto.Message) {
	p, err := decodeCapabilityRequest(msg)
	if err != nil {
		c.fail(client, msg, err)
		return
	}
	info := proto.CapabilityInfo{Name: p.Name, Nodes: make([]proto.Node, 0)}
	for _, n := range c.Registery.CapabilityNodes(p.Name, p.Filter) {
		if n.ID != msg.Sender {
			info.Nodes = append(info.Nodes, n)
		}
	}
	c.respond(client, msg, info)
}

func (c *Coordinator) handleCapabilityAdvert(client Client, msg proto.Message) {
	p, err := decodeCapabilityRequest(msg)
	if err != nil {
		c.fail(client, msg, err)
		return
	}
	var changed bool
	if msg.Type == proto.TypeAddCapability {
		changed = c.Registery.AddCapability(msg.Sender, p.Name)
	} else {
		changed = c.Registery.RemoveCapability(msg.Sender, p.Name)
	}
	c.respond(client, msg, nil)
	if changed {
		slog.Info("Capability changed", "capability", p.Name, "node", msg.Sender, "op", msg.Type)
		c.publishCapabilityChanged(p.Name)
	}
}

func (c *Coordinator) handleCapabilitySubscription(client Client, msg proto.Message) {
	p, err := decodeCapabilityRequest(msg)
	if err != nil {
		c.fail(client, msg, err)
		return
	}
	if msg.Type == proto.TypeSubscribeCapability {
		c.Broker.Subscribe(p.Name, client)
	} else {
		c.Broker.Unsubscribe(p.Name, client)
	}
	c.respond(client, msg, nil)
}

func (c *Coordinator) publishCapabilityChanged(name string) {
	info := proto.CapabilityInfo{Name: name, Nodes: c.Registery.CapabilityNodes(name, proto.FilterReachable)}
	msg, err := proto.NewMessage(proto.TypeCapabilityChanged, info)
	if err != nil {
		slog.Error("Failed to build capability_changed", "error", err)
		return
	}
	c.Broker.Publish(name, msg)
	c.Broker.Publish(TopicCapability, msg)
}
