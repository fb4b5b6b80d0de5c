package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/wearbridge/proto"
)

// fakeHub answers frames on the far end of a net.Pipe.
type fakeHub struct {
	t      *testing.T
	conn   net.Conn
	mu     sync.Mutex
	frames []proto.Message
	handle func(msg proto.Message) []proto.Message
}

func newPipeClient(t *testing.T, handle func(msg proto.Message) []proto.Message, opts ...Option) (*Client, *fakeHub) {
	t.Helper()
	clientConn, hubConn := net.Pipe()
	hub := &fakeHub{t: t, conn: hubConn, handle: handle}
	go hub.serve()

	transport := NewTCPTransportWithDialer(func(addr string) (net.Conn, error) {
		return clientConn, nil
	})
	c := NewClient("watch", transport, opts...)
	if err := c.Start(context.Background(), "pipe"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, hub
}

func (h *fakeHub) serve() {
	scanner := bufio.NewScanner(h.conn)
	for scanner.Scan() {
		var msg proto.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return
		}
		h.mu.Lock()
		h.frames = append(h.frames, msg)
		h.mu.Unlock()

		var replies []proto.Message
		if msg.Type == proto.TypeIdentify {
			ack, _ := proto.NewMessage(proto.TypeIdentifyAck, proto.IdAckPayload{AssignedId: "node-1", Status: "ok"})
			replies = []proto.Message{ack}
		} else if h.handle != nil {
			replies = h.handle(msg)
		}
		for _, r := range replies {
			if err := h.push(r); err != nil {
				return
			}
		}
	}
}

func (h *fakeHub) push(msg proto.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = h.conn.Write(append(data, '\n'))
	return err
}

func (h *fakeHub) received(msgType string) []proto.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []proto.Message
	for _, m := range h.frames {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func respond(req proto.Message, payload any) []proto.Message {
	resp, _ := proto.NewMessage(proto.TypeResponse, payload)
	resp.ID = req.ID
	return []proto.Message{resp}
}

func respondError(req proto.Message, err *proto.Error) []proto.Message {
	resp, _ := proto.NewMessage(proto.TypeResponse, nil)
	resp.ID = req.ID
	resp.Error = err
	return []proto.Message{resp}
}

// MockListener records pushes.
type MockListener struct {
	messages     chan proto.MessageEvent
	data         chan []proto.DataEvent
	capabilities chan proto.CapabilityInfo
	release      bool
}

func NewMockListener(release bool) *MockListener {
	return &MockListener{
		messages:     make(chan proto.MessageEvent, 8),
		data:         make(chan []proto.DataEvent, 8),
		capabilities: make(chan proto.CapabilityInfo, 8),
		release:      release,
	}
}

func (m *MockListener) OnMessageReceived(ev proto.MessageEvent) { m.messages <- ev }
func (m *MockListener) OnDataChanged(buf *proto.DataEventBuffer) {
	m.data <- buf.Events()
	if m.release {
		buf.Release()
	}
}
func (m *MockListener) OnCapabilityChanged(info proto.CapabilityInfo) { m.capabilities <- info }

func TestClient_StartIdentifies(t *testing.T) {
	c, hub := newPipeClient(t, nil, WithCapabilities("watch_app"), WithRelayed(true))

	if c.Id() != "node-1" {
		t.Errorf("Expected assigned id node-1, got %q", c.Id())
	}
	if !c.Connected() {
		t.Error("Expected client to be connected")
	}
	ids := hub.received(proto.TypeIdentify)
	if len(ids) != 1 {
		t.Fatalf("Expected 1 identify frame, got %d", len(ids))
	}
	var p proto.IdentifyPayload
	if err := ids[0].DecodePayload(&p); err != nil {
		t.Fatalf("Failed to decode identify: %v", err)
	}
	if p.ProposedName != "watch" || !p.Relayed || len(p.Capabilities) != 1 || p.Capabilities[0] != "watch_app" {
		t.Errorf("Unexpected identify payload %+v", p)
	}
}

func TestClient_RequestCorrelation(t *testing.T) {
	c, _ := newPipeClient(t, func(msg proto.Message) []proto.Message {
		switch msg.Type {
		case proto.TypeListNodes:
			return respond(msg, proto.NodesPayload{Nodes: []proto.Node{{ID: "phone", IsNearby: true}}})
		case proto.TypeLocalNode:
			return respond(msg, proto.NodePayload{Node: proto.Node{ID: "node-1"}})
		}
		return nil
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			nodes, err := c.ConnectedNodes(ctx)
			if err != nil || len(nodes) != 1 || nodes[0].ID != "phone" {
				t.Errorf("Unexpected ConnectedNodes result %v, %v", nodes, err)
			}
		}()
		go func() {
			defer wg.Done()
			local, err := c.LocalNode(ctx)
			if err != nil || local.ID != "node-1" {
				t.Errorf("Unexpected LocalNode result %v, %v", local, err)
			}
		}()
	}
	wg.Wait()
}

func TestClient_ErrorResponse(t *testing.T) {
	c, _ := newPipeClient(t, func(msg proto.Message) []proto.Message {
		return respondError(msg, proto.Errorf(proto.CodeNotFound, "no item"))
	})

	_, err := c.GetDataItem(context.Background(), proto.URI{Authority: "x", Path: "/data"})
	if !errors.Is(err, proto.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestClient_RequestTimeout(t *testing.T) {
	c, _ := newPipeClient(t, nil, WithRequestTimeout(20*time.Millisecond))

	_, err := c.ConnectedNodes(context.Background())
	if !errors.Is(err, proto.ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestClient_RequestAfterDisconnect(t *testing.T) {
	c, hub := newPipeClient(t, nil)
	hub.conn.Close()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected read loop to end")
	}
	if _, err := c.ConnectedNodes(context.Background()); !errors.Is(err, proto.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestClient_SendMessageFrame(t *testing.T) {
	c, hub := newPipeClient(t, func(msg proto.Message) []proto.Message {
		return respond(msg, proto.SendResultPayload{RequestID: msg.ID})
	})

	id, err := c.SendMessage(context.Background(), "phone", "/message", []byte{1, 2})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	sent := hub.received(proto.TypeSendMessage)
	if len(sent) != 1 {
		t.Fatalf("Expected 1 send_message frame, got %d", len(sent))
	}
	if sent[0].Recipient != "phone" || sent[0].Path != "/message" || sent[0].ID != id {
		t.Errorf("Unexpected frame %+v (request id %s)", sent[0], id)
	}
}

func TestClient_PushesReachListeners(t *testing.T) {
	c, hub := newPipeClient(t, func(msg proto.Message) []proto.Message {
		return respond(msg, nil)
	})
	listener := NewMockListener(false)
	c.AddListener(listener)
	if err := c.AddCapabilityListener(context.Background(), listener, "phone_app"); err != nil {
		t.Fatalf("AddCapabilityListener failed: %v", err)
	}

	push, _ := proto.NewMessage(proto.TypeMessage, proto.MessagePayload{Data: []byte("hi")})
	push.Path = "/message"
	push.Sender = "phone"
	hub.push(push)

	select {
	case ev := <-listener.messages:
		if ev.Path != "/message" || ev.SourceNodeID != "phone" || string(ev.Data) != "hi" {
			t.Errorf("Unexpected message event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected message push")
	}

	env, _ := proto.WrapItem(proto.NewDataMap().PutString("k", "v")).Bytes()
	changed, _ := proto.NewMessage(proto.TypeDataChanged, proto.DataChangedPayload{Events: []proto.DataEventPayload{{
		Type: proto.DataChanged,
		Item: proto.DataItemPayload{URI: "wear://phone/data", Data: env, Seq: 1},
	}}})
	hub.push(changed)

	select {
	case events := <-listener.data:
		if len(events) != 1 || events[0].Item.URI.Path != "/data" {
			t.Errorf("Unexpected data events %+v", events)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected data push")
	}

	capChanged, _ := proto.NewMessage(proto.TypeCapabilityChanged, proto.CapabilityInfo{Name: "phone_app"})
	hub.push(capChanged)
	select {
	case info := <-listener.capabilities:
		if info.Name != "phone_app" {
			t.Errorf("Expected phone_app, got %s", info.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected capability push")
	}

	if n := len(hub.received(proto.TypeSubscribeCapability)); n != 1 {
		t.Errorf("Expected 1 subscribe_capability frame, got %d", n)
	}
}

func TestClient_OpenAssetVerifiesDigest(t *testing.T) {
	good := []byte("png bytes")
	c, _ := newPipeClient(t, func(msg proto.Message) []proto.Message {
		var req proto.AssetRequestPayload
		msg.DecodePayload(&req)
		if req.Digest == proto.Digest(good) {
			return respond(msg, proto.AssetPayload{Digest: req.Digest, Data: good})
		}
		return respond(msg, proto.AssetPayload{Digest: req.Digest, Data: []byte("tampered")})
	})
	ctx := context.Background()

	rc, err := c.OpenAsset(ctx, proto.AssetFromDigest(proto.Digest(good)))
	if err != nil {
		t.Fatalf("OpenAsset failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != string(good) {
		t.Errorf("Expected %q, got %q", good, data)
	}

	if _, err := c.OpenAsset(ctx, proto.AssetFromDigest(proto.Digest([]byte("other")))); !errors.Is(err, proto.ErrMalformed) {
		t.Errorf("Expected ErrMalformed for digest mismatch, got %v", err)
	}
}

func TestClient_RequestBeforeStart(t *testing.T) {
	c := NewClient("watch", NewTCPTransport())
	if _, err := c.LocalNode(context.Background()); !errors.Is(err, proto.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}
