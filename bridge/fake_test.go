package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/mbocsi/wearbridge/proto"
)

type sentMessage struct {
	NodeID string
	Path   string
	Data   []byte
}

// fakeLayer is an in-memory DataLayer. Pushes are delivered by the test
// through the registered listeners.
type fakeLayer struct {
	mu sync.Mutex

	local        proto.Node
	nodes        []proto.Node
	nodesErr     error
	capabilities map[string][]proto.Node
	sendErr      map[string]error

	items  map[proto.URI]proto.DataItem
	assets map[string][]byte
	seq    uint64

	sent         []sentMessage
	listeners    []proto.Listener
	capListeners map[string][]proto.CapabilityListener
	capAddErr    map[string]error
	openedAssets int
	closedAssets int
}

func newFakeLayer(localID string, nodes ...proto.Node) *fakeLayer {
	return &fakeLayer{
		local:        proto.Node{ID: localID, DisplayName: localID, IsNearby: true},
		nodes:        nodes,
		capabilities: make(map[string][]proto.Node),
		sendErr:      make(map[string]error),
		items:        make(map[proto.URI]proto.DataItem),
		assets:       make(map[string][]byte),
		capListeners: make(map[string][]proto.CapabilityListener),
		capAddErr:    make(map[string]error),
	}
}

func (f *fakeLayer) ConnectedNodes(ctx context.Context) ([]proto.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nodesErr != nil {
		return nil, f.nodesErr
	}
	return append([]proto.Node(nil), f.nodes...), nil
}

func (f *fakeLayer) GetCapability(ctx context.Context, name string, filter proto.CapabilityFilter) (proto.CapabilityInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nodesErr != nil {
		return proto.CapabilityInfo{}, f.nodesErr
	}
	return proto.CapabilityInfo{Name: name, Nodes: append([]proto.Node(nil), f.capabilities[name]...)}, nil
}

func (f *fakeLayer) LocalNode(ctx context.Context) (proto.Node, error) {
	return f.local, nil
}

func (f *fakeLayer) SendMessage(ctx context.Context, nodeID, path string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[nodeID]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, sentMessage{NodeID: nodeID, Path: path, Data: data})
	return fmt.Sprintf("req-%d", len(f.sent)), nil
}

func (f *fakeLayer) PutDataItem(ctx context.Context, req *proto.PutDataRequest) (proto.DataItem, error) {
	data, err := req.Envelope.Bytes()
	if err != nil {
		return proto.DataItem{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range req.Envelope.Assets() {
		if a.HasData() {
			f.assets[a.Digest] = a.Data()
		}
	}
	f.seq++
	item := proto.DataItem{URI: proto.URI{Authority: f.local.ID, Path: req.Path}, Data: data, Seq: f.seq}
	f.items[item.URI] = item
	return item, nil
}

// store puts env directly under authority, bypassing the local node.
func (f *fakeLayer) store(authority, path string, env proto.Envelope) {
	data, err := env.Bytes()
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	uri := proto.URI{Authority: authority, Path: path}
	f.items[uri] = proto.DataItem{URI: uri, Data: data, Seq: f.seq}
}

func (f *fakeLayer) GetDataItem(ctx context.Context, uri proto.URI) (proto.DataItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[uri]
	if !ok {
		return proto.DataItem{}, proto.Errorf(proto.CodeNotFound, "no item at %s", uri)
	}
	return item, nil
}

func (f *fakeLayer) GetDataItems(ctx context.Context, filter proto.URI) ([]proto.DataItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []proto.DataItem
	for uri, item := range f.items {
		if filter.Matches(uri) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI.String() < out[j].URI.String() })
	return out, nil
}

func (f *fakeLayer) DeleteDataItems(ctx context.Context, filter proto.URI) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	filter.Authority = f.local.ID
	n := 0
	for uri := range f.items {
		if filter.Matches(uri) {
			delete(f.items, uri)
			n++
		}
	}
	return n, nil
}

type trackedReader struct {
	io.Reader
	f *fakeLayer
}

func (r *trackedReader) Close() error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.closedAssets++
	return nil
}

func (f *fakeLayer) OpenAsset(ctx context.Context, asset proto.Asset) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.assets[asset.Digest]
	if !ok {
		return nil, proto.Errorf(proto.CodeNotFound, "no asset %s", asset.Digest)
	}
	f.openedAssets++
	return &trackedReader{Reader: bytes.NewReader(data), f: f}, nil
}

func (f *fakeLayer) AddListener(l proto.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

func (f *fakeLayer) RemoveListener(l proto.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.listeners {
		if existing == l {
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			return
		}
	}
}

func (f *fakeLayer) AddCapabilityListener(ctx context.Context, l proto.CapabilityListener, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.capAddErr[name]; err != nil {
		return err
	}
	f.capListeners[name] = append(f.capListeners[name], l)
	return nil
}

func (f *fakeLayer) RemoveCapabilityListener(ctx context.Context, l proto.CapabilityListener, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ls := f.capListeners[name]
	for i, existing := range ls {
		if existing == l {
			f.capListeners[name] = append(ls[:i], ls[i+1:]...)
			break
		}
	}
	if len(f.capListeners[name]) == 0 {
		delete(f.capListeners, name)
	}
	return nil
}

// pushData delivers events to every registered listener, each with its
// own buffer, and returns the buffers.
func (f *fakeLayer) pushData(events ...proto.DataEvent) []*proto.DataEventBuffer {
	f.mu.Lock()
	listeners := append([]proto.Listener(nil), f.listeners...)
	f.mu.Unlock()

	var bufs []*proto.DataEventBuffer
	for _, l := range listeners {
		buf := proto.NewDataEventBuffer(events, nil)
		bufs = append(bufs, buf)
		l.OnDataChanged(buf)
	}
	return bufs
}

func (f *fakeLayer) pushMessage(ev proto.MessageEvent) {
	f.mu.Lock()
	listeners := append([]proto.Listener(nil), f.listeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l.OnMessageReceived(ev)
	}
}

func (f *fakeLayer) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeLayer) capListenerCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.capListeners[name])
}

func (f *fakeLayer) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}
