package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/wearbridge/proto"
)

// MockLayer records listener registrations; data operations are unused.
type MockLayer struct {
	mu           sync.Mutex
	listeners    []proto.Listener
	capListeners map[string]int
	capErr       error
}

func NewMockLayer() *MockLayer {
	return &MockLayer{capListeners: make(map[string]int)}
}

func (m *MockLayer) ConnectedNodes(ctx context.Context) ([]proto.Node, error) { return nil, nil }
func (m *MockLayer) GetCapability(ctx context.Context, name string, filter proto.CapabilityFilter) (proto.CapabilityInfo, error) {
	return proto.CapabilityInfo{Name: name}, nil
}
func (m *MockLayer) LocalNode(ctx context.Context) (proto.Node, error) {
	return proto.Node{ID: "local"}, nil
}
func (m *MockLayer) SendMessage(ctx context.Context, nodeID, path string, data []byte) (string, error) {
	return "", nil
}
func (m *MockLayer) PutDataItem(ctx context.Context, req *proto.PutDataRequest) (proto.DataItem, error) {
	return proto.DataItem{}, nil
}
func (m *MockLayer) GetDataItem(ctx context.Context, uri proto.URI) (proto.DataItem, error) {
	return proto.DataItem{}, proto.ErrNotFound
}
func (m *MockLayer) GetDataItems(ctx context.Context, filter proto.URI) ([]proto.DataItem, error) {
	return nil, nil
}
func (m *MockLayer) DeleteDataItems(ctx context.Context, filter proto.URI) (int, error) {
	return 0, nil
}
func (m *MockLayer) OpenAsset(ctx context.Context, asset proto.Asset) (io.ReadCloser, error) {
	return nil, proto.ErrNotFound
}

func (m *MockLayer) AddListener(l proto.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *MockLayer) RemoveListener(l proto.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.listeners {
		if existing == l {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *MockLayer) AddCapabilityListener(ctx context.Context, l proto.CapabilityListener, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capErr != nil {
		return m.capErr
	}
	m.capListeners[name]++
	return nil
}

func (m *MockLayer) RemoveCapabilityListener(ctx context.Context, l proto.CapabilityListener, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capListeners[name]--
	return nil
}

func (m *MockLayer) registered() (int, map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	caps := make(map[string]int, len(m.capListeners))
	for k, v := range m.capListeners {
		caps[k] = v
	}
	return len(m.listeners), caps
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListenerService_RegistersForRunLifetime(t *testing.T) {
	layer := NewMockLayer()
	svc := New(layer, WithCapabilities("watch_app"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, func() bool {
		n, _ := layer.registered()
		return n == 1
	})
	if _, caps := layer.registered(); caps["watch_app"] != 1 {
		t.Errorf("Expected watch_app listener, got %v", caps)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	n, caps := layer.registered()
	if n != 0 || caps["watch_app"] != 0 {
		t.Errorf("Expected deregistration after stop, got %d listeners, %v", n, caps)
	}
}

func TestListenerService_RejectsSecondRun(t *testing.T) {
	layer := NewMockLayer()
	svc := New(layer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go svc.Run(ctx)
	waitFor(t, func() bool {
		n, _ := layer.registered()
		return n == 1
	})
	if err := svc.Run(ctx); err == nil {
		t.Error("Expected error when running twice")
	}
}

func TestListenerService_CapabilityFailure(t *testing.T) {
	layer := NewMockLayer()
	layer.capErr = proto.ErrNotConnected
	svc := New(layer, WithCapabilities("watch_app"))

	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("Expected Run to fail")
	}
	if n, _ := layer.registered(); n != 0 {
		t.Errorf("Expected no listener after failure, got %d", n)
	}
}

// runService runs svc until the test ends and waits for it to register.
func runService(t *testing.T, svc *ListenerService, layer *MockLayer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitFor(t, func() bool {
		n, _ := layer.registered()
		return n == 1
	})
}

func TestListenerService_ForwardsIntoBridge(t *testing.T) {
	layer := NewMockLayer()
	hooked := make(chan string, 1)
	svc := New(layer, WithHooks(Hooks{
		OnMessage: func(ev proto.MessageEvent) { hooked <- ev.Path },
	}))
	ch, cancel := svc.Bridge().Messages().Subscribe()
	defer cancel()
	runService(t, svc, layer)

	svc.OnMessageReceived(proto.MessageEvent{Path: "/message", SourceNodeID: "peer"})

	select {
	case ev := <-ch:
		if ev.Path != "/message" || ev.SourceNodeID != "peer" {
			t.Errorf("Unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected forwarded message")
	}
	select {
	case path := <-hooked:
		if path != "/message" {
			t.Errorf("Expected hook for /message, got %s", path)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected hook to run")
	}
}

func TestListenerService_HooksDoNotBlockDelivery(t *testing.T) {
	layer := NewMockLayer()
	unblock := make(chan struct{})
	var mu sync.Mutex
	var order []string
	svc := New(layer, WithHooks(Hooks{
		OnMessage: func(ev proto.MessageEvent) {
			// Stands in for a hook waiting on a response that only the
			// delivering goroutine could read.
			<-unblock
			mu.Lock()
			order = append(order, ev.Path)
			mu.Unlock()
		},
	}))
	ch, cancel := svc.Bridge().Messages().Subscribe()
	defer cancel()
	runService(t, svc, layer)

	delivered := make(chan struct{})
	go func() {
		svc.OnMessageReceived(proto.MessageEvent{Path: "/first"})
		svc.OnMessageReceived(proto.MessageEvent{Path: "/second"})
		close(delivered)
	}()
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("Delivery blocked on a hook")
	}
	if got := (<-ch).Path; got != "/first" {
		t.Errorf("Expected /first forwarded, got %s", got)
	}

	close(unblock)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	if order[0] != "/first" || order[1] != "/second" {
		t.Errorf("Expected hooks in push order, got %v", order)
	}
}

func TestListenerService_ReleasesDataBuffer(t *testing.T) {
	layer := NewMockLayer()
	seen := make(chan int, 1)
	svc := New(layer, WithHooks(Hooks{
		OnData: func(events []proto.DataEvent) { seen <- len(events) },
	}))
	runService(t, svc, layer)

	env := proto.WrapItem(proto.NewDataMap().PutString("k", "v"))
	data, err := env.Bytes()
	if err != nil {
		t.Fatalf("Failed to encode envelope: %v", err)
	}
	buf := proto.NewDataEventBuffer([]proto.DataEvent{{
		Type: proto.DataChanged,
		Item: proto.DataItem{URI: proto.URI{Authority: "peer", Path: "/data"}, Data: data},
	}}, nil)
	svc.OnDataChanged(buf)

	if !buf.Released() {
		t.Error("Expected buffer released")
	}
	select {
	case n := <-seen:
		if n != 1 {
			t.Errorf("Expected hook to see 1 event, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected data hook to run")
	}
}

func TestListenerService_HooksSkippedWhenStopped(t *testing.T) {
	called := false
	svc := New(NewMockLayer(), WithHooks(Hooks{
		OnCapability: func(proto.CapabilityInfo) { called = true },
	}))
	ch, cancel := svc.Bridge().Capabilities().Subscribe()
	defer cancel()

	svc.OnCapabilityChanged(proto.CapabilityInfo{Name: "watch_app"})

	if got := <-ch; got.Name != "watch_app" {
		t.Errorf("Expected forwarded capability, got %+v", got)
	}
	if called {
		t.Error("Expected no hook outside Run")
	}
}
