package web

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/wearbridge/proto"
	"github.com/mbocsi/wearbridge/server"
	"github.com/mbocsi/wearbridge/services"
)

type mockClient struct {
	meta     *server.NodeMetadata
	mu       sync.Mutex
	messages []proto.Message
}

func (m *mockClient) Send(msg proto.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockClient) Meta() *server.NodeMetadata { return m.meta }

func newTestAPI(t *testing.T) (*httptest.Server, *server.Coordinator, *mockClient) {
	t.Helper()
	coord := server.NewCoordinator(server.NewNodeRegistry(), server.NewBroker(), server.NewDataStore())
	watch := &mockClient{meta: &server.NodeMetadata{Id: "tcp-1", ConnectedAt: time.Now(), Capabilities: make(map[string]struct{})}}
	coord.Registery.Store(watch)
	coord.Registery.Identify(watch, "watch", "Watch", "1.0", false)
	coord.Registery.AddCapability("watch", "heart_rate")

	env, _ := proto.WrapItem(proto.NewDataMap().PutString("data", "hi")).Bytes()
	if _, err := coord.Store.Put("watch", "/data", env, nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	api := NewWebClient(services.NewServiceManager(coord).GetServices(), "")
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	return srv, coord, watch
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHandleNodes(t *testing.T) {
	srv, _, _ := newTestAPI(t)

	var nodes []services.NodeInfo
	if code := getJSON(t, srv.URL+"/api/nodes", &nodes); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(nodes) != 1 || nodes[0].ID != "watch" {
		t.Errorf("Expected watch, got %+v", nodes)
	}

	if code := getJSON(t, srv.URL+"/api/nodes/phone", nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown node, got %d", code)
	}
}

func TestHandleCapabilities(t *testing.T) {
	srv, _, _ := newTestAPI(t)

	var info services.CapabilityInfo
	if code := getJSON(t, srv.URL+"/api/capabilities/heart_rate", &info); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(info.Nodes) != 1 || info.Nodes[0].ID != "watch" {
		t.Errorf("Unexpected capability %+v", info)
	}
}

func TestHandleDataItems(t *testing.T) {
	srv, _, _ := newTestAPI(t)

	var items []services.DataItemInfo
	if code := getJSON(t, srv.URL+"/api/data?path=/data", &items); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(items) != 1 || items[0].Kind != "item" {
		t.Fatalf("Unexpected items %+v", items)
	}

	var item services.DataItemInfo
	if code := getJSON(t, srv.URL+"/api/data/item?uri=wear://watch/data", &item); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if !strings.Contains(string(item.Data), "hi") {
		t.Errorf("Expected decoded map to contain the value, got %s", item.Data)
	}

	if code := getJSON(t, srv.URL+"/api/data?path=relative", nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for relative path, got %d", code)
	}
}

func TestHandleSendMessage(t *testing.T) {
	srv, _, watch := newTestAPI(t)

	body, _ := json.Marshal(map[string]any{"path": "/message", "data": []byte("ping")})
	resp, err := http.Post(srv.URL+"/api/nodes/watch/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	watch.mu.Lock()
	defer watch.mu.Unlock()
	if len(watch.messages) != 1 || watch.messages[0].Path != "/message" {
		t.Errorf("Expected one message on /message, got %+v", watch.messages)
	}
}

func TestHandleEvents(t *testing.T) {
	srv, coord, _ := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/api/events")
	if err != nil {
		t.Fatalf("GET events failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected event stream, got %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(coord.Broker.Subscribers(server.TopicData)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Event stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	msg, _ := proto.NewMessage(proto.TypeDataChanged, proto.DataChangedPayload{})
	coord.Broker.Publish(server.TopicData, msg)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	if strings.TrimSpace(line) != "event: data_changed" {
		t.Errorf("Expected data_changed event, got %q", line)
	}
}
