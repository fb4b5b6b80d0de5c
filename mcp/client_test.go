package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbocsi/wearbridge/proto"
	"github.com/mbocsi/wearbridge/server"
	"github.com/mbocsi/wearbridge/services"
)

type nopClient struct{ meta *server.NodeMetadata }

func (c *nopClient) Send(proto.Message) error   { return nil }
func (c *nopClient) Meta() *server.NodeMetadata { return c.meta }

func newTestMCPClient(t *testing.T) *MCPClient {
	t.Helper()
	coord := server.NewCoordinator(server.NewNodeRegistry(), server.NewBroker(), server.NewDataStore())
	watch := &nopClient{meta: &server.NodeMetadata{Id: "tcp-1", ConnectedAt: time.Now(), Capabilities: make(map[string]struct{})}}
	coord.Registery.Store(watch)
	coord.Registery.Identify(watch, "watch", "Watch", "1.0", false)
	coord.Registery.AddCapability("watch", "voice_transcription")
	env, _ := proto.WrapRaw(proto.NewDataMap().PutInt("dataInt", 42)).Bytes()
	coord.Store.Put("watch", "/data", env, nil)

	return NewMCPClient(services.NewServiceManager(coord).GetServices(), NewMCPServer("wearbridge", "test"))
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(result.Content) == 0 {
		t.Fatal("Expected result content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", result.Content[0])
	}
	return text.Text, result.IsError
}

func TestListNodesTool(t *testing.T) {
	m := newTestMCPClient(t)
	text, isErr := call(t, m.handleListNodes, nil)
	if isErr {
		t.Fatalf("Unexpected tool error: %s", text)
	}
	var out struct {
		Count int                 `json:"count"`
		Nodes []services.NodeInfo `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if out.Count != 1 || out.Nodes[0].ID != "watch" {
		t.Errorf("Expected watch, got %+v", out)
	}
}

func TestGetCapabilityTool(t *testing.T) {
	m := newTestMCPClient(t)

	text, isErr := call(t, m.handleGetCapability, map[string]any{"name": "voice_transcription"})
	if isErr || !strings.Contains(text, `"watch"`) {
		t.Errorf("Expected watch in capability, got %s", text)
	}
	if _, isErr := call(t, m.handleGetCapability, map[string]any{}); !isErr {
		t.Error("Expected tool error without name")
	}
	if _, isErr := call(t, m.handleGetCapability, map[string]any{"name": "missing"}); !isErr {
		t.Error("Expected tool error for unknown capability")
	}
}

func TestDataItemTools(t *testing.T) {
	m := newTestMCPClient(t)

	text, isErr := call(t, m.handleListDataItems, map[string]any{"authority": "watch"})
	if isErr || !strings.Contains(text, `"count":1`) {
		t.Errorf("Expected one item, got %s", text)
	}
	text, isErr = call(t, m.handleGetDataItem, map[string]any{"uri": "wear://watch/data"})
	if isErr || !strings.Contains(text, "42") {
		t.Errorf("Expected dataInt 42 in item, got %s", text)
	}
	if _, isErr := call(t, m.handleGetDataItem, map[string]any{"uri": "wear://watch/none"}); !isErr {
		t.Error("Expected tool error for missing item")
	}
}

func TestSendMessageTool(t *testing.T) {
	m := newTestMCPClient(t)

	if text, isErr := call(t, m.handleSendMessage, map[string]any{"node_id": "watch", "path": "/message", "data": "hi"}); isErr {
		t.Errorf("Unexpected tool error: %s", text)
	}
	if _, isErr := call(t, m.handleSendMessage, map[string]any{"node_id": "phone", "path": "/message"}); !isErr {
		t.Error("Expected tool error for unknown node")
	}
}

func TestSystemStatusTool(t *testing.T) {
	m := newTestMCPClient(t)
	text, isErr := call(t, m.handleGetSystemStatus, map[string]any{"include_transports": false})
	if isErr {
		t.Fatalf("Unexpected tool error: %s", text)
	}
	var status map[string]any
	json.Unmarshal([]byte(text), &status)
	if status["nodes"] != float64(1) || status["data_items"] != float64(1) {
		t.Errorf("Unexpected status %v", status)
	}
	if _, ok := status["transports"]; ok {
		t.Error("Expected transports omitted")
	}
}
