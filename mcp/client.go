package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbocsi/wearbridge/services"
)

// MCPClient exposes the hub's nodes, capabilities and data items as MCP
// tools.
type MCPClient struct {
	mcpServer *MCPServer
	services  *services.ServiceContainer
}

func NewMCPClient(serviceContainer *services.ServiceContainer, mcpServer *MCPServer) *MCPClient {
	m := &MCPClient{
		services:  serviceContainer,
		mcpServer: mcpServer,
	}
	m.registerNodeTools()
	m.registerDataTools()
	m.registerSystemTools()
	return m
}

// Run serves the tools until ctx is done.
func (m *MCPClient) Run(ctx context.Context) error {
	return m.mcpServer.Run(ctx)
}

func (m *MCPClient) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	m.mcpServer.Server.AddTool(tool, handler)
}

func (m *MCPClient) registerNodeTools() {
	m.addTool(mcp.NewTool("list_nodes",
		mcp.WithDescription("List the nodes connected to the hub"),
	), m.handleListNodes)

	m.addTool(mcp.NewTool("get_capability",
		mcp.WithDescription("List the nodes advertising a capability"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Capability name, e.g. voice_transcription"),
		),
	), m.handleGetCapability)

	m.addTool(mcp.NewTool("list_capabilities",
		mcp.WithDescription("List every capability advertised by a connected node"),
	), m.handleListCapabilities)

	m.addTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a message from the hub to one node"),
		mcp.WithString("node_id",
			mcp.Required(),
			mcp.Description("Target node id"),
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Message path, e.g. /message"),
		),
		mcp.WithString("data",
			mcp.Description("Message payload as text"),
		),
	), m.handleSendMessage)
}

func (m *MCPClient) registerDataTools() {
	m.addTool(mcp.NewTool("list_data_items",
		mcp.WithDescription("List replicated data items, optionally filtered by owning node and path"),
		mcp.WithString("authority",
			mcp.Description("Owning node id"),
		),
		mcp.WithString("path",
			mcp.Description("Exact item path, e.g. /data"),
		),
	), m.handleListDataItems)

	m.addTool(mcp.NewTool("get_data_item",
		mcp.WithDescription("Read one data item by uri"),
		mcp.WithString("uri",
			mcp.Required(),
			mcp.Description("Item uri, e.g. wear://phone/data"),
		),
	), m.handleGetDataItem)
}

func (m *MCPClient) registerSystemTools() {
	m.addTool(mcp.NewTool("get_system_status",
		mcp.WithDescription("Get overall hub statistics"),
		mcp.WithBoolean("include_transports",
			mcp.Description("Include transport information"),
		),
	), m.handleGetSystemStatus)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (m *MCPClient) handleListNodes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodes, err := m.services.Node.ListNodes()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error listing nodes: %v", err)), nil
	}
	return jsonResult(map[string]any{"nodes": nodes, "count": len(nodes)})
}

func (m *MCPClient) handleGetCapability(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required and must be a string"), nil
	}
	info, err := m.services.Capability.GetCapability(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info)
}

func (m *MCPClient) handleListCapabilities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caps, err := m.services.Capability.ListCapabilities()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(caps)
}

func (m *MCPClient) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeID, err := request.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError("node_id is required and must be a string"), nil
	}
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("path is required and must be a string"), nil
	}
	data := request.GetString("data", "")

	req := services.MessageRequest{NodeID: nodeID, Path: path, Data: []byte(data)}
	if err := m.services.Messaging.SendMessage(req); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to send message: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Message sent to %s on %s", nodeID, path)), nil
}

func (m *MCPClient) handleListDataItems(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := m.services.Data.ListDataItems(request.GetString("authority", ""), request.GetString("path", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"items": items, "count": len(items)})
}

func (m *MCPClient) handleGetDataItem(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, err := request.RequireString("uri")
	if err != nil {
		return mcp.NewToolResultError("uri is required and must be a string"), nil
	}
	item, err := m.services.Data.GetDataItem(uri)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(item)
}

func (m *MCPClient) handleGetSystemStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	includeTransports := request.GetBool("include_transports", true)

	status := map[string]interface{}{
		"timestamp": time.Now().Unix(),
	}
	if nodes, err := m.services.Node.ListNodes(); err == nil {
		status["nodes"] = len(nodes)
	}
	if caps, err := m.services.Capability.ListCapabilities(); err == nil {
		status["capabilities"] = len(caps)
	}
	if items, err := m.services.Data.ListDataItems("", ""); err == nil {
		status["data_items"] = len(items)
	}
	if includeTransports {
		if transports, err := m.services.Transport.ListTransports(); err == nil {
			status["transports"] = transports
		}
		if stats, err := m.services.Transport.GetTransportStats(); err == nil {
			status["transport_stats"] = stats
		}
	}
	return jsonResult(status)
}
