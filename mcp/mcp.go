package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
)

type MCPServer struct {
	Server *server.MCPServer
}

func NewMCPServer(name, version string) *MCPServer {
	return &MCPServer{Server: server.NewMCPServer(name, version, server.WithToolCapabilities(false))}
}

// Run serves MCP over stdin and stdout until ctx is done. Nothing else
// may write to stdout while it runs.
func (s *MCPServer) Run(ctx context.Context) error {
	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()
	err := server.NewStdioServer(s.Server).Listen(ctx, os.Stdin, os.Stdout)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
