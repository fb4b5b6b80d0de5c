package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/mbocsi/wearbridge/config"
	"github.com/mbocsi/wearbridge/mcp"
	"github.com/mbocsi/wearbridge/server"
	"github.com/mbocsi/wearbridge/services"
	"github.com/mbocsi/wearbridge/web"
)

const version = "1.0.0"

func main() {
	fs := pflag.CommandLine
	configPath := fs.StringP("config", "c", "", "config file (defaults to $"+config.EnvVar+")")
	tcpAddr := fs.String("tcp", "", "TCP listen address; empty disables")
	wsAddr := fs.String("ws", "", "WebSocket listen address; empty disables")
	webAddr := fs.String("web", "", "HTTP API listen address; empty disables")
	snapshot := fs.String("snapshot", "", "data store snapshot file")
	maxClients := fs.Int("max-clients", 0, "connections allowed per transport; 0 is unlimited")
	mdnsOn := fs.Bool("mdns", true, "advertise the hub over mDNS")
	mcpOn := fs.Bool("mcp", false, "serve MCP tools on stdin/stdout")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if fs.Changed("tcp") {
		cfg.Hub.TCPAddr = *tcpAddr
	}
	if fs.Changed("ws") {
		cfg.Hub.WSAddr = *wsAddr
	}
	if fs.Changed("web") {
		cfg.Hub.WebAddr = *webAddr
	}
	if fs.Changed("snapshot") {
		cfg.Hub.Snapshot = *snapshot
	}
	if fs.Changed("max-clients") {
		cfg.Hub.MaxClients = *maxClients
	}
	if fs.Changed("mdns") {
		cfg.Hub.MDNS = *mdnsOn
	}
	if fs.Changed("mcp") {
		cfg.Hub.MCP = *mcpOn
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if cfg.Hub.MCP {
		cfg.Log.Output = "stderr"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.Log.SetupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg.Hub); err != nil {
		slog.Error("Hub stopped with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.HubConfig) error {
	hub := server.NewHubServer(server.HubServerOptions{SnapshotPath: cfg.Snapshot})

	advertiser := &server.MDNSAdvertiser{Instance: cfg.Name}
	if cfg.TCPAddr != "" {
		tcp := server.NewTCPTransport(cfg.TCPAddr)
		tcp.SetName("TCP")
		tcp.SetMaxClients(cfg.MaxClients)
		tcp.SetDescription("Node connections over newline-delimited JSON")
		hub.RegisterTransport(tcp)
		advertiser.TCPPort = port(cfg.TCPAddr)
	}
	if cfg.WSAddr != "" {
		ws := server.NewWSTransport(cfg.WSAddr)
		ws.SetName("WebSocket")
		ws.SetMaxClients(cfg.MaxClients)
		ws.SetDescription("Node connections over WebSocket")
		hub.RegisterTransport(ws)
		advertiser.WSPort = port(cfg.WSAddr)
	}

	svc := services.NewServiceManager(hub.Coordinator()).GetServices()
	if cfg.WebAddr != "" {
		hub.RegisterServer(web.NewWebClient(svc, cfg.WebAddr))
	}
	if cfg.MDNS {
		hub.RegisterServer(advertiser)
	}
	if cfg.MCP {
		hub.RegisterServer(mcp.NewMCPClient(svc, mcp.NewMCPServer("wearbridge", version)))
	}

	slog.Info("Starting hub", "name", cfg.Name, "tcp", cfg.TCPAddr, "ws", cfg.WSAddr, "web", cfg.WebAddr)
	return hub.Start(ctx)
}

// port returns the numeric port of addr, or 0 when it has none.
func port(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}
