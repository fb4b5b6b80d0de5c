package server

import (
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
)

// InMemoryTransport connects nodes living in the hub's process. Each
// Dial returns one end of a net.Pipe speaking the TCP line protocol.
type InMemoryTransport struct {
	connTransport
	running atomic.Bool
}

func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{connTransport: newConnTransport(0)}
}

func (t *InMemoryTransport) Start() error {
	if !t.callbacksSet() {
		return fmt.Errorf("the OnConnect, OnDisconnect, or OnMessage function is not defined; this transport is likely being called outside of the server coordinator")
	}
	t.running.Store(true)
	slog.Info("Started in-memory transport")
	return nil
}

// Dial opens a new in-process connection to the hub. The addr argument
// is ignored; it lets Dial serve as a client.Dialer.
func (t *InMemoryTransport) Dial(addr string) (net.Conn, error) {
	if !t.running.Load() {
		return nil, fmt.Errorf("in-memory transport is not running")
	}
	if t.full() {
		return nil, fmt.Errorf("max clients reached")
	}
	nodeEnd, hubEnd := net.Pipe()
	go t.serveConn(hubEnd, NewTCPClient(hubEnd, t, "mem"), "memory")
	return nodeEnd, nil
}

func (t *InMemoryTransport) Shutdown() error {
	t.running.Store(false)
	for _, c := range t.snapshotClients() {
		if tc, ok := c.(*TCPClient); ok {
			tc.conn.Close()
		}
	}
	return nil
}

func (t *InMemoryTransport) Meta() TransportMetadata {
	return TransportMetadata{
		ID:          "memory",
		Name:        t.name,
		Description: t.description,
		Protocol:    "memory",
		Clients:     t.snapshotClients(),
		MaxClients:  t.maxClients,
		Connected:   t.running.Load(),
	}
}
