package server

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

type TCPTransport struct {
	connTransport
	Addr       string
	listenerMu sync.Mutex
	listener   net.Listener
	connected  atomic.Bool
}

func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{Addr: addr, connTransport: newConnTransport(16)}
}

func (t *TCPTransport) Start() error {
	slog.Info("Starting tcp server", "addr", t.Addr)

	if !t.callbacksSet() {
		return fmt.Errorf("the OnConnect, OnDisconnect, or OnMessage function is not defined; this transport is likely being called outside of the server coordinator")
	}

	l, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return err
	}
	t.listenerMu.Lock()
	t.listener = l
	t.listenerMu.Unlock()
	t.connected.Store(true)
	defer func() {
		l.Close()
		t.connected.Store(false)
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			return err // exits goroutine when listener is closed
		}

		if t.full() {
			slog.Warn("Max clients reached, rejecting connection", "remote_addr", conn.RemoteAddr())
			conn.Close() // Reject connection politely
			continue
		}

		go t.serveConn(conn, NewTCPClient(conn, t, "tcp"), "tcp")
	}
}

// ListenAddr returns the bound address once Start is listening.
func (t *TCPTransport) ListenAddr() net.Addr {
	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *TCPTransport) Shutdown() error {
	slog.Info("Shutting down tcp server", "addr", t.Addr)
	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	for _, c := range t.snapshotClients() {
		if tc, ok := c.(*TCPClient); ok {
			tc.conn.Close()
		}
	}
	return err
}

func (t *TCPTransport) Meta() TransportMetadata {
	return TransportMetadata{
		ID:          "tcp-" + t.Addr,
		Name:        t.name,
		Description: t.description,
		Protocol:    "tcp",
		Address:     t.Addr,
		Clients:     t.snapshotClients(),
		MaxClients:  t.maxClients,
		Connected:   t.connected.Load(),
	}
}
