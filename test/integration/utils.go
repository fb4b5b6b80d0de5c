//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/mbocsi/wearbridge/bridge"
	"github.com/mbocsi/wearbridge/client"
	"github.com/mbocsi/wearbridge/server"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func getRandomPort(t *testing.T) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to get port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

type testHub struct {
	TCPAddr string
	WSAddr  string
	Server  *server.HubServer
}

// startHub runs a hub with TCP and WebSocket listeners until the test
// ends.
func startHub(t *testing.T) *testHub {
	t.Helper()
	hub := &testHub{
		TCPAddr: fmt.Sprintf("127.0.0.1:%d", getRandomPort(t)),
		WSAddr:  fmt.Sprintf("127.0.0.1:%d", getRandomPort(t)),
		Server:  server.NewHubServer(server.HubServerOptions{}),
	}
	hub.Server.RegisterTransport(server.NewTCPTransport(hub.TCPAddr))
	hub.Server.RegisterTransport(server.NewWSTransport(hub.WSAddr))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Server.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Hub stopped with error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Hub did not stop")
		}
	})

	waitListening(t, hub.TCPAddr)
	waitListening(t, hub.WSAddr)
	return hub
}

func waitListening(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Nothing listening on %s", addr)
}

type node struct {
	Client *client.Client
	Bridge *bridge.Bridge
}

// connectNode starts a client over TCP and a Bridge on top of it.
func connectNode(t *testing.T, addr, name string, opts ...client.Option) *node {
	t.Helper()
	return connectNodeWith(t, client.NewTCPTransport(), addr, name, opts...)
}

func connectNodeWith(t *testing.T, transport client.Transport, addr, name string, opts ...client.Option) *node {
	t.Helper()
	opts = append([]client.Option{client.WithLogger(quietLogger), client.WithRequestTimeout(2 * time.Second)}, opts...)
	c := client.NewClient(name, transport, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Start(ctx, addr); err != nil {
		t.Fatalf("Failed to start %s: %v", name, err)
	}
	b := bridge.New(c, bridge.WithLogger(quietLogger))
	t.Cleanup(func() {
		b.Close()
		c.Close()
	})
	return &node{Client: c, Bridge: b}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("Channel closed")
		}
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
	var zero T
	return zero
}

func expectNothing[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("Unexpected event %+v", v)
	case <-time.After(200 * time.Millisecond):
	}
}
