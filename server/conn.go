package server

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net"
	"sync"

	"github.com/mbocsi/wearbridge/proto"
)

// connTransport holds the callbacks and client table shared by the
// transports that speak newline-delimited JSON over a net.Conn.
type connTransport struct {
	onMessage    func(Client, proto.Message)
	onConnect    func(Client) error
	onDisconnect func(Client)

	name        string
	description string
	clients     map[string]Client
	cmu         sync.RWMutex

	maxClients int
}

func newConnTransport(maxClients int) connTransport {
	return connTransport{maxClients: maxClients, clients: make(map[string]Client)}
}

func (t *connTransport) callbacksSet() bool {
	return t.onConnect != nil && t.onDisconnect != nil && t.onMessage != nil
}

func (t *connTransport) full() bool {
	t.cmu.RLock()
	defer t.cmu.RUnlock()
	return t.maxClients > 0 && len(t.clients) >= t.maxClients
}

func (t *connTransport) snapshotClients() map[string]Client {
	t.cmu.RLock()
	defer t.cmu.RUnlock()
	clients := make(map[string]Client, len(t.clients))
	for k, v := range t.clients {
		clients[k] = v
	}
	return clients
}

// serveConn registers client, feeds every frame read from c to
// onMessage, and unregisters the client when the connection ends.
func (t *connTransport) serveConn(c net.Conn, client Client, protocol string) {
	ip := c.RemoteAddr().String()
	key := client.Meta().ID()
	slog.Info("Node connected", "protocol", protocol, "addr", ip, "conn", key)

	defer func() {
		t.cmu.Lock()
		delete(t.clients, key)
		t.cmu.Unlock()

		t.onDisconnect(client)

		c.Close()
		slog.Info("Node disconnected", "protocol", protocol, "addr", ip, "id", client.Meta().ID())
	}()

	reader := bufio.NewScanner(c)
	reader.Buffer(make([]byte, 0, 64*1024), proto.MaxFrameSize)

	err := t.onConnect(client)
	if err != nil {
		slog.Error("Failed to register node", "addr", ip, "error", err.Error())
		return
	}
	t.cmu.Lock()
	t.clients[key] = client
	t.cmu.Unlock()

	for reader.Scan() {
		line := reader.Bytes()
		var msg proto.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			slog.Warn("Invalid JSON message received", "error", err, "data", string(line))
			continue
		}
		slog.Debug("Message received", "type", msg.Type, "id", msg.ID, "path", msg.Path, "conn", key, "size", len(msg.Payload))
		t.onMessage(client, msg)
	}

	if err := reader.Err(); err != nil {
		slog.Warn("Connection error", "addr", ip, "error", err)
	}
}

func (t *connTransport) OnMessage(fn func(Client, proto.Message)) {
	t.onMessage = fn
}

func (t *connTransport) OnConnect(fn func(Client) error) {
	t.onConnect = fn
}

func (t *connTransport) OnDisconnect(fn func(Client)) {
	t.onDisconnect = fn
}

func (t *connTransport) SetName(name string) {
	t.name = name
}

func (t *connTransport) SetMaxClients(n int) {
	t.maxClients = n
}

func (t *connTransport) SetDescription(description string) {
	t.description = description
}
