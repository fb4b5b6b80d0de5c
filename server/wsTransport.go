package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/mbocsi/wearbridge/proto"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

type WSTransport struct {
	connTransport
	Addr      string
	serverMu  sync.Mutex
	server    *http.Server
	connected atomic.Bool
}

func NewWSTransport(addr string) *WSTransport {
	return &WSTransport{Addr: addr, connTransport: newConnTransport(16)}
}

func (t *WSTransport) Start() error {
	slog.Info("Starting WebSocket server", "addr", t.Addr)

	if !t.callbacksSet() {
		return fmt.Errorf("the OnConnect, OnDisconnect, or OnMessage function is not defined; this transport is likely being called outside of the server coordinator")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", t.handleWebSocket)

	srv := &http.Server{
		Addr:    t.Addr,
		Handler: mux,
	}
	t.serverMu.Lock()
	t.server = srv
	t.serverMu.Unlock()

	t.connected.Store(true)
	defer t.connected.Store(false)
	err := srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Handler exposes the upgrade endpoint for mounting on another server.
func (t *WSTransport) Handler() http.Handler {
	return http.HandlerFunc(t.handleWebSocket)
}

func (t *WSTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if t.full() {
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "max clients reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}
	conn.SetReadLimit(proto.MaxFrameSize)

	go t.handleConnection(conn, r.RemoteAddr)
}

func (t *WSTransport) handleConnection(conn *websocket.Conn, remoteAddr string) {
	client := NewWSClient(conn, t)
	key := client.Meta().ID()
	slog.Info("WebSocket node connected", "addr", remoteAddr, "conn", key)

	defer func() {
		t.cmu.Lock()
		delete(t.clients, key)
		t.cmu.Unlock()

		t.onDisconnect(client)

		conn.Close()
		slog.Info("WebSocket node disconnected", "addr", remoteAddr, "id", client.Meta().ID())
	}()

	err := t.onConnect(client)
	if err != nil {
		slog.Error("Failed to register WebSocket node", "addr", remoteAddr, "error", err.Error())
		return
	}

	t.cmu.Lock()
	t.clients[key] = client
	t.cmu.Unlock()

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("WebSocket connection error", "addr", remoteAddr, "error", err)
			}
			break
		}

		var msg proto.Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			slog.Warn("Invalid JSON message received", "error", err, "data", string(messageBytes))
			continue
		}

		slog.Debug("WebSocket message received", "type", msg.Type, "id", msg.ID, "path", msg.Path, "conn", key, "size", len(msg.Payload))
		t.onMessage(client, msg)
	}
}

func (t *WSTransport) Shutdown() error {
	slog.Info("Shutting down WebSocket server", "addr", t.Addr)
	t.serverMu.Lock()
	defer t.serverMu.Unlock()
	var err error
	if t.server != nil {
		err = t.server.Close()
	}
	// Hijacked connections are not closed by the http.Server.
	for _, c := range t.snapshotClients() {
		if wc, ok := c.(*WSClient); ok {
			wc.conn.Close()
		}
	}
	return err
}

func (t *WSTransport) Meta() TransportMetadata {
	return TransportMetadata{
		ID:          "ws-" + t.Addr,
		Name:        t.name,
		Description: t.description,
		Protocol:    "websocket",
		Address:     t.Addr,
		Clients:     t.snapshotClients(),
		MaxClients:  t.maxClients,
		Connected:   t.connected.Load(),
	}
}
