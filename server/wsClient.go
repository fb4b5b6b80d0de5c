package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbocsi/wearbridge/proto"
)

type WSClient struct {
	NodeMetadata
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewWSClient(conn *websocket.Conn, t Transport) *WSClient {
	now := time.Now()
	return &WSClient{
		conn: conn,
		NodeMetadata: NodeMetadata{
			Id:           generateClientId("ws"),
			ConnectedAt:  now,
			LastSeen:     now,
			Capabilities: make(map[string]struct{}),
			Transport:    t,
		},
	}
}

func (c *WSClient) Send(msg proto.Message) error {
	if c.conn == nil {
		return errors.New("websocket connection is not open")
	}
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, jsonData)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	slog.Debug("Sent WebSocket Message", "to", c.Meta().ID(), "type", msg.Type, "id", msg.ID, "size", len(msg.Payload))
	return nil
}

func (c *WSClient) Meta() *NodeMetadata {
	return &c.NodeMetadata
}
