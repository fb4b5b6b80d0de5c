package server

import (
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mbocsi/wearbridge/proto"
)

// TCPClient is a node connected over a stream connection (TCP or an
// in-memory pipe).
type TCPClient struct {
	NodeMetadata
	conn    net.Conn
	writeMu sync.Mutex
}

func NewTCPClient(conn net.Conn, t Transport, prefix string) *TCPClient {
	now := time.Now()
	return &TCPClient{
		conn: conn,
		NodeMetadata: NodeMetadata{
			Id:           generateClientId(prefix),
			ConnectedAt:  now,
			LastSeen:     now,
			Capabilities: make(map[string]struct{}),
			Transport:    t,
		},
	}
}

func (c *TCPClient) Send(msg proto.Message) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	jsonData = append(jsonData, '\n')

	c.writeMu.Lock()
	_, err = c.conn.Write(jsonData)
	c.writeMu.Unlock()
	slog.Debug("Sent Message", "to", c.Meta().ID(), "type", msg.Type, "id", msg.ID, "size", len(msg.Payload))
	return err
}

func (c *TCPClient) Meta() *NodeMetadata {
	return &c.NodeMetadata
}
