package server

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbocsi/wearbridge/proto"
)

type Transport interface {
	Start() error
	OnMessage(func(Client, proto.Message))
	OnConnect(func(Client) error)
	OnDisconnect(func(Client))
	Shutdown() error
	Meta() TransportMetadata
	SetName(name string)
	SetDescription(description string)
}

type TransportMetadata struct {
	ID          string // Stable identifier, e.g., "tcp-0.0.0.0:7400"
	Name        string // Human-friendly name, e.g., "TCP Server", "WebSocket Gateway"
	Protocol    string // Protocol name, e.g., "tcp", "websocket", "memory"
	Address     string // Bind address, e.g., "0.0.0.0:8080"
	Description string // Optional, short purpose/use case

	Clients    map[string]Client // Current active clients, keyed by connection id
	MaxClients int               // Max allowed clients (if applicable, else 0)
	Connected  bool              // Whether the transport is currently running/bound
}

// NodeMetadata describes one connection. Id starts as a connection id
// and becomes the node id once the node identifies.
type NodeMetadata struct {
	Mu           sync.RWMutex
	Id           string
	Name         string
	Firmware     string
	Identified   bool
	Relayed      bool
	ConnectedAt  time.Time
	LastSeen     time.Time
	Capabilities map[string]struct{}
	Transport    Transport
}

func (m *NodeMetadata) ID() string {
	m.Mu.RLock()
	defer m.Mu.RUnlock()
	return m.Id
}

func (m *NodeMetadata) IsIdentified() bool {
	m.Mu.RLock()
	defer m.Mu.RUnlock()
	return m.Identified
}

// Node returns the public view of the connection.
func (m *NodeMetadata) Node() proto.Node {
	m.Mu.RLock()
	defer m.Mu.RUnlock()
	return proto.Node{
		ID:          m.Id,
		DisplayName: m.Name,
		IsNearby:    !m.Relayed,
		ConnectedAt: m.ConnectedAt,
	}
}

func (m *NodeMetadata) CapabilityNames() []string {
	m.Mu.RLock()
	defer m.Mu.RUnlock()
	names := make([]string, 0, len(m.Capabilities))
	for name := range m.Capabilities {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *NodeMetadata) touch() {
	m.Mu.Lock()
	m.LastSeen = time.Now()
	m.Mu.Unlock()
}

type Client interface {
	Send(proto.Message) error
	Meta() *NodeMetadata
}

func generateClientId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// generateNodeId returns a short id for nodes that propose no usable name.
func generateNodeId() string {
	return "node-" + uuid.NewString()[:8]
}
