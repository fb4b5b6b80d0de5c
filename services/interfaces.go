package services

import (
	"github.com/mbocsi/wearbridge/server"
)

// NodeService handles node-related operations
type NodeService interface {
	ListNodes() ([]NodeInfo, error)
	GetNode(id string) (*NodeInfo, error)
	IsNodeConnected(id string) (bool, error)
}

// CapabilityService handles capability discovery
type CapabilityService interface {
	ListCapabilities() ([]CapabilityInfo, error)
	GetCapability(name string) (*CapabilityInfo, error)
	GetCapabilitiesForNode(nodeID string) ([]string, error)
}

// DataService exposes the replicated data items held by the hub
type DataService interface {
	ListDataItems(authority, path string) ([]DataItemInfo, error)
	GetDataItem(uri string) (*DataItemInfo, error)
	GetAsset(digest string) ([]byte, error)
}

// MessagingService sends hub-originated messages and manages observer
// subscriptions
type MessagingService interface {
	SendMessage(req MessageRequest) error

	Subscribe(topic string, client server.Client) error
	Unsubscribe(topic string, client server.Client) error
}

// TransportService handles transport information
type TransportService interface {
	ListTransports() ([]TransportInfo, error)
	GetTransport(id string) (*TransportInfo, error)
	GetTransportStats() (map[string]interface{}, error)
}

// ServiceContainer holds all service implementations
type ServiceContainer struct {
	Node       NodeService
	Capability CapabilityService
	Data       DataService
	Messaging  MessagingService
	Transport  TransportService
}
