package services

import (
	"github.com/mbocsi/wearbridge/server"
)

// NodeServiceImpl implements NodeService
type NodeServiceImpl struct {
	registry *server.NodeRegistry
}

// NewNodeService creates a new node service
func NewNodeService(registry *server.NodeRegistry) NodeService {
	return &NodeServiceImpl{
		registry: registry,
	}
}

// ListNodes returns every identified node, oldest connection first
func (ns *NodeServiceImpl) ListNodes() ([]NodeInfo, error) {
	clients := ns.registry.List()
	result := make([]NodeInfo, 0, len(clients))

	for _, client := range clients {
		if !client.Meta().IsIdentified() {
			continue
		}
		result = append(result, convertNodeMetadata(client.Meta()))
	}

	return result, nil
}

// GetNode returns a specific node by ID
func (ns *NodeServiceImpl) GetNode(id string) (*NodeInfo, error) {
	client, exists := ns.registry.Get(id)
	if !exists || !client.Meta().IsIdentified() {
		return nil, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "Node not found: " + id,
		}
	}

	info := convertNodeMetadata(client.Meta())
	return &info, nil
}

// IsNodeConnected checks if node is connected
func (ns *NodeServiceImpl) IsNodeConnected(id string) (bool, error) {
	client, exists := ns.registry.Get(id)
	return exists && client.Meta().IsIdentified(), nil
}
