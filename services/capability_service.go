package services

import (
	"slices"

	"github.com/mbocsi/wearbridge/proto"
	"github.com/mbocsi/wearbridge/server"
)

// CapabilityServiceImpl implements CapabilityService
type CapabilityServiceImpl struct {
	registry *server.NodeRegistry
}

// NewCapabilityService creates a new capability service
func NewCapabilityService(registry *server.NodeRegistry) CapabilityService {
	return &CapabilityServiceImpl{
		registry: registry,
	}
}

// ListCapabilities returns every advertised capability, sorted by name
func (cs *CapabilityServiceImpl) ListCapabilities() ([]CapabilityInfo, error) {
	index := cs.registry.Capabilities()
	names := make([]string, 0, len(index))
	for name := range index {
		names = append(names, name)
	}
	slices.Sort(names)

	result := make([]CapabilityInfo, 0, len(names))
	for _, name := range names {
		info, err := cs.GetCapability(name)
		if err != nil {
			// Skip capabilities withdrawn since the index was read
			continue
		}
		result = append(result, *info)
	}
	return result, nil
}

// GetCapability returns the nodes advertising name
func (cs *CapabilityServiceImpl) GetCapability(name string) (*CapabilityInfo, error) {
	if err := proto.ValidateCapabilityName(name); err != nil {
		return nil, ServiceError{Code: ErrCodeInvalidInput, Message: "Invalid capability name", Cause: err}
	}
	ids := cs.registry.Capabilities()[name]
	if len(ids) == 0 {
		return nil, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "Capability not found: " + name,
		}
	}

	info := &CapabilityInfo{Name: name, Nodes: make([]NodeInfo, 0, len(ids))}
	for _, id := range ids {
		if client, ok := cs.registry.Get(id); ok {
			info.Nodes = append(info.Nodes, convertNodeMetadata(client.Meta()))
		}
	}
	return info, nil
}

// GetCapabilitiesForNode returns the capability names a node advertises
func (cs *CapabilityServiceImpl) GetCapabilitiesForNode(nodeID string) ([]string, error) {
	client, exists := cs.registry.Get(nodeID)
	if !exists {
		return nil, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "Node not found: " + nodeID,
		}
	}
	return client.Meta().CapabilityNames(), nil
}
