package services

import (
	"github.com/mbocsi/wearbridge/server"
)

// ServiceManagerImpl manages all services with dependency injection
type ServiceManagerImpl struct {
	coordinator *server.Coordinator
	services    *ServiceContainer
}

// NewServiceManager builds the service layer over a hub coordinator
func NewServiceManager(coordinator *server.Coordinator) *ServiceManagerImpl {
	sm := &ServiceManagerImpl{coordinator: coordinator}

	sm.services = &ServiceContainer{
		Node:       NewNodeService(coordinator.Registery),
		Capability: NewCapabilityService(coordinator.Registery),
		Data:       NewDataService(coordinator.Store),
		Messaging:  NewMessagingService(coordinator.Broker, coordinator.Registery, HubSender),
		Transport:  NewTransportService(func() []server.Transport { return coordinator.Transports }),
	}

	return sm
}

// GetServices returns the service container
func (sm *ServiceManagerImpl) GetServices() *ServiceContainer {
	return sm.services
}
