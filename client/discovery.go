package client

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/mbocsi/wearbridge/proto"
)

// mDNS service types advertised by the hub.
const (
	TCPServiceType       = proto.TCPServiceType
	WebSocketServiceType = proto.WebSocketServiceType
)

// DiscoveredService is a hub found on the local network.
type DiscoveredService struct {
	ServiceName string
	Address     string
	Port        int
	Transport   string // "tcp" or "websocket"
	TXTRecords  []string
}

// Addr returns host:port for dialing.
func (s *DiscoveredService) Addr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

func discoverService(serviceType string, timeout time.Duration) (*DiscoveredService, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)

	params := mdns.DefaultParams(serviceType)
	params.Entries = entriesCh
	params.Timeout = timeout

	// Start discovery in background
	go func() {
		defer close(entriesCh)
		if err := mdns.Query(params); err != nil {
			slog.Warn("mDNS query failed", "service", serviceType, "error", err)
		}
	}()

	// Wait for first result or timeout
	select {
	case entry := <-entriesCh:
		if entry == nil {
			return nil, fmt.Errorf("no %s service found", serviceType)
		}

		var address string
		if entry.AddrV4 != nil {
			address = entry.AddrV4.String()
		} else if entry.AddrV6 != nil {
			address = fmt.Sprintf("[%s]", entry.AddrV6.String())
		} else {
			return nil, fmt.Errorf("no valid address found for service")
		}

		var transport string
		switch serviceType {
		case TCPServiceType:
			transport = "tcp"
		case WebSocketServiceType:
			transport = "websocket"
		}

		service := &DiscoveredService{
			ServiceName: entry.Name,
			Address:     address,
			Port:        entry.Port,
			Transport:   transport,
			TXTRecords:  entry.InfoFields,
		}

		slog.Info("Discovered hub",
			"service_name", service.ServiceName,
			"address", service.Address,
			"port", service.Port,
			"transport", service.Transport,
		)

		return service, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("mDNS discovery timeout for %s", serviceType)
	}
}

// DiscoverTCPService discovers the first hub accepting TCP connections.
func DiscoverTCPService(timeout time.Duration) (*DiscoveredService, error) {
	return discoverService(TCPServiceType, timeout)
}

// DiscoverWebSocketService discovers the first hub accepting WebSocket connections.
func DiscoverWebSocketService(timeout time.Duration) (*DiscoveredService, error) {
	return discoverService(WebSocketServiceType, timeout)
}
