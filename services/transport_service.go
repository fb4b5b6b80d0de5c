package services

import (
	"github.com/mbocsi/wearbridge/server"
)

// TransportServiceImpl implements TransportService
type TransportServiceImpl struct {
	transports func() []server.Transport
}

// NewTransportService creates a new transport service. The transports
// func is read on every call so transports registered later show up.
func NewTransportService(transports func() []server.Transport) TransportService {
	return &TransportServiceImpl{
		transports: transports,
	}
}

// ListTransports returns all transport information
func (ts *TransportServiceImpl) ListTransports() ([]TransportInfo, error) {
	transports := ts.transports()
	result := make([]TransportInfo, 0, len(transports))

	for _, transport := range transports {
		result = append(result, convertTransportMeta(transport))
	}

	return result, nil
}

// GetTransport returns a specific transport by ID
func (ts *TransportServiceImpl) GetTransport(id string) (*TransportInfo, error) {
	for _, transport := range ts.transports() {
		if transport.Meta().ID == id {
			info := convertTransportMeta(transport)
			return &info, nil
		}
	}
	return nil, ServiceError{
		Code:    ErrCodeNotFound,
		Message: "Transport not found: " + id,
	}
}

// GetTransportStats returns aggregate transport statistics
func (ts *TransportServiceImpl) GetTransportStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	transports := ts.transports()
	connectedTransports := 0
	totalConnections := 0

	for _, transport := range transports {
		meta := transport.Meta()
		if meta.Connected {
			connectedTransports++
		}
		totalConnections += len(meta.Clients)
	}

	stats["total_transports"] = len(transports)
	stats["connected_transports"] = connectedTransports
	stats["total_connections"] = totalConnections

	return stats, nil
}
