package services

import (
	"encoding/json"
	"time"
)

// NodeInfo represents node information for the service layer
type NodeInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Firmware     string    `json:"firmware"`
	Nearby       bool      `json:"nearby"`
	Identified   bool      `json:"identified"`
	Capabilities []string  `json:"capabilities"`
	Transport    string    `json:"transport"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// CapabilityInfo is a capability and the nodes advertising it
type CapabilityInfo struct {
	Name  string     `json:"name"`
	Nodes []NodeInfo `json:"nodes"`
}

// DataItemInfo is a stored data item with its decoded map
type DataItemInfo struct {
	URI       string          `json:"uri"`
	Authority string          `json:"authority"`
	Path      string          `json:"path"`
	Kind      string          `json:"kind"`
	Seq       uint64          `json:"seq"`
	Data      json.RawMessage `json:"data"`
	Assets    []string        `json:"assets,omitempty"`
}

// TransportInfo represents transport connection information
type TransportInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Address     string `json:"address"`
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	MaxClients  int    `json:"max_clients"`
}

// MessageRequest asks the hub to deliver a message to one node
type MessageRequest struct {
	NodeID string `json:"node_id"`
	Path   string `json:"path"`
	Data   []byte `json:"data"`
}

// ServiceError represents structured service layer errors
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"cause,omitempty"`
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeUnavailable  = "UNAVAILABLE"
)
