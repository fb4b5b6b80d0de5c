package proto

import (
	"fmt"
	"strings"
	"time"
)

// Node is a paired device in the data layer.
type Node struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name,omitempty"`
	IsNearby    bool      `json:"is_nearby"` // directly connected, not relayed
	ConnectedAt time.Time `json:"connected_at"`
}

// ValidateNodeID checks that id is usable as a URI authority: one or
// more letters, digits, '-', '.', '_' or '~'.
func ValidateNodeID(id string) error {
	if id == "" {
		return Errorf(CodeInvalidInput, "node id is required")
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '.', r == '_', r == '~':
		default:
			return Errorf(CodeInvalidInput, "node id %q must not contain %q", id, r)
		}
	}
	return nil
}

// CapabilityFilter selects which advertising nodes a capability query returns.
type CapabilityFilter int

const (
	FilterAll CapabilityFilter = iota
	FilterReachable
)

func (f CapabilityFilter) String() string {
	switch f {
	case FilterAll:
		return "all"
	case FilterReachable:
		return "reachable"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// CapabilityInfo names a capability and the nodes advertising it.
type CapabilityInfo struct {
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
}

// ValidateCapabilityName checks a capability name advertised by a node
// or used in a query. Names share the broker topic namespace, so the '$'
// prefix is kept for hub-internal topics.
func ValidateCapabilityName(name string) error {
	if strings.TrimSpace(name) == "" {
		return Errorf(CodeInvalidInput, "capability name is required")
	}
	if strings.HasPrefix(name, "$") {
		return Errorf(CodeInvalidInput, "capability %q must not start with '$'", name)
	}
	if strings.ContainsAny(name, " \t\n/") {
		return Errorf(CodeInvalidInput, "capability %q must not contain whitespace or '/'", name)
	}
	return nil
}
