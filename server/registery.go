package server

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mbocsi/wearbridge/proto"
)

// NodeRegistry tracks every open connection by id, and the capabilities
// advertised by identified nodes.
type NodeRegistry struct {
	mu           sync.RWMutex
	store        map[string]Client
	capabilities map[string]map[string]struct{} // capability -> node ids
}

func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{
		store:        make(map[string]Client),
		capabilities: make(map[string]map[string]struct{}),
	}
}

func (r *NodeRegistry) Store(client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[client.Meta().ID()] = client
}

func (r *NodeRegistry) Get(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.store[id]
	return val, ok
}

// Delete removes the client and returns the capabilities it advertised.
func (r *NodeRegistry) Delete(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.store, id)

	var removed []string
	for name, ids := range r.capabilities {
		if _, ok := ids[id]; !ok {
			continue
		}
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.capabilities, name)
		}
		removed = append(removed, name)
	}
	slices.Sort(removed)
	return removed
}

// Identify moves client from its connection id to nodeID and marks it
// identified. A taken nodeID, or one that is not a valid node id, is
// replaced by a generated one; the id actually assigned is returned.
func (r *NodeRegistry) Identify(client Client, nodeID, name, firmware string, relayed bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta := client.Meta()
	oldID := meta.ID()
	if proto.ValidateNodeID(nodeID) != nil {
		nodeID = generateNodeId()
	}
	for {
		existing, taken := r.store[nodeID]
		if !taken || existing == client {
			break
		}
		nodeID = generateNodeId()
	}

	delete(r.store, oldID)
	meta.Mu.Lock()
	meta.Id = nodeID
	meta.Name = name
	meta.Firmware = firmware
	meta.Relayed = relayed
	meta.Identified = true
	meta.LastSeen = time.Now()
	meta.Mu.Unlock()
	r.store[nodeID] = client
	return nodeID
}

// List returns every client, oldest connection first.
func (r *NodeRegistry) List() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]Client, 0, len(r.store))
	for _, client := range r.store {
		clients = append(clients, client)
	}
	sortClients(clients)
	return clients
}

// Nodes returns the identified nodes other than exclude, oldest
// connection first.
func (r *NodeRegistry) Nodes(exclude string) []proto.Node {
	clients := r.List()
	nodes := make([]proto.Node, 0, len(clients))
	for _, c := range clients {
		meta := c.Meta()
		if !meta.IsIdentified() || meta.ID() == exclude {
			continue
		}
		nodes = append(nodes, meta.Node())
	}
	return nodes
}

// AddCapability records that node id advertises name. It reports whether
// the capability was newly added.
func (r *NodeRegistry) AddCapability(id, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.store[id]
	if !ok {
		return false
	}
	meta := client.Meta()
	meta.Mu.Lock()
	_, had := meta.Capabilities[name]
	meta.Capabilities[name] = struct{}{}
	meta.Mu.Unlock()

	if r.capabilities[name] == nil {
		r.capabilities[name] = make(map[string]struct{})
	}
	r.capabilities[name][id] = struct{}{}
	return !had
}

// RemoveCapability reports whether node id advertised name.
func (r *NodeRegistry) RemoveCapability(id, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.store[id]
	if !ok {
		return false
	}
	meta := client.Meta()
	meta.Mu.Lock()
	_, had := meta.Capabilities[name]
	delete(meta.Capabilities, name)
	meta.Mu.Unlock()

	if ids, ok := r.capabilities[name]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.capabilities, name)
		}
	}
	return had
}

// CapabilityNodes returns the nodes advertising name, oldest connection
// first. FilterReachable keeps only nodes with an open connection, which
// every registered node has.
func (r *NodeRegistry) CapabilityNodes(name string, filter proto.CapabilityFilter) []proto.Node {
	r.mu.RLock()
	clients := make([]Client, 0, len(r.capabilities[name]))
	for id := range r.capabilities[name] {
		if c, ok := r.store[id]; ok {
			clients = append(clients, c)
		}
	}
	r.mu.RUnlock()

	sortClients(clients)
	nodes := make([]proto.Node, 0, len(clients))
	for _, c := range clients {
		nodes = append(nodes, c.Meta().Node())
	}
	return nodes
}

// Capabilities returns every advertised capability with its node ids.
func (r *NodeRegistry) Capabilities() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.capabilities))
	for name, ids := range r.capabilities {
		list := make([]string, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		slices.Sort(list)
		out[name] = list
	}
	return out
}

func sortClients(clients []Client) {
	slices.SortFunc(clients, func(a, b Client) int {
		na, nb := a.Meta().Node(), b.Meta().Node()
		if c := na.ConnectedAt.Compare(nb.ConnectedAt); c != 0 {
			return c
		}
		return strings.Compare(na.ID, nb.ID)
	})
}
