package server

import (
	"log/slog"
	"sync"

	"github.com/mbocsi/wearbridge/proto"
)

// Hub-internal topics. Capability names cannot start with '$'.
const (
	TopicData       = "$data"
	TopicCapability = "$capability"
)

// Broker routes frames to the clients subscribed to a topic. Capability
// names are topics; observers such as SSE streams use the '$' topics.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[Client]struct{} // Map topic to hashset of Clients
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[Client]struct{}),
	}
}

func (b *Broker) Subscribe(topic string, client Client) {
	slog.Debug("Subscribing", "topic", topic, "clientId", client.Meta().ID())
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[Client]struct{})
	}
	b.subs[topic][client] = struct{}{}
}

func (b *Broker) Publish(topic string, msg proto.Message) int {
	b.mu.RLock()
	clients := make([]Client, 0, len(b.subs[topic]))
	for client := range b.subs[topic] {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	sentCount := 0
	for _, client := range clients {
		err := client.Send(msg)
		if err != nil {
			slog.Warn("There was an error publishing a message to a subscriber", "type", msg.Type, "topic", topic, "error", err.Error())
			continue
		}
		sentCount++
	}
	slog.Debug("Message published",
		"type", msg.Type,
		"topic", topic,
		"sender", msg.Sender,
		"subscribers", sentCount,
		"size", len(msg.Payload),
	)
	return sentCount
}

func (b *Broker) Unsubscribe(topic string, client Client) {
	slog.Debug("Unsubscribing", "topic", topic, "clientId", client.Meta().ID())
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subs[topic]; ok {
		if _, exists := subs[client]; exists {
			delete(subs, client)
		} else {
			slog.Warn("Did not find client in topic to unsubscribe", "topic", topic, "client", client.Meta().ID())
		}
		if len(subs) == 0 {
			delete(b.subs, topic)
		}
	}
}

// UnsubscribeAll removes client from every topic.
func (b *Broker) UnsubscribeAll(client Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		delete(subs, client)
		if len(subs) == 0 {
			delete(b.subs, topic)
		}
	}
}

func (b *Broker) Subscribers(topic string) []Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	clients := make([]Client, 0, len(b.subs[topic]))
	for client := range b.subs[topic] {
		clients = append(clients, client)
	}
	return clients
}
