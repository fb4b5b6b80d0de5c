package bridge

import (
	"github.com/mbocsi/wearbridge/broker"
	"github.com/mbocsi/wearbridge/proto"
)

// DataChange is one unwrapped entry of a data-changed push. For a
// deletion Map is empty.
type DataChange struct {
	URI  proto.URI
	Type proto.DataEventType
	Map  *proto.DataMap
}

func (c DataChange) Path() string {
	return c.URI.Path
}

func (b *Bridge) Messages() *broker.Topic[proto.MessageEvent] {
	return b.messages
}

func (b *Bridge) Data() *broker.Topic[DataChange] {
	return b.data
}

func (b *Bridge) Capabilities() *broker.Topic[proto.CapabilityInfo] {
	return b.capabilities
}

func (b *Bridge) OnMessageReceived(ev proto.MessageEvent) {
	b.messages.Publish(ev)
}

func (b *Bridge) OnCapabilityChanged(info proto.CapabilityInfo) {
	b.capabilities.Publish(info)
}

// OnDataChanged publishes one DataChange per stored item in buf, one per
// element for lists. Events that fail to decode are skipped. buf is
// released before returning.
func (b *Bridge) OnDataChanged(buf *proto.DataEventBuffer) {
	defer buf.Release()

	for _, ev := range buf.Events() {
		if ev.Type == proto.DataDeleted {
			b.data.Publish(DataChange{URI: ev.Item.URI, Type: ev.Type, Map: proto.NewDataMap()})
			continue
		}
		env, err := ev.Item.Envelope()
		if err != nil {
			b.logger.Debug("Skipping undecodable data event", "uri", ev.Item.URI.String(), "error", err)
			continue
		}
		switch env.Kind {
		case proto.EnvelopeArray:
			for _, item := range env.Items {
				b.data.Publish(DataChange{URI: ev.Item.URI, Type: ev.Type, Map: item})
			}
		case proto.EnvelopeItem:
			b.data.Publish(DataChange{URI: ev.Item.URI, Type: ev.Type, Map: env.Item})
		default:
			b.data.Publish(DataChange{URI: ev.Item.URI, Type: ev.Type, Map: env.Raw})
		}
	}
}
