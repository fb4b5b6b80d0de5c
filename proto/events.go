package proto

import (
	"sync/atomic"
)

// DataItem is a record of the replicated store. Data holds the encoded
// Envelope exactly as stored.
type DataItem struct {
	URI  URI
	Data []byte
	Seq  uint64
}

// Envelope decodes the stored envelope.
func (d DataItem) Envelope() (Envelope, error) {
	return EnvelopeFromBytes(d.Data)
}

// DataMap decodes the item and returns its flat view, the map "as stored".
func (d DataItem) DataMap() (*DataMap, error) {
	env, err := d.Envelope()
	if err != nil {
		return nil, err
	}
	return env.Map(), nil
}

// PutDataRequest asks the data layer to store an envelope at Path under
// the local node's authority.
type PutDataRequest struct {
	Path     string
	Envelope Envelope
}

func NewPutDataRequest(path string, env Envelope) (*PutDataRequest, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	return &PutDataRequest{Path: path, Envelope: env}, nil
}

// MessageEvent is a point-to-point message delivered to this node.
type MessageEvent struct {
	RequestID    string
	Path         string
	SourceNodeID string
	Data         []byte
}

type DataEventType int

const (
	DataChanged DataEventType = iota + 1
	DataDeleted
)

func (t DataEventType) String() string {
	switch t {
	case DataChanged:
		return "changed"
	case DataDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

type DataEvent struct {
	Type DataEventType
	Item DataItem
}

// DataEventBuffer carries the events of one data-changed push. The
// receiver must Release it once all events have been handled.
type DataEventBuffer struct {
	events    []DataEvent
	released  atomic.Bool
	onRelease func()
}

func NewDataEventBuffer(events []DataEvent, onRelease func()) *DataEventBuffer {
	return &DataEventBuffer{events: events, onRelease: onRelease}
}

// Events returns the buffered events, or nil once released.
func (b *DataEventBuffer) Events() []DataEvent {
	if b.released.Load() {
		return nil
	}
	return b.events
}

func (b *DataEventBuffer) Len() int {
	return len(b.Events())
}

// Release frees the buffer. Only the first call has an effect.
func (b *DataEventBuffer) Release() {
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	if b.onRelease != nil {
		b.onRelease()
	}
}

func (b *DataEventBuffer) Released() bool {
	return b.released.Load()
}

// Push callback targets registered with a data layer.
type MessageListener interface {
	OnMessageReceived(MessageEvent)
}

type DataListener interface {
	OnDataChanged(*DataEventBuffer)
}

type CapabilityListener interface {
	OnCapabilityChanged(CapabilityInfo)
}

type Listener interface {
	MessageListener
	DataListener
	CapabilityListener
}
