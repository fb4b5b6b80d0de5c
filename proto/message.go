package proto

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame types exchanged between hub and nodes.
const (
	TypeIdentify              = "identify"
	TypeIdentifyAck           = "identify_ack"
	TypeSendMessage           = "send_message"
	TypeMessage               = "message"
	TypePutData               = "put_data"
	TypeGetData               = "get_data"
	TypeListData              = "list_data"
	TypeDeleteData            = "delete_data"
	TypeDataChanged           = "data_changed"
	TypeGetAsset              = "get_asset"
	TypeListNodes             = "list_nodes"
	TypeLocalNode             = "local_node"
	TypeGetCapability         = "get_capability"
	TypeAddCapability         = "add_capability"
	TypeRemoveCapability      = "remove_capability"
	TypeSubscribeCapability   = "subscribe_capability"
	TypeUnsubscribeCapability = "unsubscribe_capability"
	TypeCapabilityChanged     = "capability_changed"
	TypeResponse              = "response"
)

// MaxFrameSize bounds one encoded frame. Asset bytes travel inline.
const MaxFrameSize = 16 << 20

// mDNS service types a hub advertises for its listeners.
const (
	TCPServiceType       = "_wearbridge-tcp._tcp"
	WebSocketServiceType = "_wearbridge-ws._tcp"
)

type Message struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`        // request id, echoed by the response
	Path      string          `json:"path,omitempty"`      // message path or data path
	Sender    string          `json:"sender,omitempty"`    // origin node id, set by the hub
	Recipient string          `json:"recipient,omitempty"` // target node for send_message
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *Error          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"` // UNIX timestamp in seconds
}

// NewMessage builds a frame with a JSON-encoded payload. A nil payload
// is left empty.
func NewMessage(msgType string, payload any) (Message, error) {
	msg := Message{Type: msgType, Timestamp: time.Now().Unix()}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	msg.Payload = raw
	return msg, nil
}

// DecodePayload unmarshals the frame payload into v.
func (m Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s frame has no payload", ErrMalformed, m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, m.Type, err)
	}
	return nil
}

type IdentifyPayload struct {
	ProposedName string   `json:"proposed_name"` // Optional human-readable alias
	Firmware     string   `json:"firmware"`
	Capabilities []string `json:"capabilities"`
	Relayed      bool     `json:"relayed,omitempty"` // reached through a relay, not nearby
}

type IdAckPayload struct {
	AssignedId string `json:"assigned_id"`
	Status     string `json:"status"`
	Node       Node   `json:"node"`
}

type MessagePayload struct {
	Data []byte `json:"data,omitempty"`
}

type PutDataPayload struct {
	Path     string            `json:"path"`
	Envelope []byte            `json:"envelope"`
	Assets   map[string][]byte `json:"assets,omitempty"` // digest -> bytes
}

type DataItemPayload struct {
	URI  string `json:"uri"`
	Data []byte `json:"data"`
	Seq  uint64 `json:"seq"`
}

type URIPayload struct {
	URI string `json:"uri"`
}

type DataItemsPayload struct {
	Items []DataItemPayload `json:"items"`
}

type DeletePayload struct {
	Deleted int `json:"deleted"`
}

type DataEventPayload struct {
	Type DataEventType   `json:"type"`
	Item DataItemPayload `json:"item"`
}

type DataChangedPayload struct {
	Events []DataEventPayload `json:"events"`
}

type AssetRequestPayload struct {
	Digest string `json:"digest"`
}

type AssetPayload struct {
	Digest string `json:"digest"`
	Data   []byte `json:"data"`
}

type NodesPayload struct {
	Nodes []Node `json:"nodes"`
}

type NodePayload struct {
	Node Node `json:"node"`
}

type CapabilityRequestPayload struct {
	Name   string           `json:"name"`
	Filter CapabilityFilter `json:"filter"`
}

type SendResultPayload struct {
	RequestID string `json:"request_id"`
}

func EncodeDataItem(item DataItem) DataItemPayload {
	return DataItemPayload{URI: item.URI.String(), Data: item.Data, Seq: item.Seq}
}

func DecodeDataItem(p DataItemPayload) (DataItem, error) {
	uri, err := ParseURI(p.URI)
	if err != nil {
		return DataItem{}, err
	}
	return DataItem{URI: uri, Data: p.Data, Seq: p.Seq}, nil
}

func DecodeDataItems(ps []DataItemPayload) ([]DataItem, error) {
	items := make([]DataItem, 0, len(ps))
	for _, p := range ps {
		item, err := DecodeDataItem(p)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
