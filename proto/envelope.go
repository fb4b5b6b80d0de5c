package proto

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Reserved keys of the flat view of an envelope. Application maps must
// not use them at top level.
const (
	ItemKey  = "data-item"
	ArrayKey = "data-array"
)

// EnvelopeKind discriminates what a stored data item holds.
type EnvelopeKind uint8

const (
	EnvelopeRaw EnvelopeKind = iota
	EnvelopeItem
	EnvelopeArray
)

func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeRaw:
		return "raw"
	case EnvelopeItem:
		return "item"
	case EnvelopeArray:
		return "array"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Envelope is the unit stored at a path: one item, a list of items, or
// a raw map.
type Envelope struct {
	Kind  EnvelopeKind
	Item  *DataMap
	Items []*DataMap
	Raw   *DataMap
}

func WrapItem(item *DataMap) Envelope {
	return Envelope{Kind: EnvelopeItem, Item: item.Clone()}
}

func WrapArray(items []*DataMap) Envelope {
	list := make([]*DataMap, len(items))
	for i, item := range items {
		list[i] = item.Clone()
	}
	return Envelope{Kind: EnvelopeArray, Items: list}
}

func WrapRaw(m *DataMap) Envelope {
	return Envelope{Kind: EnvelopeRaw, Raw: m.Clone()}
}

// Map renders the flat view: the item or list under its reserved key,
// or the raw map unchanged.
func (e Envelope) Map() *DataMap {
	switch e.Kind {
	case EnvelopeItem:
		return NewDataMap().PutDataMap(ItemKey, e.Item)
	case EnvelopeArray:
		return NewDataMap().PutDataMapList(ArrayKey, e.Items)
	default:
		if e.Raw == nil {
			return NewDataMap()
		}
		return e.Raw
	}
}

// ParseEnvelope reads a flat view back into an envelope. The array key
// takes precedence over the item key.
func ParseEnvelope(m *DataMap) Envelope {
	if items, ok := m.GetDataMapList(ArrayKey); ok {
		return Envelope{Kind: EnvelopeArray, Items: items}
	}
	if item, ok := m.GetDataMap(ItemKey); ok {
		return Envelope{Kind: EnvelopeItem, Item: item}
	}
	if m == nil {
		m = NewDataMap()
	}
	return Envelope{Kind: EnvelopeRaw, Raw: m}
}

// Assets returns every asset referenced by the envelope.
func (e Envelope) Assets() []Asset {
	switch e.Kind {
	case EnvelopeItem:
		return e.Item.Assets()
	case EnvelopeArray:
		var out []Asset
		for _, item := range e.Items {
			out = append(out, item.Assets()...)
		}
		return out
	default:
		return e.Raw.Assets()
	}
}

// CheckReserved rejects an application map that uses a reserved key.
func CheckReserved(m *DataMap) error {
	for _, key := range []string{ItemKey, ArrayKey} {
		if m.ContainsKey(key) {
			return fmt.Errorf("%w: %q", ErrReservedKey, key)
		}
	}
	return nil
}

type wireEnvelope struct {
	_    struct{} `cbor:",toarray"`
	Kind EnvelopeKind
	Body cbor.RawMessage
}

func (e Envelope) MarshalCBOR() ([]byte, error) {
	var body []byte
	var err error
	switch e.Kind {
	case EnvelopeItem:
		body, err = encMode.Marshal(e.Item)
	case EnvelopeArray:
		items := e.Items
		if items == nil {
			items = []*DataMap{}
		}
		body, err = encMode.Marshal(items)
	case EnvelopeRaw:
		body, err = encMode.Marshal(e.Raw)
	default:
		return nil, fmt.Errorf("unknown envelope kind %d", e.Kind)
	}
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(wireEnvelope{Kind: e.Kind, Body: body})
}

func (e *Envelope) UnmarshalCBOR(data []byte) error {
	var w wireEnvelope
	if err := decMode.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Envelope{Kind: w.Kind}
	switch w.Kind {
	case EnvelopeItem:
		e.Item = NewDataMap()
		return decMode.Unmarshal(w.Body, e.Item)
	case EnvelopeArray:
		return decMode.Unmarshal(w.Body, &e.Items)
	case EnvelopeRaw:
		e.Raw = NewDataMap()
		return decMode.Unmarshal(w.Body, e.Raw)
	default:
		return fmt.Errorf("unknown envelope kind %d", w.Kind)
	}
}

func (e Envelope) Bytes() ([]byte, error) {
	return encMode.Marshal(e)
}

// EnvelopeFromBytes decodes the stored form of a data item.
func EnvelopeFromBytes(data []byte) (Envelope, error) {
	var e Envelope
	if err := decMode.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: decode envelope: %v", ErrMalformed, err)
	}
	return e, nil
}
