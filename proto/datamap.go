package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// ValueKind tags the type of a DataMap value on the wire.
type ValueKind uint8

const (
	KindString ValueKind = iota + 1
	KindInt
	KindDataMap
	KindDataMapList
	KindAsset
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindDataMap:
		return "map"
	case KindDataMapList:
		return "map_list"
	case KindAsset:
		return "asset"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

type entry struct {
	key   string
	kind  ValueKind
	value any
}

// DataMap is an ordered string-keyed map of typed values: string, int32,
// nested *DataMap, []*DataMap or Asset. Keys are unique; putting an
// existing key replaces its value in place. A nil *DataMap reads as empty.
type DataMap struct {
	entries []entry
	index   map[string]int
}

func NewDataMap() *DataMap {
	return &DataMap{index: make(map[string]int)}
}

func (m *DataMap) put(key string, kind ValueKind, value any) *DataMap {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[key]; ok {
		m.entries[i] = entry{key: key, kind: kind, value: value}
		return m
	}
	m.index[key] = len(m.entries)
	m.entries = append(m.entries, entry{key: key, kind: kind, value: value})
	return m
}

func (m *DataMap) PutString(key, value string) *DataMap {
	return m.put(key, KindString, value)
}

func (m *DataMap) PutInt(key string, value int32) *DataMap {
	return m.put(key, KindInt, value)
}

func (m *DataMap) PutDataMap(key string, value *DataMap) *DataMap {
	if value == nil {
		value = NewDataMap()
	}
	return m.put(key, KindDataMap, value)
}

func (m *DataMap) PutDataMapList(key string, values []*DataMap) *DataMap {
	list := make([]*DataMap, len(values))
	for i, v := range values {
		if v == nil {
			v = NewDataMap()
		}
		list[i] = v
	}
	return m.put(key, KindDataMapList, list)
}

func (m *DataMap) PutAsset(key string, asset Asset) *DataMap {
	return m.put(key, KindAsset, asset)
}

func (m *DataMap) lookup(key string, kind ValueKind) (any, bool) {
	if m == nil {
		return nil, false
	}
	i, ok := m.index[key]
	if !ok || m.entries[i].kind != kind {
		return nil, false
	}
	return m.entries[i].value, true
}

func (m *DataMap) GetString(key string) (string, bool) {
	v, ok := m.lookup(key, KindString)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (m *DataMap) GetInt(key string) (int32, bool) {
	v, ok := m.lookup(key, KindInt)
	if !ok {
		return 0, false
	}
	return v.(int32), true
}

func (m *DataMap) GetDataMap(key string) (*DataMap, bool) {
	v, ok := m.lookup(key, KindDataMap)
	if !ok {
		return nil, false
	}
	return v.(*DataMap), true
}

func (m *DataMap) GetDataMapList(key string) ([]*DataMap, bool) {
	v, ok := m.lookup(key, KindDataMapList)
	if !ok {
		return nil, false
	}
	return v.([]*DataMap), true
}

func (m *DataMap) GetAsset(key string) (Asset, bool) {
	v, ok := m.lookup(key, KindAsset)
	if !ok {
		return Asset{}, false
	}
	return v.(Asset), true
}

// Kind returns the kind stored under key, or 0 if the key is absent.
func (m *DataMap) Kind(key string) ValueKind {
	if m == nil {
		return 0
	}
	if i, ok := m.index[key]; ok {
		return m.entries[i].kind
	}
	return 0
}

func (m *DataMap) ContainsKey(key string) bool {
	if m == nil {
		return false
	}
	_, ok := m.index[key]
	return ok
}

func (m *DataMap) Remove(key string) bool {
	if m == nil {
		return false
	}
	i, ok := m.index[key]
	if !ok {
		return false
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	delete(m.index, key)
	for j := i; j < len(m.entries); j++ {
		m.index[m.entries[j].key] = j
	}
	return true
}

// Keys returns the keys in insertion order.
func (m *DataMap) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.key
	}
	return keys
}

func (m *DataMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Clone returns a deep copy. Asset bytes are shared, not copied.
func (m *DataMap) Clone() *DataMap {
	out := NewDataMap()
	if m == nil {
		return out
	}
	for _, e := range m.entries {
		switch e.kind {
		case KindDataMap:
			out.put(e.key, e.kind, e.value.(*DataMap).Clone())
		case KindDataMapList:
			src := e.value.([]*DataMap)
			list := make([]*DataMap, len(src))
			for i, v := range src {
				list[i] = v.Clone()
			}
			out.put(e.key, e.kind, list)
		default:
			out.put(e.key, e.kind, e.value)
		}
	}
	return out
}

// Equal reports whether both maps hold the same keys in the same order
// with equal values. Assets compare by digest.
func (m *DataMap) Equal(other *DataMap) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i := 0; i < m.Len(); i++ {
		a, b := m.entries[i], other.entries[i]
		if a.key != b.key || a.kind != b.kind {
			return false
		}
		switch a.kind {
		case KindDataMap:
			if !a.value.(*DataMap).Equal(b.value.(*DataMap)) {
				return false
			}
		case KindDataMapList:
			la, lb := a.value.([]*DataMap), b.value.([]*DataMap)
			if len(la) != len(lb) {
				return false
			}
			for j := range la {
				if !la[j].Equal(lb[j]) {
					return false
				}
			}
		case KindAsset:
			if a.value.(Asset).Digest != b.value.(Asset).Digest {
				return false
			}
		default:
			if a.value != b.value {
				return false
			}
		}
	}
	return true
}

// Assets walks the map, nested maps included, and returns every asset.
func (m *DataMap) Assets() []Asset {
	if m == nil {
		return nil
	}
	var out []Asset
	for _, e := range m.entries {
		switch e.kind {
		case KindAsset:
			out = append(out, e.value.(Asset))
		case KindDataMap:
			out = append(out, e.value.(*DataMap).Assets()...)
		case KindDataMapList:
			for _, v := range e.value.([]*DataMap) {
				out = append(out, v.Assets()...)
			}
		}
	}
	return out
}

func (m *DataMap) String() string {
	b, err := m.MarshalJSON()
	if err != nil {
		return "DataMap{" + err.Error() + "}"
	}
	return string(b)
}

// Bytes encodes the map to its CBOR wire form.
func (m *DataMap) Bytes() ([]byte, error) {
	return encMode.Marshal(m)
}

// DataMapFromBytes decodes a map produced by Bytes.
func DataMapFromBytes(data []byte) (*DataMap, error) {
	m := NewDataMap()
	if len(data) == 0 {
		return m, nil
	}
	if err := decMode.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: decode data map: %v", ErrMalformed, err)
	}
	return m, nil
}

// wireEntry keeps order and type across the wire: a map is an array of
// [key, kind, value] triples.
type wireEntry struct {
	_     struct{} `cbor:",toarray"`
	Key   string
	Kind  ValueKind
	Value cbor.RawMessage
}

func (m *DataMap) MarshalCBOR() ([]byte, error) {
	wire := make([]wireEntry, 0, m.Len())
	if m != nil {
		for _, e := range m.entries {
			var raw []byte
			var err error
			if e.kind == KindAsset {
				raw, err = encMode.Marshal(e.value.(Asset).Digest)
			} else {
				raw, err = encMode.Marshal(e.value)
			}
			if err != nil {
				return nil, fmt.Errorf("encode %q: %w", e.key, err)
			}
			wire = append(wire, wireEntry{Key: e.key, Kind: e.kind, Value: raw})
		}
	}
	return encMode.Marshal(wire)
}

func (m *DataMap) UnmarshalCBOR(data []byte) error {
	var wire []wireEntry
	if err := decMode.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.entries = m.entries[:0]
	m.index = make(map[string]int, len(wire))
	for _, w := range wire {
		if _, dup := m.index[w.Key]; dup {
			return fmt.Errorf("duplicate key %q", w.Key)
		}
		switch w.Kind {
		case KindString:
			var s string
			if err := decMode.Unmarshal(w.Value, &s); err != nil {
				return fmt.Errorf("decode %q: %w", w.Key, err)
			}
			m.PutString(w.Key, s)
		case KindInt:
			var n int32
			if err := decMode.Unmarshal(w.Value, &n); err != nil {
				return fmt.Errorf("decode %q: %w", w.Key, err)
			}
			m.PutInt(w.Key, n)
		case KindDataMap:
			nested := NewDataMap()
			if err := decMode.Unmarshal(w.Value, nested); err != nil {
				return fmt.Errorf("decode %q: %w", w.Key, err)
			}
			m.PutDataMap(w.Key, nested)
		case KindDataMapList:
			var list []*DataMap
			if err := decMode.Unmarshal(w.Value, &list); err != nil {
				return fmt.Errorf("decode %q: %w", w.Key, err)
			}
			m.PutDataMapList(w.Key, list)
		case KindAsset:
			var digest string
			if err := decMode.Unmarshal(w.Value, &digest); err != nil {
				return fmt.Errorf("decode %q: %w", w.Key, err)
			}
			m.PutAsset(w.Key, AssetFromDigest(digest))
		default:
			return fmt.Errorf("decode %q: unknown value kind %d", w.Key, w.Kind)
		}
	}
	return nil
}

// MarshalJSON renders the map as a JSON object in key order. Assets
// render as {"asset": "<digest>"}.
func (m *DataMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if m != nil {
		for i, e := range m.entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(e.key)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			var value []byte
			switch e.kind {
			case KindInt:
				value = strconv.AppendInt(nil, int64(e.value.(int32)), 10)
			case KindAsset:
				value, err = json.Marshal(map[string]string{"asset": e.value.(Asset).Digest})
			default:
				value, err = json.Marshal(e.value)
			}
			if err != nil {
				return nil, err
			}
			buf.Write(value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
