package proto

import (
	"errors"
	"testing"
)

func isMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

func TestEnvelope_RoundTrip(t *testing.T) {
	item := NewDataMap().PutString("k", "v").PutInt("n", 9)
	tests := []struct {
		name string
		env  Envelope
	}{
		{"item", WrapItem(item)},
		{"array", WrapArray([]*DataMap{item, NewDataMap().PutInt("n", 10)})},
		{"raw", WrapRaw(item)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.env.Bytes()
			if err != nil {
				t.Fatalf("Bytes failed: %v", err)
			}
			got, err := EnvelopeFromBytes(data)
			if err != nil {
				t.Fatalf("EnvelopeFromBytes failed: %v", err)
			}
			if got.Kind != tt.env.Kind {
				t.Fatalf("Expected kind %s, got %s", tt.env.Kind, got.Kind)
			}
			if !got.Map().Equal(tt.env.Map()) {
				t.Errorf("Expected flat views to match:\n%s\n%s", tt.env.Map(), got.Map())
			}
		})
	}
}

func TestEnvelope_FlatViewCarriesReservedKey(t *testing.T) {
	item := NewDataMap().PutString("k", "v").PutInt("n", 9)
	flat := WrapItem(item).Map()

	nested, ok := flat.GetDataMap(ItemKey)
	if !ok {
		t.Fatalf("Expected %q in flat view %s", ItemKey, flat)
	}
	if !nested.Equal(item) {
		t.Errorf("Expected nested item %s, got %s", item, nested)
	}
}

func TestParseEnvelope(t *testing.T) {
	item := NewDataMap().PutString("k", "v")

	if env := ParseEnvelope(WrapItem(item).Map()); env.Kind != EnvelopeItem {
		t.Errorf("Expected item kind, got %s", env.Kind)
	}
	if env := ParseEnvelope(WrapArray([]*DataMap{item}).Map()); env.Kind != EnvelopeArray || len(env.Items) != 1 {
		t.Errorf("Expected array kind with one item, got %s", env.Kind)
	}
	if env := ParseEnvelope(item); env.Kind != EnvelopeRaw || !env.Raw.Equal(item) {
		t.Errorf("Expected raw kind, got %s", env.Kind)
	}

	both := NewDataMap().PutDataMap(ItemKey, item).PutDataMapList(ArrayKey, []*DataMap{item, item})
	if env := ParseEnvelope(both); env.Kind != EnvelopeArray {
		t.Errorf("Expected array key to win, got %s", env.Kind)
	}
}

func TestWrapItem_CopiesInput(t *testing.T) {
	item := NewDataMap().PutString("k", "v")
	env := WrapItem(item)
	item.PutString("k", "mutated")

	if v, _ := env.Item.GetString("k"); v != "v" {
		t.Errorf("Expected envelope to hold a copy, got %q", v)
	}
}

func TestCheckReserved(t *testing.T) {
	if err := CheckReserved(NewDataMap().PutString("data", "ok")); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	err := CheckReserved(NewDataMap().PutString(ArrayKey, "nope"))
	if !errors.Is(err, ErrReservedKey) {
		t.Errorf("Expected ErrReservedKey, got %v", err)
	}
	if !errors.Is(err, ErrMalformed) {
		t.Error("Expected reserved key error to be malformed input")
	}
}
