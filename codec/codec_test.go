package codec

import (
	"bytes"
	"testing"

	"github.com/xraph/stockpile/id"
)

type sampleState struct {
	Version int               `cbor:"v"`
	Name    string            `cbor:"name"`
	Counts  map[string]int64  `cbor:"counts,omitempty"`
	Store   id.StoreID        `cbor:"store"`
	Extra   map[string]string `cbor:"extra,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleState{
		Version: 1,
		Name:    "water",
		Counts:  map[string]int64{"a": 1, "b": 2},
		Store:   id.NewStoreID(),
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleState
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Name != original.Name || decoded.Version != original.Version {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
	if decoded.Store.String() != original.Store.String() {
		t.Errorf("store id: got %s, want %s", decoded.Store, original.Store)
	}
	if decoded.Counts["b"] != 2 {
		t.Errorf("counts: got %v", decoded.Counts)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	state := sampleState{
		Version: 1,
		Counts:  map[string]int64{"z": 26, "a": 1, "m": 13},
	}

	first, err := Marshal(state)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(state)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding violated: %x != %x", first, again)
		}
	}
}

func TestIDEncodesAsText(t *testing.T) {
	sid := id.NewStoreID()
	data, err := Marshal(sampleState{Store: sid})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var generic map[string]any
	if err := Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got, ok := generic["store"].(string); !ok || got != sid.String() {
		t.Errorf("store: got %#v, want %q", generic["store"], sid.String())
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	data, err := Marshal(map[string]any{"v": 2, "name": "lava", "future": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got sampleState
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Version != 2 || got.Name != "lava" {
		t.Errorf("got %+v", got)
	}
}
