package core

import (
	"encoding/json"
	"testing"
)

func TestPropertyPathJSONRoundTrip(t *testing.T) {
	cases := []PropertyPath{
		{},
		ParsePropertyPath("/"),
		NewPropertyPath("stage", ""),
		NewPropertyPath("stage", "Position"),
		NewPropertyPath("", "Position"),
	}
	for _, p := range cases {
		data, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", p, err)
		}
		var got PropertyPath
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if got.String() != p.String() {
			t.Fatalf("round trip mismatch: %q != %q (json=%s)", got.String(), p.String(), data)
		}
	}
}

func TestEventJSONKeepsPath(t *testing.T) {
	e := Event{Type: EventDevicePropertyValueUpdate, Device: "stage", Path: NewPropertyPath("stage", "Position"), Value: "7"}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Path.String() != "/stage/Position" {
		t.Fatalf("expected path to survive JSON round trip, got %q", got.Path.String())
	}
}
