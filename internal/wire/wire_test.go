package wire

import (
	"encoding/json"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := Encode(TypeStateUpdate, StateUpdateData{ObjectID: "obj1", State: true})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != TypeStateUpdate {
		t.Fatalf("Type = %q, want %q", env.Type, TypeStateUpdate)
	}

	var data StateUpdateData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.ObjectID != "obj1" || !data.State {
		t.Fatalf("data = %+v, want {obj1 true}", data)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatal("expected a decode error for malformed JSON")
	}
}

func TestDeepMergeRecursesIntoObjects(t *testing.T) {
	base := json.RawMessage(`{"a":{"x":1,"y":2},"b":3}`)
	patch := json.RawMessage(`{"a":{"y":9,"z":5}}`)

	merged, err := DeepMerge(base, patch)
	if err != nil {
		t.Fatalf("DeepMerge: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(merged, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	a := got["a"].(map[string]any)
	if a["x"] != 1.0 || a["y"] != 9.0 || a["z"] != 5.0 {
		t.Fatalf("merged.a = %v, want {x:1 y:9 z:5}", a)
	}
	if got["b"] != 3.0 {
		t.Fatalf("merged.b = %v, want 3", got["b"])
	}
}

func TestDeepMergeReplacesNonObjects(t *testing.T) {
	base := json.RawMessage(`{"a":1}`)
	patch := json.RawMessage(`{"a":[1,2,3]}`)

	merged, err := DeepMerge(base, patch)
	if err != nil {
		t.Fatalf("DeepMerge: %v", err)
	}
	var got map[string]any
	json.Unmarshal(merged, &got)
	if _, ok := got["a"].([]any); !ok {
		t.Fatalf("merged.a = %v (%T), want a replaced array", got["a"], got["a"])
	}
}

func TestDeepMergeEmptyPatchIsNoop(t *testing.T) {
	base := json.RawMessage(`{"a":1}`)
	merged, err := DeepMerge(base, nil)
	if err != nil {
		t.Fatalf("DeepMerge: %v", err)
	}
	if string(merged) != string(base) {
		t.Fatalf("merged = %s, want unchanged base %s", merged, base)
	}
}
