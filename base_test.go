package rpc

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParamsToNamedPositional(t *testing.T) {
	named, err := paramsToNamed([]string{"a", "b", "c"}, json.RawMessage(`[1,"two"]`))
	if err != nil {
		t.Fatalf("paramsToNamed: %v", err)
	}
	want := map[string]json.RawMessage{
		"a": json.RawMessage("1"),
		"b": json.RawMessage(`"two"`),
		"c": json.RawMessage("null"),
	}
	if diff := cmp.Diff(want, named); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParamsToNamedObject(t *testing.T) {
	named, err := paramsToNamed([]string{"a", "b"}, json.RawMessage(`{"b":2}`))
	if err != nil {
		t.Fatalf("paramsToNamed: %v", err)
	}
	if string(named["a"]) != "null" {
		t.Errorf("a = %s, want null", named["a"])
	}
	if string(named["b"]) != "2" {
		t.Errorf("b = %s, want 2", named["b"])
	}
}

func TestParamsToNamedEmpty(t *testing.T) {
	named, err := paramsToNamed([]string{"a"}, nil)
	if err != nil {
		t.Fatalf("paramsToNamed: %v", err)
	}
	if string(named["a"]) != "null" {
		t.Errorf("a = %s, want null", named["a"])
	}
}

func TestNamedToPositionalOrdersByDeclaration(t *testing.T) {
	named := map[string]json.RawMessage{
		"two": json.RawMessage(`"b"`),
		"one": json.RawMessage(`"a"`),
	}
	got := namedToPositional([]string{"one", "two"}, named)
	if string(got[0]) != `"a"` || string(got[1]) != `"b"` {
		t.Fatalf("got %v", got)
	}
}

func TestHasMethodKey(t *testing.T) {
	cases := []struct {
		body string
		want bool
	}{
		{`{"method":"x"}`, true},
		{`{"result":1}`, false},
		{`[1,2,3]`, false},
		{`"just a string"`, false},
	}
	for _, c := range cases {
		if got := hasMethodKey(json.RawMessage(c.body)); got != c.want {
			t.Errorf("hasMethodKey(%s) = %v, want %v", c.body, got, c.want)
		}
	}
}

func TestFormatResultWrapsPlainValue(t *testing.T) {
	raw, err := formatResult(42)
	if err != nil {
		t.Fatalf("formatResult: %v", err)
	}
	if string(raw) != `{"result":42}` {
		t.Errorf("got %s", raw)
	}
}

func TestFormatResultPassesThroughMethodShaped(t *testing.T) {
	value := map[string]any{"method": "notify", "params": []int{1, 2}}
	raw, err := formatResult(value)
	if err != nil {
		t.Fatalf("formatResult: %v", err)
	}
	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := probe["result"]; ok {
		t.Fatalf("expected pass-through, got wrapped: %s", raw)
	}
	if probe["method"] != "notify" {
		t.Fatalf("got %v", probe)
	}
}

func TestFormatResultNilValue(t *testing.T) {
	raw, err := formatResult(nil)
	if err != nil {
		t.Fatalf("formatResult: %v", err)
	}
	if string(raw) != `{"result":null}` {
		t.Errorf("got %s", raw)
	}
}

func TestNewCorrelatorIsUniqueHex32(t *testing.T) {
	a := newCorrelator()
	b := newCorrelator()
	if a == b {
		t.Fatal("expected distinct correlators")
	}
	if len(a) != 32 {
		t.Fatalf("len(a) = %d, want 32", len(a))
	}
}

func TestDecodeBodySingleVsBatch(t *testing.T) {
	d, err := decodeBody([]byte(`{"method":"m"}`))
	if err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	if d.isBatch {
		t.Fatal("expected single")
	}
	if d.single.Method != "m" {
		t.Fatalf("got %q", d.single.Method)
	}

	d, err = decodeBody([]byte(`[{"method":"a"},{"method":"b"}]`))
	if err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	if !d.isBatch || len(d.batch) != 2 {
		t.Fatalf("got %+v", d)
	}
}

func TestDecodeBodyRejectsEmptyBatch(t *testing.T) {
	if _, err := decodeBody([]byte(`[]`)); err == nil {
		t.Fatal("expected error for empty batch")
	}
}
