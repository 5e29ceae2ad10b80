package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestNewPositionalCall(t *testing.T) {
	add := func(ctx context.Context, a, b int) (int, error) {
		return a + b, nil
	}
	fi, err := New(add, []string{"a", "b"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := fi.Fn(context.Background(), []json.RawMessage{
		json.RawMessage(`2`),
		json.RawMessage(`3`),
	})
	if err != nil {
		t.Fatalf("Fn: %v", err)
	}
	if out.(int) != 5 {
		t.Fatalf("got %v, want 5", out)
	}
}

func TestNewPropagatesHandlerError(t *testing.T) {
	boom := errors.New("boom")
	fn := func(ctx context.Context, s string) (string, error) {
		return "", boom
	}
	fi, err := New(fn, []string{"s"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = fi.Fn(context.Background(), []json.RawMessage{json.RawMessage(`"x"`)})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
}

func TestNewRejectsWrongNameCount(t *testing.T) {
	fn := func(ctx context.Context, a, b int) int { return a + b }
	if _, err := New(fn, []string{"a"}); err == nil {
		t.Fatal("expected error for mismatched name count")
	}
}

func TestNewRejectsNonContextFirstParam(t *testing.T) {
	fn := func(a, b int) int { return a + b }
	if _, err := New(fn, []string{"a", "b"}); err == nil {
		t.Fatal("expected error for missing context parameter")
	}
}

func TestNewAutoDerivesStructFieldNames(t *testing.T) {
	type echoArgs struct {
		One string `json:"one"`
		Two int    `json:"two"`
	}
	fn := func(ctx context.Context, a echoArgs) (string, error) {
		return a.One, nil
	}
	fi, err := NewAuto(fn)
	if err != nil {
		t.Fatalf("NewAuto: %v", err)
	}
	if want := []string{"one", "two"}; !equalStrings(fi.Params, want) {
		t.Fatalf("got params %v, want %v", fi.Params, want)
	}
	out, err := fi.Fn(context.Background(), []json.RawMessage{
		json.RawMessage(`"hi"`),
		json.RawMessage(`7`),
	})
	if err != nil {
		t.Fatalf("Fn: %v", err)
	}
	if out.(string) != "hi" {
		t.Fatalf("got %v, want hi", out)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewNoParams(t *testing.T) {
	fn := func(ctx context.Context) (string, error) { return "ok", nil }
	fi, err := New(fn, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := fi.Fn(context.Background(), nil)
	if err != nil {
		t.Fatalf("Fn: %v", err)
	}
	if out.(string) != "ok" {
		t.Fatalf("got %v, want ok", out)
	}
}
