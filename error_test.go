package rpc

import (
	"errors"
	"testing"
)

func TestNewWireErrorReconstructsTypedSubtype(t *testing.T) {
	err := newWireError(MethodNotFound, "No such method: x", nil)
	if _, ok := err.(*MethodNotFoundError); !ok {
		t.Fatalf("got %T, want *MethodNotFoundError", err)
	}
	e, ok := AsProtocolError(err)
	if !ok {
		t.Fatal("expected AsProtocolError to succeed")
	}
	if e.Code != MethodNotFound {
		t.Fatalf("code = %v, want MethodNotFound", e.Code)
	}
}

func TestAsProtocolErrorUnwrapsTypedSubtype(t *testing.T) {
	err := newWireError(InvalidParams, "bad params", nil)
	var target *Error
	if !errors.As(err, &target) {
		t.Fatal("expected errors.As to find *Error")
	}
	if target.Code != InvalidParams {
		t.Fatalf("code = %v, want InvalidParams", target.Code)
	}
}

func TestToWireErrorWrapsPlainError(t *testing.T) {
	plain := errors.New("boom")
	e := toWireError(plain)
	if e.Code != InternalError {
		t.Fatalf("code = %v, want InternalError", e.Code)
	}
	if string(e.Data) != `"boom"` {
		t.Fatalf("data = %s, want %q", e.Data, `"boom"`)
	}
}

func TestErrorWithData(t *testing.T) {
	base := &Error{Code: InvalidParams, Message: "bad"}
	withData := base.WithData(map[string]string{"field": "x"})
	if string(withData.Data) == "" {
		t.Fatal("expected Data to be set")
	}
	if withData.Code != base.Code || withData.Message != base.Message {
		t.Fatal("WithData should preserve code and message")
	}
}

func TestDuplicateMethodErrorMessage(t *testing.T) {
	err := &DuplicateMethodError{Method: "foo"}
	if err.Error() == "" {
		t.Fatal("expected non-empty message")
	}
}
