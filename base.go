package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RequestEnvelope is the wire shape of a single request. Params is left as
// a raw JSON value because it may be either
// an ordered array (positional) or an object (named); see paramsToNamed.
type RequestEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// decodedBody is the result of sniffing an inbound message body to tell a
// single request from a batch. A batch request is a non-empty ordered
// sequence of request mappings; batches are not nested.
type decodedBody struct {
	isBatch bool
	single  RequestEnvelope
	batch   []RequestEnvelope
}

// decodeBody parses raw into either a single RequestEnvelope or a batch of
// them, based on whether the outermost JSON value is an object or array.
func decodeBody(raw []byte) (*decodedBody, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty request body")
	}
	switch trimmed[0] {
	case '[':
		var batch []RequestEnvelope
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return nil, fmt.Errorf("empty batch")
		}
		return &decodedBody{isBatch: true, batch: batch}, nil
	case '{':
		var single RequestEnvelope
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, err
		}
		return &decodedBody{single: single}, nil
	default:
		return nil, fmt.Errorf("request body is neither an object nor an array")
	}
}

// paramsToNamed converts a request's raw Params into a name→value mapping,
// using names for positional inputs. Missing trailing positions are filled
// with JSON null. For an object input only the keys in names are kept, and
// a name missing from the object maps to JSON null. No params at all maps
// every name to JSON null. The result always holds exactly one entry per
// name.
func paramsToNamed(names []string, raw json.RawMessage) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(names))
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		for _, n := range names {
			out[n] = json.RawMessage("null")
		}
		return out, nil
	}
	switch trimmed[0] {
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, err
		}
		for i, n := range names {
			if i < len(arr) {
				out[n] = arr[i]
			} else {
				out[n] = json.RawMessage("null")
			}
		}
		return out, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, err
		}
		for _, n := range names {
			if v, ok := obj[n]; ok {
				out[n] = v
			} else {
				out[n] = json.RawMessage("null")
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("params is neither an array nor an object")
	}
}

// namedToPositional orders a name→value mapping into the declared parameter
// order: arguments are always passed positionally in declared order
// regardless of whether the caller supplied an ordered sequence or a named
// mapping.
func namedToPositional(names []string, named map[string]json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(names))
	for i, n := range names {
		if v, ok := named[n]; ok {
			out[i] = v
		} else {
			out[i] = json.RawMessage("null")
		}
	}
	return out
}

// hasMethodKey reports whether raw is a JSON object carrying a "method"
// key, the structural test behind the pass-through rule.
func hasMethodKey(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var probe struct {
		Method *string `json:"method"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return false
	}
	return probe.Method != nil
}

// formatResult builds the wire body for a successful handler result,
// applying the pass-through rule: if value marshals to an object
// containing a "method" key, it is sent verbatim; otherwise it is wrapped
// as {"result": value ?? null}.
func formatResult(value any) (json.RawMessage, error) {
	if value == nil {
		return json.Marshal(map[string]any{"result": nil})
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if hasMethodKey(raw) {
		return raw, nil
	}
	return json.Marshal(struct {
		Result json.RawMessage `json:"result"`
	}{Result: raw})
}

// formatError builds the wire body for a failed request:
// `{ error: { code, message, data? } }`. A handler error that is not
// already an *Error is wrapped with InternalError, the default code and
// message for an unclassified failure.
func formatError(err error) json.RawMessage {
	e := toWireError(err)
	raw, marshalErr := json.Marshal(struct {
		Error *Error `json:"error"`
	}{Error: e})
	if marshalErr != nil {
		// Error and its Data are always JSON-safe by construction; this path
		// is unreachable in practice.
		return json.RawMessage(`{"error":{"code":-32603,"message":"internal error"}}`)
	}
	return raw
}

// toWireError normalizes any error value into the wire *Error shape.
func toWireError(err error) *Error {
	if e, ok := AsProtocolError(err); ok {
		return e
	}
	return &Error{Code: InternalError, Message: "Internal error", Data: marshalErrData(err)}
}

func marshalErrData(err error) json.RawMessage {
	if err == nil {
		return nil
	}
	raw, merr := json.Marshal(err.Error())
	if merr != nil {
		return nil
	}
	return raw
}

// newCorrelator generates a fresh 128-bit random correlator rendered as a
// 32-character hex string with no separators.
func newCorrelator() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
