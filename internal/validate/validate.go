// Package validate compiles JSON-Schema parameter definitions once per bound
// method and validates named argument mappings against them, wrapping
// github.com/santhosh-tekuri/jsonschema/v5.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Error is one schema violation, positioned within the validated document by
// a JSON Pointer.
type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Compiler compiles method parameter schemas. The zero value is not usable;
// construct with NewCompiler.
type Compiler struct {
	base *jsonschema.Compiler
}

// NewCompiler returns a Compiler configured for Draft 2020-12 with format
// assertions enabled, matching the all-errors, own-properties-only posture
// method parameter schemas are validated under.
func NewCompiler() *Compiler {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	return &Compiler{base: c}
}

// Method is a compiled per-method params schema, plus the set of property
// names the schema declares, used for additional-property pruning. Values
// are validated as sent; no type coercion is applied.
type Method struct {
	name       string
	schema     *jsonschema.Schema
	properties map[string]struct{}
}

// Compile compiles schema under the given method name. schema must describe
// a JSON object whose top-level "properties" enumerate the method's named
// parameters; any other top-level type is rejected.
func (c *Compiler) Compile(name string, schema json.RawMessage) (*Method, error) {
	var probe struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(schema, &probe); err != nil {
		return nil, fmt.Errorf("validate: %s: decode schema: %w", name, err)
	}
	if probe.Type != "" && probe.Type != "object" {
		return nil, fmt.Errorf("validate: %s: params schema must describe an object, got %q", name, probe.Type)
	}

	url := "mem://" + name + ".json"
	if err := c.base.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("validate: %s: add resource: %w", name, err)
	}
	compiled, err := c.base.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("validate: %s: compile: %w", name, err)
	}

	props := make(map[string]struct{}, len(probe.Properties))
	for k := range probe.Properties {
		props[k] = struct{}{}
	}
	return &Method{name: name, schema: compiled, properties: props}, nil
}

// Validate checks named against m's compiled schema, first pruning any key
// not declared in the schema's properties (additional-property removal). A
// declared property absent from named stays absent, so only a "required"
// constraint reports it; an explicit JSON null is type-checked as null. It
// returns every violation found, not just the first.
func (m *Method) Validate(named map[string]json.RawMessage) ([]Error, error) {
	pruned := make(map[string]any, len(m.properties))
	for k := range m.properties {
		raw, ok := named[k]
		if !ok {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("validate: %s: decode %q: %w", m.name, k, err)
		}
		pruned[k] = v
	}

	err := m.schema.Validate(pruned)
	if err == nil {
		return nil, nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Error{{Field: "", Message: err.Error()}}, nil
	}
	return flatten(verr), nil
}

// flatten walks a ValidationError's cause tree into a flat list, matching
// the "validator's error list" shape callers attach as data.messages.
func flatten(v *jsonschema.ValidationError) []Error {
	var out []Error
	var walk func(*jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			out = append(out, Error{Field: v.InstanceLocation, Message: v.Message})
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(v)
	return out
}
