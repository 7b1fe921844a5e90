// Package schema models tool parameter schemas as a closed set of typed
// parameters. Validation is exhaustive over the declared set: unknown
// arguments are rejected, required arguments are enforced, and every value
// is type-checked before any network call is attempted.
package schema

import (
	"fmt"
	"math"

	"github.com/arcline-ai/toolgate/internal/fault"
)

// ParamType is the closed set of parameter types a tool may declare.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeEnum    ParamType = "enum"
)

func validType(t ParamType) bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeEnum:
		return true
	}
	return false
}

// Param is a single named, typed tool parameter.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
}

// Schema is an ordered set of parameters.
type Schema []Param

// Validate checks the schema definition itself: no empty or duplicate
// names, only known types, enum parameters must list their values.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, p := range s {
		if p.Name == "" {
			return fault.Validationf("parameter with empty name")
		}
		if _, dup := seen[p.Name]; dup {
			return fault.Validationf("duplicate parameter name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if !validType(p.Type) {
			return fault.Validationf("parameter %q has unknown type %q", p.Name, p.Type)
		}
		if p.Type == TypeEnum && len(p.Enum) == 0 {
			return fault.Validationf("enum parameter %q declares no values", p.Name)
		}
		if p.Type != TypeEnum && len(p.Enum) > 0 {
			return fault.Validationf("parameter %q lists enum values but has type %q", p.Name, p.Type)
		}
	}
	return nil
}

// ValidateArgs checks call arguments against the schema and returns a
// validated copy. Unknown argument names and type mismatches are rejected.
// Pure in-memory work, no I/O.
func (s Schema) ValidateArgs(args map[string]any) (map[string]any, error) {
	byName := make(map[string]Param, len(s))
	for _, p := range s {
		byName[p.Name] = p
	}

	for name := range args {
		if _, ok := byName[name]; !ok {
			return nil, fault.Validationf("unknown parameter %q", name)
		}
	}

	validated := make(map[string]any, len(args))
	for _, p := range s {
		val, present := args[p.Name]
		if !present {
			if p.Required {
				return nil, fault.Validationf("missing required parameter %q", p.Name)
			}
			continue
		}
		checked, err := checkValue(p, val)
		if err != nil {
			return nil, err
		}
		validated[p.Name] = checked
	}
	return validated, nil
}

func checkValue(p Param, val any) (any, error) {
	switch p.Type {
	case TypeString:
		s, ok := val.(string)
		if !ok {
			return nil, fault.Validationf("parameter %q expects a string", p.Name)
		}
		return s, nil

	case TypeBoolean:
		b, ok := val.(bool)
		if !ok {
			return nil, fault.Validationf("parameter %q expects a boolean", p.Name)
		}
		return b, nil

	case TypeNumber:
		f, ok := asFloat(val)
		if !ok {
			return nil, fault.Validationf("parameter %q expects a number", p.Name)
		}
		return f, nil

	case TypeInteger:
		f, ok := asFloat(val)
		if !ok || f != math.Trunc(f) {
			return nil, fault.Validationf("parameter %q expects an integer", p.Name)
		}
		return int64(f), nil

	case TypeEnum:
		s, ok := val.(string)
		if !ok {
			return nil, fault.Validationf("parameter %q expects one of %v", p.Name, p.Enum)
		}
		for _, allowed := range p.Enum {
			if s == allowed {
				return s, nil
			}
		}
		return nil, fault.Validationf("parameter %q must be one of %v, got %q", p.Name, p.Enum, s)
	}
	return nil, fault.Validationf("parameter %q has unknown type %q", p.Name, p.Type)
}

// asFloat accepts the numeric representations seen from both decoded JSON
// (float64) and in-process callers (int variants).
func asFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// JSONSchema renders the equivalent JSON Schema object, used for MCP
// interop and API responses.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s))
	var required []string
	for _, p := range s {
		prop := map[string]any{}
		switch p.Type {
		case TypeEnum:
			prop["type"] = "string"
			vals := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				vals[i] = v
			}
			prop["enum"] = vals
		default:
			prop["type"] = string(p.Type)
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	out := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		out["required"] = req
	}
	return out
}

// Clone returns a deep copy of the schema.
func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	out := make(Schema, len(s))
	copy(out, s)
	for i := range out {
		if out[i].Enum != nil {
			out[i].Enum = append([]string(nil), out[i].Enum...)
		}
	}
	return out
}

// String renders a compact human-readable form for log fields.
func (s Schema) String() string {
	out := ""
	for i, p := range s {
		if i > 0 {
			out += ", "
		}
		mark := ""
		if p.Required {
			mark = "!"
		}
		out += fmt.Sprintf("%s%s:%s", p.Name, mark, p.Type)
	}
	return "{" + out + "}"
}
