package schema

import (
	"testing"

	"github.com/arcline-ai/toolgate/internal/fault"
)

func TestValidateRejectsDuplicateNames(t *testing.T) {
	s := Schema{
		{Name: "date", Type: TypeString, Required: true},
		{Name: "date", Type: TypeInteger},
	}
	err := s.Validate()
	if err == nil {
		t.Fatal("expected error for duplicate parameter name")
	}
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateRejectsBadDefinitions(t *testing.T) {
	cases := []struct {
		name   string
		schema Schema
	}{
		{"empty name", Schema{{Name: "", Type: TypeString}}},
		{"unknown type", Schema{{Name: "x", Type: ParamType("object")}}},
		{"enum without values", Schema{{Name: "mode", Type: TypeEnum}}},
		{"enum values on string", Schema{{Name: "x", Type: TypeString, Enum: []string{"a"}}}},
	}
	for _, tc := range cases {
		if err := tc.schema.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestValidateArgs(t *testing.T) {
	s := Schema{
		{Name: "date", Type: TypeString, Required: true},
		{Name: "count", Type: TypeInteger},
		{Name: "ratio", Type: TypeNumber},
		{Name: "dry_run", Type: TypeBoolean},
		{Name: "mode", Type: TypeEnum, Enum: []string{"fast", "slow"}},
	}
	if err := s.Validate(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"all valid", map[string]any{"date": "2026-01-01", "count": float64(3), "ratio": 0.5, "dry_run": true, "mode": "fast"}, false},
		{"only required", map[string]any{"date": "2026-01-01"}, false},
		{"missing required", map[string]any{"count": float64(1)}, true},
		{"unknown parameter", map[string]any{"date": "x", "extra": "y"}, true},
		{"wrong type string", map[string]any{"date": 42}, true},
		{"non-integer number", map[string]any{"date": "x", "count": 1.5}, true},
		{"integer as float64", map[string]any{"date": "x", "count": float64(7)}, false},
		{"bad enum value", map[string]any{"date": "x", "mode": "medium"}, true},
		{"bool as string", map[string]any{"date": "x", "dry_run": "true"}, true},
	}
	for _, tc := range tests {
		_, err := s.ValidateArgs(tc.args)
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if err != nil && !fault.IsKind(err, fault.KindValidation) {
			t.Fatalf("%s: expected validation kind, got %v", tc.name, err)
		}
	}
}

func TestValidateArgsReturnsCopy(t *testing.T) {
	s := Schema{{Name: "n", Type: TypeInteger, Required: true}}
	args := map[string]any{"n": float64(5)}
	validated, err := s.ValidateArgs(args)
	if err != nil {
		t.Fatal(err)
	}
	if validated["n"] != int64(5) {
		t.Fatalf("expected normalized int64, got %T", validated["n"])
	}
	validated["n"] = int64(9)
	if args["n"] != float64(5) {
		t.Fatal("input map must not be mutated")
	}
}

func TestJSONSchema(t *testing.T) {
	s := Schema{
		{Name: "date", Type: TypeString, Required: true, Description: "ISO date"},
		{Name: "mode", Type: TypeEnum, Enum: []string{"a", "b"}},
	}
	js := s.JSONSchema()
	if js["type"] != "object" {
		t.Fatal("expected object schema")
	}
	if js["additionalProperties"] != false {
		t.Fatal("expected additionalProperties=false")
	}
	props := js["properties"].(map[string]any)
	if props["mode"].(map[string]any)["type"] != "string" {
		t.Fatal("enum must render as string type")
	}
	req := js["required"].([]any)
	if len(req) != 1 || req[0] != "date" {
		t.Fatalf("unexpected required list: %v", req)
	}
}
