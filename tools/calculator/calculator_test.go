package calculator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/danarsa/aruna"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"2+2", "2+2 = 4"},
		{"(2+3)*4", "(2+3)*4 = 20"},
		{"144/12", "144/12 = 12"},
		{"10/4", "10/4 = 2.5"},
		{"7 % 3", "7 % 3 = 1"},
		{"-5 + 2", "-5 + 2 = -3"},
		{"0.1 + 0.2", "0.1 + 0.2 = 0.30000000000000004"},
		{"2*3 + 4*5", "2*3 + 4*5 = 26"},
	}
	for _, tt := range tests {
		got, err := calculate(context.Background(), map[string]any{"expression": tt.expr})
		if err != nil {
			t.Errorf("calculate(%q): unexpected error: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("calculate(%q) = %q, want %q", tt.expr, got, tt.want)
		}
	}
}

func TestCalculate_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"division by zero", "1/0"},
		{"modulo by zero", "5 % 0"},
		{"identifier", "x + 1"},
		{"function call", "len(3)"},
		{"string literal", `"abc" + "def"`},
		{"malformed", "2 +"},
		{"bit operator", "3 & 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := calculate(context.Background(), map[string]any{"expression": tt.expr}); err == nil {
				t.Errorf("calculate(%q): want error", tt.expr)
			}
		})
	}
}

func TestCalculate_MissingArgument(t *testing.T) {
	if _, err := calculate(context.Background(), map[string]any{}); err == nil {
		t.Error("want error when expression is absent")
	}
}

func TestRegister(t *testing.T) {
	reg := aruna.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defs := reg.Definitions()
	if len(defs) != 1 || defs[0].Name != "calculate" {
		t.Fatalf("got definitions %+v, want the calculate tool", defs)
	}

	res, err := reg.Execute(context.Background(), "calculate", json.RawMessage(`{"expression":"6*7"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "6*7 = 42" {
		t.Errorf("got %q, want %q", res.Content, "6*7 = 42")
	}

	// Schema rejects a non-string expression before the handler runs.
	if _, err := reg.Execute(context.Background(), "calculate", json.RawMessage(`{"expression":42}`)); err == nil {
		t.Error("want schema validation error for numeric expression")
	}
}

func TestFormatNumber(t *testing.T) {
	got, err := calculate(context.Background(), map[string]any{"expression": "8/2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(got, ".") {
		t.Errorf("got %q, want whole result without decimals", got)
	}
}
