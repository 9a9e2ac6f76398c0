// Package calculator provides an arithmetic tool so the model can compute
// exact answers instead of guessing at numbers.
package calculator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"

	"github.com/danarsa/aruna"
)

// Register adds the calculate tool to reg.
func Register(reg *aruna.Registry) error {
	params := json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string","description":"Arithmetic expression to evaluate, e.g. \"(2+3)*4\" or \"144/12\""}},"required":["expression"]}`)
	return reg.Register("calculate",
		"Evaluate an arithmetic expression. Supports +, -, *, /, %, parentheses, and decimal numbers.",
		params, calculate)
}

func calculate(_ context.Context, args map[string]any) (string, error) {
	expr, _ := args["expression"].(string)
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", errors.New("expression is required")
	}

	node, err := parser.ParseExpr(expr)
	if err != nil {
		return "", fmt.Errorf("invalid expression: %w", err)
	}
	result, err := eval(node)
	if err != nil {
		return "", err
	}
	if math.IsInf(result, 0) || math.IsNaN(result) {
		return "", errors.New("result is not a finite number")
	}
	return fmt.Sprintf("%s = %s", expr, formatNumber(result)), nil
}

// eval walks the parsed expression. Only numeric literals and arithmetic
// operators are allowed; identifiers and calls are rejected.
func eval(node ast.Expr) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return 0, fmt.Errorf("unsupported literal %q", n.Value)
		}
		return strconv.ParseFloat(n.Value, 64)
	case *ast.ParenExpr:
		return eval(n.X)
	case *ast.UnaryExpr:
		v, err := eval(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.SUB:
			return -v, nil
		case token.ADD:
			return v, nil
		}
		return 0, fmt.Errorf("unsupported operator %q", n.Op)
	case *ast.BinaryExpr:
		x, err := eval(n.X)
		if err != nil {
			return 0, err
		}
		y, err := eval(n.Y)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return x + y, nil
		case token.SUB:
			return x - y, nil
		case token.MUL:
			return x * y, nil
		case token.QUO:
			if y == 0 {
				return 0, errors.New("division by zero")
			}
			return x / y, nil
		case token.REM:
			if y == 0 {
				return 0, errors.New("division by zero")
			}
			return math.Mod(x, y), nil
		}
		return 0, fmt.Errorf("unsupported operator %q", n.Op)
	}
	return 0, errors.New("expression must contain only numbers and arithmetic operators")
}

// formatNumber drops the trailing decimals on whole results so "2+2"
// reads "4" rather than "4.000000".
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
