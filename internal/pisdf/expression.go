// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package pisdf

import (
	"fmt"
	"math"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/spider-rt/spider/internal/diag"
)

// opKind enumerates the operators an Expression's flattened token stream
// can carry. Arity is fixed per opKind so the postfix evaluator never
// needs to look past the opcode to know how many stack operands to pop.
type opKind uint8

const (
	opAdd opKind = iota
	opSub
	opMul
	opDiv
	opMod
	opNeg
	opMin
	opMax
	opCeil
	opFloor
	opAbs
	opCond
)

var opArity = map[opKind]int{
	opAdd: 2, opSub: 2, opMul: 2, opDiv: 2, opMod: 2,
	opNeg: 1, opCeil: 1, opFloor: 1, opAbs: 1,
	opMin: 2, opMax: 2,
	opCond: 3,
}

type tokenKind uint8

const (
	tokConst tokenKind = iota
	tokParam
	tokOp
)

type token struct {
	kind  tokenKind
	value cty.Value // tokConst
	param string     // tokParam, always lowercased
	op    opKind     // tokOp
}

// Expression is a rate or parameter expression resolved against a
// parameter table to an integer or double. Expressions are parsed once,
// at construction time, into a postfix token list; evaluation never
// re-parses or recurses, keeping it cheap enough for the GRT's hot path.
type Expression struct {
	src    string
	tokens []token
}

// NewConstantExpression builds an Expression that always evaluates to v,
// regardless of the parameter table. Used for literal port rates and
// Delay values that don't reference any parameter.
func NewConstantExpression(v int64) *Expression {
	return &Expression{
		src:    fmt.Sprintf("%d", v),
		tokens: []token{{kind: tokConst, value: cty.NumberIntVal(v)}},
	}
}

// ParseExpression parses src as an HCL native-syntax expression and
// flattens it into postfix form. Supported operators: + - * / % (binary),
// unary -, and the functions min, max, ceil, floor, abs, cond(a,b,c).
// Any other function name, or an unsupported expression form, is an
// ExpressionParseError diagnostic.
func ParseExpression(src string) (*Expression, diag.Diagnostics) {
	var diags diag.Diagnostics
	hclExpr, hdiags := hclsyntax.ParseExpression([]byte(src), "expr", hcl.InitialPos)
	if hdiags.HasErrors() {
		return nil, diags.Errorf(diag.KindExpressionParseError, "parse expression %q: %s", src, hdiags.Error())
	}

	e := &Expression{src: src}
	e.tokens, diags = flatten(hclExpr, diags)
	if diags.HasErrors() {
		return nil, diags
	}
	return e, nil
}

func flatten(expr hclsyntax.Expression, diags diag.Diagnostics) ([]token, diag.Diagnostics) {
	switch v := expr.(type) {
	case *hclsyntax.LiteralValueExpr:
		if v.Val.Type() != cty.Number {
			return nil, diags.Errorf(diag.KindExpressionParseError, "literal %#v is not numeric", v.Val)
		}
		return []token{{kind: tokConst, value: v.Val}}, diags

	case *hclsyntax.ScopeTraversalExpr:
		if len(v.Traversal) != 1 {
			return nil, diags.Errorf(diag.KindExpressionParseError, "unsupported traversal in expression")
		}
		root, ok := v.Traversal[0].(hcl.TraverseRoot)
		if !ok {
			return nil, diags.Errorf(diag.KindExpressionParseError, "unsupported traversal root")
		}
		return []token{{kind: tokParam, param: strings.ToLower(root.Name)}}, diags

	case *hclsyntax.UnaryOpExpr:
		operand, d := flatten(v.Val, diags)
		diags = d
		if diags.HasErrors() {
			return nil, diags
		}
		switch v.Op {
		case hclsyntax.OpNegate:
			return append(operand, token{kind: tokOp, op: opNeg}), diags
		default:
			return nil, diags.Errorf(diag.KindExpressionParseError, "unsupported unary operator")
		}

	case *hclsyntax.BinaryOpExpr:
		lhs, d := flatten(v.LHS, diags)
		diags = d
		if diags.HasErrors() {
			return nil, diags
		}
		rhs, d := flatten(v.RHS, diags)
		diags = d
		if diags.HasErrors() {
			return nil, diags
		}
		var op opKind
		switch v.Op {
		case hclsyntax.OpAdd:
			op = opAdd
		case hclsyntax.OpSubtract:
			op = opSub
		case hclsyntax.OpMultiply:
			op = opMul
		case hclsyntax.OpDivide:
			op = opDiv
		case hclsyntax.OpModulo:
			op = opMod
		default:
			return nil, diags.Errorf(diag.KindExpressionParseError, "unsupported binary operator")
		}
		out := append(lhs, rhs...)
		return append(out, token{kind: tokOp, op: op}), diags

	case *hclsyntax.ConditionalExpr:
		cond, d := flatten(v.Condition, diags)
		diags = d
		if diags.HasErrors() {
			return nil, diags
		}
		t, d := flatten(v.TrueResult, diags)
		diags = d
		if diags.HasErrors() {
			return nil, diags
		}
		f, d := flatten(v.FalseResult, diags)
		diags = d
		if diags.HasErrors() {
			return nil, diags
		}
		out := append(cond, t...)
		out = append(out, f...)
		return append(out, token{kind: tokOp, op: opCond}), diags

	case *hclsyntax.FunctionCallExpr:
		var op opKind
		wantArgs := 0
		switch strings.ToLower(v.Name) {
		case "min":
			op, wantArgs = opMin, 2
		case "max":
			op, wantArgs = opMax, 2
		case "ceil":
			op, wantArgs = opCeil, 1
		case "floor":
			op, wantArgs = opFloor, 1
		case "abs":
			op, wantArgs = opAbs, 1
		case "cond":
			op, wantArgs = opCond, 3
		default:
			return nil, diags.Errorf(diag.KindExpressionParseError, "unknown function %q", v.Name)
		}
		if len(v.Args) != wantArgs {
			return nil, diags.Errorf(diag.KindExpressionParseError, "%s expects %d argument(s), got %d", v.Name, wantArgs, len(v.Args))
		}
		var out []token
		for _, arg := range v.Args {
			argTokens, d := flatten(arg, diags)
			diags = d
			if diags.HasErrors() {
				return nil, diags
			}
			out = append(out, argTokens...)
		}
		return append(out, token{kind: tokOp, op: op}), diags

	case *hclsyntax.ParenthesesExpr:
		return flatten(v.Expression, diags)

	default:
		return nil, diags.Errorf(diag.KindExpressionParseError, "unsupported expression form %T", expr)
	}
}

// ParamTable resolves a parameter name (already lowercased) to its
// current numeric value. *ParamTable (see param.go) implements this.
type ParamTable interface {
	Value(name string) (cty.Value, bool)
}

// Evaluate walks the postfix token list with an explicit stack and
// returns the resulting value. Unknown symbol or arity mismatch (the
// latter can't happen for a successfully-parsed Expression) is an
// ExpressionParseError.
func (e *Expression) Evaluate(table ParamTable) (cty.Value, diag.Diagnostics) {
	var diags diag.Diagnostics
	var stack []cty.Value
	pop := func() cty.Value {
		n := len(stack) - 1
		v := stack[n]
		stack = stack[:n]
		return v
	}
	for _, tk := range e.tokens {
		switch tk.kind {
		case tokConst:
			stack = append(stack, tk.value)
		case tokParam:
			v, ok := table.Value(tk.param)
			if !ok {
				return cty.NilVal, diags.Errorf(diag.KindExpressionParseError, "unknown parameter %q", tk.param)
			}
			if !v.IsKnown() {
				return cty.UnknownVal(cty.Number), nil
			}
			stack = append(stack, v)
		case tokOp:
			arity := opArity[tk.op]
			if len(stack) < arity {
				return cty.NilVal, diags.Errorf(diag.KindExpressionParseError, "expression %q: stack underflow", e.src)
			}
			args := make([]float64, arity)
			unknown := false
			for i := arity - 1; i >= 0; i-- {
				v := pop()
				if unknown {
					continue // still need to drain the remaining operands
				}
				if !v.IsKnown() {
					unknown = true
					continue
				}
				var f float64
				if err := gocty.FromCtyValue(v, &f); err != nil {
					return cty.NilVal, diags.Errorf(diag.KindExpressionParseError, "non-numeric operand: %s", err)
				}
				args[i] = f
			}
			if unknown {
				// Any unknown operand makes the whole expression unknown.
				stack = append(stack, cty.UnknownVal(cty.Number))
				continue
			}
			stack = append(stack, cty.NumberFloatVal(applyOp(tk.op, args)))
		}
	}
	if len(stack) != 1 {
		return cty.NilVal, diags.Errorf(diag.KindExpressionParseError, "expression %q: malformed token stream", e.src)
	}
	return stack[0], diags
}

func applyOp(op opKind, a []float64) float64 {
	switch op {
	case opAdd:
		return a[0] + a[1]
	case opSub:
		return a[0] - a[1]
	case opMul:
		return a[0] * a[1]
	case opDiv:
		return a[0] / a[1]
	case opMod:
		return math.Mod(a[0], a[1])
	case opNeg:
		return -a[0]
	case opMin:
		return math.Min(a[0], a[1])
	case opMax:
		return math.Max(a[0], a[1])
	case opCeil:
		return math.Ceil(a[0])
	case opFloor:
		return math.Floor(a[0])
	case opAbs:
		return math.Abs(a[0])
	case opCond:
		if a[0] != 0 {
			return a[1]
		}
		return a[2]
	}
	panic(fmt.Sprintf("unhandled opKind %d", op))
}

// EvaluateInt evaluates the expression and truncates the result to an
// int64, as the spec requires of i64 callers.
func (e *Expression) EvaluateInt(table ParamTable) (int64, diag.Diagnostics) {
	v, diags := e.Evaluate(table)
	if diags.HasErrors() {
		return 0, diags
	}
	if !v.IsKnown() {
		return 0, diags
	}
	var f float64
	if err := gocty.FromCtyValue(v, &f); err != nil {
		return 0, diags.Errorf(diag.KindExpressionParseError, "non-numeric result: %s", err)
	}
	return int64(f), diags
}

// IsConstant reports whether the expression contains no parameter
// references, i.e. it can be folded to a value once and reused forever.
func (e *Expression) IsConstant() bool {
	for _, tk := range e.tokens {
		if tk.kind == tokParam {
			return false
		}
	}
	return true
}

// ReferencedParams returns the lowercased names of every parameter this
// expression reads, in first-occurrence order, deduplicated.
func (e *Expression) ReferencedParams() []string {
	seen := make(map[string]bool)
	var out []string
	for _, tk := range e.tokens {
		if tk.kind == tokParam && !seen[tk.param] {
			seen[tk.param] = true
			out = append(out, tk.param)
		}
	}
	return out
}

func (e *Expression) String() string { return e.src }
