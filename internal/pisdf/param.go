// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package pisdf

import (
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/spider-rt/spider/internal/diag"
)

// ParamKind classifies how a Param's value becomes known.
type ParamKind uint8

const (
	// ParamStatic parameters are folded from their expression by
	// Table.Resolve, which re-folds them on every call.
	ParamStatic ParamKind = iota
	// ParamDynamic parameters are UNDEFINED until a CONFIG actor's firing
	// writes a value via GraphFiring.SetParamValue.
	ParamDynamic
	// ParamInherited parameters read their value from the parent firing's
	// table, under the same name, at firing-setup time.
	ParamInherited
)

func (k ParamKind) String() string {
	switch k {
	case ParamStatic:
		return "static"
	case ParamDynamic:
		return "dynamic"
	case ParamInherited:
		return "inherited"
	default:
		return "unknown"
	}
}

// Param is a named scalar graph parameter. Names are always stored
// lowercased, per the data model invariant that parameter names are
// case-insensitive.
type Param struct {
	ID         ParamID
	Name       string
	Kind       ParamKind
	Expr       *Expression // nil for Dynamic and Inherited
	ParentName string      // only meaningful for Inherited
}

// NewStaticParam creates a Param whose value is computed from expr, which
// must not reference any Dynamic parameter (callers are expected to have
// ordered parameter construction so that only already-static parameters
// are referenced; Graph.CreateParam checks only that referenced
// parameters are already declared, not their kind, mirroring
// the "topological rate propagation" responsibility living in the BRV
// resolver rather than at construction time).
func NewStaticParam(name string, expr *Expression) Param {
	return Param{Name: strings.ToLower(name), Kind: ParamStatic, Expr: expr}
}

// NewDynamicParam creates a Param whose value is UNDEFINED until some
// CONFIG actor firing supplies it at runtime.
func NewDynamicParam(name string) Param {
	return Param{Name: strings.ToLower(name), Kind: ParamDynamic}
}

// NewInheritedParam creates a Param that reads parentName from the
// enclosing firing's table. If parentName is empty, it defaults to name.
func NewInheritedParam(name, parentName string) Param {
	if parentName == "" {
		parentName = name
	}
	return Param{Name: strings.ToLower(name), Kind: ParamInherited, ParentName: strings.ToLower(parentName)}
}

// undefinedValue is the sentinel cty.Value used for a Dynamic parameter
// that has not yet been set.
var undefinedValue = cty.UnknownVal(cty.Number)

// IsUndefined reports whether v is the sentinel for "not yet known".
func IsUndefined(v cty.Value) bool {
	return v == cty.NilVal || !v.IsKnown()
}

// Table is a per-GraphFiring resolved parameter table: one entry per
// parameter declared on the subgraph, in declaration order. It implements
// Expression's ParamTable interface so expressions can be evaluated
// directly against it.
type Table struct {
	params []Param
	values []cty.Value
	index  map[string]int
}

// NewTable builds an (unresolved) Table from a subgraph's parameter
// declarations. All values start UNDEFINED; call Resolve to fold Static
// parameters and copy Inherited ones from a parent table.
func NewTable(params []Param) *Table {
	t := &Table{
		params: params,
		values: make([]cty.Value, len(params)),
		index:  make(map[string]int, len(params)),
	}
	for i, p := range params {
		t.values[i] = undefinedValue
		t.index[p.Name] = i
	}
	return t
}

// Value implements Expression.ParamTable.
func (t *Table) Value(name string) (cty.Value, bool) {
	i, ok := t.index[strings.ToLower(name)]
	if !ok {
		return cty.NilVal, false
	}
	return t.values[i], true
}

// Set overwrites the value for the parameter at position ix, used by
// GraphFiring.SetParamValue when a CONFIG actor's firing returns a
// parameter and by Resolve when folding Static/Inherited parameters.
func (t *Table) Set(ix int, v cty.Value) {
	t.values[ix] = v
}

// SetByName is a convenience wrapper around Set that looks the index up
// by name; it panics if name is not a parameter of this table, since
// that always indicates a caller bug (malformed graph construction).
func (t *Table) SetByName(name string, v cty.Value) {
	i, ok := t.index[strings.ToLower(name)]
	if !ok {
		panic("spider/pisdf: SetByName: unknown parameter " + name)
	}
	t.Set(i, v)
}

// Len returns the number of parameters in the table.
func (t *Table) Len() int { return len(t.params) }

// Param returns the declaration for the parameter at position ix.
func (t *Table) Param(ix int) Param { return t.params[ix] }

// IndexOf returns the position of the named parameter, or -1 if absent.
func (t *Table) IndexOf(name string) int {
	i, ok := t.index[strings.ToLower(name)]
	if !ok {
		return -1
	}
	return i
}

// Resolved reports whether every parameter in the table currently has a
// known value.
func (t *Table) Resolved() bool {
	for _, v := range t.values {
		if IsUndefined(v) {
			return false
		}
	}
	return true
}

// Resolve folds every Static parameter by evaluating its expression
// against this same table (Static expressions may only reference
// already-resolved parameters, so a single left-to-right pass suffices
// as long as callers declare parameters in dependency order, which
// Graph.CreateParam enforces) and copies every Inherited parameter's value
// from parent. Dynamic parameters are left UNDEFINED. Resolve is
// idempotent: re-running it after some Dynamic parameters have since been
// set just re-folds anything that depends on them.
func (t *Table) Resolve(parent *Table) diag.Diagnostics {
	var diags diag.Diagnostics
	for i, p := range t.params {
		switch p.Kind {
		case ParamStatic:
			v, d := p.Expr.Evaluate(t)
			diags = diags.Append(d)
			if d.HasErrors() {
				continue
			}
			t.values[i] = v
		case ParamInherited:
			if parent == nil {
				diags = diags.Errorf(diag.KindInvalidAPIUsage, "parameter %q is inherited but firing has no parent", p.Name)
				continue
			}
			v, ok := parent.Value(p.ParentName)
			if !ok {
				diags = diags.Errorf(diag.KindInvalidAPIUsage, "parent firing has no parameter %q for inherited %q", p.ParentName, p.Name)
				continue
			}
			t.values[i] = v
		case ParamDynamic:
			// left UNDEFINED until a CONFIG actor posts a value.
		}
	}
	return diags
}

// Snapshot returns an immutable copy of the resolved int64 values, in
// declaration order, suitable for embedding in a JobMessage as
// inputParams. Any still-undefined entry is reported as 0, which should
// never be observed in a well-formed schedule because the list scheduler
// never marks a task schedulable while its dynamic parameters are
// outstanding.
func (t *Table) Snapshot() []int64 {
	out := make([]int64, len(t.values))
	for i, v := range t.values {
		if IsUndefined(v) {
			continue
		}
		bf := v.AsBigFloat()
		f, _ := bf.Float64()
		out[i] = int64(f)
	}
	return out
}
