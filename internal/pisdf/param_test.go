// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package pisdf

import (
	"testing"

	"github.com/zclconf/go-cty/cty"
)

func TestTableResolveStaticAndInherited(t *testing.T) {
	parent := NewTable([]Param{NewStaticParam("p", NewConstantExpression(10))})
	if diags := parent.Resolve(nil); diags.HasErrors() {
		t.Fatalf("parent.Resolve: %s", diags.Err())
	}

	childExpr, _ := ParseExpression("q * 2")
	child := NewTable([]Param{
		NewInheritedParam("q", "p"),
		NewStaticParam("r", childExpr),
	})
	if diags := child.Resolve(parent); diags.HasErrors() {
		t.Fatalf("child.Resolve: %s", diags.Err())
	}
	if !child.Resolved() {
		t.Fatalf("expected child table fully resolved")
	}
	if got, _ := child.Value("r"); got.AsBigFloat().String() != "20" {
		t.Fatalf("r = %s, want 20", got.AsBigFloat().String())
	}
}

func TestTableDynamicStaysUndefinedUntilSet(t *testing.T) {
	tbl := NewTable([]Param{NewDynamicParam("p")})
	if diags := tbl.Resolve(nil); diags.HasErrors() {
		t.Fatalf("Resolve: %s", diags.Err())
	}
	if tbl.Resolved() {
		t.Fatalf("expected table NOT resolved while dynamic param unset")
	}
	tbl.SetByName("p", cty.NumberIntVal(5))
	if !tbl.Resolved() {
		t.Fatalf("expected table resolved once dynamic param is set")
	}
}

func TestTableResolveMissingParentErrors(t *testing.T) {
	tbl := NewTable([]Param{NewInheritedParam("q", "p")})
	diags := tbl.Resolve(nil)
	if !diags.HasErrors() {
		t.Fatalf("expected error resolving inherited param with nil parent")
	}
}
