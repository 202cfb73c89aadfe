// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package firing

import (
	"strings"
	"testing"

	"github.com/spider-rt/spider/internal/pisdf"
)

func buildBalancedGraph(t *testing.T) *pisdf.Graph {
	t.Helper()
	g := pisdf.NewGraph("top", 2, 1, 0)
	a := g.CreateVertex("A", pisdf.Normal, 0, 1)
	b := g.CreateVertex("B", pisdf.Normal, 1, 0)
	if _, diags := g.CreateEdge(a.ID, 0, pisdf.NewConstantExpression(2), b.ID, 0, pisdf.NewConstantExpression(3)); diags.HasErrors() {
		t.Fatalf("CreateEdge: %s", diags.Err())
	}
	return g
}

func TestGraphFiringResolveAndBRV(t *testing.T) {
	g := buildBalancedGraph(t)
	root := NewRootHandler(g)
	gf := root.Firing(0)

	if diags := gf.Resolve(); diags.HasErrors() {
		t.Fatalf("Resolve: %s", diags.Err())
	}
	if !gf.Resolved() {
		t.Fatalf("expected resolved (no dynamic params)")
	}
	if diags := gf.ComputeBRV(); diags.HasErrors() {
		t.Fatalf("ComputeBRV: %s", diags.Err())
	}
	gf.Initialize()

	if len(gf.Tasks[0]) != 3 {
		t.Fatalf("A task count = %d, want 3", len(gf.Tasks[0]))
	}
	if len(gf.Tasks[1]) != 2 {
		t.Fatalf("B task count = %d, want 2", len(gf.Tasks[1]))
	}
	if len(gf.Fifos[0]) != 3 {
		t.Fatalf("edge fifo count = %d, want 3 (sized by producer RV)", len(gf.Fifos[0]))
	}
}

func TestGraphFiringResetPreservesAllocation(t *testing.T) {
	g := buildBalancedGraph(t)
	root := NewRootHandler(g)
	gf := root.Firing(0)
	gf.Resolve()
	gf.ComputeBRV()
	gf.Initialize()

	gf.Task(0, 0).State = Ready
	gf.reset()

	if gf.Task(0, 0).State != Pending {
		t.Fatalf("expected task state reset to Pending")
	}
	if len(gf.Tasks[0]) != 3 {
		t.Fatalf("expected task slice preserved across reset")
	}
}

func TestGraphHandlerChildLazyCreation(t *testing.T) {
	g := pisdf.NewGraph("top", 1, 0, 0)
	sub := g.CreateGraphVertex("sub", 0, 0, 1, 0, 0)

	root := NewRootHandler(g)
	gf := root.Firing(0)
	gf.Resolve()
	if diags := gf.ComputeBRV(); diags.HasErrors() {
		t.Fatalf("ComputeBRV: %s", diags.Err())
	}
	gf.Initialize()

	child, diags := gf.Child(sub.ID)
	if diags.HasErrors() {
		t.Fatalf("Child: %s", diags.Err())
	}
	if child.RV() != 1 {
		t.Fatalf("child RV = %d, want 1 (sub's own RV)", child.RV())
	}
	again, _ := gf.Child(sub.ID)
	if again != child {
		t.Fatalf("expected Child to memoize the handler")
	}
}

func TestGraphHandlerDebugTreeIncludesTaskStates(t *testing.T) {
	g := buildBalancedGraph(t)
	root := NewRootHandler(g)
	gf := root.Firing(0)
	gf.Resolve()
	if diags := gf.ComputeBRV(); diags.HasErrors() {
		t.Fatalf("ComputeBRV: %s", diags.Err())
	}
	gf.Initialize()

	tree := root.DebugTree()
	if !strings.Contains(tree, "A") || !strings.Contains(tree, "B") {
		t.Fatalf("DebugTree output missing vertex names:\n%s", tree)
	}
	if !strings.Contains(tree, "pending") {
		t.Fatalf("DebugTree output missing task state:\n%s", tree)
	}
}
