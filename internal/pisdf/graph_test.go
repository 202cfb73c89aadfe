// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package pisdf

import "testing"

func TestGraphCreateEdgeBalanced(t *testing.T) {
	g := NewGraph("top", 2, 1, 0)
	a := g.CreateVertex("A", Normal, 0, 1)
	b := g.CreateVertex("B", Normal, 1, 0)

	e, diags := g.CreateEdge(a.ID, 0, NewConstantExpression(2), b.ID, 0, NewConstantExpression(3))
	if diags.HasErrors() {
		t.Fatalf("CreateEdge: %s", diags.Err())
	}
	if g.OutputEdge(a.ID, 0) != e || g.InputEdge(b.ID, 0) != e {
		t.Fatalf("edge not wired onto both ports")
	}
}

func TestGraphCreateEdgeRejectsDoubleConnect(t *testing.T) {
	g := NewGraph("top", 2, 2, 0)
	a := g.CreateVertex("A", Normal, 0, 1)
	b := g.CreateVertex("B", Normal, 1, 0)
	c := g.CreateVertex("C", Normal, 1, 0)

	if _, diags := g.CreateEdge(a.ID, 0, NewConstantExpression(1), b.ID, 0, NewConstantExpression(1)); diags.HasErrors() {
		t.Fatalf("first CreateEdge failed: %s", diags.Err())
	}
	_, diags := g.CreateEdge(a.ID, 0, NewConstantExpression(1), c.ID, 0, NewConstantExpression(1))
	if !diags.HasErrors() {
		t.Fatalf("expected error reusing an already-connected output port")
	}
}

func TestGraphCreateDelayRejectsPersistentWithSetterGetter(t *testing.T) {
	g := NewGraph("top", 2, 1, 0)
	a := g.CreateVertex("A", Normal, 0, 1)
	b := g.CreateVertex("B", Normal, 1, 0)
	e, _ := g.CreateEdge(a.ID, 0, NewConstantExpression(1), b.ID, 0, NewConstantExpression(1))

	_, diags := g.CreateDelay(e, NewConstantExpression(2), true, DelaySetterGetter{Setter: "A"})
	if !diags.HasErrors() {
		t.Fatalf("expected error: persistent delay with a setter")
	}
}

func TestGraphCreateDelayOK(t *testing.T) {
	g := NewGraph("top", 2, 1, 0)
	a := g.CreateVertex("A", Normal, 0, 1)
	b := g.CreateVertex("B", Normal, 1, 0)
	e, _ := g.CreateEdge(a.ID, 0, NewConstantExpression(1), b.ID, 0, NewConstantExpression(1))

	delay, diags := g.CreateDelay(e, NewConstantExpression(2), false, DelaySetterGetter{})
	if diags.HasErrors() {
		t.Fatalf("CreateDelay: %s", diags.Err())
	}
	if e.Delay != delay {
		t.Fatalf("edge.Delay not set")
	}
	// synthesized DelayVertex should exist in the graph.
	if g.Vertex(delay.VertexID()).Subtype != DelayVertex {
		t.Fatalf("synthesized vertex has wrong subtype")
	}
}

func TestGraphCreateParamOrderingEnforced(t *testing.T) {
	g := NewGraph("top", 0, 0, 2)
	if _, diags := g.CreateParam(NewDynamicParam("n")); diags.HasErrors() {
		t.Fatalf("CreateParam(n): %s", diags.Err())
	}
	expr, _ := ParseExpression("n * 2")
	if _, diags := g.CreateParam(NewStaticParam("m", expr)); diags.HasErrors() {
		t.Fatalf("CreateParam(m): %s", diags.Err())
	}

	badExpr, _ := ParseExpression("undeclared + 1")
	_, diags := g.CreateParam(NewStaticParam("bad", badExpr))
	if !diags.HasErrors() {
		t.Fatalf("expected error referencing an undeclared parameter")
	}
}

func TestGraphCreateGraphVertexInterfaceCounts(t *testing.T) {
	g := NewGraph("top", 1, 0, 0)
	v := g.CreateGraphVertex("sub", 2, 1, 0, 0, 0)
	if v.Subgraph.InputInterfaceCount != 2 || v.Subgraph.OutputInterfaceCount != 1 {
		t.Fatalf("interface counts = (%d,%d), want (2,1)", v.Subgraph.InputInterfaceCount, v.Subgraph.OutputInterfaceCount)
	}
	if v.Subgraph.Parent != v {
		t.Fatalf("subgraph parent not wired back to hosting vertex")
	}
}
