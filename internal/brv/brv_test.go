// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package brv

import (
	"testing"

	"github.com/spider-rt/spider/internal/pisdf"
)

func TestResolveSimpleBalance(t *testing.T) {
	// A produces rate 2, B consumes rate 3: scenario 1 from spec.md §8.
	g := pisdf.NewGraph("top", 2, 1, 0)
	a := g.CreateVertex("A", pisdf.Normal, 0, 1)
	b := g.CreateVertex("B", pisdf.Normal, 1, 0)
	if _, diags := g.CreateEdge(a.ID, 0, pisdf.NewConstantExpression(2), b.ID, 0, pisdf.NewConstantExpression(3)); diags.HasErrors() {
		t.Fatalf("CreateEdge: %s", diags.Err())
	}
	params := pisdf.NewTable(nil)
	if diags := params.Resolve(nil); diags.HasErrors() {
		t.Fatalf("Resolve: %s", diags.Err())
	}

	rv, diags := Resolve(g, params)
	if diags.HasErrors() {
		t.Fatalf("brv.Resolve: %s", diags.Err())
	}
	if rv[a.ID] != 3 || rv[b.ID] != 2 {
		t.Fatalf("rv = {A:%d, B:%d}, want {A:3, B:2}", rv[a.ID], rv[b.ID])
	}
}

func TestResolveDisconnectedVertexDefaultsToOne(t *testing.T) {
	g := pisdf.NewGraph("top", 1, 0, 0)
	v := g.CreateVertex("V", pisdf.Normal, 0, 0)
	params := pisdf.NewTable(nil)
	params.Resolve(nil)

	rv, diags := Resolve(g, params)
	if diags.HasErrors() {
		t.Fatalf("Resolve: %s", diags.Err())
	}
	if rv[v.ID] != 1 {
		t.Fatalf("rv[V] = %d, want 1", rv[v.ID])
	}
}

func TestResolveUnbalancedZeroRateFails(t *testing.T) {
	g := pisdf.NewGraph("top", 2, 1, 0)
	a := g.CreateVertex("A", pisdf.Normal, 0, 1)
	b := g.CreateVertex("B", pisdf.Normal, 1, 0)
	g.CreateEdge(a.ID, 0, pisdf.NewConstantExpression(0), b.ID, 0, pisdf.NewConstantExpression(3))
	params := pisdf.NewTable(nil)
	params.Resolve(nil)

	_, diags := Resolve(g, params)
	if !diags.HasErrors() {
		t.Fatalf("expected balance error for mismatched zero rate")
	}
}
