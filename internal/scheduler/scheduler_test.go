// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package scheduler

import (
	"testing"

	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/archi"
	"github.com/spider-rt/spider/internal/firing"
	"github.com/spider-rt/spider/internal/pisdf"
)

func buildChain(t *testing.T) (*firing.GraphFiring, *pisdf.Graph) {
	t.Helper()
	g := pisdf.NewGraph("top", 2, 1, 0)
	a := g.CreateVertex("A", pisdf.Normal, 0, 1)
	b := g.CreateVertex("B", pisdf.Normal, 1, 0)
	if _, diags := g.CreateEdge(a.ID, 0, pisdf.NewConstantExpression(1), b.ID, 0, pisdf.NewConstantExpression(1)); diags.HasErrors() {
		t.Fatalf("CreateEdge: %s", diags.Err())
	}
	root := firing.NewRootHandler(g)
	gf := root.Firing(0)
	gf.Resolve()
	if diags := gf.ComputeBRV(); diags.HasErrors() {
		t.Fatalf("ComputeBRV: %s", diags.Err())
	}
	gf.Initialize()
	return gf, g
}

func itemsFor(gf *firing.GraphFiring, g *pisdf.Graph) []Item {
	var items []Item
	for _, v := range g.Vertices {
		if v.IsHierarchical() {
			continue
		}
		for k, task := range gf.Tasks[v.ID] {
			items = append(items, Item{Handler: gf, Vertex: v.ID, Firing: addrs.Firing(k), Task: task})
		}
	}
	return items
}

func TestScheduleLeafHasZeroLevel(t *testing.T) {
	gf, g := buildChain(t)
	s := New(archi.NewPlatform(0))
	items := itemsFor(gf, g)

	schedulable, parked, diags := s.Schedule(items)
	if diags.HasErrors() {
		t.Fatalf("Schedule: %s", diags.Err())
	}
	if len(schedulable)+len(parked) != len(items) {
		t.Fatalf("lost items: %d scheduled + %d parked != %d total", len(schedulable), len(parked), len(items))
	}
	// B (the sink, no successors) must have level 0.
	for _, it := range items {
		if it.Vertex == 1 && it.Task.Level != 0 {
			t.Fatalf("B's level = %d, want 0 (no successors, zero-cost timing)", it.Task.Level)
		}
	}
}

func TestScheduleParksTaskUntilPredecessorLeavesPending(t *testing.T) {
	gf, g := buildChain(t)
	s := New(archi.NewPlatform(0))
	items := itemsFor(gf, g)

	// First pass: A has no input dependencies and is schedulable
	// immediately; B depends on A, which is still Pending, so B is parked.
	schedulable, parked, diags := s.Schedule(items)
	if diags.HasErrors() {
		t.Fatalf("Schedule: %s", diags.Err())
	}
	if len(schedulable) != 1 || schedulable[0].Vertex != 0 {
		t.Fatalf("expected only A schedulable on the first pass, got %+v", schedulable)
	}
	if len(parked) != 1 || parked[0].Vertex != 1 {
		t.Fatalf("expected B parked on the first pass, got %+v", parked)
	}

	// Once the mapper has advanced A out of Pending, a second pass admits B.
	gf.Task(0, 0).State = firing.Ready
	schedulable, parked, diags = s.Schedule(items)
	if diags.HasErrors() {
		t.Fatalf("Schedule: %s", diags.Err())
	}
	if len(parked) != 0 {
		t.Fatalf("expected nothing parked on the second pass, got %+v", parked)
	}
	if len(schedulable) != 2 {
		t.Fatalf("expected both A and B schedulable on the second pass, got %+v", schedulable)
	}
}
