// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package dependency

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/firing"
	"github.com/spider-rt/spider/internal/pisdf"
)

// firingRange is the projection of Info that cmp.Diff compares; Info
// itself carries a *firing.GraphFiring pointer that has no useful
// notion of equality across separately-built graphs.
type firingRange struct {
	Lo, Hi      addrs.Firing
	IsDelayInit bool
}

func firingRanges(infos []Info) []firingRange {
	out := make([]firingRange, len(infos))
	for i, info := range infos {
		out[i] = firingRange{Lo: info.FiringLo, Hi: info.FiringHi, IsDelayInit: info.IsDelayInit}
	}
	return out
}

func setup(t *testing.T) (*firing.GraphFiring, *pisdf.Edge) {
	t.Helper()
	g := pisdf.NewGraph("top", 2, 1, 0)
	a := g.CreateVertex("A", pisdf.Normal, 0, 1)
	b := g.CreateVertex("B", pisdf.Normal, 1, 0)
	e, diags := g.CreateEdge(a.ID, 0, pisdf.NewConstantExpression(2), b.ID, 0, pisdf.NewConstantExpression(3))
	if diags.HasErrors() {
		t.Fatalf("CreateEdge: %s", diags.Err())
	}
	root := firing.NewRootHandler(g)
	gf := root.Firing(0)
	gf.Resolve()
	if diags := gf.ComputeBRV(); diags.HasErrors() {
		t.Fatalf("ComputeBRV: %s", diags.Err())
	}
	gf.Initialize()
	return gf, e
}

func TestConsumerDependenciesNoDelay(t *testing.T) {
	gf, e := setup(t)
	// B's firing 0 consumes tokens [0,3) from A's production of 2 tokens
	// per firing: overlaps producer firings 0 and 1.
	infos, diags := ConsumerDependencies(gf, e, 0)
	if diags.HasErrors() {
		t.Fatalf("ConsumerDependencies: %s", diags.Err())
	}
	if len(infos) != 1 {
		t.Fatalf("len(infos) = %d, want 1", len(infos))
	}
	if infos[0].FiringLo != 0 || infos[0].FiringHi != 1 {
		t.Fatalf("firing range = [%d,%d], want [0,1]", infos[0].FiringLo, infos[0].FiringHi)
	}
}

func TestConsumerDependenciesSecondFiring(t *testing.T) {
	gf, e := setup(t)
	// B's firing 1 consumes tokens [3,6): overlaps producer firing 1 (tail) and 2.
	infos, diags := ConsumerDependencies(gf, e, 1)
	if diags.HasErrors() {
		t.Fatalf("ConsumerDependencies: %s", diags.Err())
	}
	if len(infos) != 1 {
		t.Fatalf("len(infos) = %d, want 1", len(infos))
	}
	if infos[0].FiringLo != 1 || infos[0].FiringHi != 2 {
		t.Fatalf("firing range = [%d,%d], want [1,2]", infos[0].FiringLo, infos[0].FiringHi)
	}
}

func TestConsumerDependenciesWithDelayYieldsInit(t *testing.T) {
	g := pisdf.NewGraph("top", 2, 1, 0)
	a := g.CreateVertex("A", pisdf.Normal, 0, 1)
	b := g.CreateVertex("B", pisdf.Normal, 1, 0)
	e, _ := g.CreateEdge(a.ID, 0, pisdf.NewConstantExpression(1), b.ID, 0, pisdf.NewConstantExpression(1))
	g.CreateDelay(e, pisdf.NewConstantExpression(2), false, pisdf.DelaySetterGetter{})

	root := firing.NewRootHandler(g)
	gf := root.Firing(0)
	gf.Resolve()
	if diags := gf.ComputeBRV(); diags.HasErrors() {
		t.Fatalf("ComputeBRV: %s", diags.Err())
	}
	gf.Initialize()

	infos, diags := ConsumerDependencies(gf, e, 0)
	if diags.HasErrors() {
		t.Fatalf("ConsumerDependencies: %s", diags.Err())
	}
	if len(infos) != 1 || !infos[0].IsDelayInit {
		t.Fatalf("expected a single delay-init dependency for B's first firing, got %+v", infos)
	}
}

func TestConsumerDependenciesAcrossAllFirings(t *testing.T) {
	gf, e := setup(t)

	var got [][]firingRange
	for f := addrs.Firing(0); f < 2; f++ {
		infos, diags := ConsumerDependencies(gf, e, f)
		if diags.HasErrors() {
			t.Fatalf("ConsumerDependencies(%d): %s", f, diags.Err())
		}
		got = append(got, firingRanges(infos))
	}

	want := [][]firingRange{
		{{Lo: 0, Hi: 1}},
		{{Lo: 1, Hi: 2}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("consumer dependency ranges mismatch (-want +got):\n%s", diff)
	}
}
