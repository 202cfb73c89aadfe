// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

// Package brv computes the Basic Repetition Vector of a PiSDF subgraph:
// the integer number of times each vertex must fire so that every edge's
// production and consumption balance exactly, per spec.md §4.4.
package brv

import (
	"math/big"

	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/diag"
	"github.com/spider-rt/spider/internal/pisdf"
)

// Resolve computes the repetition vector of g, indexed by addrs.VertexID,
// given g's already-resolved parameter table. It fails with
// diag.KindBalanceEquationError if no consistent integer solution exists.
func Resolve(g *pisdf.Graph, params *pisdf.Table) ([]int64, diag.Diagnostics) {
	var diags diag.Diagnostics
	n := len(g.Vertices)

	factor := make([]*big.Rat, n) // repetition factor, rational, before LCM reduction
	visited := make([]bool, n)

	adjacency := buildAdjacency(g)

	for start := 0; start < n; start++ {
		if visited[start] {
			continue
		}
		// Each connected component is solved independently and may be
		// scaled by an arbitrary common factor without affecting balance,
		// so every component's root vertex is seeded at factor 1.
		factor[start] = big.NewRat(1, 1)
		visited[start] = true
		queue := []int{start}
		members := []int{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, edge := range adjacency[cur] {
				other := edge.other
				rSrc, d := evalRate(g.Vertex(edge.srcVertex).Outputs[edge.srcPort].Rate, params)
				diags = diags.Append(d)
				rSnk, d := evalRate(g.Vertex(edge.snkVertex).Inputs[edge.snkPort].Rate, params)
				diags = diags.Append(d)
				if diags.HasErrors() {
					return nil, diags
				}
				if rSrc == 0 && rSnk == 0 {
					if !visited[other] {
						visited[other] = true
						factor[other] = new(big.Rat).Set(factor[cur])
						queue = append(queue, other)
						members = append(members, other)
					}
					continue
				}
				if rSrc == 0 || rSnk == 0 {
					return nil, diags.Errorf(diag.KindBalanceEquationError,
						"edge %s has a zero rate on only one endpoint, which cannot balance", edgeName(g, edge))
				}
				// rate(src)*q(src) = rate(snk)*q(snk)  =>  q(other) derived from q(cur).
				var qOther *big.Rat
				if edge.curIsSrc {
					// q(snk) = q(src) * rSrc / rSnk
					qOther = new(big.Rat).Mul(factor[cur], big.NewRat(rSrc, rSnk))
				} else {
					// q(src) = q(snk) * rSnk / rSrc
					qOther = new(big.Rat).Mul(factor[cur], big.NewRat(rSnk, rSrc))
				}
				if visited[other] {
					if factor[other].Cmp(qOther) != 0 {
						return nil, diags.Errorf(diag.KindBalanceEquationError,
							"inconsistent rate ratios around edge %s", edgeName(g, edge))
					}
					continue
				}
				visited[other] = true
				factor[other] = qOther
				queue = append(queue, other)
				members = append(members, other)
			}
		}
		// Scale this component alone to its least integer solution, so that
		// one component's denominators never multiply another's RVs.
		compLCM := big.NewInt(1)
		for _, m := range members {
			compLCM = lcmInt(compLCM, factor[m].Denom())
		}
		for _, m := range members {
			factor[m].Mul(factor[m], new(big.Rat).SetInt(compLCM))
		}
	}

	rv := reduceToIntegers(factor)

	rv, diags = applyInterfaceCorrection(g, params, rv, diags)
	if diags.HasErrors() {
		return nil, diags
	}
	rv, diags = applyConfigCorrection(g, params, rv, diags)
	if diags.HasErrors() {
		return nil, diags
	}

	if err := checkBalance(g, params, rv); err != nil {
		return nil, diags.Append(err)
	}

	return rv, diags
}

type edgeRef struct {
	other      int
	curIsSrc   bool
	srcVertex  addrs.VertexID
	srcPort    addrs.PortID
	snkVertex  addrs.VertexID
	snkPort    addrs.PortID
}

func buildAdjacency(g *pisdf.Graph) [][]edgeRef {
	adj := make([][]edgeRef, len(g.Vertices))
	for _, e := range g.Edges {
		src, snk := int(e.SrcVertex), int(e.SnkVertex)
		adj[src] = append(adj[src], edgeRef{other: snk, curIsSrc: true, srcVertex: e.SrcVertex, srcPort: e.SrcPort, snkVertex: e.SnkVertex, snkPort: e.SnkPort})
		adj[snk] = append(adj[snk], edgeRef{other: src, curIsSrc: false, srcVertex: e.SrcVertex, srcPort: e.SrcPort, snkVertex: e.SnkVertex, snkPort: e.SnkPort})
	}
	return adj
}

func edgeName(g *pisdf.Graph, e edgeRef) string {
	return g.Vertex(e.srcVertex).Name + "->" + g.Vertex(e.snkVertex).Name
}

func evalRate(expr *pisdf.Expression, params *pisdf.Table) (int64, diag.Diagnostics) {
	return expr.EvaluateInt(params)
}

// reduceToIntegers scales every rational factor by the LCM of all
// denominators, producing the least integer solution.
func reduceToIntegers(factor []*big.Rat) []int64 {
	lcm := big.NewInt(1)
	for _, f := range factor {
		if f == nil {
			continue
		}
		d := f.Denom()
		if d.Cmp(big.NewInt(1)) == 0 {
			continue
		}
		lcm = lcmInt(lcm, d)
	}
	rv := make([]int64, len(factor))
	for i, f := range factor {
		if f == nil {
			// Disconnected, never-visited vertex: spec.md §4.4 edge case,
			// RV defaults to 1.
			rv[i] = 1
			continue
		}
		scaled := new(big.Rat).Mul(f, new(big.Rat).SetInt(lcm))
		rv[i] = scaled.Num().Int64() / scaled.Denom().Int64()
	}
	return rv
}

func gcdInt(a, b *big.Int) *big.Int {
	return new(big.Int).GCD(nil, nil, new(big.Int).Abs(a), new(big.Int).Abs(b))
}

func lcmInt(a, b *big.Int) *big.Int {
	g := gcdInt(a, b)
	if g.Sign() == 0 {
		return big.NewInt(1)
	}
	out := new(big.Int).Div(a, g)
	return out.Mul(out, b)
}

// applyInterfaceCorrection enforces spec.md §4.4 correction 1: for every
// input/output interface of g, the inner rate times the connected
// vertex's RV must be >= the interface rate, scaling up if needed.
func applyInterfaceCorrection(g *pisdf.Graph, params *pisdf.Table, rv []int64, diags diag.Diagnostics) ([]int64, diag.Diagnostics) {
	if g.Parent == nil {
		return rv, diags
	}
	for portIx := range g.Parent.Inputs {
		edge := g.InputEdge(g.Parent.ID, addrs.PortID(portIx))
		if edge == nil {
			continue
		}
		innerRate, d := evalRate(g.Vertex(edge.SnkVertex).Inputs[edge.SnkPort].Rate, params)
		diags = diags.Append(d)
		interfaceRate, d := evalRate(g.Parent.Inputs[portIx].Rate, params)
		diags = diags.Append(d)
		rv = scaleUpForInterface(rv, int(edge.SnkVertex), innerRate, interfaceRate)
	}
	for portIx := range g.Parent.Outputs {
		edge := g.OutputEdge(g.Parent.ID, addrs.PortID(portIx))
		if edge == nil {
			continue
		}
		innerRate, d := evalRate(g.Vertex(edge.SrcVertex).Outputs[edge.SrcPort].Rate, params)
		diags = diags.Append(d)
		interfaceRate, d := evalRate(g.Parent.Outputs[portIx].Rate, params)
		diags = diags.Append(d)
		rv = scaleUpForInterface(rv, int(edge.SrcVertex), innerRate, interfaceRate)
	}
	return rv, diags
}

func scaleUpForInterface(rv []int64, vertex int, innerRate, interfaceRate int64) []int64 {
	if innerRate <= 0 || interfaceRate <= 0 {
		return rv
	}
	have := innerRate * rv[vertex]
	if have >= interfaceRate {
		return rv
	}
	factor := ceilDiv(interfaceRate, have)
	for i := range rv {
		rv[i] *= factor
	}
	return rv
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// applyConfigCorrection enforces spec.md §4.4 correction 2: every CONFIG
// actor's consumer RV is scaled up symmetrically with the config actor's
// own RV (a config actor's output parameter is produced once per its own
// firing, but every downstream consumer reading that parameter must fire
// at least as often as required by its own balance equation, which
// reduceToIntegers already guarantees; this pass only guards against a
// CONFIG actor itself having RV 0, which would starve its consumers).
func applyConfigCorrection(g *pisdf.Graph, _ *pisdf.Table, rv []int64, diags diag.Diagnostics) ([]int64, diag.Diagnostics) {
	for _, v := range g.Vertices {
		if v.Subtype == pisdf.Config && rv[v.ID] == 0 {
			rv[v.ID] = 1
		}
	}
	return rv, diags
}

// checkBalance verifies the balance equation holds exactly for every
// edge under the final rv, catching any correction-pass inconsistency
// before it reaches the dependency engine. Per spec.md §3's cross-entity
// invariant, the equation is `src.rate*rv(src) == snk.rate*rv(snk)`: a
// Delay is pre-loaded buffering, not part of the per-iteration token
// flow, so it does not enter this check (spec.md §8's conservation
// property over consumed/produced/delay bytes is a runtime accounting
// invariant enforced by the dependency engine and allocator, not a BRV
// balance condition).
func checkBalance(g *pisdf.Graph, params *pisdf.Table, rv []int64) diag.Diagnostics {
	var diags diag.Diagnostics
	for _, e := range g.Edges {
		rSrc, d := evalRate(g.Vertex(e.SrcVertex).Outputs[e.SrcPort].Rate, params)
		diags = diags.Append(d)
		rSnk, d := evalRate(g.Vertex(e.SnkVertex).Inputs[e.SnkPort].Rate, params)
		diags = diags.Append(d)
		if diags.HasErrors() {
			return diags
		}
		produced := rSrc * rv[e.SrcVertex]
		consumed := rSnk * rv[e.SnkVertex]
		if produced != consumed {
			diags = diags.Errorf(diag.KindBalanceEquationError,
				"balance equation violated on edge %s: produced %d != consumed %d", edgeNameFull(g, e), produced, consumed)
		}
	}
	return diags
}

func edgeNameFull(g *pisdf.Graph, e *pisdf.Edge) string {
	return g.Vertex(e.SrcVertex).Name + "->" + g.Vertex(e.SnkVertex).Name
}
