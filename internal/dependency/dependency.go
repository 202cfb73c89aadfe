// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

// Package dependency implements the producer/consumer firing-range
// overlap formulas of spec.md §4.5: for a given firing and input (or
// output) edge, enumerate which producer (or consumer) firings its
// consumed (or produced) byte range overlaps. The formulas are grounded
// directly on the original C++ source's dependencies.h
// (computeConsLowerDep/computeConsUpperDep and their producer-side
// duals), confirmed against original_source/_INDEX.md.
package dependency

import (
	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/diag"
	"github.com/spider-rt/spider/internal/firing"
	"github.com/spider-rt/spider/internal/pisdf"
)

// Info is one (dependency-info) tuple: a range of firings of the
// dependency's other endpoint, plus the byte offset/length within that
// endpoint's buffer that this side's firing actually touches.
type Info struct {
	// Handler is the GraphFiring that owns the other endpoint's firings;
	// it is always the firing under analysis, including for delay-token
	// pseudo-producers, which are flagged via IsDelayInit instead.
	Handler *firing.GraphFiring
	Vertex  addrs.VertexID

	// FiringLo/FiringHi is the inclusive range of the other endpoint's
	// firing indices this dependency touches. On an IsDelayInit tuple,
	// which names no firing of the other endpoint, both are left at zero
	// and carry no meaning.
	FiringLo addrs.Firing
	FiringHi addrs.Firing

	// IsDelayInit marks a dependency that resolves to the edge's
	// token-initial condition rather than to any producer firing
	// (negative lower bound in spec.md §4.5's formula).
	IsDelayInit bool

	ByteOffset int64
	ByteLength int64
}

// ConsumerDependencies returns, for consumer firing k of edge e's sink
// vertex, the producer-side Info tuples its consumed byte range
// `[k*Rv - D, (k+1)*Rv - D)` overlaps, per spec.md §4.5.
func ConsumerDependencies(gf *firing.GraphFiring, e *pisdf.Edge, k addrs.Firing) ([]Info, diag.Diagnostics) {
	var diags diag.Diagnostics
	rSrc, d := rate(gf, e.SrcVertex, e.SrcPort, false)
	diags = diags.Append(d)
	rSnk, d := rate(gf, e.SnkVertex, e.SnkPort, true)
	diags = diags.Append(d)
	if diags.HasErrors() {
		return nil, diags
	}
	delay := delayValue(gf, e, &diags)
	if diags.HasErrors() {
		return nil, diags
	}

	lo := int64(k)*rSnk - delay
	hi := (int64(k)+1)*rSnk - delay - 1

	return rangeToInfos(gf, e.SrcVertex, rSrc, lo, hi), diags
}

// ProducerDependencies returns, for producer firing k of edge e's source
// vertex, the consumer-side Info tuples whose consumed byte range
// overlaps the produced range `[k*Ru, (k+1)*Ru)`, the symmetric dual of
// ConsumerDependencies per spec.md §4.5.
func ProducerDependencies(gf *firing.GraphFiring, e *pisdf.Edge, k addrs.Firing) ([]Info, diag.Diagnostics) {
	var diags diag.Diagnostics
	rSrc, d := rate(gf, e.SrcVertex, e.SrcPort, false)
	diags = diags.Append(d)
	rSnk, d := rate(gf, e.SnkVertex, e.SnkPort, true)
	diags = diags.Append(d)
	if diags.HasErrors() {
		return nil, diags
	}
	delay := delayValue(gf, e, &diags)
	if diags.HasErrors() {
		return nil, diags
	}

	// Invert the consumer formula: a produced token at absolute position
	// p = k*Ru + offset is consumed by firing j where j*Rv - D <= p < (j+1)*Rv - D,
	// i.e. j = floor((p + D) / Rv). Apply at the range endpoints.
	lo := int64(k)*rSrc + delay
	hi := (int64(k)+1)*rSrc - 1 + delay

	return rangeToInfos(gf, e.SnkVertex, rSnk, lo, hi), diags
}

// rangeToInfos maps an absolute token range [lo, hi] against the given
// vertex's per-firing rate r into one or two Info tuples: a delay-init
// prefix (if lo < 0) and/or a producer/consumer firing range, following
// spec.md §4.5's lower/upper dependency index formulas.
func rangeToInfos(gf *firing.GraphFiring, vertex addrs.VertexID, rate int64, lo, hi int64) []Info {
	var infos []Info
	if rate <= 0 {
		return infos
	}
	if lo < 0 {
		initHi := hi
		if initHi >= 0 {
			initHi = -1
		}
		infos = append(infos, Info{
			Handler:     gf,
			Vertex:      vertex,
			IsDelayInit: true,
			ByteOffset:  0,
			ByteLength:  initHi - lo + 1,
		})
		lo = 0
	}
	if hi < lo {
		return infos
	}
	fLo := floorDiv(lo, rate)
	fHi := floorDiv(hi, rate)
	infos = append(infos, Info{
		Handler:    gf,
		Vertex:     vertex,
		FiringLo:   addrs.Firing(maxInt64(-1, fLo)),
		FiringHi:   addrs.Firing(maxInt64(-1, fHi)),
		ByteOffset: lo % rate,
		ByteLength: hi - lo + 1,
	})
	return infos
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func rate(gf *firing.GraphFiring, v addrs.VertexID, p addrs.PortID, input bool) (int64, diag.Diagnostics) {
	vertex := gf.Graph.Vertex(v)
	var expr *pisdf.Expression
	if input {
		expr = vertex.Inputs[p].Rate
	} else {
		expr = vertex.Outputs[p].Rate
	}
	return expr.EvaluateInt(gf.Params)
}

func delayValue(gf *firing.GraphFiring, e *pisdf.Edge, diags *diag.Diagnostics) int64 {
	if e.Delay == nil {
		return 0
	}
	v, d := e.Delay.Value.EvaluateInt(gf.Params)
	*diags = diags.Append(d)
	return v
}
