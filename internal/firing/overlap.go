// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package firing

import (
	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/diag"
	"github.com/spider-rt/spider/internal/pisdf"
)

// fifoRange is one physical segment a consumer firing's input port must
// read: either the edge's delay token-initial condition, or an
// individual producer firing's output. internal/dependency's Info
// aggregates a whole [FiringLo, FiringHi] span behind one ByteOffset/
// ByteLength pair, which is the right shape for reasoning about which
// firings a dependency touches but not for allocation: each producer
// firing in that span owns a separate physical buffer, so the allocator
// needs one fifoRange per individual firing instead.
type fifoRange struct {
	isDelayInit bool
	firing      addrs.Firing // meaningless when isDelayInit
	byteOffset  int64
	byteLength  int64
}

// consumerInputRanges enumerates the physical segments consumer firing k
// of edge e must read: at most one delay-init segment followed by one
// fifoRange per individual producer firing its consumed byte range
// `[k*Rv - D, (k+1)*Rv - D)` overlaps. This duplicates
// dependency.ConsumerDependencies' overlap formula locally because
// internal/dependency imports internal/firing, so firing cannot import
// it back without a cycle.
func consumerInputRanges(gf *GraphFiring, e *pisdf.Edge, k addrs.Firing) ([]fifoRange, diag.Diagnostics) {
	var diags diag.Diagnostics
	rSrc, d := edgeRate(gf, e.SrcVertex, e.SrcPort, false)
	diags = diags.Append(d)
	rSnk, d := edgeRate(gf, e.SnkVertex, e.SnkPort, true)
	diags = diags.Append(d)
	if diags.HasErrors() {
		return nil, diags
	}
	delay := edgeDelayValue(gf, e, &diags)
	if diags.HasErrors() {
		return nil, diags
	}

	lo := int64(k)*rSnk - delay
	hi := (int64(k)+1)*rSnk - delay - 1
	return rangesForSpan(rSrc, lo, hi), diags
}

// producerConsumerCount returns the number of distinct consumer firings
// that read any part of producer firing k's output on edge e: the
// dual of consumerInputRanges, mirroring dependency.ProducerDependencies.
// It is the Count an RW_OWN buffer allocated for that firing must carry
// so it is Deallocate'd exactly once per distinct reader, per spec.md
// §8's "count reaches 0 iff every consumer firing has completed".
func producerConsumerCount(gf *GraphFiring, e *pisdf.Edge, k addrs.Firing) (int, diag.Diagnostics) {
	var diags diag.Diagnostics
	rSrc, d := edgeRate(gf, e.SrcVertex, e.SrcPort, false)
	diags = diags.Append(d)
	rSnk, d := edgeRate(gf, e.SnkVertex, e.SnkPort, true)
	diags = diags.Append(d)
	if diags.HasErrors() {
		return 0, diags
	}
	delay := edgeDelayValue(gf, e, &diags)
	if diags.HasErrors() {
		return 0, diags
	}

	lo := int64(k)*rSrc + delay
	hi := (int64(k)+1)*rSrc - 1 + delay
	fLo := floorDiv(lo, rSnk)
	fHi := floorDiv(hi, rSnk)
	count := int(fHi - fLo + 1)
	if count < 0 {
		count = 0
	}
	return count, diags
}

// delayInitConsumerCount returns how many of edge e's consumer firings
// touch its delay token-initial condition at all, so an INIT buffer can
// be allocated with a Count matching how many times it will actually be
// read rather than the sink's whole repetition count.
func delayInitConsumerCount(gf *GraphFiring, e *pisdf.Edge) (int, diag.Diagnostics) {
	var diags diag.Diagnostics
	snkRV := len(gf.Tasks[e.SnkVertex])
	count := 0
	for k := 0; k < snkRV; k++ {
		ranges, d := consumerInputRanges(gf, e, addrs.Firing(k))
		diags = diags.Append(d)
		if diags.HasErrors() {
			return 0, diags
		}
		for _, rg := range ranges {
			if rg.isDelayInit {
				count++
				break
			}
		}
	}
	return count, diags
}

// rangesForSpan decomposes the absolute token range [lo, hi] against a
// per-firing rate into a delay-init prefix (if lo < 0) followed by one
// fifoRange per individual firing the remaining [0, hi] range touches.
// It mirrors dependency.rangeToInfos, including its ByteOffset: 0
// simplification for the delay-init segment (correct only when firing 0
// is the sole firing ever touching the delay prefix, the same
// assumption dependency.go's own Info already makes), but never
// aggregates more than one firing into a single range.
func rangesForSpan(rate int64, lo, hi int64) []fifoRange {
	var out []fifoRange
	if rate <= 0 {
		return out
	}
	if lo < 0 {
		initHi := hi
		if initHi >= 0 {
			initHi = -1
		}
		out = append(out, fifoRange{isDelayInit: true, byteOffset: 0, byteLength: initHi - lo + 1})
		lo = 0
	}
	if hi < lo {
		return out
	}
	fLo := floorDiv(lo, rate)
	fHi := floorDiv(hi, rate)
	for f := fLo; f <= fHi; f++ {
		segLo := maxInt64(lo, f*rate)
		segHi := minInt64(hi, (f+1)*rate-1)
		out = append(out, fifoRange{
			firing:     addrs.Firing(f),
			byteOffset: segLo - f*rate,
			byteLength: segHi - segLo + 1,
		})
	}
	return out
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

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func edgeRate(gf *GraphFiring, v addrs.VertexID, p addrs.PortID, input bool) (int64, diag.Diagnostics) {
	vertex := gf.Graph.Vertex(v)
	var expr *pisdf.Expression
	if input {
		expr = vertex.Inputs[p].Rate
	} else {
		expr = vertex.Outputs[p].Rate
	}
	return expr.EvaluateInt(gf.Params)
}

func edgeDelayValue(gf *GraphFiring, e *pisdf.Edge, diags *diag.Diagnostics) int64 {
	if e.Delay == nil {
		return 0
	}
	v, d := e.Delay.Value.EvaluateInt(gf.Params)
	*diags = diags.Append(d)
	return v
}
