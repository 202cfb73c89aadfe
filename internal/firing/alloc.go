// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package firing

import (
	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/diag"
	"github.com/spider-rt/spider/internal/memory"
	"github.com/spider-rt/spider/internal/pisdf"
)

// Allocator synthesizes the JobFifos bundle (one input Fifo fragment
// list per input edge, one output Fifo per output edge) for each READY
// task, in ix order, per spec.md §4.8. It lives in this package rather
// than internal/memory because it must inspect Task and Vertex subtype
// to decide ownership, while internal/memory only tracks raw buffer
// reference counts; internal/memory.Interface is the collaborator this
// type calls into for the actual RW_OWN reservations.
type Allocator struct {
	// noSyncOptimisation shortcuts FORK/DUPLICATE/EXTERN_IN predecessors
	// still in READY state: the successor inherits the grandparent's
	// Fifo directly and the intermediate task is marked SKIPPED, per
	// spec.md §4.8's last paragraph. Defaults to on, matching the
	// original source's GraphAlloc.cpp default for FORK/DUPLICATE chains.
	noSyncOptimisation bool
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithNoSyncOptimisation toggles the FORK/DUPLICATE/EXTERN_IN shortcut.
func WithNoSyncOptimisation(enabled bool) Option {
	return func(a *Allocator) { a.noSyncOptimisation = enabled }
}

// NewAllocator constructs an Allocator with the NoSync optimisation on by
// default.
func NewAllocator(opts ...Option) *Allocator {
	a := &Allocator{noSyncOptimisation: true}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AllocateOutputs synthesizes the output Fifo record(s) for task, a
// firing of vertex v within gf, reserving a fresh buffer from mem when
// the vertex owns its output (RW_OWN), or deriving a view for
// FORK/DUPLICATE/EXTERN_IN, per spec.md §4.8.
func (a *Allocator) AllocateOutputs(gf *GraphFiring, v *pisdf.Vertex, task *Task, mem *memory.Interface) diag.Diagnostics {
	var diags diag.Diagnostics
	switch v.Subtype {
	case pisdf.Fork:
		diags = diags.Append(a.allocateFork(gf, v, task))
	case pisdf.Duplicate:
		diags = diags.Append(a.allocateDuplicate(gf, v, task))
	case pisdf.ExternIn:
		diags = diags.Append(a.allocateExtern(gf, v, task))
	default:
		for portIx := range v.Outputs {
			diags = diags.Append(a.allocateOwnedOutput(gf, v, addrs.PortID(portIx), task, mem))
		}
	}
	return diags
}

// allocateOwnedOutput reserves a separate rate-byte buffer in mem for this
// one producer firing and records (addr, 0, size, consumerCount, RW_OWN)
// for output port p. Firings of the same producer never share one buffer.
func (a *Allocator) allocateOwnedOutput(gf *GraphFiring, v *pisdf.Vertex, p addrs.PortID, task *Task, mem *memory.Interface) diag.Diagnostics {
	var diags diag.Diagnostics
	edge := gf.Graph.OutputEdge(v.ID, p)
	if edge == nil {
		return diags
	}
	rate, d := v.Outputs[p].Rate.EvaluateInt(gf.Params)
	diags = diags.Append(d)
	if diags.HasErrors() {
		return diags
	}
	size := uint32(rate)
	consumerCount, d := a.consumerCount(gf, edge, task.Key.Firing)
	diags = diags.Append(d)
	if diags.HasErrors() {
		return diags
	}

	vaddr, d := mem.Allocate(size, uint32(consumerCount))
	diags = diags.Append(d)
	if diags.HasErrors() {
		return diags
	}
	*gf.Fifo(edge.ID, task.Key.Firing) = memory.Fifo{
		Address: vaddr, Offset: 0, Size: size, Count: uint32(consumerCount), Attribute: memory.RWOwn,
	}
	return diags
}

// consumerCount counts how many distinct consumer firings producer
// firing k of edge actually reads from, via the same firing-overlap
// formula dependency.ProducerDependencies uses (duplicated locally in
// overlap.go; internal/firing cannot import internal/dependency, which
// imports firing itself). Used for the output Fifo's Count, which must
// reach zero exactly when every one of those firings has completed its
// read, per spec.md §8.
func (a *Allocator) consumerCount(gf *GraphFiring, edge *pisdf.Edge, k addrs.Firing) (int, diag.Diagnostics) {
	return producerConsumerCount(gf, edge, k)
}

// allocateFork inherits the input (addr, offset) and emits one child
// Fifo per output edge with successive offsets, attribute RW_ONLY.
func (a *Allocator) allocateFork(gf *GraphFiring, v *pisdf.Vertex, task *Task) diag.Diagnostics {
	var diags diag.Diagnostics
	in := gf.Graph.InputEdge(v.ID, 0)
	if in == nil {
		return diags.Errorf(diag.KindInvalidAPIUsage, "FORK vertex %q has no input edge", v.Name)
	}
	inFifo := gf.Fifo(in.ID, task.Key.Firing)
	var offset uint32
	for portIx := range v.Outputs {
		edge := gf.Graph.OutputEdge(v.ID, addrs.PortID(portIx))
		if edge == nil {
			continue
		}
		rate, d := v.Outputs[portIx].Rate.EvaluateInt(gf.Params)
		diags = diags.Append(d)
		if diags.HasErrors() {
			return diags
		}
		count, d := a.consumerCount(gf, edge, task.Key.Firing)
		diags = diags.Append(d)
		if diags.HasErrors() {
			return diags
		}
		*gf.Fifo(edge.ID, task.Key.Firing) = memory.Fifo{
			Address: inFifo.Address, Offset: inFifo.Offset + offset, Size: uint32(rate),
			Count: uint32(count), Attribute: memory.RWOnly,
		}
		offset += uint32(rate)
	}
	return diags
}

// allocateDuplicate makes every output reference the same (addr,
// offset), attribute RW_ONLY.
func (a *Allocator) allocateDuplicate(gf *GraphFiring, v *pisdf.Vertex, task *Task) diag.Diagnostics {
	var diags diag.Diagnostics
	in := gf.Graph.InputEdge(v.ID, 0)
	if in == nil {
		return diags.Errorf(diag.KindInvalidAPIUsage, "DUPLICATE vertex %q has no input edge", v.Name)
	}
	inFifo := gf.Fifo(in.ID, task.Key.Firing)
	for portIx := range v.Outputs {
		edge := gf.Graph.OutputEdge(v.ID, addrs.PortID(portIx))
		if edge == nil {
			continue
		}
		count, d := a.consumerCount(gf, edge, task.Key.Firing)
		diags = diags.Append(d)
		if diags.HasErrors() {
			return diags
		}
		*gf.Fifo(edge.ID, task.Key.Firing) = memory.Fifo{
			Address: inFifo.Address, Offset: inFifo.Offset, Size: inFifo.Size,
			Count: uint32(count), Attribute: memory.RWOnly,
		}
	}
	return diags
}

// allocateExtern uses the externally registered address for an
// EXTERN_IN vertex's output, attribute RW_EXT. The external address is
// looked up from the vertex's RTInfo-adjacent external registry, which
// the runtime package populates via the user-facing API; here it is
// passed in through the task's OutputFifos slot the runtime pre-seeds
// before calling AllocateOutputs, since externally-registered addresses
// are a runtime-level concern, not a GraphFiring-level one.
func (a *Allocator) allocateExtern(gf *GraphFiring, v *pisdf.Vertex, task *Task) diag.Diagnostics {
	var diags diag.Diagnostics
	for portIx := range v.Outputs {
		edge := gf.Graph.OutputEdge(v.ID, addrs.PortID(portIx))
		if edge == nil {
			continue
		}
		existing := gf.Fifo(edge.ID, task.Key.Firing)
		if !existing.Allocated() {
			return diags.Errorf(diag.KindInvalidAPIUsage, "EXTERN_IN vertex %q has no externally registered address for port %d", v.Name, portIx)
		}
		count, d := a.consumerCount(gf, edge, task.Key.Firing)
		diags = diags.Append(d)
		if diags.HasErrors() {
			return diags
		}
		existing.Attribute = memory.RWExt
		existing.Count = uint32(count)
	}
	return diags
}

// InitFifoFunc synthesizes the RW_OWN buffer backing an edge's delay
// token-initial condition the first time any consumer firing touches
// it: byteLength is that touching firing's slice of the delay (mirrors
// spec.md §4.8's handling of the lo < 0 case), readerCount is the total
// number of distinct consumer firings that will ever touch it.
type InitFifoFunc func(edge *pisdf.Edge, byteLength int64, readerCount int) memory.Fifo

// AllocateInputs looks up, for each input edge of v's firing, every
// physical segment its consumed byte range touches: zero or one
// delay-init segment plus one Fifo fragment per individual producer
// firing the dependency overlap formula says that range overlaps. A
// rate-mismatched edge can span more than one producer firing, each
// with its own separately allocated buffer, so a port's input is a list
// of fragments rather than a single Fifo, per spec.md §4.8/§4.5.
func (a *Allocator) AllocateInputs(gf *GraphFiring, v *pisdf.Vertex, task *Task, initFifo InitFifoFunc) ([][]memory.Fifo, diag.Diagnostics) {
	var diags diag.Diagnostics
	inputs := make([][]memory.Fifo, len(v.Inputs))
	for portIx := range v.Inputs {
		edge := gf.Graph.InputEdge(v.ID, addrs.PortID(portIx))
		if edge == nil {
			inputs[portIx] = []memory.Fifo{{Address: memory.SentinelAddress}}
			continue
		}
		fifos, d := a.resolveInput(gf, edge, task, initFifo)
		diags = diags.Append(d)
		if diags.HasErrors() {
			continue
		}
		inputs[portIx] = fifos
	}
	return inputs, diags
}

// resolveInput enumerates edge's physical read segments for task's
// firing via the dependency overlap formula (duplicated locally as
// consumerInputRanges, since internal/firing cannot import
// internal/dependency) and resolves each to a concrete Fifo: an
// INIT buffer for a delay-init segment, or the named producer firing's
// already-allocated output Fifo narrowed to the touched sub-range for
// everything else. The NoSync optimisation, when enabled, lets a
// FORK/DUPLICATE/EXTERN_IN predecessor firing still in Ready state be
// skipped: the successor inherits the grandparent's Fifo directly and
// the intermediate task is marked Skipped so no job message is sent
// for it.
func (a *Allocator) resolveInput(gf *GraphFiring, edge *pisdf.Edge, task *Task, initFifo InitFifoFunc) ([]memory.Fifo, diag.Diagnostics) {
	var diags diag.Diagnostics
	producerVertex := gf.Graph.Vertex(edge.SrcVertex)

	ranges, d := consumerInputRanges(gf, edge, task.Key.Firing)
	diags = diags.Append(d)
	if diags.HasErrors() {
		return nil, diags
	}
	if len(ranges) == 0 {
		return []memory.Fifo{{Address: memory.SentinelAddress}}, diags
	}

	fifos := make([]memory.Fifo, 0, len(ranges))
	for _, rg := range ranges {
		if rg.isDelayInit {
			count, d := delayInitConsumerCount(gf, edge)
			diags = diags.Append(d)
			if diags.HasErrors() {
				continue
			}
			fifos = append(fifos, initFifo(edge, rg.byteLength, count))
			continue
		}

		producerFirings := gf.Tasks[edge.SrcVertex]
		if int(rg.firing) < 0 || int(rg.firing) >= len(producerFirings) {
			continue
		}
		fifo := *gf.Fifo(edge.ID, rg.firing)
		fifo.Offset += uint32(rg.byteOffset)
		fifo.Size = uint32(rg.byteLength)
		if a.noSyncOptimisation && producerVertex.IsStructuralTransparency() {
			producerTask := gf.Task(edge.SrcVertex, rg.firing)
			if producerTask.State == Ready {
				fifo.Count++
				producerTask.State = Skipped
			}
		}
		fifos = append(fifos, fifo)
	}
	return fifos, diags
}
