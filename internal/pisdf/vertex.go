// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package pisdf

import (
	"time"

	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/archi"
)

// VertexSubtype is the 16-way tag assigned to every vertex. Scheduling
// specializations (FORK/JOIN/DUPLICATE shortcuts,
// CONFIG parameter feedback, DELAY transparency) each key off this tag
// rather than off a type switch across 16 concrete Go types, so that
// adding a specialization only ever touches the one dispatch table in
// the package that needs it (dependency, scheduler, memory) instead of
// every package that handles vertices.
type VertexSubtype uint8

const (
	Normal VertexSubtype = iota
	Config
	DelayVertex
	Fork
	Join
	Duplicate
	Tail
	Head
	Repeat
	Init
	End
	GraphVertex
	Input
	Output
	ExternIn
	ExternOut
)

func (s VertexSubtype) String() string {
	switch s {
	case Normal:
		return "normal"
	case Config:
		return "config"
	case DelayVertex:
		return "delay"
	case Fork:
		return "fork"
	case Join:
		return "join"
	case Duplicate:
		return "duplicate"
	case Tail:
		return "tail"
	case Head:
		return "head"
	case Repeat:
		return "repeat"
	case Init:
		return "init"
	case End:
		return "end"
	case GraphVertex:
		return "graph"
	case Input:
		return "input"
	case Output:
		return "output"
	case ExternIn:
		return "extern_in"
	case ExternOut:
		return "extern_out"
	default:
		return "unknown"
	}
}

// Port is one typed connection point on a Vertex. Rate is the expression
// that, evaluated against the owning firing's parameter table, gives the
// number of tokens produced or consumed per firing.
type Port struct {
	Rate *Expression
	Edge addrs.EdgeID // set once the port is connected by CreateEdge
}

// ParamSnapshot is an immutable snapshot of a firing's resolved parameter
// values, in declaration order, handed to a TimingFunc. Using a plain
// slice rather than a live *pisdf.Table lets a TimingFunc retain the
// snapshot past the call without racing the owning GraphFiring.
type ParamSnapshot []int64

// TimingFunc computes the execution time of a firing of some vertex on a
// given PE, given a snapshot of that firing's resolved parameters.
// Spider never interprets the callback's internals.
//
// Resolves the Open Question of whether timing callbacks take a raw
// parameter-table pointer or a vector: Spider always hands a snapshot
// vector (ParamSnapshot) alongside the target PE, which satisfies both
// variants since a vector can represent either.
type TimingFunc func(pe *archi.PE, params ParamSnapshot) (time.Duration, error)

// RTInfo holds a vertex's per-PE mappability and timing information.
// mappable[i] is true iff the vertex can run on the PE with VirtualIndex
// i, matching archi.PE.VirtualIndex.
type RTInfo struct {
	mappable map[int]bool
	timing   map[int]TimingFunc
}

func NewRTInfo() *RTInfo {
	return &RTInfo{mappable: make(map[int]bool), timing: make(map[int]TimingFunc)}
}

func (r *RTInfo) SetMappable(peVirtualIx int, mappable bool, timing TimingFunc) {
	r.mappable[peVirtualIx] = mappable
	if mappable {
		r.timing[peVirtualIx] = timing
	} else {
		delete(r.timing, peVirtualIx)
	}
}

func (r *RTInfo) IsMappableOnPE(peVirtualIx int) bool { return r.mappable[peVirtualIx] }

func (r *RTInfo) Timing(pe *archi.PE, params ParamSnapshot) (time.Duration, error) {
	fn, ok := r.timing[pe.VirtualIndex]
	if !ok {
		panic("spider/pisdf: Timing called for a PE the vertex is not mappable on")
	}
	return fn(pe, params)
}

// MappablePEs returns the VirtualIndex of every PE this vertex can run on.
func (r *RTInfo) MappablePEs() []int {
	var out []int
	for ix, ok := range r.mappable {
		if ok {
			out = append(out, ix)
		}
	}
	return out
}

// Vertex is a firing unit: a node in the PiSDF graph with a fixed number
// of input and output ports established at construction.
type Vertex struct {
	ID      addrs.VertexID
	Name    string
	Subtype VertexSubtype
	Inputs  []Port
	Outputs []Port

	// RTInfo is nil for hierarchical (GraphVertex) vertices, which are
	// never directly mapped to a PE or executed as a Task; they exist
	// only to anchor a child Graph.
	RTInfo *RTInfo

	// Subgraph is non-nil only for Subtype == GraphVertex.
	Subgraph *Graph
}

// NewVertex constructs a Vertex with inputCount input ports and
// outputCount output ports, all initially unconnected (Edge == -1 and a
// nil Rate, to be filled in by CreateEdge).
func NewVertex(id addrs.VertexID, name string, subtype VertexSubtype, inputCount, outputCount int) *Vertex {
	v := &Vertex{ID: id, Name: name, Subtype: subtype}
	v.Inputs = make([]Port, inputCount)
	v.Outputs = make([]Port, outputCount)
	for i := range v.Inputs {
		v.Inputs[i].Edge = -1
	}
	for i := range v.Outputs {
		v.Outputs[i].Edge = -1
	}
	if subtype != GraphVertex {
		v.RTInfo = NewRTInfo()
	}
	return v
}

// IsHierarchical reports whether this vertex's firings descend into a
// child GraphHandler rather than being executed directly as a Task.
func (v *Vertex) IsHierarchical() bool { return v.Subtype == GraphVertex }

// IsConfig reports whether this vertex's firing can write Dynamic
// parameters of its owning subgraph.
func (v *Vertex) IsConfig() bool { return v.Subtype == Config }

// IsStructuralTransparency reports whether this vertex is handled as a
// structural transparency by the dependency engine (FORK fragments its
// input, JOIN merges upstream accesses, DUPLICATE replicates, DELAY acts
// as a virtual producer for its first D tokens) rather than as an
// ordinary data-producing/consuming task.
func (v *Vertex) IsStructuralTransparency() bool {
	switch v.Subtype {
	case Fork, Join, Duplicate, DelayVertex:
		return true
	default:
		return false
	}
}
