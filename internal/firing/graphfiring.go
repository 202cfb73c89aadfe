// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

// Package firing implements the per-firing state tree spec.md §4.2/§4.3
// describes: GraphFiring holds one firing's resolved parameters, BRV and
// task descriptors, and GraphHandler owns the dense array of GraphFiring
// for a subgraph under one parent firing. The shape is grounded directly
// on OpenTofu's internal/instances.Expander: GraphHandler is an
// expanderModule generalized from "one expansion per module call" to
// "one GraphFiring per parent firing index", and GraphHandler.firing
// generalizes Expander's moduleInstances lookup.
package firing

import (
	"fmt"
	"sync"

	"github.com/zclconf/go-cty/cty"

	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/brv"
	"github.com/spider-rt/spider/internal/diag"
	"github.com/spider-rt/spider/internal/memory"
	"github.com/spider-rt/spider/internal/pisdf"
)

func cty1(v int64) cty.Value { return cty.NumberIntVal(v) }

// GraphFiring holds all state for one firing of a subgraph: its resolved
// parameter table, repetition vector, per-vertex task descriptors and
// per-edge FIFO allocation records, plus a lazily-created GraphHandler
// per hierarchical (GraphVertex) child.
type GraphFiring struct {
	Graph *pisdf.Graph
	Index addrs.Firing

	Params *pisdf.Table
	BRV    []int64 // indexed by addrs.VertexID, valid only after computeBRV

	// Tasks[v] holds one Task per firing of vertex v, sized by BRV[v]
	// once initialize() runs. Hierarchical (GraphVertex) entries stay nil:
	// their firings are represented by a child GraphHandler instead.
	Tasks [][]*Task

	// Fifos[e] holds one FifoAlloc record per firing of e's producer,
	// sized by BRV[e.SrcVertex].
	Fifos [][]memory.Fifo

	// DelayFifos[e] caches the RW_OWN buffer synthesized for edge e's
	// delay token-initial condition, so the first consumer firing to
	// touch it allocates the buffer and every later touching firing
	// (a delay spanning more than one sink firing's worth of tokens)
	// reuses the same physical address instead of allocating a duplicate.
	DelayFifos []memory.Fifo

	parent            *GraphFiring
	parentFiringIndex addrs.Firing

	mu       sync.Mutex
	children map[addrs.VertexID]*GraphHandler
}

// newGraphFiring constructs an unresolved GraphFiring for firing index ix
// of g, whose parameter table inherits from parent (nil for the top-level
// application graph).
func newGraphFiring(g *pisdf.Graph, ix addrs.Firing, parent *GraphFiring, parentFiringIndex addrs.Firing) *GraphFiring {
	return &GraphFiring{
		Graph:             g,
		Index:             ix,
		Params:            pisdf.NewTable(g.Params),
		parent:            parent,
		parentFiringIndex: parentFiringIndex,
		children:          make(map[addrs.VertexID]*GraphHandler),
	}
}

// Resolve evaluates all STATIC and INHERITED parameters against this
// firing's parent, leaving DYNAMIC ones unresolved. Idempotent: calling
// it again after a DYNAMIC parameter has since been set re-folds any
// parameter that transitively depends on it.
func (gf *GraphFiring) Resolve() diag.Diagnostics {
	var parentTable *pisdf.Table
	if gf.parent != nil {
		parentTable = gf.parent.Params
	}
	return gf.Params.Resolve(parentTable)
}

// Resolved reports whether every parameter in this firing's table is
// known, i.e. whether computeBRV can be attempted.
func (gf *GraphFiring) Resolved() bool { return gf.Params.Resolved() }

// ComputeBRV computes this firing's repetition vector from its (already
// resolved) parameter table. Fails with diag.KindBalanceEquationError if
// the subgraph's edges cannot balance.
func (gf *GraphFiring) ComputeBRV() diag.Diagnostics {
	rv, diags := brv.Resolve(gf.Graph, gf.Params)
	if diags.HasErrors() {
		return diags
	}
	gf.BRV = rv
	return diags
}

// Initialize allocates per-vertex task descriptors and per-edge FIFO
// record arrays sized by BRV, per spec.md §4.2. Must be called after
// ComputeBRV.
func (gf *GraphFiring) Initialize() {
	gf.Tasks = make([][]*Task, len(gf.Graph.Vertices))
	for _, v := range gf.Graph.Vertices {
		if v.IsHierarchical() {
			continue
		}
		n := gf.BRV[v.ID]
		tasks := make([]*Task, n)
		for k := range tasks {
			tasks[k] = NewTask(addrs.TaskKey{Vertex: v.ID, Firing: addrs.Firing(k)})
		}
		gf.Tasks[v.ID] = tasks
	}

	gf.Fifos = make([][]memory.Fifo, len(gf.Graph.Edges))
	gf.DelayFifos = make([]memory.Fifo, len(gf.Graph.Edges))
	for _, e := range gf.Graph.Edges {
		n := gf.BRV[e.SrcVertex]
		fifos := make([]memory.Fifo, n)
		for k := range fifos {
			fifos[k] = memory.Fifo{Address: memory.SentinelAddress}
		}
		gf.Fifos[e.ID] = fifos
		gf.DelayFifos[e.ID] = memory.Fifo{Address: memory.SentinelAddress}
	}
}

// Task returns the task descriptor for firing k of vertex v.
func (gf *GraphFiring) Task(v addrs.VertexID, k addrs.Firing) *Task {
	return gf.Tasks[v][k]
}

// Fifo returns the allocation record for firing k of edge e's producer.
func (gf *GraphFiring) Fifo(e addrs.EdgeID, k addrs.Firing) *memory.Fifo {
	return &gf.Fifos[e][k]
}

// DelayFifo returns the cached INIT buffer record for edge e's delay
// token-initial condition, SentinelAddress-valued until the first
// touching consumer firing allocates it.
func (gf *GraphFiring) DelayFifo(e addrs.EdgeID) *memory.Fifo {
	return &gf.DelayFifos[e]
}

// SetParamValue records that a CONFIG actor firing has produced value
// for the parameter at position ix, per spec.md §4.2. Callers (the RT
// communicator, on receiving a ParameterMessage) are responsible for
// then re-invoking Resolve on every child GraphHandler whose parameters
// transitively depend on this one.
func (gf *GraphFiring) SetParamValue(ix int, value int64) {
	gf.Params.Set(ix, cty1(value))
}

// Child returns (creating if necessary) the GraphHandler for the
// hierarchical vertex v's subgraph under this firing, sized by v's
// repetition count in this firing's BRV. Child creation is deferred
// until first entry, mirroring Expander's lazy expanderModule creation.
func (gf *GraphFiring) Child(v addrs.VertexID) (*GraphHandler, diag.Diagnostics) {
	var diags diag.Diagnostics
	gf.mu.Lock()
	defer gf.mu.Unlock()
	if h, ok := gf.children[v]; ok {
		return h, diags
	}
	vertex := gf.Graph.Vertex(v)
	if !vertex.IsHierarchical() {
		return nil, diags.Errorf(diag.KindInvalidAPIUsage, "vertex %q is not hierarchical", vertex.Name)
	}
	if gf.BRV == nil {
		return nil, diags.Errorf(diag.KindInvalidAPIUsage, "GraphFiring.Child called before ComputeBRV")
	}
	h := newGraphHandler(vertex.Subgraph, v, gf, int(gf.BRV[v]))
	gf.children[v] = h
	return h, diags
}

// ChildIfExists returns the child GraphHandler for vertex v without
// creating it, for callers (DebugTree) that only want to display
// whatever subtree already exists.
func (gf *GraphFiring) ChildIfExists(v addrs.VertexID) (*GraphHandler, bool) {
	gf.mu.Lock()
	defer gf.mu.Unlock()
	h, ok := gf.children[v]
	return h, ok
}

// Children returns every lazily-created child GraphHandler this firing
// currently owns, in no particular order. internal/runtime uses this to
// walk the whole firing tree without reaching into GraphFiring internals.
func (gf *GraphFiring) Children() []*GraphHandler {
	gf.mu.Lock()
	defer gf.mu.Unlock()
	out := make([]*GraphHandler, 0, len(gf.children))
	for _, h := range gf.children {
		out = append(out, h)
	}
	return out
}

// reset clears task state and FIFO addresses between iterations,
// preserving the allocated arrays themselves, per spec.md §4.2's
// GraphFiring.reset().
func (gf *GraphFiring) reset() {
	for _, tasks := range gf.Tasks {
		for _, t := range tasks {
			if t != nil {
				t.reset()
			}
		}
	}
	for _, fifos := range gf.Fifos {
		for i := range fifos {
			fifos[i] = memory.Fifo{Address: memory.SentinelAddress}
		}
	}
	for i := range gf.DelayFifos {
		gf.DelayFifos[i] = memory.Fifo{Address: memory.SentinelAddress}
	}
	gf.mu.Lock()
	defer gf.mu.Unlock()
	for _, h := range gf.children {
		h.reset()
	}
}

// String renders a short identifier useful in diagnostics and tests.
func (gf *GraphFiring) String() string {
	return fmt.Sprintf("%s#%d", gf.Graph.Name, gf.Index)
}
