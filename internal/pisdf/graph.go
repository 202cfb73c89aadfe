// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package pisdf

import (
	"fmt"

	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/diag"
)

// Graph is a hierarchical PiSDF container: a set of vertices connected by
// edges, a set of parameters local to this level of the hierarchy, and
// (for every level but the root) an input/output interface whose port
// counts must match the hosting GraphVertex's port counts.
//
// A Graph is built once via CreateVertex/CreateEdge/CreateDelay/CreateParam
// and is immutable from the point of view of everything downstream of
// construction (BRV resolution, dependency analysis, scheduling): those
// stages only ever read Graph, never mutate it. Per-firing state lives in
// firing.GraphFiring, not here.
type Graph struct {
	Name string

	Vertices []*Vertex
	Edges    []*Edge
	Params   []Param

	// Parent is the GraphVertex that this Graph is the Subgraph of, or
	// nil for the top-level application graph.
	Parent *Vertex

	// InputInterfaceCount/OutputInterfaceCount must equal Parent's
	// Inputs/Outputs length; enforced by NewSubgraph.
	InputInterfaceCount  int
	OutputInterfaceCount int

	paramIndex map[string]addrs.ParamID
}

// NewGraph constructs an empty top-level Graph, preallocating storage
// for the given counts the way the teacher's builder-style constructors
// (e.g. execgraph.NewBuilder) size their backing slices up front when the
// caller already knows roughly how big the result will be.
func NewGraph(name string, vertexCount, edgeCount, paramCount int) *Graph {
	return &Graph{
		Name:       name,
		Vertices:   make([]*Vertex, 0, vertexCount),
		Edges:      make([]*Edge, 0, edgeCount),
		Params:     make([]Param, 0, paramCount),
		paramIndex: make(map[string]addrs.ParamID, paramCount),
	}
}

// NewSubgraph constructs a Graph hosted by parent, whose input/output
// port counts become this subgraph's interface counts (data model
// invariant: "interface counts equal parent port counts").
func NewSubgraph(name string, parent *Vertex, vertexCount, edgeCount, paramCount int) *Graph {
	g := NewGraph(name, vertexCount, edgeCount, paramCount)
	g.Parent = parent
	g.InputInterfaceCount = len(parent.Inputs)
	g.OutputInterfaceCount = len(parent.Outputs)
	return g
}

// CreateVertex adds a new vertex to the graph and returns it.
func (g *Graph) CreateVertex(name string, subtype VertexSubtype, inputCount, outputCount int) *Vertex {
	id := addrs.VertexID(len(g.Vertices))
	v := NewVertex(id, name, subtype, inputCount, outputCount)
	g.Vertices = append(g.Vertices, v)
	return v
}

// CreateGraphVertex adds a hierarchical vertex and its freshly-built
// Subgraph in one step, mirroring how the spec's external API treats
// "create a subgraph" as a single compound operation.
func (g *Graph) CreateGraphVertex(name string, inputCount, outputCount, childVertexCount, childEdgeCount, childParamCount int) *Vertex {
	v := g.CreateVertex(name, GraphVertex, inputCount, outputCount)
	v.Subgraph = NewSubgraph(name, v, childVertexCount, childEdgeCount, childParamCount)
	return v
}

func (g *Graph) vertex(id addrs.VertexID) (*Vertex, diag.Diagnostics) {
	var diags diag.Diagnostics
	if id < 0 || int(id) >= len(g.Vertices) {
		return nil, diags.Errorf(diag.KindInvalidAPIUsage, "vertex index %d out of range", id)
	}
	return g.Vertices[id], diags
}

// CreateEdge connects srcVertex's output port srcPort to snkVertex's
// input port snkPort, with the given per-port rate expressions. Both
// vertices must belong to this graph (data model invariant
// "src.graph == snk.graph") and the ports must not already be connected.
func (g *Graph) CreateEdge(srcVertex addrs.VertexID, srcPort addrs.PortID, srcRate *Expression, snkVertex addrs.VertexID, snkPort addrs.PortID, snkRate *Expression) (*Edge, diag.Diagnostics) {
	var diags diag.Diagnostics
	src, d := g.vertex(srcVertex)
	diags = diags.Append(d)
	snk, d := g.vertex(snkVertex)
	diags = diags.Append(d)
	if diags.HasErrors() {
		return nil, diags
	}
	if int(srcPort) < 0 || int(srcPort) >= len(src.Outputs) {
		return nil, diags.Errorf(diag.KindInvalidAPIUsage, "vertex %q has no output port %d", src.Name, srcPort)
	}
	if int(snkPort) < 0 || int(snkPort) >= len(snk.Inputs) {
		return nil, diags.Errorf(diag.KindInvalidAPIUsage, "vertex %q has no input port %d", snk.Name, snkPort)
	}
	if src.Outputs[srcPort].Edge != -1 {
		return nil, diags.Errorf(diag.KindInvalidAPIUsage, "output port %s[%d] already connected", src.Name, srcPort)
	}
	if snk.Inputs[snkPort].Edge != -1 {
		return nil, diags.Errorf(diag.KindInvalidAPIUsage, "input port %s[%d] already connected", snk.Name, snkPort)
	}

	id := addrs.EdgeID(len(g.Edges))
	e := &Edge{ID: id, SrcVertex: srcVertex, SrcPort: srcPort, SnkVertex: snkVertex, SnkPort: snkPort}
	g.Edges = append(g.Edges, e)
	src.Outputs[srcPort] = Port{Rate: srcRate, Edge: id}
	snk.Inputs[snkPort] = Port{Rate: snkRate, Edge: id}
	return e, diags
}

// CreateDelay attaches a token-initial condition to edge, synthesizing
// the DelayVertex that the dependency engine treats as the delay's
// virtual producer/consumer. Per the data model invariant, a persistent
// delay must not declare a setter or getter.
func (g *Graph) CreateDelay(edge *Edge, value *Expression, persistent bool, setterGetter DelaySetterGetter) (*Delay, diag.Diagnostics) {
	var diags diag.Diagnostics
	if edge.Delay != nil {
		return nil, diags.Errorf(diag.KindInvalidAPIUsage, "edge already has a delay")
	}
	if persistent && (setterGetter.Setter != "" || setterGetter.Getter != "") {
		return nil, diags.Errorf(diag.KindInvalidAPIUsage, "persistent delay must not declare a setter/getter")
	}
	delay := NewDelay(value, persistent, setterGetter)
	name := fmt.Sprintf("delay(%d)", edge.ID)
	dv := g.CreateVertex(name, DelayVertex, 1, 1)
	delay.vertexID = dv.ID
	edge.Delay = delay
	return delay, diags
}

// CreateParam adds a new parameter declaration to the graph. Parameters
// must be declared in dependency order: a Static parameter's expression
// may only reference parameters already declared earlier in this call
// sequence (Table.Resolve relies on this).
func (g *Graph) CreateParam(p Param) (addrs.ParamID, diag.Diagnostics) {
	var diags diag.Diagnostics
	if _, exists := g.paramIndex[p.Name]; exists {
		return -1, diags.Errorf(diag.KindInvalidAPIUsage, "duplicate parameter name %q", p.Name)
	}
	if p.Kind == ParamStatic {
		for _, ref := range p.Expr.ReferencedParams() {
			if _, ok := g.paramIndex[ref]; !ok {
				return -1, diags.Errorf(diag.KindInvalidAPIUsage, "static parameter %q references undeclared parameter %q", p.Name, ref)
			}
		}
	}
	id := addrs.ParamID(len(g.Params))
	p.ID = id
	g.Params = append(g.Params, p)
	g.paramIndex[p.Name] = id
	return id, diags
}

// Vertex returns the vertex with the given ID, panicking if out of
// range: callers within this package and its siblings only ever index
// with IDs they themselves obtained from this same graph, so an
// out-of-range index here is always an internal bug, not user error.
func (g *Graph) Vertex(id addrs.VertexID) *Vertex { return g.Vertices[id] }

// Edge returns the edge with the given ID.
func (g *Graph) Edge(id addrs.EdgeID) *Edge { return g.Edges[id] }

// InputEdge returns the edge connected to vertex v's input port p, or
// nil if unconnected.
func (g *Graph) InputEdge(v addrs.VertexID, p addrs.PortID) *Edge {
	id := g.Vertices[v].Inputs[p].Edge
	if id == -1 {
		return nil
	}
	return g.Edges[id]
}

// OutputEdge returns the edge connected to vertex v's output port p, or
// nil if unconnected.
func (g *Graph) OutputEdge(v addrs.VertexID, p addrs.PortID) *Edge {
	id := g.Vertices[v].Outputs[p].Edge
	if id == -1 {
		return nil
	}
	return g.Edges[id]
}
