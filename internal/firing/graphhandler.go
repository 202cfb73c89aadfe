// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package firing

import (
	"fmt"
	"sync"

	"github.com/xlab/treeprint"

	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/diag"
	"github.com/spider-rt/spider/internal/pisdf"
)

// GraphHandler owns the dense array of GraphFiring instances for one
// subgraph under one parent firing, per spec.md §4.3. For the top-level
// graph, rv == 1 and there is no parent firing.
type GraphHandler struct {
	Graph *pisdf.Graph

	// ParentVertex is the hierarchical vertex this subgraph is hosted
	// under, within ParentFiring's graph. Zero value for the root handler.
	ParentVertex addrs.VertexID
	ParentFiring *GraphFiring

	mu      sync.RWMutex
	firings []*GraphFiring
}

// NewRootHandler constructs the handler for the top-level application
// graph, which always has exactly one firing.
func NewRootHandler(g *pisdf.Graph) *GraphHandler {
	h := &GraphHandler{Graph: g}
	h.firings = []*GraphFiring{newGraphFiring(g, 0, nil, 0)}
	return h
}

// newGraphHandler constructs the handler for g's rv firings, each a child
// of parentFiring.
func newGraphHandler(g *pisdf.Graph, parentVertex addrs.VertexID, parentFiring *GraphFiring, rv int) *GraphHandler {
	h := &GraphHandler{Graph: g, ParentVertex: parentVertex, ParentFiring: parentFiring}
	h.firings = make([]*GraphFiring, rv)
	for i := range h.firings {
		h.firings[i] = newGraphFiring(g, addrs.Firing(i), parentFiring, parentFiring.Index)
	}
	return h
}

// RV returns the number of GraphFiring instances this handler owns
// (the repetition value of ParentVertex in ParentFiring).
func (h *GraphHandler) RV() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.firings)
}

// Firing returns the GraphFiring at index i, panicking if i is out of
// range: callers always derive i from this same handler's RV, so an
// out-of-range index is always an internal bug.
func (h *GraphHandler) Firing(i int) *GraphFiring {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.firings[i]
}

// Firings returns every GraphFiring this handler owns, in index order.
func (h *GraphHandler) Firings() []*GraphFiring {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*GraphFiring, len(h.firings))
	copy(out, h.firings)
	return out
}

// RecursiveResolve resolves every firing this handler owns and, for each
// one that is fully resolved, recurses into any hierarchical vertex's
// child handler that has already been created (lazily created child
// handlers come into existence only once a firing has computed its own
// BRV and actually descends, per spec.md §4.3).
func (h *GraphHandler) RecursiveResolve() diag.Diagnostics {
	var diags diag.Diagnostics
	for _, gf := range h.Firings() {
		diags = diags.Append(gf.Resolve())
		if !gf.Resolved() {
			continue
		}
		gf.mu.Lock()
		children := make([]*GraphHandler, 0, len(gf.children))
		for _, child := range gf.children {
			children = append(children, child)
		}
		gf.mu.Unlock()
		for _, child := range children {
			diags = diags.Append(child.RecursiveResolve())
		}
	}
	return diags
}

// Reset resets every firing this handler owns, recursively. Exported so
// internal/runtime can reset the whole firing tree between iterate()
// calls without reaching into GraphFiring internals.
func (h *GraphHandler) Reset() { h.reset() }

// reset resets every firing this handler owns, recursively.
func (h *GraphHandler) reset() {
	for _, gf := range h.Firings() {
		gf.reset()
	}
}

// DebugTree renders the firing tree rooted at h as indented text: one
// branch per GraphFiring, one leaf per task with its current state. It
// exists for interactive debugging of scheduling/mapping decisions, not
// for any runtime decision.
func (h *GraphHandler) DebugTree() string {
	tree := treeprint.New()
	tree.SetValue(h.Graph.Name)
	for _, gf := range h.Firings() {
		h.addFiringBranch(tree, gf)
	}
	return tree.String()
}

func (h *GraphHandler) addFiringBranch(parent treeprint.Tree, gf *GraphFiring) {
	branch := parent.AddBranch(fmt.Sprintf("#%d", gf.Index))
	if !gf.Resolved() {
		branch.AddNode("(unresolved)")
		return
	}
	for _, v := range gf.Graph.Vertices {
		tasks := gf.Tasks[v.ID]
		child, hasChild := gf.ChildIfExists(v.ID)
		if len(tasks) == 0 && !hasChild {
			continue
		}
		vertexBranch := branch.AddBranch(v.Name)
		for _, t := range tasks {
			vertexBranch.AddNode(fmt.Sprintf("firing %d: %s", t.Key.Firing, t.State))
		}
		if hasChild {
			for _, childFiring := range child.Firings() {
				child.addFiringBranch(vertexBranch, childFiring)
			}
		}
	}
}
