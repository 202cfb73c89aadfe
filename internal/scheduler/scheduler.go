// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

// Package scheduler implements the list scheduler of spec.md §4.6: it
// assigns every firing a longest-path criticality level, sorts the
// flattened firing stream by descending level, and filters out firings
// whose data dependencies are not yet satisfied so the mapper only ever
// sees schedulable work.
package scheduler

import (
	"sort"

	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/archi"
	"github.com/spider-rt/spider/internal/dependency"
	"github.com/spider-rt/spider/internal/diag"
	"github.com/spider-rt/spider/internal/firing"
	"github.com/spider-rt/spider/internal/pisdf"
)

// Item is one flattened (vertex, firing, owning GraphFiring) tuple the
// scheduler orders, grounded on spec.md §4.6's "flattened stream of
// firings (v, k, handler)".
type Item struct {
	Handler *firing.GraphFiring
	Vertex  addrs.VertexID
	Firing  addrs.Firing
	Task    *firing.Task
}

// Scheduler computes criticality levels and the schedulable ordering for
// one graph's flattened firing stream. It memoizes levels per
// (vertex,firing) within one generation (one call to Schedule), since
// spec.md §4.6 requires level(t) to be recomputed across scheduler
// invocations (after CONFIG firings return parameters) but not within
// one.
type Scheduler struct {
	platform *archi.Platform
}

// New constructs a Scheduler targeting platform (used to evaluate
// min_exec_time across every PE a vertex is mappable on).
func New(platform *archi.Platform) *Scheduler {
	return &Scheduler{platform: platform}
}

// Schedule computes criticality levels for every item in items, sorts
// them by descending level (ties by vertex index then firing index), and
// partitions the result, keeping that order, into the items that are
// schedulable now (every execution dependency refers to an
// already-scheduled task or an INIT token) and the rest, which is
// returned for re-evaluation on a later invocation.
func (s *Scheduler) Schedule(items []Item) (schedulable []Item, parked []Item, diags diag.Diagnostics) {
	levels := make(map[addrs.TaskKey]int, len(items))
	byKey := make(map[addrs.TaskKey]Item, len(items))
	for _, it := range items {
		byKey[it.Task.Key] = it
	}

	var compute func(it Item) int
	computing := make(map[addrs.TaskKey]bool)
	compute = func(it Item) int {
		if lv, ok := levels[it.Task.Key]; ok {
			return lv
		}
		if computing[it.Task.Key] {
			// A structural cycle without an intervening Delay is a graph
			// construction error; treat it as level 0 rather than
			// recursing forever, since the dependency engine is the
			// layer responsible for rejecting such graphs.
			return 0
		}
		computing[it.Task.Key] = true

		graph := it.Handler.Graph
		vertex := graph.Vertex(it.Vertex)
		best := 0
		for portIx := range vertex.Outputs {
			edge := graph.OutputEdge(it.Vertex, addrs.PortID(portIx))
			if edge == nil {
				continue
			}
			infos, d := dependency.ProducerDependencies(it.Handler, edge, it.Firing)
			diags = diags.Append(d)
			for _, info := range infos {
				if info.IsDelayInit {
					continue
				}
				for k := info.FiringLo; k <= info.FiringHi; k++ {
					if k < 0 {
						continue
					}
					succKey := addrs.TaskKey{Vertex: edge.SnkVertex, Firing: k}
					succItem, ok := byKey[succKey]
					if !ok {
						continue
					}
					succLevel := compute(succItem)
					execNs := minExecTimeNs(s.platform, graph.Vertex(edge.SnkVertex), it.Handler)
					if cand := succLevel + int(execNs); cand > best {
						best = cand
					}
				}
			}
		}
		levels[it.Task.Key] = best
		delete(computing, it.Task.Key)
		return best
	}

	for _, it := range items {
		it.Task.Level = compute(it)
	}

	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Task.Level != b.Task.Level {
			return a.Task.Level > b.Task.Level
		}
		if a.Vertex != b.Vertex {
			return a.Vertex < b.Vertex
		}
		return a.Firing < b.Firing
	})

	for _, it := range sorted {
		if s.isSchedulableNow(it, byKey) {
			schedulable = append(schedulable, it)
		} else {
			parked = append(parked, it)
		}
	}
	return schedulable, parked, diags
}

// isSchedulableNow reports whether every input dependency of it refers
// either to a task that has already left the Pending state, or to an
// INIT delay token.
func (s *Scheduler) isSchedulableNow(it Item, byKey map[addrs.TaskKey]Item) bool {
	graph := it.Handler.Graph
	vertex := graph.Vertex(it.Vertex)
	for portIx := range vertex.Inputs {
		edge := graph.InputEdge(it.Vertex, addrs.PortID(portIx))
		if edge == nil {
			continue
		}
		infos, diags := dependency.ConsumerDependencies(it.Handler, edge, it.Firing)
		if diags.HasErrors() {
			return false
		}
		for _, info := range infos {
			if info.IsDelayInit {
				continue
			}
			for k := info.FiringLo; k <= info.FiringHi; k++ {
				if k < 0 {
					continue
				}
				predKey := addrs.TaskKey{Vertex: edge.SrcVertex, Firing: k}
				predItem, ok := byKey[predKey]
				if !ok {
					continue
				}
				if predItem.Task.State == firing.Pending {
					return false
				}
			}
		}
	}
	return true
}

// minExecTimeNs returns the minimum, over every PE vertex is mappable
// on, of its timing callback evaluated against handler's current
// parameter snapshot. Used as the per-task weight in the criticality
// level recurrence.
func minExecTimeNs(platform *archi.Platform, vertex *pisdf.Vertex, handler *firing.GraphFiring) int64 {
	if vertex.RTInfo == nil {
		return 0
	}
	snapshot := pisdf.ParamSnapshot(handler.Params.Snapshot())
	best := int64(-1)
	for _, peIx := range vertex.RTInfo.MappablePEs() {
		pe := platform.PE(peIx)
		if pe == nil {
			continue
		}
		d, err := vertex.RTInfo.Timing(pe, snapshot)
		if err != nil {
			continue
		}
		ns := d.Nanoseconds()
		if best < 0 || ns < best {
			best = ns
		}
	}
	if best < 0 {
		return 0
	}
	return best
}
