// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/cli"

	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/archi"
	"github.com/spider-rt/spider/internal/memory"
	"github.com/spider-rt/spider/internal/pisdf"
	"github.com/spider-rt/spider/internal/rt"
	"github.com/spider-rt/spider/internal/runtime"
)

// defaultVertexDuration is the fixed per-firing execution time every
// scenario vertex is given on every PE; `spider run` has no timing model
// of its own, it is a demonstration of the scheduling engine, not a
// profiler.
const defaultVertexDuration = 10 * time.Microsecond

// RunCommand loads a scenario file and drives it through
// internal/runtime.Runtime for the requested number of iterations,
// reporting how many times each vertex fired.
type RunCommand struct {
	Ui cli.Ui
}

func (c *RunCommand) Help() string {
	return strings.TrimSpace(`
Usage: spider run <scenario.json>

  Builds the platform and graph described by scenario.json, starts the
  runtime, runs its declared number of iterations, and reports how many
  times each vertex fired.
`)
}

func (c *RunCommand) Synopsis() string {
	return "Run a scenario file through the scheduling engine"
}

func (c *RunCommand) Run(args []string) int {
	if len(args) != 1 {
		c.Ui.Error("run requires exactly one argument: the path to a scenario file")
		return 1
	}

	s, err := loadScenario(args[0])
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	r := runtime.New()
	r.CreatePlatform(len(s.Clusters))

	var allPEs []*archi.PE
	clusterPEs := make([][]*archi.PE, len(s.Clusters))
	for ci, cl := range s.Clusters {
		mem := memory.NewInterface(nil, false)
		cluster := r.CreateCluster(cl.PECount, mem)
		for pi := 0; pi < cl.PECount; pi++ {
			pe := r.CreatePE(archi.HWType("cpu"), pi, pi, cluster, fmt.Sprintf("c%d-pe%d", ci, pi), archi.PETypeLRT)
			clusterPEs[ci] = append(clusterPEs[ci], pe)
			allPEs = append(allPEs, pe)
		}
	}

	if s.GRT.Cluster < 0 || s.GRT.Cluster >= len(clusterPEs) ||
		s.GRT.PE < 0 || s.GRT.PE >= len(clusterPEs[s.GRT.Cluster]) {
		c.Ui.Error("scenario's grt.cluster/grt.pe does not name a declared PE")
		return 1
	}
	grtPE := clusterPEs[s.GRT.Cluster][s.GRT.PE]
	grtPE.Type = archi.PETypeGRT
	r.SetSpiderGRTPE(grtPE)

	g := r.CreateGraph("scenario", len(s.Vertices), len(s.Edges), 0)

	vertices := make(map[string]*pisdf.Vertex, len(s.Vertices))
	var counts sync.Map // vertex name -> *int64 firing count

	for _, sv := range s.Vertices {
		v := r.CreateVertex(g, sv.Name, sv.Inputs, sv.Outputs)
		vertices[sv.Name] = v

		timing := func(pe *archi.PE, params pisdf.ParamSnapshot) (time.Duration, error) {
			return defaultVertexDuration, nil
		}
		for _, pe := range allPEs {
			r.SetVertexExecutionTimingOnPE(v, pe, timing)
		}

		name := sv.Name
		counter := new(int64)
		counts.Store(name, counter)
		kernel := rt.Kernel(func(inputParams, outputParams []int64, inputBuffers, outputBuffers [][]byte) error {
			*counter++
			return nil
		})
		r.SetVertexKernel(v, r.RegisterKernel(kernel))
	}

	for _, se := range s.Edges {
		src, ok := vertices[se.Src]
		if !ok {
			c.Ui.Error(fmt.Sprintf("edge references unknown source vertex %q", se.Src))
			return 1
		}
		snk, ok := vertices[se.Snk]
		if !ok {
			c.Ui.Error(fmt.Sprintf("edge references unknown sink vertex %q", se.Snk))
			return 1
		}
		rate := pisdf.NewConstantExpression(se.Rate)
		if _, diags := r.CreateEdge(g, src.ID, addrs.PortID(se.SrcPort), rate, snk.ID, addrs.PortID(se.SnkPort), rate); diags.HasErrors() {
			c.Ui.Error(fmt.Sprintf("creating edge %s->%s: %s", se.Src, se.Snk, diags.Err()))
			return 1
		}
	}

	if diags := r.Start(); diags.HasErrors() {
		c.Ui.Error(fmt.Sprintf("starting runtime: %s", diags.Err()))
		return 1
	}

	for i := 0; i < s.Iterations; i++ {
		if diags := r.Iterate(); diags.HasErrors() {
			c.Ui.Error(fmt.Sprintf("iteration %d: %s", i, diags.Err()))
			r.Quit()
			return 1
		}
	}

	if diags := r.Quit(); diags.HasErrors() {
		c.Ui.Error(fmt.Sprintf("stopping runtime: %s", diags.Err()))
		return 1
	}

	c.Ui.Output(fmt.Sprintf("ran %d iteration(s) over %d vertex(es) on %d PE(s)", s.Iterations, len(s.Vertices), len(allPEs)))
	for _, sv := range s.Vertices {
		v, _ := counts.Load(sv.Name)
		c.Ui.Output(fmt.Sprintf("  %s: %d firing(s)", sv.Name, *v.(*int64)))
	}
	return 0
}
