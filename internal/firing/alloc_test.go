// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package firing

import (
	"testing"

	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/memory"
	"github.com/spider-rt/spider/internal/pisdf"
)

func TestAllocateOutputsOwnedBuffer(t *testing.T) {
	g := pisdf.NewGraph("top", 2, 1, 0)
	a := g.CreateVertex("A", pisdf.Normal, 0, 1)
	b := g.CreateVertex("B", pisdf.Normal, 1, 0)
	g.CreateEdge(a.ID, 0, pisdf.NewConstantExpression(4), b.ID, 0, pisdf.NewConstantExpression(4))

	root := NewRootHandler(g)
	gf := root.Firing(0)
	gf.Resolve()
	if diags := gf.ComputeBRV(); diags.HasErrors() {
		t.Fatalf("ComputeBRV: %s", diags.Err())
	}
	gf.Initialize()

	mem := memory.NewInterface(nil, true)
	alloc := NewAllocator()
	task := gf.Task(a.ID, 0)
	if diags := alloc.AllocateOutputs(gf, a, task, mem); diags.HasErrors() {
		t.Fatalf("AllocateOutputs: %s", diags.Err())
	}

	fifo := gf.Fifo(g.OutputEdge(a.ID, 0).ID, 0)
	if !fifo.Allocated() {
		t.Fatalf("expected output Fifo allocated")
	}
	if fifo.Attribute != memory.RWOwn {
		t.Fatalf("attribute = %s, want RW_OWN", fifo.Attribute)
	}
	if fifo.Size != 4 {
		t.Fatalf("size = %d, want 4", fifo.Size)
	}
}

func TestAllocateInputsMultiRateEdgeSpansProducerFirings(t *testing.T) {
	g := pisdf.NewGraph("top", 2, 1, 0)
	a := g.CreateVertex("A", pisdf.Normal, 0, 1)
	b := g.CreateVertex("B", pisdf.Normal, 1, 0)
	g.CreateEdge(a.ID, 0, pisdf.NewConstantExpression(2), b.ID, 0, pisdf.NewConstantExpression(3))

	root := NewRootHandler(g)
	gf := root.Firing(0)
	gf.Resolve()
	if diags := gf.ComputeBRV(); diags.HasErrors() {
		t.Fatalf("ComputeBRV: %s", diags.Err())
	}
	gf.Initialize()

	if got := len(gf.Tasks[a.ID]); got != 3 {
		t.Fatalf("A repetition = %d, want 3", got)
	}
	if got := len(gf.Tasks[b.ID]); got != 2 {
		t.Fatalf("B repetition = %d, want 2", got)
	}

	mem := memory.NewInterface(nil, true)
	alloc := NewAllocator()

	for k := addrs.Firing(0); int(k) < 3; k++ {
		if diags := alloc.AllocateOutputs(gf, a, gf.Task(a.ID, k), mem); diags.HasErrors() {
			t.Fatalf("AllocateOutputs(A, %d): %s", k, diags.Err())
		}
	}

	noInit := func(edge *pisdf.Edge, byteLength int64, readerCount int) memory.Fifo {
		t.Fatalf("unexpected delay-init call for an edge without a delay")
		return memory.Fifo{Address: memory.SentinelAddress}
	}

	edge := g.OutputEdge(a.ID, 0)
	aFifo0 := *gf.Fifo(edge.ID, 0)
	aFifo1 := *gf.Fifo(edge.ID, 1)
	aFifo2 := *gf.Fifo(edge.ID, 2)

	b0Inputs, diags := alloc.AllocateInputs(gf, b, gf.Task(b.ID, 0), noInit)
	if diags.HasErrors() {
		t.Fatalf("AllocateInputs(B0): %s", diags.Err())
	}
	if len(b0Inputs[0]) != 2 {
		t.Fatalf("B0 fragment count = %d, want 2 (A0+A1)", len(b0Inputs[0]))
	}
	if got := b0Inputs[0][0]; got.Address != aFifo0.Address || got.Offset != 0 || got.Size != 2 {
		t.Fatalf("B0 fragment 0 = %+v, want addr=%d offset=0 size=2", got, aFifo0.Address)
	}
	if got := b0Inputs[0][1]; got.Address != aFifo1.Address || got.Offset != 0 || got.Size != 1 {
		t.Fatalf("B0 fragment 1 = %+v, want addr=%d offset=0 size=1", got, aFifo1.Address)
	}

	b1Inputs, diags := alloc.AllocateInputs(gf, b, gf.Task(b.ID, 1), noInit)
	if diags.HasErrors() {
		t.Fatalf("AllocateInputs(B1): %s", diags.Err())
	}
	if len(b1Inputs[0]) != 2 {
		t.Fatalf("B1 fragment count = %d, want 2 (A1+A2)", len(b1Inputs[0]))
	}
	if got := b1Inputs[0][0]; got.Address != aFifo1.Address || got.Offset != 1 || got.Size != 1 {
		t.Fatalf("B1 fragment 0 = %+v, want addr=%d offset=1 size=1", got, aFifo1.Address)
	}
	if got := b1Inputs[0][1]; got.Address != aFifo2.Address || got.Offset != 0 || got.Size != 2 {
		t.Fatalf("B1 fragment 1 = %+v, want addr=%d offset=0 size=2", got, aFifo2.Address)
	}

	for _, perPort := range [][][]memory.Fifo{b0Inputs, b1Inputs} {
		for _, fragments := range perPort {
			for _, f := range fragments {
				if f.Attribute == memory.RWOwn && f.Allocated() {
					if diags := mem.Deallocate(f.Address); diags.HasErrors() {
						t.Fatalf("Deallocate: %s", diags.Err())
					}
				}
			}
		}
	}
	if mem.Len() != 0 {
		t.Fatalf("expected no leaked buffers once every consumer firing has read its input, Len=%d", mem.Len())
	}
}

func TestAllocateForkSharesBuffer(t *testing.T) {
	g := pisdf.NewGraph("top", 6, 5, 0)
	v := g.CreateVertex("V", pisdf.Normal, 0, 1)
	f := g.CreateVertex("F", pisdf.Fork, 1, 4)
	var cs [4]*pisdf.Vertex
	for i := range cs {
		cs[i] = g.CreateVertex("C", pisdf.Normal, 1, 0)
	}
	g.CreateEdge(v.ID, 0, pisdf.NewConstantExpression(4), f.ID, 0, pisdf.NewConstantExpression(4))
	for i := range cs {
		g.CreateEdge(f.ID, addrs.PortID(i), pisdf.NewConstantExpression(1), cs[i].ID, 0, pisdf.NewConstantExpression(1))
	}

	root := NewRootHandler(g)
	gf := root.Firing(0)
	gf.Resolve()
	if diags := gf.ComputeBRV(); diags.HasErrors() {
		t.Fatalf("ComputeBRV: %s", diags.Err())
	}
	gf.Initialize()

	mem := memory.NewInterface(nil, true)
	alloc := NewAllocator()
	if diags := alloc.AllocateOutputs(gf, v, gf.Task(v.ID, 0), mem); diags.HasErrors() {
		t.Fatalf("AllocateOutputs(V): %s", diags.Err())
	}
	vFifo := gf.Fifo(g.OutputEdge(v.ID, 0).ID, 0)
	if vFifo.Count != 1 {
		t.Fatalf("V's fifo count = %d, want 1 (single consumer: F)", vFifo.Count)
	}

	if diags := alloc.AllocateOutputs(gf, f, gf.Task(f.ID, 0), mem); diags.HasErrors() {
		t.Fatalf("AllocateOutputs(F): %s", diags.Err())
	}
	for i := range cs {
		fifo := gf.Fifo(g.OutputEdge(f.ID, addrs.PortID(i)).ID, 0)
		if fifo.Attribute != memory.RWOnly {
			t.Fatalf("fork output %d attribute = %s, want RW_ONLY", i, fifo.Attribute)
		}
		if fifo.Address != vFifo.Address {
			t.Fatalf("fork output %d address = %d, want shared with producer %d", i, fifo.Address, vFifo.Address)
		}
	}
}
