// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"testing"
	"time"

	"github.com/spider-rt/spider/internal/archi"
	"github.com/spider-rt/spider/internal/memory"
	"github.com/spider-rt/spider/internal/pisdf"
	"github.com/spider-rt/spider/internal/rt"
)

// TestRuntimeSingleClusterProducerConsumer builds a one-cluster, one-PE
// platform and a two-vertex graph (a producer feeding a consumer over a
// constant-rate edge), runs one Iterate, and checks both kernels ran
// exactly once and that the producer's output buffer was fully released.
func TestRuntimeSingleClusterProducerConsumer(t *testing.T) {
	r := New()

	r.CreatePlatform(1)
	mem := memory.NewInterface(nil, true)
	cluster := r.CreateCluster(1, mem)
	pe := r.CreatePE(archi.HWType("cpu"), 0, 0, cluster, "pe0", archi.PETypeGRT)
	r.SetSpiderGRTPE(pe)

	g := r.CreateGraph("top", 2, 1, 0)
	producer := r.CreateVertex(g, "producer", 0, 1)
	consumer := r.CreateVertex(g, "consumer", 1, 0)

	rate := pisdf.NewConstantExpression(4)
	if _, diags := r.CreateEdge(g, producer.ID, 0, rate, consumer.ID, 0, rate); diags.HasErrors() {
		t.Fatalf("CreateEdge: %s", diags.Err())
	}

	timing := func(pe *archi.PE, params pisdf.ParamSnapshot) (time.Duration, error) {
		return time.Microsecond, nil
	}
	r.SetVertexExecutionTimingOnPE(producer, pe, timing)
	r.SetVertexExecutionTimingOnPE(consumer, pe, timing)

	var produced, consumed int
	producerKernel := rt.Kernel(func(inputParams, outputParams []int64, inputBuffers, outputBuffers [][]byte) error {
		produced++
		for i := range outputBuffers[0] {
			outputBuffers[0][i] = byte(i)
		}
		return nil
	})
	consumerKernel := rt.Kernel(func(inputParams, outputParams []int64, inputBuffers, outputBuffers [][]byte) error {
		consumed++
		if len(inputBuffers[0]) != 4 {
			t.Errorf("consumer saw input of length %d, want 4", len(inputBuffers[0]))
		}
		return nil
	})
	r.SetVertexKernel(producer, r.RegisterKernel(producerKernel))
	r.SetVertexKernel(consumer, r.RegisterKernel(consumerKernel))

	if diags := r.Start(); diags.HasErrors() {
		t.Fatalf("Start: %s", diags.Err())
	}

	if diags := r.Iterate(); diags.HasErrors() {
		t.Fatalf("Iterate: %s", diags.Err())
	}

	if diags := r.Quit(); diags.HasErrors() {
		t.Fatalf("Quit: %s", diags.Err())
	}

	if produced != 1 {
		t.Errorf("producer kernel ran %d times, want 1", produced)
	}
	if consumed != 1 {
		t.Errorf("consumer kernel ran %d times, want 1", consumed)
	}
	if mem.Len() != 0 {
		t.Errorf("expected all buffers released after iteration, Len=%d", mem.Len())
	}
}

// TestRuntimeStartBeforeConstructionFails checks Start refuses to run
// with no platform/graph wired up yet.
func TestRuntimeStartBeforeConstructionFails(t *testing.T) {
	r := New()
	if diags := r.Start(); !diags.HasErrors() {
		t.Fatalf("Start with no platform/graph: expected error, got none")
	}
}

// TestRuntimeIterateBeforeStartFails checks Iterate refuses to run
// before Start.
func TestRuntimeIterateBeforeStartFails(t *testing.T) {
	r := New()
	if diags := r.Iterate(); !diags.HasErrors() {
		t.Fatalf("Iterate before Start: expected error, got none")
	}
}
