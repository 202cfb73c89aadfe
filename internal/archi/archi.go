// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

// Package archi models the target platform: clusters of processing
// elements sharing a memory interface, and the memory buses that connect
// clusters for inter-cluster data transfer. Spider treats the concrete
// send/receive callbacks and the user-supplied per-PE memory allocator
// as opaque capabilities; this package only tracks topology and cost.
package archi

import (
	"fmt"

	"github.com/spider-rt/spider/internal/memory"
)

// HWType distinguishes the physical kind of a PE (e.g. CPU core, DSP,
// accelerator). Spider does not interpret it beyond using it as a key
// for scenario mapping constraints and timing lookups.
type HWType string

// PEType distinguishes how a PE participates in the runtime: LRT PEs run
// a worker loop pulling jobs from a queue; the single GRT PE additionally
// drives scheduling.
type PEType uint8

const (
	PETypeLRT PEType = iota
	PETypeGRT
)

// PE is one concrete executor within a Cluster.
type PE struct {
	HWType      HWType
	HWIndex     int
	VirtualIndex int
	Name        string
	Type        PEType
	Enabled     bool

	cluster *Cluster
}

func (p *PE) Cluster() *Cluster { return p.cluster }

func (p *PE) String() string {
	return fmt.Sprintf("%s(hw=%s#%d, virt=%d)", p.Name, p.HWType, p.HWIndex, p.VirtualIndex)
}

// Cluster is a group of PEs that share a MemoryInterface.
type Cluster struct {
	Index   int
	PEs     []*PE
	Memory  *memory.Interface
	platform *Platform
}

// AddPE appends pe to the cluster, assigning it a dense VirtualIndex
// across the whole platform.
func (c *Cluster) AddPE(pe *PE) {
	pe.cluster = c
	pe.VirtualIndex = c.platform.nextVirtualIndex
	c.platform.nextVirtualIndex++
	c.PEs = append(c.PEs, pe)
	c.platform.peByVirtualIndex[pe.VirtualIndex] = pe
}

// Bus describes the cost of transferring bytes between two clusters:
// send and receive callbacks (opaque user capabilities, invoked by the
// Runtime when it accounts for a SEND/RECEIVE task) plus the bandwidth used to
// derive SEND/RECEIVE task durations.
type Bus struct {
	Name       string
	WriteSpeed float64 // bytes/second
	ReadSpeed  float64 // bytes/second
	Send       func(size int64, packetIx int32, buffer []byte) error
	Receive    func(size int64, packetIx int32, buffer []byte) ([]byte, error)
}

// NewBus constructs a Bus with the given name and zero speeds; callers
// must set WriteSpeed/ReadSpeed and the callbacks before use, matching
// the external interface's createMemoryBus + setWriteSpeed/setReadSpeed/
// setSendRoutine/setReceiveRoutine sequence.
func NewBus(name string) *Bus {
	return &Bus{Name: name}
}

// WriteCostNs returns how long, in nanoseconds, writing size bytes takes
// on this bus.
func (b *Bus) WriteCostNs(size int64) int64 {
	if b.WriteSpeed <= 0 {
		return 0
	}
	return int64(float64(size) / b.WriteSpeed * 1e9)
}

// ReadCostNs returns how long, in nanoseconds, reading size bytes takes
// on this bus.
func (b *Bus) ReadCostNs(size int64) int64 {
	if b.ReadSpeed <= 0 {
		return 0
	}
	return int64(float64(size) / b.ReadSpeed * 1e9)
}

// Platform is the whole target machine: every cluster, plus the routing
// table of which Bus connects which pair of clusters, plus which PE
// hosts the GRT.
type Platform struct {
	Clusters []*Cluster
	grtPE    *PE

	nextVirtualIndex int
	peByVirtualIndex map[int]*PE

	// routes[i][j] is the Bus used to move data from cluster i to
	// cluster j. A nil entry means the two clusters are not directly
	// connected, which the mapper treats as MappingUnsatisfiable for any
	// task that would require it.
	routes map[[2]int]*Bus
}

// NewPlatform constructs an empty Platform able to hold clusterCount
// clusters (callers append via AddCluster; clusterCount is only a sizing
// hint, matching createPlatform(clusterCount)'s external signature).
func NewPlatform(clusterCount int) *Platform {
	return &Platform{
		Clusters:         make([]*Cluster, 0, clusterCount),
		peByVirtualIndex: make(map[int]*PE),
		routes:           make(map[[2]int]*Bus),
	}
}

// AddCluster creates and appends a new Cluster with peCount PE capacity
// (a sizing hint; PEs are still added individually via Cluster.AddPE)
// sharing the given memory interface.
func (p *Platform) AddCluster(peCount int, mem *memory.Interface) *Cluster {
	c := &Cluster{Index: len(p.Clusters), PEs: make([]*PE, 0, peCount), Memory: mem, platform: p}
	p.Clusters = append(p.Clusters, c)
	return c
}

// SetRoute registers bus as the route for moving data from cluster
// srcCluster to cluster dstCluster.
func (p *Platform) SetRoute(srcCluster, dstCluster int, bus *Bus) {
	p.routes[[2]int{srcCluster, dstCluster}] = bus
}

// Route returns the Bus connecting srcCluster to dstCluster, or nil if
// unconnected.
func (p *Platform) Route(srcCluster, dstCluster int) *Bus {
	return p.routes[[2]int{srcCluster, dstCluster}]
}

// SetGRTPE designates which PE hosts the GRT (global runtime) thread.
func (p *Platform) SetGRTPE(pe *PE) { p.grtPE = pe }

// GRTPE returns the PE hosting the GRT, or nil if none has been set yet.
func (p *Platform) GRTPE() *PE { return p.grtPE }

// PE returns the PE with the given platform-wide virtual index.
func (p *Platform) PE(virtualIndex int) *PE { return p.peByVirtualIndex[virtualIndex] }

// PECount returns the total number of PEs across every cluster.
func (p *Platform) PECount() int { return p.nextVirtualIndex }

// AllPEs returns every PE in the platform, ordered by VirtualIndex.
func (p *Platform) AllPEs() []*PE {
	out := make([]*PE, p.nextVirtualIndex)
	for ix, pe := range p.peByVirtualIndex {
		out[ix] = pe
	}
	return out
}
