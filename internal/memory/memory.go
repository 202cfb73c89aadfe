// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

// Package memory implements the per-cluster buffer allocator
// (MemoryInterface) and the Fifo/FifoAlloc attribute model that the
// allocator package (internal/firing) consults when deciding FORK,
// DUPLICATE and EXTERN ownership. It is deliberately independent of
// internal/pisdf so that archi.Cluster can embed one without creating an
// import cycle back up to the graph model.
package memory

import (
	"fmt"
	"sync"

	"github.com/spider-rt/spider/internal/diag"
)

// Attribute tags the ownership semantics of a Fifo, per spec.md §4.8.
type Attribute uint8

const (
	// RWOwn is a producer-allocated buffer, freed when its reference
	// count drops to zero.
	RWOwn Attribute = iota
	// RWOnly is a view into a producer's buffer (FORK/DUPLICATE
	// outputs); it is never freed directly, only its backing RWOwn
	// buffer is.
	RWOnly
	// RWExt is an externally registered interface address; never
	// allocated or freed by the runtime.
	RWExt
)

func (a Attribute) String() string {
	switch a {
	case RWOwn:
		return "RW_OWN"
	case RWOnly:
		return "RW_ONLY"
	case RWExt:
		return "RW_EXT"
	default:
		return "unknown"
	}
}

// SentinelAddress marks a Fifo that has not yet been allocated.
const SentinelAddress = ^uint64(0)

// Fifo is the resolved descriptor for one port-side buffer, handed to
// the LRT runner so it can invoke a kernel with concrete buffers.
type Fifo struct {
	Address   uint64
	Offset    uint32
	Size      uint32
	Count     uint32
	Attribute Attribute
}

func (f Fifo) Allocated() bool { return f.Address != SentinelAddress }

// entry is one allocation tracked by an Interface: the user-supplied
// physical pointer, its size, and a reference count.
type entry struct {
	ptr   []byte
	size  uint32
	count int32
}

// AllocFunc is the user-installed allocator callback invoked on cache
// miss; it must return a buffer of at least size bytes. Spider's default
// (NewInterface with alloc == nil) is a plain make([]byte, size), which
// plays the role the spec calls "malloc".
type AllocFunc func(size uint32) ([]byte, error)

// Interface is a per-cluster map from virtual address to {ptr, size,
// count}, guarded by a mutex, matching spec.md §4.12. One Interface is
// shared by every PE in an archi.Cluster.
type Interface struct {
	mu      sync.Mutex
	alloc   AllocFunc
	entries map[uint64]*entry
	nextVaddr uint64
	debug   bool
}

// NewInterface constructs an Interface. If alloc is nil, entries are
// backed by plain Go byte slices. debug enables the fatal-on-corruption
// checks spec.md §4.12 requires for double-free and over-deallocation in
// debug builds.
func NewInterface(alloc AllocFunc, debug bool) *Interface {
	if alloc == nil {
		alloc = func(size uint32) ([]byte, error) { return make([]byte, size), nil }
	}
	return &Interface{alloc: alloc, entries: make(map[uint64]*entry), debug: debug}
}

// Allocate reserves a fresh virtual address for size bytes with the
// given initial reference count (the number of consuming firings), and
// returns it. This is the RW_OWN path of the FIFO allocator.
func (m *Interface) Allocate(size uint32, count uint32) (uint64, diag.Diagnostics) {
	var diags diag.Diagnostics
	buf, err := m.alloc(size)
	if err != nil {
		return SentinelAddress, diags.Errorf(diag.KindMemoryAllocationFailure, "allocate %d bytes: %s", size, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	vaddr := m.nextVaddr
	m.nextVaddr++
	m.entries[vaddr] = &entry{ptr: buf, size: size, count: int32(count)}
	return vaddr, diags
}

// Read returns vaddr's physical buffer, restricted to [offset,
// offset+size). It leaves the reference count unchanged; Allocate sets
// that count to the number of consuming firings up front.
func (m *Interface) Read(vaddr uint64, offset, size uint32) ([]byte, diag.Diagnostics) {
	var diags diag.Diagnostics
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[vaddr]
	if !ok {
		return nil, diags.Errorf(diag.KindMemoryAllocationFailure, "read of unknown virtual address %d", vaddr)
	}
	if uint64(offset)+uint64(size) > uint64(e.size) {
		return nil, diags.Errorf(diag.KindMemoryAllocationFailure, "read [%d,%d) out of bounds of %d-byte entry", offset, offset+size, e.size)
	}
	return e.ptr[offset : offset+size], diags
}

// Deallocate decrements vaddr's reference count, freeing the entry once
// it reaches zero. Double-free (deallocating an address already freed)
// is always reported as a diagnostic; over-deallocation (count going
// negative) is reported only on an Interface built with debug, and the
// entry is kept for GarbageCollect. In debug builds the caller is expected to treat these as
// fatal per spec.md §4.12, which Diagnostics.ErrorKind lets it do via
// diag.KindDoubleFree / diag.KindNegativeDeallocate exit codes.
func (m *Interface) Deallocate(vaddr uint64) diag.Diagnostics {
	var diags diag.Diagnostics
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[vaddr]
	if !ok {
		return diags.Errorf(diag.KindDoubleFree, "deallocate of unknown virtual address %d (already freed?)", vaddr)
	}
	e.count--
	if e.count < 0 {
		if m.debug {
			diags = diags.Errorf(diag.KindNegativeDeallocate, "virtual address %d deallocated more times than its reference count allows", vaddr)
		}
		return diags
	}
	if e.count == 0 {
		delete(m.entries, vaddr)
	}
	return diags
}

// GarbageCollect sweeps every tracked entry whose count has gone
// negative (indicating external release outside the normal Deallocate
// path) and reclaims it, returning one diagnostic per reclaimed entry.
// The GRT is expected to call this between iterations per spec.md §4.12.
func (m *Interface) GarbageCollect() diag.Diagnostics {
	var diags diag.Diagnostics
	m.mu.Lock()
	defer m.mu.Unlock()
	for vaddr, e := range m.entries {
		if e.count < 0 {
			diags = diags.Append(diag.Diagnostic{
				Severity: diag.Error,
				Kind:     diag.KindNegativeDeallocate,
				Summary:  fmt.Sprintf("reclaimed virtual address %d with negative reference count %d", vaddr, e.count),
			})
			delete(m.entries, vaddr)
		}
	}
	return diags
}

// Len reports how many live entries the interface currently tracks;
// used by tests asserting that an iteration leaves no leaked buffers.
func (m *Interface) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
