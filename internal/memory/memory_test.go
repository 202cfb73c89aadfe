// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package memory

import "testing"

func TestInterfaceAllocateReadFree(t *testing.T) {
	m := NewInterface(nil, true)
	vaddr, diags := m.Allocate(16, 2)
	if diags.HasErrors() {
		t.Fatalf("Allocate: %s", diags.Err())
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
	if _, diags := m.Read(vaddr, 0, 16); diags.HasErrors() {
		t.Fatalf("Read: %s", diags.Err())
	}
	if diags := m.Deallocate(vaddr); diags.HasErrors() {
		t.Fatalf("first Deallocate: %s", diags.Err())
	}
	if m.Len() != 1 {
		t.Fatalf("expected entry to survive first of two deallocates")
	}
	if diags := m.Deallocate(vaddr); diags.HasErrors() {
		t.Fatalf("second Deallocate: %s", diags.Err())
	}
	if m.Len() != 0 {
		t.Fatalf("expected entry freed after count reached zero")
	}
}

func TestInterfaceDoubleFreeReported(t *testing.T) {
	m := NewInterface(nil, true)
	vaddr, _ := m.Allocate(8, 1)
	if diags := m.Deallocate(vaddr); diags.HasErrors() {
		t.Fatalf("Deallocate: %s", diags.Err())
	}
	diags := m.Deallocate(vaddr)
	if !diags.HasErrors() {
		t.Fatalf("expected error deallocating an already-freed address")
	}
}

func TestInterfaceReadOutOfBounds(t *testing.T) {
	m := NewInterface(nil, true)
	vaddr, _ := m.Allocate(8, 1)
	if _, diags := m.Read(vaddr, 4, 8); !diags.HasErrors() {
		t.Fatalf("expected out-of-bounds read to error")
	}
}

func TestInterfaceGarbageCollectReclaimsNegativeCounts(t *testing.T) {
	m := NewInterface(nil, true)
	vaddr, _ := m.Allocate(8, 0)
	diags := m.Deallocate(vaddr)
	if !diags.HasErrors() {
		t.Fatalf("expected over-deallocation diagnostic in debug mode")
	}
	gcDiags := m.GarbageCollect()
	if !gcDiags.HasErrors() {
		t.Fatalf("expected GarbageCollect to report the negative-count entry")
	}
	if m.Len() != 0 {
		t.Fatalf("expected entry reclaimed by GarbageCollect")
	}
}
