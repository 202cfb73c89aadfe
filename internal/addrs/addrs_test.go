// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package addrs

import "testing"

func TestMapPutGetOrder(t *testing.T) {
	m := MakeMap[string, int]()
	m.Put("b", 2)
	m.Put("a", 1)
	m.Put("b", 20) // overwrite, should not move position

	if got := m.Get("b"); got != 20 {
		t.Fatalf("Get(b) = %d, want 20", got)
	}
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	if m.Elems[0].Key != "b" || m.Elems[1].Key != "a" {
		t.Fatalf("unexpected order: %+v", m.Elems)
	}
}

func TestMapDelete(t *testing.T) {
	m := MakeMap[int, string]()
	m.Put(1, "one")
	m.Put(2, "two")
	m.Put(3, "three")

	m.Delete(2)
	if m.Has(2) {
		t.Fatalf("expected 2 to be deleted")
	}
	if got := m.Get(3); got != "three" {
		t.Fatalf("Get(3) = %q after delete, want three", got)
	}
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
}

func TestMapGetOkMissing(t *testing.T) {
	m := MakeMap[string, int]()
	if _, ok := m.GetOk("missing"); ok {
		t.Fatalf("expected missing key to report ok=false")
	}
}
