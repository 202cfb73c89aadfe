// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package rt

import (
	"testing"
	"time"
)

func TestJobQueuePushPopOrder(t *testing.T) {
	q := NewJobQueue()
	q.Push(JobMessage{Ix: 1})
	q.Push(JobMessage{Ix: 2})

	first, ok := q.Pop()
	if !ok || first.Ix != 1 {
		t.Fatalf("first pop = %+v, %v", first, ok)
	}
	second, ok := q.Pop()
	if !ok || second.Ix != 2 {
		t.Fatalf("second pop = %+v, %v", second, ok)
	}
}

func TestJobQueuePopBlocksUntilPush(t *testing.T) {
	q := NewJobQueue()
	done := make(chan JobMessage, 1)
	go func() {
		job, _ := q.Pop()
		done <- job
	}()

	select {
	case <-done:
		t.Fatalf("Pop returned before any Push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(JobMessage{Ix: 99})
	select {
	case job := <-done:
		if job.Ix != 99 {
			t.Fatalf("got job %+v, want Ix=99", job)
		}
	case <-time.After(time.Second):
		t.Fatalf("Pop never returned after Push")
	}
}

func TestJobQueueCloseUnblocksPop(t *testing.T) {
	q := NewJobQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected ok=false after Close")
		}
	case <-time.After(time.Second):
		t.Fatalf("Pop never returned after Close")
	}
}

func TestIndexedStoreReusesFreedSlot(t *testing.T) {
	s := NewIndexedStore[string]()
	a := s.Push("a")
	b := s.Push("b")
	if a == b {
		t.Fatalf("expected distinct slots")
	}
	if v, ok := s.Pop(a); !ok || v != "a" {
		t.Fatalf("Pop(a) = %q, %v", v, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	c := s.Push("c")
	if c != a {
		t.Fatalf("expected freed slot %d to be reused, got %d", a, c)
	}
	if v, ok := s.Pop(b); !ok || v != "b" {
		t.Fatalf("Pop(b) = %q, %v", v, ok)
	}
}

func TestIndexedStorePopUnknownSlot(t *testing.T) {
	s := NewIndexedStore[int]()
	if _, ok := s.Pop(0); ok {
		t.Fatalf("expected Pop of never-pushed slot to fail")
	}
	idx := s.Push(7)
	s.Pop(idx)
	if _, ok := s.Pop(idx); ok {
		t.Fatalf("expected Pop of already-released slot to fail")
	}
}
