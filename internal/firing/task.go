// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package firing

import (
	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/archi"
	"github.com/spider-rt/spider/internal/memory"
)

// State is a Task's position in its lifecycle, per spec.md §3.
type State uint8

const (
	Pending State = iota
	Ready
	Running
	Finished
	NotSchedulable
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case NotSchedulable:
		return "not_schedulable"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Kind distinguishes an ordinary vertex firing from a synchronization
// task inserted by the mapper to cross a cluster boundary.
type Kind uint8

const (
	KindVertex Kind = iota
	KindSend
	KindReceive
)

// ExecConstraint records that this task must not start until job jobIx on
// lrt has finished, i.e. until lrt's local job-stamp (the count of jobs it
// has finished) exceeds jobIx, per spec.md §4.10's execConstraints field.
type ExecConstraint struct {
	LRTIx   int
	JobIx   uint32
}

// Task is one schedulable unit: either a single firing of a
// non-hierarchical vertex, or a SEND/RECEIVE synchronization task
// inserted by the mapper. Tasks are created once by GraphFiring.initialize
// and mutated in place by the scheduler, mapper, allocator and launcher —
// each stage only ever advances State forward, never backward, matching
// the one-way PENDING→READY→RUNNING→FINISHED (or →NOT_SCHEDULABLE→SKIPPED)
// lifecycle spec.md prescribes.
type Task struct {
	Kind Kind

	// Key identifies the (vertex, firing) this task represents. For
	// KindSend/KindReceive tasks, the mapper copies the key of the
	// producer (SEND) or consumer (RECEIVE) task it was inserted for, so
	// such a key is not unique among tasks.
	Key addrs.TaskKey

	State State

	// Ix is this task's position within its Schedule, assigned once the
	// task becomes schedulable; -1 until then.
	Ix int

	PE *archi.PE

	StartTimeNs int64
	EndTimeNs   int64

	Level int // criticality level, computed by the scheduler

	// InputFifos holds, per input port, the ordered list of physical
	// segments that port's consumed byte range touches (usually one, but
	// more than one for a rate-mismatched edge spanning several producer
	// firings, or an edge whose delay prefix and live producer output
	// both feed the same firing).
	InputFifos  [][]memory.Fifo
	OutputFifos []memory.Fifo

	ExecConstraints []ExecConstraint
	// NotifyLRTs lists the LRT indices that must be told, via a
	// JOB_UPDATE_JOBSTAMP notification, once this task finishes.
	NotifyLRTs []int

	// JobIx is this task's position in its assigned PE's job stream,
	// assigned by internal/runtime at dispatch time. Peer tasks on other
	// PEs reference it in their own ExecConstraints to wait for this
	// task's completion via the PE's JobStampTracker.
	JobIx uint32

	// Predecessor/Successor link a SyncTask to the ordinary task whose
	// data it is moving; nil for KindVertex tasks.
	Predecessor *Task
	Successor   *Task

	// Bus is the MemoryBus a SyncTask moves its bytes across; nil for
	// KindVertex tasks.
	Bus  *archi.Bus
	Size int64

	// OutputParamCount is non-zero for CONFIG actor tasks, per
	// spec.md §4.10's JobMessage.outputParamCount field.
	OutputParamCount int
}

// NewTask constructs a Task for one (vertex, firing) pair, Pending and
// unscheduled.
func NewTask(key addrs.TaskKey) *Task {
	return &Task{Kind: KindVertex, Key: key, State: Pending, Ix: -1}
}

// NewSyncTask constructs a SEND or RECEIVE task linking predecessor to
// successor across bus, moving size bytes.
func NewSyncTask(kind Kind, key addrs.TaskKey, predecessor, successor *Task, bus *archi.Bus, size int64) *Task {
	return &Task{
		Kind:        kind,
		Key:         key,
		State:       Pending,
		Ix:          -1,
		Predecessor: predecessor,
		Successor:   successor,
		Bus:         bus,
		Size:        size,
	}
}

// reset clears scheduling-derived state between iterations, preserving
// the task's identity (Key, Kind) and any fixed structural links, per
// spec.md §4.2's GraphFiring.reset().
func (t *Task) reset() {
	t.State = Pending
	t.Ix = -1
	t.PE = nil
	t.StartTimeNs = 0
	t.EndTimeNs = 0
	t.Level = 0
	t.InputFifos = nil
	t.OutputFifos = nil
	t.ExecConstraints = nil
	t.NotifyLRTs = nil
	t.JobIx = 0
}
