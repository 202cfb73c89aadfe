// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

// Package rt implements the RT communicator and LRT runner of spec.md
// §4.10/§4.11: the wire messages exchanged between the GRT and the LRTs,
// the per-LRT job queues, the indexed stores for parameter/trace
// messages, and the LRT execution loop itself.
package rt

import "github.com/spider-rt/spider/internal/memory"

// FifoWire is the wire-layout twin of memory.Fifo, named separately so
// that the codec's field order and types are pinned independently of
// internal/memory's in-process representation.
type FifoWire struct {
	Address   uint64
	Offset    uint32
	Size      uint32
	Count     uint32
	Attribute uint8
}

func fifoToWire(f memory.Fifo) FifoWire {
	return FifoWire{Address: f.Address, Offset: f.Offset, Size: f.Size, Count: f.Count, Attribute: uint8(f.Attribute)}
}

// NewFifoWire is the exported form of fifoToWire, used by internal/runtime
// to build a JobMessage's FifoArray fields from memory.Fifo values.
func NewFifoWire(f memory.Fifo) FifoWire { return fifoToWire(f) }

func (w FifoWire) toFifo() memory.Fifo {
	return memory.Fifo{Address: w.Address, Offset: w.Offset, Size: w.Size, Count: w.Count, Attribute: memory.Attribute(w.Attribute)}
}

// ExecConstraintWire pairs an LRT index with the job index on that LRT
// this job must wait for, per spec.md §4.10.
type ExecConstraintWire struct {
	LRTIx       uint32
	JobIxToWait uint32
}

// JobMessage is the unit of work pushed to one LRT's job queue, matching
// spec.md §6's wire layout field-for-field. InputFifoArray is flattened
// across every input port rather than one entry per port: a
// rate-mismatched edge can span more than one producer firing, each a
// physically separate buffer, so a port's input is a run of one or more
// consecutive FifoWire fragments. InputFifoCounts[p] gives the number of
// consecutive InputFifoArray entries belonging to port p; the LRT
// concatenates them into one contiguous buffer before invoking the
// kernel, which still sees exactly one []byte per input port.
type JobMessage struct {
	KernelIx           uint32
	VertexIx           uint32
	Ix                 uint32
	OutputParamCount    uint32
	ExecConstraints    []ExecConstraintWire
	InputParams        []int64
	InputFifoArray     []FifoWire
	InputFifoCounts    []uint32
	OutputFifoArray    []FifoWire
	NotificationFlags  []bool
}

// ParameterMessage carries a CONFIG actor's resolved output parameters
// back to the GRT LRT, per spec.md §6.
type ParameterMessage struct {
	SenderVertexIx uint32
	Params         []int64
}

// TraceMessage records one task's observed execution window, per
// spec.md §6; emitted as an OTel span when tracing is enabled (see
// trace.go).
type TraceMessage struct {
	TaskIx uint32
	PEIx   uint32
	Name   string
	StartNs uint64
	EndNs   uint64
}

// NotificationType distinguishes the small POD notifications posted to
// per-LRT notification queues, per spec.md §4.10.
type NotificationType uint8

const (
	NotifyLRTEndIteration NotificationType = iota
	NotifyLRTStop
	NotifyLRTPause
	NotifyLRTResume
	NotifyJobAdd
	NotifyJobLastID
	NotifyJobClear
	NotifyJobSentParam
	NotifyJobBroadcastJobstamp
	NotifyJobUpdateJobstamp
	NotifyTrace
)

func (t NotificationType) String() string {
	switch t {
	case NotifyLRTEndIteration:
		return "LRT_END_ITERATION"
	case NotifyLRTStop:
		return "LRT_STOP"
	case NotifyLRTPause:
		return "LRT_PAUSE"
	case NotifyLRTResume:
		return "LRT_RESUME"
	case NotifyJobAdd:
		return "JOB_ADD"
	case NotifyJobLastID:
		return "JOB_LAST_ID"
	case NotifyJobClear:
		return "JOB_CLEAR"
	case NotifyJobSentParam:
		return "JOB_SENT_PARAM"
	case NotifyJobBroadcastJobstamp:
		return "JOB_BROADCAST_JOBSTAMP"
	case NotifyJobUpdateJobstamp:
		return "JOB_UPDATE_JOBSTAMP"
	case NotifyTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// Notification is the small POD struct posted to a notification queue,
// per spec.md §4.10: "(type, subtype, senderIx, payloadIx)".
type Notification struct {
	Type     NotificationType
	Subtype  uint8
	SenderIx int
	PayloadIx int
}
