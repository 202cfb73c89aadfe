// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package rt

import (
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/spider-rt/spider/internal/memory"
)

// Communicator wires together the per-LRT job/notification queues and
// the global indexed stores for ParameterMessage/TraceMessage, per
// spec.md §5's "Communicator queues are MPMC thread-safe (one per LRT
// for notifications; global indexed queues for JobMessage/
// ParameterMessage/TraceMessage with index returned on push and used at
// pop)". One Communicator serves one platform for the lifetime of a
// Runtime (spec.md §9's process-wide `rt::platform()`, encapsulated here
// instead of as package-level global state).
type Communicator struct {
	// SessionID tags every trace/log line from this Communicator's
	// lifetime, matching the teacher's use of github.com/google/uuid for
	// run-scoped identifiers.
	SessionID uuid.UUID

	logger hclog.Logger

	mu     sync.RWMutex
	lrts   map[int]*LRT
	params *IndexedStore[ParameterMessage]
	traces *IndexedStore[TraceMessage]

	grtIx int
}

// NewCommunicator constructs an empty Communicator; grtIx identifies
// which LRT index is the GRT LRT, the unique recipient of
// ParameterMessage/JOB_SENT_PARAM notifications (spec.md §4.11 step 8).
func NewCommunicator(grtIx int, logger hclog.Logger) *Communicator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Communicator{
		SessionID: uuid.New(),
		logger:    logger.Named("rt"),
		lrts:      make(map[int]*LRT),
		params:    NewIndexedStore[ParameterMessage](),
		traces:    NewIndexedStore[TraceMessage](),
		grtIx:     grtIx,
	}
}

// RegisterLRT creates and wires an LRT for PE index ix against mem and
// kernels, returning it so the caller can start its Run loop.
func (c *Communicator) RegisterLRT(ix int, mem *memory.Interface, kernels KernelRegistry, traceEnabled bool) *LRT {
	l := &LRT{
		Ix:      ix,
		Jobs:    NewJobQueue(),
		Notify:  NewNotificationQueue(),
		Mem:     mem,
		Kernels: kernels,
		Stamp:   NewJobStampTracker(),
		Logger:  c.logger.Named("lrt").With("lrt_ix", ix),
		Tracer:  NewTracer(traceEnabled),
	}
	l.Peers = c.stampTrackerFor
	l.NotifyPeer = c.notify
	l.SendParameter = func(msg ParameterMessage) { c.SendParameter(msg) }

	c.mu.Lock()
	c.lrts[ix] = l
	c.mu.Unlock()
	return l
}

func (c *Communicator) stampTrackerFor(lrtIx int) *JobStampTracker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.lrts[lrtIx]
	if !ok {
		return nil
	}
	return l.Stamp
}

func (c *Communicator) notify(lrtIx int, n Notification) {
	c.mu.RLock()
	l, ok := c.lrts[lrtIx]
	c.mu.RUnlock()
	if !ok {
		return
	}
	l.Notify.Push(n)
}

// Dispatch pushes job onto the target LRT's job queue and posts a
// JOB_ADD notification, per spec.md §4.10.
func (c *Communicator) Dispatch(lrtIx int, job JobMessage) {
	c.mu.RLock()
	l, ok := c.lrts[lrtIx]
	c.mu.RUnlock()
	if !ok {
		return
	}
	l.Jobs.Push(job)
	l.Notify.Push(Notification{Type: NotifyJobAdd, SenderIx: c.grtIx})
}

// SendParameter stores msg in the global ParameterMessage store and
// notifies the GRT LRT with the slot index as payload, per spec.md
// §4.10/§4.11 step 8.
func (c *Communicator) SendParameter(msg ParameterMessage) {
	idx := c.params.Push(msg)
	c.notify(c.grtIx, Notification{Type: NotifyJobSentParam, PayloadIx: idx})
}

// PopParameter retrieves and releases the ParameterMessage at idx; the
// GRT calls this after observing a JOB_SENT_PARAM notification.
func (c *Communicator) PopParameter(idx int) (ParameterMessage, bool) {
	return c.params.Pop(idx)
}

// RecordTrace stores msg in the global TraceMessage store, returning its
// slot index.
func (c *Communicator) RecordTrace(msg TraceMessage) int {
	return c.traces.Push(msg)
}

// PopTrace retrieves and releases the TraceMessage at idx.
func (c *Communicator) PopTrace(idx int) (TraceMessage, bool) {
	return c.traces.Pop(idx)
}

// Broadcast posts n to every registered LRT; used for LRT_STOP and
// LRT_END_ITERATION per spec.md §5's cancellation model.
func (c *Communicator) Broadcast(n Notification) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, l := range c.lrts {
		l.Notify.Push(n)
	}
}

// LRT returns the registered LRT at ix, or nil.
func (c *Communicator) LRT(ix int) *LRT {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lrts[ix]
}

// LRTCount reports how many LRTs are registered.
func (c *Communicator) LRTCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lrts)
}
