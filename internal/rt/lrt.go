// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package rt

import (
	"context"
	"time"

	"github.com/apparentlymart/go-workgraph/workgraph"
	"github.com/hashicorp/go-hclog"

	"github.com/spider-rt/spider/internal/diag"
	"github.com/spider-rt/spider/internal/memory"
)

// Kernel is the user-supplied function invoked to execute one job, per
// spec.md §4.11 step 4: "(inputParams, outputParams, inputBuffers,
// outputBuffers)". outputParams is non-nil only for CONFIG actors
// (outputParamCount > 0) and is populated by the kernel in place.
type Kernel func(inputParams []int64, outputParams []int64, inputBuffers, outputBuffers [][]byte) error

// KernelRegistry resolves a JobMessage's kernelIx to a Kernel.
type KernelRegistry []Kernel

// Lookup returns the kernel at ix, or nil if out of range.
func (r KernelRegistry) Lookup(ix uint32) Kernel {
	if int(ix) >= len(r) {
		return nil
	}
	return r[ix]
}

// PeerLocator resolves another LRT's index to the JobStampTracker other
// jobs' execConstraints wait on.
type PeerLocator func(lrtIx int) *JobStampTracker

// LRT runs the loop of spec.md §4.11: one per PE (or PE-group). It pops
// JobMessages from its own job queue on JOB_ADD notifications, waits out
// execConstraints against peer LRTs' job-stamps, invokes the kernel,
// releases input buffers, advances its own job-stamp, and notifies
// dependents and (for CONFIG actors) the GRT LRT.
type LRT struct {
	Ix       int
	Jobs     *JobQueue
	Notify   *NotificationQueue
	Mem      *memory.Interface
	Kernels  KernelRegistry
	Stamp    *JobStampTracker
	Peers    PeerLocator
	Logger   hclog.Logger
	Tracer   Tracer

	// NotifyPeer pushes a Notification onto another LRT's notification
	// queue; wired by the Communicator so LRT stays decoupled from the
	// full set of sibling LRTs.
	NotifyPeer func(lrtIx int, n Notification)
	// SendParameter pushes a ParameterMessage and a JOB_SENT_PARAM
	// notification to the GRT LRT, for CONFIG actors.
	SendParameter func(msg ParameterMessage)
}

// Run executes the LRT loop until it observes LRT_STOP or the
// notification queue is closed. It returns the diagnostics of every job
// it ran, accumulated across the whole run.
func (l *LRT) Run(ctx context.Context) diag.Diagnostics {
	var diags diag.Diagnostics
	for {
		n, ok := l.Notify.Pop()
		if !ok {
			return diags
		}
		switch n.Type {
		case NotifyJobAdd:
			job, ok := l.Jobs.Pop()
			if !ok {
				continue
			}
			diags = diags.Append(l.runJob(ctx, job))
		case NotifyLRTStop:
			l.Jobs.Close()
			return diags
		case NotifyLRTEndIteration:
			if l.NotifyPeer != nil {
				l.NotifyPeer(n.SenderIx, Notification{Type: NotifyLRTEndIteration, SenderIx: l.Ix})
			}
		default:
			if l.Logger != nil {
				l.Logger.Debug("unhandled notification", "type", n.Type.String())
			}
		}
	}
}

// readFragments resolves one input port's fragment list to a single
// contiguous buffer: the common case of exactly one fragment returns its
// view directly (no copy), while a rate-mismatched edge spanning more
// than one producer firing is copy-concatenated, since the kernel
// contract hands it exactly one []byte per port.
func readFragments(mem *memory.Interface, fragments []FifoWire) ([]byte, diag.Diagnostics) {
	var diags diag.Diagnostics
	if len(fragments) == 0 {
		return nil, diags
	}
	if len(fragments) == 1 {
		fifo := fragments[0].toFifo()
		if !fifo.Allocated() {
			return nil, diags
		}
		buf, d := mem.Read(fifo.Address, fifo.Offset, fifo.Size)
		diags = diags.Append(d)
		return buf, diags
	}

	var total uint32
	for _, f := range fragments {
		total += f.Size
	}
	out := make([]byte, 0, total)
	for _, f := range fragments {
		fifo := f.toFifo()
		if !fifo.Allocated() {
			continue
		}
		buf, d := mem.Read(fifo.Address, fifo.Offset, fifo.Size)
		diags = diags.Append(d)
		if d.HasErrors() {
			continue
		}
		out = append(out, buf...)
	}
	return out, diags
}

func (l *LRT) runJob(ctx context.Context, job JobMessage) diag.Diagnostics {
	var diags diag.Diagnostics
	worker := workgraph.NewWorker()

	for _, c := range job.ExecConstraints {
		peer := l.Peers(int(c.LRTIx))
		if peer == nil {
			continue
		}
		// A job-stamp counts finished jobs, so job JobIxToWait is done
		// once the peer's stamp reaches JobIxToWait+1.
		if err := peer.Await(worker, c.JobIxToWait+1); err != nil {
			return diags.Errorf(diag.KindConstraintDeadlock, "lrt %d job %d: waiting on lrt %d job %d: %s", l.Ix, job.Ix, c.LRTIx, c.JobIxToWait, err)
		}
	}

	inputBuffers := make([][]byte, len(job.InputFifoCounts))
	fragmentIx := 0
	for portIx, count := range job.InputFifoCounts {
		fragments := job.InputFifoArray[fragmentIx : fragmentIx+int(count)]
		fragmentIx += int(count)

		buf, d := readFragments(l.Mem, fragments)
		diags = diags.Append(d)
		inputBuffers[portIx] = buf
	}

	outputBuffers := make([][]byte, len(job.OutputFifoArray))
	for i, f := range job.OutputFifoArray {
		fifo := f.toFifo()
		if !fifo.Allocated() {
			continue
		}
		buf, d := l.Mem.Read(fifo.Address, fifo.Offset, fifo.Size)
		diags = diags.Append(d)
		outputBuffers[i] = buf
	}
	if diags.HasErrors() {
		return diags
	}

	var outputParams []int64
	if job.OutputParamCount > 0 {
		outputParams = make([]int64, job.OutputParamCount)
	}

	kernel := l.Kernels.Lookup(job.KernelIx)
	if kernel == nil {
		return diags.Errorf(diag.KindInvalidAPIUsage, "lrt %d job %d: no kernel registered at index %d", l.Ix, job.Ix, job.KernelIx)
	}
	start := time.Now()
	if err := kernel(job.InputParams, outputParams, inputBuffers, outputBuffers); err != nil {
		return diags.Append(err)
	}
	l.Tracer.Record(ctx, TraceMessage{TaskIx: job.Ix, PEIx: uint32(l.Ix), StartNs: uint64(start.UnixNano()), EndNs: uint64(time.Now().UnixNano())})

	for _, f := range job.InputFifoArray {
		fifo := f.toFifo()
		if fifo.Attribute == memory.RWOwn && fifo.Allocated() {
			diags = diags.Append(l.Mem.Deallocate(fifo.Address))
		}
	}

	l.Stamp.Advance(job.Ix + 1)

	for lrtIx, notify := range job.NotificationFlags {
		if notify && l.NotifyPeer != nil {
			l.NotifyPeer(lrtIx, Notification{Type: NotifyJobUpdateJobstamp, SenderIx: l.Ix, PayloadIx: int(job.Ix)})
		}
	}

	if job.OutputParamCount > 0 && l.SendParameter != nil {
		l.SendParameter(ParameterMessage{SenderVertexIx: job.VertexIx, Params: outputParams})
	}

	return diags
}
