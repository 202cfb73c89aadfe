// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/dependency"
	"github.com/spider-rt/spider/internal/diag"
	"github.com/spider-rt/spider/internal/firing"
	"github.com/spider-rt/spider/internal/mapper"
	"github.com/spider-rt/spider/internal/memory"
	"github.com/spider-rt/spider/internal/pisdf"
	"github.com/spider-rt/spider/internal/rt"
	"github.com/spider-rt/spider/internal/scheduler"
)

// Iterate drives one iteration of the JIT pipeline spec.md §5 describes:
// resolve every firing's parameters and BRV bottom-up, flatten the whole
// firing tree into the scheduler's input, repeatedly schedule+map+allocate
//+dispatch whatever has become schedulable, until a round produces no
// newly-schedulable task. Per spec.md §4.9, task ix ordering is reset at
// the start of every iteration but per-PE Stats accumulate across
// iterations (Reset, not Clear).
func (r *Runtime) Iterate() diag.Diagnostics {
	var diags diag.Diagnostics
	if !r.started {
		return diags.Errorf(diag.KindInvalidAPIUsage, "Iterate called before Start")
	}

	r.schedule.Reset()
	r.root.Reset()
	root := r.root.Firing(0)

	for {
		diags = diags.Append(r.resolveTree(root))
		if diags.HasErrors() {
			return diags
		}

		items, d := r.flatten(root)
		diags = diags.Append(d)
		if diags.HasErrors() {
			return diags
		}
		if len(items) == 0 {
			break
		}

		schedulable, _, d := r.scheduler.Schedule(items)
		diags = diags.Append(d)
		if diags.HasErrors() {
			return diags
		}
		if len(schedulable) == 0 {
			// Nothing left is schedulable this round; whatever remains
			// parked is waiting on a CONFIG actor's job, still in flight
			// on some LRT, to report its parameters.
			break
		}

		for _, it := range schedulable {
			diags = diags.Append(r.dispatch(it))
			if diags.HasErrors() {
				return diags
			}
		}
	}

	r.comm.Broadcast(rt.Notification{Type: rt.NotifyLRTEndIteration, SenderIx: r.Platform.GRTPE().VirtualIndex})
	return diags
}

// resolveTree resolves gf's parameter table and, once resolved, computes
// and initializes its BRV (idempotent: both Resolve and a BRV that is
// already set are safe to call again), then descends into every
// hierarchical vertex's child handler, creating it if this is the first
// time that vertex's repetition count became known.
func (r *Runtime) resolveTree(gf *firing.GraphFiring) diag.Diagnostics {
	var diags diag.Diagnostics
	diags = diags.Append(gf.Resolve())
	if !gf.Resolved() {
		return diags
	}
	if gf.BRV == nil {
		diags = diags.Append(gf.ComputeBRV())
		if diags.HasErrors() {
			return diags
		}
		gf.Initialize()
	}

	for _, v := range gf.Graph.Vertices {
		if !v.IsHierarchical() {
			continue
		}
		if gf.BRV[v.ID] == 0 {
			continue
		}
		child, d := gf.Child(v.ID)
		diags = diags.Append(d)
		if diags.HasErrors() {
			continue
		}
		for _, childFiring := range child.Firings() {
			diags = diags.Append(r.resolveTree(childFiring))
		}
	}
	return diags
}

// flatten walks gf and every descendant firing already created, emitting
// one scheduler.Item per still-Pending task.
func (r *Runtime) flatten(gf *firing.GraphFiring) ([]scheduler.Item, diag.Diagnostics) {
	var diags diag.Diagnostics
	var items []scheduler.Item

	for _, v := range gf.Graph.Vertices {
		if v.IsHierarchical() {
			continue
		}
		for k, task := range gf.Tasks[v.ID] {
			if task.State != firing.Pending {
				continue
			}
			items = append(items, scheduler.Item{
				Handler: gf,
				Vertex:  v.ID,
				Firing:  addrs.Firing(k),
				Task:    task,
			})
		}
	}

	for _, child := range gf.Children() {
		for _, childFiring := range child.Firings() {
			childItems, d := r.flatten(childFiring)
			diags = diags.Append(d)
			items = append(items, childItems...)
		}
	}

	return items, diags
}

// dispatch maps, allocates and sends one schedulable task to its PE's
// LRT job queue, per spec.md §4.7/§4.8/§4.10.
func (r *Runtime) dispatch(it scheduler.Item) diag.Diagnostics {
	var diags diag.Diagnostics
	gf, v, task := it.Handler, it.Handler.Graph.Vertex(it.Vertex), it.Task

	extra, d := r.mapper.Map(gf, v, task, r.schedule)
	diags = diags.Append(d)
	if diags.HasErrors() {
		return diags
	}
	for _, sync := range extra {
		r.runSyncTask(sync)
	}

	mem := task.PE.Cluster().Memory
	if v.Subtype == pisdf.ExternIn {
		r.seedExternalOutputs(gf, v, task)
	}
	diags = diags.Append(r.allocator.AllocateOutputs(gf, v, task, mem))
	if diags.HasErrors() {
		return diags
	}
	inputFifos, d := r.allocator.AllocateInputs(gf, v, task, r.initFifo(gf, mem))
	diags = diags.Append(d)
	if diags.HasErrors() {
		return diags
	}
	task.InputFifos = inputFifos
	task.OutputFifos = r.outputFifos(gf, v, task.Key.Firing)

	if task.State == firing.Skipped {
		return diags
	}

	constraints := r.crossLRTConstraints(gf, v, task)
	task.ExecConstraints = constraints

	lrtIx := task.PE.VirtualIndex
	r.mu.Lock()
	task.JobIx = r.nextJobIx[lrtIx]
	r.nextJobIx[lrtIx]++
	r.mu.Unlock()

	notifyFlags := make([]bool, r.Platform.PECount())
	for _, peerIx := range task.NotifyLRTs {
		if peerIx >= 0 && peerIx < len(notifyFlags) {
			notifyFlags[peerIx] = true
		}
	}

	outputParamCount := 0
	if v.IsConfig() {
		outputParamCount = gf.Params.Len()
	}

	job := rt.JobMessage{
		KernelIx:          r.kernelIndexFor(v.ID),
		VertexIx:          uint32(v.ID),
		Ix:                task.JobIx,
		OutputParamCount:  uint32(outputParamCount),
		ExecConstraints:   toExecConstraintWire(constraints),
		InputParams:       gf.Params.Snapshot(),
		InputFifoArray:    flattenInputFifos(task.InputFifos),
		InputFifoCounts:   inputFifoCounts(task.InputFifos),
		OutputFifoArray:   fifosToWire(task.OutputFifos),
		NotificationFlags: notifyFlags,
	}
	task.OutputParamCount = outputParamCount
	r.comm.Dispatch(lrtIx, job)
	task.State = firing.Running

	return diags
}

// runSyncTask accounts for a SEND/RECEIVE task inserted by the mapper by
// invoking its bus's callback synchronously (the cost has already been
// folded into the schedule by the mapper; the callback itself is the
// user's opaque transport, invoked here so a real bus wiring still
// observes every cross-cluster transfer) and marking it Finished.
func (r *Runtime) runSyncTask(t *firing.Task) {
	if t.Bus != nil {
		switch t.Kind {
		case firing.KindSend:
			if t.Bus.Send != nil {
				_ = t.Bus.Send(t.Size, int32(t.Key.Vertex), nil)
			}
		case firing.KindReceive:
			if t.Bus.Receive != nil {
				_, _ = t.Bus.Receive(t.Size, int32(t.Key.Vertex), nil)
			}
		}
	}
	t.State = firing.Finished
}

// seedExternalOutputs writes the registered external address into every
// output edge's Fifo record before AllocateOutputs runs, per
// Allocator.allocateExtern's expectation that the address is already
// present.
func (r *Runtime) seedExternalOutputs(gf *firing.GraphFiring, v *pisdf.Vertex, task *firing.Task) {
	for portIx := range v.Outputs {
		edge := gf.Graph.OutputEdge(v.ID, addrs.PortID(portIx))
		if edge == nil {
			continue
		}
		addr, ok := r.externAddr[v.ID]
		if !ok {
			continue
		}
		*gf.Fifo(edge.ID, task.Key.Firing) = addr
	}
}

// initFifo returns the closure Allocator.AllocateInputs uses to
// synthesize an INIT Fifo for a delay-init segment: it materializes the
// edge's token-initial bytes as a fresh RW_OWN buffer in mem the first
// time any consumer firing touches it, caching the result on gf so a
// delay spanning more than one sink firing's worth of tokens reuses the
// same physical buffer instead of allocating a duplicate, per
// spec.md §4.8.
func (r *Runtime) initFifo(gf *firing.GraphFiring, mem *memory.Interface) firing.InitFifoFunc {
	return func(edge *pisdf.Edge, byteLength int64, readerCount int) memory.Fifo {
		if edge.Delay == nil {
			return memory.Fifo{Address: memory.SentinelAddress}
		}
		cached := gf.DelayFifo(edge.ID)
		if !cached.Allocated() {
			size, _ := edge.Delay.Value.EvaluateInt(gf.Params)
			vaddr, diags := mem.Allocate(uint32(size), uint32(readerCount))
			if diags.HasErrors() {
				return memory.Fifo{Address: memory.SentinelAddress}
			}
			*cached = memory.Fifo{Address: vaddr, Size: uint32(size), Count: uint32(readerCount), Attribute: memory.RWOwn}
		}
		result := *cached
		result.Size = uint32(byteLength)
		return result
	}
}

// outputFifos gathers the Fifo records AllocateOutputs wrote for v's
// firing k, in output-port order, for embedding in the dispatched
// JobMessage.
func (r *Runtime) outputFifos(gf *firing.GraphFiring, v *pisdf.Vertex, k addrs.Firing) []memory.Fifo {
	out := make([]memory.Fifo, len(v.Outputs))
	for portIx := range v.Outputs {
		out[portIx] = memory.Fifo{Address: memory.SentinelAddress}
		edge := gf.Graph.OutputEdge(v.ID, addrs.PortID(portIx))
		if edge == nil {
			continue
		}
		out[portIx] = *gf.Fifo(edge.ID, k)
	}
	return out
}

// crossLRTConstraints finds, for each input edge of v's firing, the
// ultimate producer task (following FORK/DUPLICATE/EXTERN_IN chains) and,
// when it already ran on a different PE, records an ExecConstraint on
// its job-stamp and flags that producer to notify this task's LRT once
// it finishes. By the time a task is schedulable, every producer it
// depends on has already left Pending (scheduler.isSchedulableNow), so
// its PE and JobIx are already assigned.
func (r *Runtime) crossLRTConstraints(gf *firing.GraphFiring, v *pisdf.Vertex, task *firing.Task) []firing.ExecConstraint {
	var constraints []firing.ExecConstraint
	seen := make(map[addrs.TaskKey]bool)

	for portIx := range v.Inputs {
		edge := gf.Graph.InputEdge(v.ID, addrs.PortID(portIx))
		if edge == nil {
			continue
		}
		infos, diags := dependency.ConsumerDependencies(gf, edge, task.Key.Firing)
		if diags.HasErrors() {
			continue
		}
		for _, info := range infos {
			if info.IsDelayInit || info.FiringLo < 0 {
				continue
			}
			producerVertex := mapper.UltimateProducer(gf, edge.SrcVertex)
			for k := info.FiringLo; k <= info.FiringHi; k++ {
				producerTasks := gf.Tasks[producerVertex]
				if int(k) < 0 || int(k) >= len(producerTasks) {
					continue
				}
				pt := producerTasks[k]
				if pt == nil || pt.PE == nil || pt.State == firing.Pending {
					continue
				}
				key := addrs.TaskKey{Vertex: producerVertex, Firing: k}
				if seen[key] {
					continue
				}
				seen[key] = true
				if pt.PE.VirtualIndex == task.PE.VirtualIndex {
					continue
				}
				constraints = append(constraints, firing.ExecConstraint{LRTIx: pt.PE.VirtualIndex, JobIx: pt.JobIx})
				pt.NotifyLRTs = appendIfMissing(pt.NotifyLRTs, task.PE.VirtualIndex)
			}
		}
	}
	return constraints
}

func appendIfMissing(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func toExecConstraintWire(cs []firing.ExecConstraint) []rt.ExecConstraintWire {
	out := make([]rt.ExecConstraintWire, len(cs))
	for i, c := range cs {
		out[i] = rt.ExecConstraintWire{LRTIx: uint32(c.LRTIx), JobIxToWait: c.JobIx}
	}
	return out
}

func fifosToWire(fifos []memory.Fifo) []rt.FifoWire {
	out := make([]rt.FifoWire, len(fifos))
	for i, f := range fifos {
		out[i] = rt.NewFifoWire(f)
	}
	return out
}

// flattenInputFifos concatenates every input port's fragment list into
// the single run rt.JobMessage.InputFifoArray expects, in port order.
func flattenInputFifos(perPort [][]memory.Fifo) []rt.FifoWire {
	var out []rt.FifoWire
	for _, fragments := range perPort {
		out = append(out, fifosToWire(fragments)...)
	}
	return out
}

// inputFifoCounts returns how many consecutive flattenInputFifos entries
// belong to each input port, so the LRT can split the flattened array
// back into per-port fragment runs.
func inputFifoCounts(perPort [][]memory.Fifo) []uint32 {
	out := make([]uint32, len(perPort))
	for i, fragments := range perPort {
		out[i] = uint32(len(fragments))
	}
	return out
}

