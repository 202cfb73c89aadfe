// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

// Package runtime wires together every other Spider package behind the
// external API of spec.md §6: platform/cluster/PE/bus construction,
// graph construction, scenario mapping constraints, and the
// start()/iterate()/quit() control surface. It owns the one Runtime
// object a caller constructs, rather than the package-level globals
// (archi::platform(), rt::platform(), the arena registry) spec.md §9
// describes the original implementation as relying on — resolving that
// section's "an implementer may encapsulate these into a Runtime object
// passed explicitly" note.
package runtime

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/spider-rt/spider/internal/addrs"
	"github.com/spider-rt/spider/internal/archi"
	"github.com/spider-rt/spider/internal/diag"
	"github.com/spider-rt/spider/internal/firing"
	"github.com/spider-rt/spider/internal/mapper"
	"github.com/spider-rt/spider/internal/memory"
	"github.com/spider-rt/spider/internal/pisdf"
	"github.com/spider-rt/spider/internal/rt"
	"github.com/spider-rt/spider/internal/schedule"
	"github.com/spider-rt/spider/internal/scheduler"
)

// Runtime is the single object a Spider embedder constructs and drives.
// It owns the platform topology, the root application graph's firing
// tree, and every piece of the JIT pipeline (scheduler, mapper,
// allocator, RT communicator) that Iterate wires together each call.
type Runtime struct {
	logger  hclog.Logger
	verbose bool
	trace   bool

	Platform *archi.Platform
	graph    *pisdf.Graph
	root     *firing.GraphHandler

	scheduler *scheduler.Scheduler
	mapper    *mapper.Mapper
	allocator *firing.Allocator
	schedule  *schedule.Schedule

	comm    *rt.Communicator
	kernels rt.KernelRegistry
	// kernelIx maps a vertex to its registered kernel index; vertices
	// never explicitly assigned one default to their own VertexID, which
	// is almost always what a caller wants since kernels are typically
	// registered in vertex-creation order.
	kernelIx map[addrs.VertexID]uint32
	// externAddr holds the user-registered wire address for an EXTERN_IN
	// vertex's output, set via SetVertexExternalAddress.
	externAddr map[addrs.VertexID]memory.Fifo

	mu       sync.Mutex
	nextJobIx map[int]uint32 // keyed by PE VirtualIndex

	started bool
	eg      *errgroup.Group
	egCtx   context.Context
	cancel  context.CancelFunc
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithLogger overrides the default null logger.
func WithLogger(logger hclog.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// New constructs an empty Runtime. Callers must still call CreatePlatform
// and CreateGraph before Start.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		logger:     hclog.NewNullLogger(),
		kernelIx:   make(map[addrs.VertexID]uint32),
		externAddr: make(map[addrs.VertexID]memory.Fifo),
		nextJobIx:  make(map[int]uint32),
		allocator:  firing.NewAllocator(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("spider")
	return r
}

// --- Platform construction (spec.md §6 "Platform construction") ---

// CreatePlatform allocates the Runtime's Platform, sized for
// clusterCount clusters.
func (r *Runtime) CreatePlatform(clusterCount int) *archi.Platform {
	r.Platform = archi.NewPlatform(clusterCount)
	r.scheduler = scheduler.New(r.Platform)
	r.mapper = mapper.New(r.Platform)
	return r.Platform
}

// CreateCluster appends a Cluster of peCount PE capacity sharing mem.
func (r *Runtime) CreateCluster(peCount int, mem *memory.Interface) *archi.Cluster {
	return r.Platform.AddCluster(peCount, mem)
}

// CreatePE constructs a PE of the given hwType/hwIx, hosted by cluster,
// and appends it. virtIx is accepted for API-shape parity with spec.md
// §6 but ignored: Cluster.AddPE always assigns a dense platform-wide
// VirtualIndex itself, so two PEs are never at risk of colliding on a
// caller-supplied index.
func (r *Runtime) CreatePE(hwType archi.HWType, hwIx, virtIx int, cluster *archi.Cluster, name string, peType archi.PEType) *archi.PE {
	_ = virtIx
	pe := &archi.PE{HWType: hwType, HWIndex: hwIx, Name: name, Type: peType, Enabled: true}
	cluster.AddPE(pe)
	return pe
}

// SetSpiderGRTPE designates pe as the GRT PE and registers it with the
// RT communicator as LRT index pe.VirtualIndex, per spec.md §5's "the
// GRT may itself be an LRT of the GRT PE".
func (r *Runtime) SetSpiderGRTPE(pe *archi.PE) {
	r.Platform.SetGRTPE(pe)
	r.comm = rt.NewCommunicator(pe.VirtualIndex, r.logger)
}

// CreateMemoryBus constructs a named Bus; callers still need to call
// SetSendRoutine/SetReceiveRoutine/SetWriteSpeed/SetReadSpeed and
// Platform.SetRoute to make it reachable by the mapper.
func (r *Runtime) CreateMemoryBus(name string) *archi.Bus {
	return archi.NewBus(name)
}

// SetSendRoutine installs bus's send callback.
func (r *Runtime) SetSendRoutine(bus *archi.Bus, cb func(size int64, packetIx int32, buffer []byte) error) {
	bus.Send = cb
}

// SetReceiveRoutine installs bus's receive callback.
func (r *Runtime) SetReceiveRoutine(bus *archi.Bus, cb func(size int64, packetIx int32, buffer []byte) ([]byte, error)) {
	bus.Receive = cb
}

// SetWriteSpeed sets bus's write bandwidth in bytes/second.
func (r *Runtime) SetWriteSpeed(bus *archi.Bus, bytesPerSecond float64) { bus.WriteSpeed = bytesPerSecond }

// SetReadSpeed sets bus's read bandwidth in bytes/second.
func (r *Runtime) SetReadSpeed(bus *archi.Bus, bytesPerSecond float64) { bus.ReadSpeed = bytesPerSecond }

// --- Graph construction (spec.md §6 "Graph construction") ---

// CreateGraph constructs the Runtime's top-level application graph. Only
// one call is meaningful per Runtime; callers build the rest of the
// hierarchy from the returned Graph via CreateVertex/CreateHierarchicalVertex.
func (r *Runtime) CreateGraph(name string, vCount, eCount, paramCount int) *pisdf.Graph {
	r.graph = pisdf.NewGraph(name, vCount, eCount, paramCount)
	return r.graph
}

// CreateVertex adds a Normal vertex to g.
func (r *Runtime) CreateVertex(g *pisdf.Graph, name string, inputCount, outputCount int) *pisdf.Vertex {
	return g.CreateVertex(name, pisdf.Normal, inputCount, outputCount)
}

// CreateConfigVertex adds a Config (parameter-producing) vertex to g.
func (r *Runtime) CreateConfigVertex(g *pisdf.Graph, name string, inputCount, outputCount int) *pisdf.Vertex {
	return g.CreateVertex(name, pisdf.Config, inputCount, outputCount)
}

// CreateHierarchicalVertex adds a GraphVertex to g along with its freshly
// built Subgraph, matching the external interface's compound "create a
// subgraph" operation.
func (r *Runtime) CreateHierarchicalVertex(g *pisdf.Graph, name string, inputCount, outputCount, childVertexCount, childEdgeCount, childParamCount int) *pisdf.Vertex {
	return g.CreateGraphVertex(name, inputCount, outputCount, childVertexCount, childEdgeCount, childParamCount)
}

// CreateEdge connects src's output port srcPort to snk's input port
// snkPort with the given rate expressions.
func (r *Runtime) CreateEdge(g *pisdf.Graph, src addrs.VertexID, srcPort addrs.PortID, srcRate *pisdf.Expression, snk addrs.VertexID, snkPort addrs.PortID, snkRate *pisdf.Expression) (*pisdf.Edge, diag.Diagnostics) {
	return g.CreateEdge(src, srcPort, srcRate, snk, snkPort, snkRate)
}

// CreateDelay attaches a token-initial condition to edge.
func (r *Runtime) CreateDelay(g *pisdf.Graph, edge *pisdf.Edge, value *pisdf.Expression, persistent bool, setter, getter string) (*pisdf.Delay, diag.Diagnostics) {
	return g.CreateDelay(edge, value, persistent, pisdf.DelaySetterGetter{Setter: setter, Getter: getter})
}

// CreateStaticParam declares a Static parameter on g.
func (r *Runtime) CreateStaticParam(g *pisdf.Graph, name string, expr *pisdf.Expression) (addrs.ParamID, diag.Diagnostics) {
	return g.CreateParam(pisdf.NewStaticParam(name, expr))
}

// CreateDynamicParam declares a Dynamic (CONFIG-fed) parameter on g.
func (r *Runtime) CreateDynamicParam(g *pisdf.Graph, name string) (addrs.ParamID, diag.Diagnostics) {
	return g.CreateParam(pisdf.NewDynamicParam(name))
}

// CreateInheritedParam declares an Inherited parameter on g.
func (r *Runtime) CreateInheritedParam(g *pisdf.Graph, name, parentName string) (addrs.ParamID, diag.Diagnostics) {
	return g.CreateParam(pisdf.NewInheritedParam(name, parentName))
}

// --- Scenario (spec.md §6 "Scenario") ---

// SetVertexMappableOnPE marks v mappable (or not) on pe, with timing
// evaluated by fn when mappable.
func (r *Runtime) SetVertexMappableOnPE(v *pisdf.Vertex, pe *archi.PE, mappable bool, fn pisdf.TimingFunc) {
	v.RTInfo.SetMappable(pe.VirtualIndex, mappable, fn)
}

// SetVertexExecutionTimingOnPE is an alias of SetVertexMappableOnPE(v,
// pe, true, fn), matching spec.md §6's separately named operation for
// the common case of "this vertex is mappable here, and here's its
// timing".
func (r *Runtime) SetVertexExecutionTimingOnPE(v *pisdf.Vertex, pe *archi.PE, fn pisdf.TimingFunc) {
	v.RTInfo.SetMappable(pe.VirtualIndex, true, fn)
}

// SetVertexKernel associates v with the kernel registered at ix (see
// RegisterKernel). Vertices with no explicit association default to a
// kernel index equal to their own VertexID.
func (r *Runtime) SetVertexKernel(v *pisdf.Vertex, ix uint32) {
	r.kernelIx[v.ID] = ix
}

// RegisterKernel appends k to the kernel registry and returns its index.
func (r *Runtime) RegisterKernel(k rt.Kernel) uint32 {
	r.kernels = append(r.kernels, k)
	return uint32(len(r.kernels) - 1)
}

// SetVertexExternalAddress registers the wire address an EXTERN_IN
// vertex's output should resolve to.
func (r *Runtime) SetVertexExternalAddress(v *pisdf.Vertex, addr uint64, size uint32) {
	r.externAddr[v.ID] = memory.Fifo{Address: addr, Size: size, Attribute: memory.RWExt}
}

func (r *Runtime) kernelIndexFor(v addrs.VertexID) uint32 {
	if ix, ok := r.kernelIx[v]; ok {
		return ix
	}
	return uint32(v)
}

// --- Runtime control (spec.md §6 "Runtime control") ---

// EnableTrace turns on TraceMessage recording/OTel span emission for
// every LRT registered from this point forward.
func (r *Runtime) EnableTrace() { r.trace = true }

// DisableTrace turns tracing back off.
func (r *Runtime) DisableTrace() { r.trace = false }

// EnableVerbose raises the Runtime's logger to Debug level.
func (r *Runtime) EnableVerbose() {
	r.verbose = true
	r.logger.SetLevel(hclog.Debug)
}

// DisableVerbose lowers the Runtime's logger back to Info level.
func (r *Runtime) DisableVerbose() {
	r.verbose = false
	r.logger.SetLevel(hclog.Info)
}

// Start builds the root firing handler, registers one LRT per PE, and
// spawns their Run loops. It must be called exactly once, after every
// platform/graph/scenario construction call and before the first
// Iterate.
func (r *Runtime) Start() diag.Diagnostics {
	var diags diag.Diagnostics
	if r.started {
		return diags.Errorf(diag.KindInvalidAPIUsage, "Start called twice")
	}
	if r.Platform == nil || r.graph == nil {
		return diags.Errorf(diag.KindInvalidAPIUsage, "Start called before CreatePlatform/CreateGraph")
	}
	if r.comm == nil {
		return diags.Errorf(diag.KindInvalidAPIUsage, "Start called before SetSpiderGRTPE")
	}

	r.root = firing.NewRootHandler(r.graph)
	r.schedule = schedule.New(r.Platform.PECount())

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	eg, egCtx := errgroup.WithContext(ctx)
	r.eg = eg
	r.egCtx = egCtx

	for _, pe := range r.Platform.AllPEs() {
		lrt := r.comm.RegisterLRT(pe.VirtualIndex, pe.Cluster().Memory, r.kernels, r.trace)
		lrt.Logger = r.logger.Named("lrt").With("pe", pe.Name)
		eg.Go(func() error { return lrt.Run(egCtx).Err() })
	}

	r.started = true
	return diags
}

// Quit broadcasts LRT_STOP to every registered LRT and waits for their
// Run loops to return, tearing down the Runtime's goroutine pool.
func (r *Runtime) Quit() diag.Diagnostics {
	var diags diag.Diagnostics
	if !r.started {
		return diags
	}
	r.comm.Broadcast(rt.Notification{Type: rt.NotifyLRTStop})
	if err := r.eg.Wait(); err != nil {
		diags = diags.Append(err)
	}
	r.cancel()
	r.started = false
	return diags
}
