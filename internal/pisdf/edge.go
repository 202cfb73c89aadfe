// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package pisdf

import "github.com/spider-rt/spider/internal/addrs"

// Edge is a directed data channel between one producer port and one
// consumer port within the same Graph. Each endpoint's rate is carried
// directly on the Port (see vertex.go); Edge exists mainly to tie the two
// endpoints together and to own the optional Delay.
type Edge struct {
	ID addrs.EdgeID

	SrcVertex addrs.VertexID
	SrcPort   addrs.PortID
	SnkVertex addrs.VertexID
	SnkPort   addrs.PortID

	Delay *Delay // nil if the edge carries no token-initial condition
}

// DelaySetterGetter names the optional CONFIG-like actors that set or
// read a non-persistent Delay's initial contents. Both are vertex names
// within the same Graph as the Delay's edge; empty means "none", in
// which case a synthesized INIT/END pair fills the role (spec.md's Delay
// invariant).
type DelaySetterGetter struct {
	Setter string
	Getter string
}

// Delay is a token-initial condition on an Edge.
type Delay struct {
	Value      *Expression
	Persistent bool
	SetterGetter DelaySetterGetter

	// vertexID is the synthesized DelayVertex that represents this delay
	// as a structural-transparency producer/consumer in the dependency
	// engine; it is assigned by Graph.CreateDelay.
	vertexID addrs.VertexID
}

// NewDelay constructs a Delay with the given token-initial value.
// Persistent delays must not have a setter or getter (spec invariant);
// NewDelay does not itself enforce this — Graph.CreateDelay does, since
// only it has enough context to report a well-addressed diagnostic.
func NewDelay(value *Expression, persistent bool, setterGetter DelaySetterGetter) *Delay {
	return &Delay{Value: value, Persistent: persistent, SetterGetter: setterGetter}
}

// VertexID returns the synthesized vertex that represents this delay as
// a virtual producer/consumer, valid only after the Delay has been
// attached to an Edge via Graph.CreateDelay.
func (d *Delay) VertexID() addrs.VertexID { return d.vertexID }
