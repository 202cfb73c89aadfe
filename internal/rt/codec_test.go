// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package rt

import "testing"

func TestJobMessageRoundTrip(t *testing.T) {
	want := JobMessage{
		KernelIx:         3,
		VertexIx:         7,
		Ix:               42,
		OutputParamCount: 2,
		ExecConstraints: []ExecConstraintWire{
			{LRTIx: 1, JobIxToWait: 5},
			{LRTIx: 2, JobIxToWait: 9},
		},
		InputParams: []int64{-1, 0, 1000000},
		InputFifoArray: []FifoWire{
			{Address: 10, Offset: 0, Size: 4, Count: 1, Attribute: 0},
			{Address: 12, Offset: 0, Size: 3, Count: 1, Attribute: 0},
		},
		InputFifoCounts:   []uint32{2},
		OutputFifoArray:   []FifoWire{{Address: 11, Offset: 4, Size: 8, Count: 2, Attribute: 1}},
		NotificationFlags: []bool{true, false, true},
	}

	data, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %s", err)
	}

	var got JobMessage
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %s", err)
	}

	if got.KernelIx != want.KernelIx || got.VertexIx != want.VertexIx || got.Ix != want.Ix {
		t.Fatalf("scalar fields mismatch: got %+v, want %+v", got, want)
	}
	if len(got.ExecConstraints) != len(want.ExecConstraints) || got.ExecConstraints[1] != want.ExecConstraints[1] {
		t.Fatalf("ExecConstraints mismatch: got %v, want %v", got.ExecConstraints, want.ExecConstraints)
	}
	if len(got.InputParams) != len(want.InputParams) || got.InputParams[2] != want.InputParams[2] {
		t.Fatalf("InputParams mismatch: got %v, want %v", got.InputParams, want.InputParams)
	}
	if got.InputFifoArray[0] != want.InputFifoArray[0] || got.InputFifoArray[1] != want.InputFifoArray[1] {
		t.Fatalf("InputFifoArray mismatch: got %v, want %v", got.InputFifoArray, want.InputFifoArray)
	}
	if len(got.InputFifoCounts) != 1 || got.InputFifoCounts[0] != 2 {
		t.Fatalf("InputFifoCounts mismatch: got %v, want [2]", got.InputFifoCounts)
	}
	if len(got.NotificationFlags) != 3 || got.NotificationFlags[0] != true || got.NotificationFlags[1] != false {
		t.Fatalf("NotificationFlags mismatch: got %v", got.NotificationFlags)
	}
}

func TestParameterMessageRoundTrip(t *testing.T) {
	want := ParameterMessage{SenderVertexIx: 9, Params: []int64{1, 2, 3}}
	data, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %s", err)
	}
	var got ParameterMessage
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %s", err)
	}
	if got.SenderVertexIx != want.SenderVertexIx || len(got.Params) != 3 || got.Params[2] != 3 {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestTraceMessageRoundTrip(t *testing.T) {
	want := TraceMessage{TaskIx: 4, PEIx: 1, Name: "vertexA#2", StartNs: 100, EndNs: 250}
	data, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %s", err)
	}
	var got TraceMessage
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %s", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
