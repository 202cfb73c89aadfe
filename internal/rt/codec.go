// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package rt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MarshalBinary encodes m using a flat, varint-length-prefixed layout:
// every fixed-width field is written with binary.Write in a fixed
// (little-endian) order, and every array field is preceded by its
// element count as a uvarint, mirroring the element-then-reference
// ordering the teacher's graph_marshal.go/graph_unmarshal.go pairing
// uses for its own arrays-of-elements wire format.
func (m JobMessage) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	w := newWriter(&buf)
	w.u32(m.KernelIx)
	w.u32(m.VertexIx)
	w.u32(m.Ix)
	w.u32(m.OutputParamCount)

	w.uvarint(uint64(len(m.ExecConstraints)))
	for _, c := range m.ExecConstraints {
		w.u32(c.LRTIx)
		w.u32(c.JobIxToWait)
	}

	w.uvarint(uint64(len(m.InputParams)))
	for _, p := range m.InputParams {
		w.i64(p)
	}

	w.uvarint(uint64(len(m.InputFifoArray)))
	for _, f := range m.InputFifoArray {
		w.fifo(f)
	}

	w.uvarint(uint64(len(m.InputFifoCounts)))
	for _, c := range m.InputFifoCounts {
		w.u32(c)
	}

	w.uvarint(uint64(len(m.OutputFifoArray)))
	for _, f := range m.OutputFifoArray {
		w.fifo(f)
	}

	w.uvarint(uint64(len(m.NotificationFlags)))
	for _, b := range m.NotificationFlags {
		w.bool(b)
	}

	return buf.Bytes(), w.err
}

// UnmarshalBinary decodes a []byte produced by MarshalBinary. It is the
// receiver's responsibility to start from a zero JobMessage.
func (m *JobMessage) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	m.KernelIx = r.u32()
	m.VertexIx = r.u32()
	m.Ix = r.u32()
	m.OutputParamCount = r.u32()

	n := r.uvarint()
	m.ExecConstraints = make([]ExecConstraintWire, n)
	for i := range m.ExecConstraints {
		m.ExecConstraints[i] = ExecConstraintWire{LRTIx: r.u32(), JobIxToWait: r.u32()}
	}

	n = r.uvarint()
	m.InputParams = make([]int64, n)
	for i := range m.InputParams {
		m.InputParams[i] = r.i64()
	}

	n = r.uvarint()
	m.InputFifoArray = make([]FifoWire, n)
	for i := range m.InputFifoArray {
		m.InputFifoArray[i] = r.fifo()
	}

	n = r.uvarint()
	m.InputFifoCounts = make([]uint32, n)
	for i := range m.InputFifoCounts {
		m.InputFifoCounts[i] = r.u32()
	}

	n = r.uvarint()
	m.OutputFifoArray = make([]FifoWire, n)
	for i := range m.OutputFifoArray {
		m.OutputFifoArray[i] = r.fifo()
	}

	n = r.uvarint()
	m.NotificationFlags = make([]bool, n)
	for i := range m.NotificationFlags {
		m.NotificationFlags[i] = r.bool()
	}

	return r.err
}

// MarshalBinary encodes a ParameterMessage.
func (m ParameterMessage) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	w := newWriter(&buf)
	w.u32(m.SenderVertexIx)
	w.uvarint(uint64(len(m.Params)))
	for _, p := range m.Params {
		w.i64(p)
	}
	return buf.Bytes(), w.err
}

// UnmarshalBinary decodes a ParameterMessage.
func (m *ParameterMessage) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	m.SenderVertexIx = r.u32()
	n := r.uvarint()
	m.Params = make([]int64, n)
	for i := range m.Params {
		m.Params[i] = r.i64()
	}
	return r.err
}

// MarshalBinary encodes a TraceMessage.
func (m TraceMessage) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	w := newWriter(&buf)
	w.u32(m.TaskIx)
	w.u32(m.PEIx)
	w.uvarint(uint64(len(m.Name)))
	buf.WriteString(m.Name)
	w.u64(m.StartNs)
	w.u64(m.EndNs)
	return buf.Bytes(), w.err
}

// UnmarshalBinary decodes a TraceMessage.
func (m *TraceMessage) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	m.TaskIx = r.u32()
	m.PEIx = r.u32()
	n := r.uvarint()
	name := make([]byte, n)
	r.raw(name)
	m.Name = string(name)
	m.StartNs = r.u64()
	m.EndNs = r.u64()
	return r.err
}

// writer accumulates codec errors so call sites don't need to check
// every field write individually; the first error is sticky.
type writer struct {
	buf *bytes.Buffer
	err error
}

func newWriter(buf *bytes.Buffer) *writer { return &writer{buf: buf} }

func (w *writer) u32(v uint32) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.buf, binary.LittleEndian, v)
}

func (w *writer) u64(v uint64) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.buf, binary.LittleEndian, v)
}

func (w *writer) i64(v int64) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.buf, binary.LittleEndian, v)
}

func (w *writer) bool(v bool) {
	var b byte
	if v {
		b = 1
	}
	if w.err != nil {
		return
	}
	w.err = w.buf.WriteByte(b)
}

func (w *writer) uvarint(v uint64) {
	if w.err != nil {
		return
	}
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	_, w.err = w.buf.Write(tmp[:n])
}

func (w *writer) fifo(f FifoWire) {
	w.u64(f.Address)
	w.u32(f.Offset)
	w.u32(f.Size)
	w.u32(f.Count)
	if w.err != nil {
		return
	}
	w.err = w.buf.WriteByte(f.Attribute)
}

// reader mirrors writer, accumulating the first decode error.
type reader struct {
	r   *bytes.Reader
	err error
}

func newReader(data []byte) *reader { return &reader{r: bytes.NewReader(data)} }

func (r *reader) u32() uint32 {
	var v uint32
	if r.err != nil {
		return 0
	}
	r.err = binary.Read(r.r, binary.LittleEndian, &v)
	return v
}

func (r *reader) u64() uint64 {
	var v uint64
	if r.err != nil {
		return 0
	}
	r.err = binary.Read(r.r, binary.LittleEndian, &v)
	return v
}

func (r *reader) i64() int64 {
	var v int64
	if r.err != nil {
		return 0
	}
	r.err = binary.Read(r.r, binary.LittleEndian, &v)
	return v
}

func (r *reader) bool() bool {
	if r.err != nil {
		return false
	}
	b, err := r.r.ReadByte()
	if err != nil {
		r.err = err
		return false
	}
	return b != 0
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		r.err = err
	}
	return v
}

func (r *reader) raw(dst []byte) {
	if r.err != nil {
		return
	}
	if len(dst) == 0 {
		return
	}
	n, err := io.ReadFull(r.r, dst)
	if err != nil {
		r.err = err
		return
	}
	if n != len(dst) {
		r.err = fmt.Errorf("rt: short read: got %d bytes, want %d", n, len(dst))
	}
}

func (f FifoWire) String() string {
	return fmt.Sprintf("fifo@%d+%d[%d]x%d", f.Address, f.Offset, f.Size, f.Count)
}

func (r *reader) fifo() FifoWire {
	return FifoWire{
		Address:   r.u64(),
		Offset:    r.u32(),
		Size:      r.u32(),
		Count:     r.u32(),
		Attribute: r.byteVal(),
	}
}

func (r *reader) byteVal() byte {
	if r.err != nil {
		return 0
	}
	b, err := r.r.ReadByte()
	if err != nil {
		r.err = err
		return 0
	}
	return b
}
