// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

// Package schedule implements the Schedule and per-PE Stats objects of
// spec.md §4.9: an ix-ordered sequence of tasks plus monotonic per-PE
// timing statistics accumulated across one iteration.
package schedule

import "github.com/spider-rt/spider/internal/firing"

// Stats holds per-PE bookkeeping the mapper consults when choosing where
// to place the next task: the PE's current end time, how much of that
// time was actual work versus idle wait, and how many jobs it has been
// given so far.
type Stats struct {
	EndTimeNs  []int64
	LoadTimeNs []int64
	JobCount   []int64
}

// NewStats allocates Stats for peCount PEs, all zeroed.
func NewStats(peCount int) *Stats {
	return &Stats{
		EndTimeNs:  make([]int64, peCount),
		LoadTimeNs: make([]int64, peCount),
		JobCount:   make([]int64, peCount),
	}
}

// Commit records that a task ending at endNs and taking execNs of actual
// work has been placed on PE virtualIx, advancing that PE's end time.
func (s *Stats) Commit(virtualIx int, endNs, execNs int64) {
	s.EndTimeNs[virtualIx] = endNs
	s.LoadTimeNs[virtualIx] += execNs
	s.JobCount[virtualIx]++
}

// EndTime returns the current end time of PE virtualIx, i.e. the
// earliest time a newly mapped task on that PE could start.
func (s *Stats) EndTime(virtualIx int) int64 { return s.EndTimeNs[virtualIx] }

// reset zeroes every statistic; used by Schedule.Clear, never by
// Schedule.Reset (spec.md §4.9: "reset() clears task state but not
// stats; clear() drops both").
func (s *Stats) reset() {
	for i := range s.EndTimeNs {
		s.EndTimeNs[i] = 0
		s.LoadTimeNs[i] = 0
		s.JobCount[i] = 0
	}
}

// Schedule owns Task pointers in ix order, plus the Stats they were
// scheduled against.
type Schedule struct {
	Tasks []*firing.Task
	Stats *Stats
}

// New constructs an empty Schedule targeting a platform with peCount PEs.
func New(peCount int) *Schedule {
	return &Schedule{Stats: NewStats(peCount)}
}

// Append assigns t the next ix and appends it to the schedule.
func (s *Schedule) Append(t *firing.Task) {
	t.Ix = len(s.Tasks)
	s.Tasks = append(s.Tasks, t)
}

// Reset clears task ix ordering (but not Stats) between iterations, per
// spec.md §4.9.
func (s *Schedule) Reset() {
	s.Tasks = nil
}

// Clear drops both the task ordering and the accumulated Stats.
func (s *Schedule) Clear() {
	s.Tasks = nil
	s.Stats.reset()
}
