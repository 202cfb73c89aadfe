// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package rt

import (
	"sync"

	"github.com/apparentlymart/go-workgraph/workgraph"
)

// JobStampTracker tracks one LRT's monotonically increasing local
// job-stamp and lets other LRTs block on it reaching a given value,
// per spec.md §4.11 step 3 ("spin/block until the local job-stamp of
// lrtToWait has reached jobToWait"). Rather than busy-waiting, waits
// are expressed as workgraph requests: one [workgraph.Promise] per
// not-yet-reached job index, resolved the moment Advance passes it.
// This mirrors the teacher's once_valuer.go / compiler.go
// NewRequest/ReportSuccess/Await rendezvous, generalized from "resolve
// once" to "resolve once the counter reaches a threshold".
type JobStampTracker struct {
	mu     sync.Mutex
	worker *workgraph.Worker
	stamp  uint32
	waits  map[uint32]*jobWait
}

type jobWait struct {
	resolver workgraph.Resolver[struct{}]
	promise  workgraph.Promise[struct{}]
}

// NewJobStampTracker constructs a tracker starting at stamp 0.
func NewJobStampTracker() *JobStampTracker {
	return &JobStampTracker{
		worker: workgraph.NewWorker(),
		waits:  make(map[uint32]*jobWait),
	}
}

// Stamp returns the current job-stamp.
func (t *JobStampTracker) Stamp() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stamp
}

// Advance raises the job-stamp to stamp (a no-op if stamp is not an
// advance) and resolves every outstanding wait for a job index it now
// covers.
func (t *JobStampTracker) Advance(stamp uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if stamp <= t.stamp {
		return
	}
	t.stamp = stamp
	for jobIx, w := range t.waits {
		if jobIx <= stamp {
			w.resolver.ReportSuccess(t.worker, struct{}{})
			delete(t.waits, jobIx)
		}
	}
}

// Await blocks the calling worker until the job-stamp reaches jobIx.
// waiter should be the workgraph.Worker representing the blocked LRT's
// own unit of work, so that a constraint cycle between two LRTs'
// job-stamps is reported as a self-dependency error rather than
// hanging forever.
func (t *JobStampTracker) Await(waiter *workgraph.Worker, jobIx uint32) error {
	t.mu.Lock()
	if t.stamp >= jobIx {
		t.mu.Unlock()
		return nil
	}
	w, ok := t.waits[jobIx]
	if !ok {
		resolver, promise := workgraph.NewRequest[struct{}](t.worker)
		w = &jobWait{resolver: resolver, promise: promise}
		t.waits[jobIx] = w
	}
	t.mu.Unlock()

	_, err := w.promise.Await(waiter)
	return err
}
