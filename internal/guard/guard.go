// Package guard implements the reader-writer access discipline around
// the incremental core's protected state (§4.C12): the module graph,
// the skipped-jobs map, and the unfinished-job set. Concurrent reads
// are allowed; mutation (second-wave integration, writing the graph)
// is a barrier that excludes every reader and every other writer.
package guard

import "sync"

// State wraps sync.RWMutex with the two call shapes the incremental
// core needs: Read for concurrent queries, Write for exclusive
// mutation. It is the single acquisition point so every protected
// call site goes through the same discipline rather than taking locks
// ad hoc.
type State struct {
	mu sync.RWMutex

	// writeHeld tracks whether the write barrier is currently held,
	// for the debug-build precondition assertions below. It is only
	// ever written while mu is held for writing.
	writeHeld bool
}

// Read runs fn with a concurrent read lock held. Multiple readers may
// run at once; Read blocks while a Write is in progress.
func (s *State) Read(fn func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assertReadableLocked()
	fn()
}

// Write runs fn with the exclusive barrier held, blocking until every
// in-flight Read has drained and excluding every other Read/Write for
// its duration.
func (s *State) Write(fn func()) {
	s.mu.Lock()
	s.writeHeld = true
	defer func() {
		s.writeHeld = false
		s.mu.Unlock()
	}()
	fn()
}

// MustBeWriting panics in debug builds (tag swiftinc_debug) if called
// outside a Write barrier; it does nothing in release builds, matching
// the spec's "all call sites assert their mode with runtime
// precondition checks in debug builds." See guard_debug.go and
// guard_release.go for the two build-tagged implementations.
func (s *State) MustBeWriting() {
	assertWritingPrecondition(s)
}

// assertReadableLocked is an empty hook called inside every Read, in
// every build; under the real sync.RWMutex semantics a successful
// RLock already guarantees that no writer is active, so it checks
// nothing.
func assertReadableLocked() {}
