// Package termsignal implements the signal contract from spec.md §6: one
// process-global termination flag, polled at a single choke point instead
// of delivered through a blocking channel — a deliberate simplification
// per spec.md §5 ("Cancellation / signals"): in-flight work is never
// interrupted mid-way, only checked between phases.
package termsignal

import (
	"errors"
	"sync/atomic"
)

// ErrSignalled is returned by RaiseIfSignalled once the flag has been set.
var ErrSignalled = errors.New("termsignal: termination requested")

var raised atomic.Bool

// Raise arms the process-wide termination flag. Safe to call from a
// signal handler goroutine; safe to call more than once.
func Raise() {
	raised.Store(true)
}

// Reset clears the flag. Exposed for tests that need a clean flag between
// scenarios sharing a process.
func Reset() {
	raised.Store(false)
}

// Raised reports the flag's current value without side effects.
func Raised() bool {
	return raised.Load()
}

// RaiseIfSignalled is the single choke point spec.md §4.5 step 6 and §5
// require: called immediately before a load package commit, it returns
// ErrSignalled if termination was requested, aborting the commit cleanly.
func RaiseIfSignalled() error {
	if raised.Load() {
		return ErrSignalled
	}
	return nil
}
