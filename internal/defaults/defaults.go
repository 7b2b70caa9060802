// Package defaults centralizes the worker channel's tunable constants, so
// callers needn't chase magic numbers through channel and worker code.
package defaults

import "time"

const (
	// BaseRequestTimeout is the nominal per-request deadline with zero
	// requests in flight.
	BaseRequestTimeout = 15 * time.Second

	// PerInFlightTimeout is added to BaseRequestTimeout for every other
	// request already outstanding when a new one is issued, absorbing
	// queueing delay under load.
	PerInFlightTimeout = 100 * time.Millisecond

	// MaxFrameBytes is the hard ceiling on a single netstring body, shared
	// by the control and payload lanes.
	MaxFrameBytes = 4 * 1024 * 1024

	// StopGrace is how long Worker.Close waits for the child to exit after
	// closing its channels before sending SIGKILL.
	StopGrace = 2 * time.Second
)
