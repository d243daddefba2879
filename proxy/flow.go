package proxy

import "fmt"

// Step is one stage of establishing a ServerSide connection: DNS resolution
// and TCP dial, an optional CONNECT negotiation with a chained proxy, and an
// optional MITM handoff (spec.md §4.5). Grounded on the teacher's
// proxy/flow.go Request/Response/Flow shape, repurposed from an HTTP
// transaction record to a connection-establishment pipeline.
type Step struct {
	// Name identifies the step for logging/diagnostics.
	Name string

	// Applies reports whether this step should run at all (e.g. the CONNECT
	// step only applies when chaining through an upstream proxy).
	Applies func() bool

	// SuppressInitialRequest, if true, means this step's success already
	// satisfies the client's buffered initial request (e.g. a successful
	// "CONNECT 200" reply to the client), so the Flow must not forward it
	// again once the flow completes.
	SuppressInitialRequest bool

	// Execute runs the step to completion, returning an error on failure.
	// Steps never run concurrently with each other on the same flow.
	Execute func() error
}

// ConnectionFlow drives an ordered sequence of Steps to completion,
// single-threaded within the owning connection's mailbox goroutine (spec.md
// §4.5's re-entrancy invariant — callers are responsible for posting
// Flow.Run onto that goroutine; this type has no locking of its own).
type ConnectionFlow struct {
	steps []Step

	// LastStateBeforeFailure records which step failed, for diagnostics.
	LastStateBeforeFailure string
}

// NewConnectionFlow builds a flow over steps, run in the given order.
func NewConnectionFlow(steps ...Step) *ConnectionFlow {
	return &ConnectionFlow{steps: steps}
}

// Run executes applicable steps in order. It returns whether the buffered
// initial request should still be forwarded (false if any executed step set
// SuppressInitialRequest), or an error if a step failed.
func (f *ConnectionFlow) Run() (forwardInitialRequest bool, err error) {
	forwardInitialRequest = true
	for _, step := range f.steps {
		if step.Applies != nil && !step.Applies() {
			continue
		}
		if execErr := step.Execute(); execErr != nil {
			f.LastStateBeforeFailure = step.Name
			return false, fmt.Errorf("connection flow step %q: %w", step.Name, execErr)
		}
		if step.SuppressInitialRequest {
			forwardInitialRequest = false
		}
	}
	return forwardInitialRequest, nil
}
