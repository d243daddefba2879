package proxy

// ActivityRecorder fans activity events out to every configured
// ActivityTracker (spec.md §4.7), grounded on the teacher's addon.go
// multi-addon dispatch pattern generalized from a single Addon interface to
// the narrower ActivityTracker contract. A tracker panicking or blocking is
// the tracker's own problem — it runs inline on the calling peer's mailbox
// goroutine, matching every other event dispatch in this package.
type ActivityRecorder struct {
	trackers []ActivityTracker
}

// NewActivityRecorder builds a recorder fanning out to trackers, in order.
func NewActivityRecorder(trackers ...ActivityTracker) *ActivityRecorder {
	return &ActivityRecorder{trackers: trackers}
}

// Add registers an additional tracker.
func (r *ActivityRecorder) Add(t ActivityTracker) {
	r.trackers = append(r.trackers, t)
}

func (r *ActivityRecorder) RequestReceived(flow *FlowContext) {
	for _, t := range r.trackers {
		t.RequestReceived(flow)
	}
}

func (r *ActivityRecorder) RequestSent(flow *FlowContext, upstream string) {
	for _, t := range r.trackers {
		t.RequestSent(flow, upstream)
	}
}

func (r *ActivityRecorder) ResponseReceived(flow *FlowContext) {
	for _, t := range r.trackers {
		t.ResponseReceived(flow)
	}
}

func (r *ActivityRecorder) ConnectionFailed(flow *FlowContext, err error) {
	for _, t := range r.trackers {
		t.ConnectionFailed(flow, err)
	}
}
