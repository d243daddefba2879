package channel

import (
	"sync"
	"time"
)

// IdleTimer is the "idle-timer" codec: it fires Channel.FireIdle when no
// read or write activity has crossed the channel for the configured
// duration, which is what drives AWAITING_INITIAL/TUNNELING timeouts in
// spec.md §4.2 ("no activity for idleTimeout") without a busy-poll loop.
type IdleTimer struct {
	d time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// NewIdleTimer builds an idle-timer codec with the given idle duration. A
// non-positive duration disables the timer (OnInstall is then a no-op).
func NewIdleTimer(d time.Duration) *IdleTimer {
	return &IdleTimer{d: d}
}

func (t *IdleTimer) Name() string { return "idle-timer" }

func (t *IdleTimer) OnInstall(ch *Channel) {
	if t.d <= 0 {
		return
	}
	t.mu.Lock()
	t.timer = time.AfterFunc(t.d, func() { ch.FireIdle() })
	t.mu.Unlock()
	ch.SetActivityHook(t.Reset)
}

func (t *IdleTimer) OnRemove(ch *Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	ch.SetActivityHook(nil)
}

// Reset restarts the idle countdown; call on every successful read or
// write so genuine traffic doesn't trip the timer.
func (t *IdleTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.timer == nil {
		return
	}
	t.timer.Reset(t.d)
}
