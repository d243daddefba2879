package peer

import "sync"

// Mailbox is the single-goroutine executor every PeerConnection runs its
// handler callbacks, codec mutations, and state transitions on (spec.md
// §5: "one goroutine per connection, no locks in the hot path"). It's the
// func(func()) passed as internal/channel.New's executor argument.
type Mailbox struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

// NewMailbox starts the mailbox's run loop and returns it. capacity bounds
// how many posted tasks can queue before Post blocks; 256 is a reasonable
// default for a single connection's event volume.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = 256
	}
	m := &Mailbox{
		tasks: make(chan func(), capacity),
		done:  make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Mailbox) run() {
	for {
		select {
		case fn := <-m.tasks:
			fn()
		case <-m.done:
			// Drain whatever was already queued before a post raced the
			// close, then stop. Nothing queued after Close is guaranteed
			// to run.
			for {
				select {
				case fn := <-m.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Post queues fn to run on the mailbox goroutine, in order relative to every
// other posted task. Safe to call from any goroutine, including the mailbox
// goroutine itself (it simply re-enqueues). A Post after Close is dropped.
func (m *Mailbox) Post(fn func()) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	select {
	case m.tasks <- fn:
	case <-m.done:
	}
}

// Run satisfies the func(func()) signature internal/channel.New expects.
func (m *Mailbox) Run(fn func()) { m.Post(fn) }

// Close stops accepting new tasks and lets the run loop drain and exit.
func (m *Mailbox) Close() {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
	})
}
