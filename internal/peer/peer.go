package peer

import (
	"fmt"
	"sync"
)

// Connection is the embeddable base every PeerConnection (proxy.ClientSide,
// proxy.ServerSide) builds on: state storage plus the mailbox that serializes
// every event for this peer onto one goroutine. All mutation of state must
// happen through SetState, which is itself only safe to call from the
// mailbox goroutine — callers reach it via Mailbox.Post.
type Connection struct {
	Mailbox *Mailbox

	mu    sync.RWMutex
	state State

	// OnTransition, if set, is invoked synchronously after state changes
	// (e.g. to emit an activity event). Runs on the mailbox goroutine.
	OnTransition func(from, to State)
}

// NewConnection builds a Connection starting in DISCONNECTED with its own
// mailbox. mailboxCapacity <= 0 uses NewMailbox's default.
func NewConnection(mailboxCapacity int) *Connection {
	return &Connection{
		Mailbox: NewMailbox(mailboxCapacity),
		state:   Disconnected,
	}
}

// State returns the current state. Safe from any goroutine.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState transitions to next, invoking OnTransition if set. Must be called
// from the mailbox goroutine (i.e. from inside a func passed to Post) since
// it's only the serialization the mailbox provides that makes the
// read-check-write here race-free against concurrent transitions.
func (c *Connection) SetState(next State) error {
	c.mu.Lock()
	cur := c.state
	if !CanTransition(cur, next) {
		c.mu.Unlock()
		return fmt.Errorf("peer: illegal transition %s -> %s", cur, next)
	}
	c.state = next
	c.mu.Unlock()

	if c.OnTransition != nil {
		c.OnTransition(cur, next)
	}
	return nil
}

// Post runs fn on this connection's mailbox goroutine.
func (c *Connection) Post(fn func()) { c.Mailbox.Post(fn) }

// Executor satisfies internal/channel.New's executor parameter.
func (c *Connection) Executor() func(func()) { return c.Mailbox.Run }

// Close stops the mailbox. Safe to call more than once.
func (c *Connection) Close() { c.Mailbox.Close() }
