package channel

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Handler receives the events a Channel's executor delivers, in order:
// Active, Read*, WritabilityChanged, Idle, Inactive, Exception (spec.md
// §4.1). All calls happen on the executor supplied to New.
type Handler interface {
	OnActive()
	OnRead(msg Message)
	OnWritabilityChanged(writable bool)
	OnIdle()
	OnInactive()
	OnException(err error)
}

// decodeFunc reads exactly one Message's worth of bytes from the channel's
// buffered reader. Installed by a codec (http-decoder); the zero value reads
// raw byte spans, which is what TUNNELING relies on once http-decoder is
// removed.
type decodeFunc func(ch *Channel) (Message, error)

// encodeFunc serializes a Message to wire bytes. The zero value only knows
// how to encode []byte and *Raw, which is what TUNNELING needs.
type encodeFunc func(ch *Channel, msg Message) ([]byte, error)

const (
	defaultReadBufSize  = 16384
	highWaterMarkBytes  = 1 << 20 // 1MB: channel reports unwritable above this
	lowWaterMarkBytes   = 1 << 18 // 256KB: channel reports writable again below this
)

// Channel is BufferedChannel (spec.md §4.1): a net.Conn wrapped with a
// codec pipeline, writability signaling, and auto-read gating. Exactly one
// goroutine reads and exactly one goroutine writes; all events reach
// Handler through the executor func supplied at construction, which is the
// owning PeerConnection's single-goroutine mailbox — this is what makes the
// channel "bound to one executor" per spec.md §5.
type Channel struct {
	conn   net.Conn
	reader *bufio.Reader

	executor func(func())
	handler  Handler

	Pipeline *Pipeline

	decode decodeFunc
	encode encodeFunc

	autoRead  atomic.Bool
	resumeSig chan struct{}

	writeQueue chan writeRequest
	pending    atomic.Int64
	writable   atomic.Bool

	onActivity func() // reset hook for the idle-timer codec, if installed
	lastActive atomic.Int64 // unix nanos of the last successful read/write

	closeOnce sync.Once
	closed    atomic.Bool
	doneCh    chan struct{}
}

type writeRequest struct {
	data []byte
	done chan error
}

// New wraps conn in a Channel. executor is called to run every Handler
// event and every codec install/remove hook on the owning connection's
// single goroutine; handler receives the channel's lifecycle events.
func New(conn net.Conn, executor func(func()), handler Handler) *Channel {
	ch := &Channel{
		conn:       conn,
		reader:     bufio.NewReaderSize(conn, defaultReadBufSize),
		executor:   executor,
		handler:    handler,
		Pipeline:   newPipeline(),
		resumeSig:  make(chan struct{}, 1),
		writeQueue: make(chan writeRequest, 256),
		doneCh:     make(chan struct{}),
	}
	ch.autoRead.Store(true)
	ch.writable.Store(true)
	ch.lastActive.Store(time.Now().UnixNano())
	return ch
}

// Start begins the read and write goroutines and fires Active.
func (ch *Channel) Start() {
	ch.executor(ch.handler.OnActive)
	go ch.readLoop()
	go ch.writeLoop()
}

// RemoteAddr returns the underlying connection's remote address.
func (ch *Channel) RemoteAddr() net.Addr { return ch.conn.RemoteAddr() }

// LocalAddr returns the underlying connection's local address.
func (ch *Channel) LocalAddr() net.Addr { return ch.conn.LocalAddr() }

// Conn exposes the underlying net.Conn, e.g. for a TLS codec to rewrap it or
// for the raw-bytes tunneling path to Write/Read directly.
func (ch *Channel) Conn() net.Conn { return ch.conn }

// SetConn replaces the underlying connection (the TLS codec does this after
// completing a handshake) and resets the buffered reader over it. Must be
// called on the channel's executor.
func (ch *Channel) SetConn(conn net.Conn) {
	ch.conn = conn
	ch.reader.Reset(conn)
}

// Reader exposes the buffered reader for codecs that need to peek/read
// directly (e.g. detecting a TLS ClientHello before any codec is chosen).
func (ch *Channel) Reader() *bufio.Reader { return ch.reader }

// SetDecode installs the function used to read the next Message. Called by
// codecs from OnInstall/OnRemove, which already run on the executor.
func (ch *Channel) SetDecode(fn decodeFunc) { ch.decode = fn }

// SetEncode installs the function used to serialize an outbound Message.
func (ch *Channel) SetEncode(fn encodeFunc) { ch.encode = fn }

// SetActivityHook installs fn to be called after every successful read and
// write, so the idle-timer codec can restart its countdown on genuine
// traffic. Passing nil (as OnRemove does) disables the hook.
func (ch *Channel) SetActivityHook(fn func()) { ch.onActivity = fn }

func (ch *Channel) markActivity() {
	ch.lastActive.Store(time.Now().UnixNano())
	if ch.onActivity != nil {
		ch.onActivity()
	}
}

// IdleSince reports how long it has been since the last successful read or
// write completed on this channel, for callers that sweep for idle
// connections independent of any installed idle-timer codec.
func (ch *Channel) IdleSince() time.Duration {
	return time.Since(time.Unix(0, ch.lastActive.Load()))
}

// AddCodec installs c, posting the install hook to the channel's executor.
func (ch *Channel) AddCodec(c Codec) {
	ch.executor(func() { ch.Pipeline.add(ch, c) })
}

// RemoveCodec removes the codec named name, posting the removal hook to the
// channel's executor (spec.md §9: pipeline mutation from within a handler
// must not run synchronously, to avoid deadlocking the pipeline).
func (ch *Channel) RemoveCodec(name string) {
	ch.executor(func() { ch.Pipeline.remove(ch, name) })
}

// SetAutoRead gates inbound delivery (spec.md §4.1). When disabled, the read
// goroutine blocks before decoding the next message; already-buffered bytes
// stay in the OS/bufio buffers, which is how backpressure propagates
// upstream without an unbounded buffer in this process.
func (ch *Channel) SetAutoRead(enabled bool) {
	wasDisabled := !ch.autoRead.Swap(enabled)
	if enabled && wasDisabled {
		select {
		case ch.resumeSig <- struct{}{}:
		default:
		}
	}
}

// Write enqueues msg for serialization and transmission; the returned
// channel receives the single completion error (spec.md's "future"), nil on
// success. Ordering is FIFO per channel.
func (ch *Channel) Write(msg Message) <-chan error {
	done := make(chan error, 1)
	data, err := ch.encodeMessage(msg)
	if err != nil {
		done <- err
		return done
	}
	select {
	case ch.writeQueue <- writeRequest{data: data, done: done}:
	case <-ch.doneCh:
		done <- net.ErrClosed
	}
	return done
}

func (ch *Channel) encodeMessage(msg Message) ([]byte, error) {
	if ch.encode != nil {
		return ch.encode(ch, msg)
	}
	switch m := msg.(type) {
	case []byte:
		return m, nil
	case *Raw:
		return m.Data, nil
	default:
		return nil, errors.New("channel: no encoder installed for message type")
	}
}

// Close tears the channel down; Inactive fires exactly once.
func (ch *Channel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		ch.closed.Store(true)
		close(ch.doneCh)
		err = ch.conn.Close()
		ch.executor(ch.handler.OnInactive)
	})
	return err
}

func (ch *Channel) readLoop() {
	defer ch.Close()
	for {
		if !ch.autoRead.Load() {
			select {
			case <-ch.resumeSig:
			case <-ch.doneCh:
				return
			}
			continue
		}

		msg, err := ch.readOne()
		if err != nil {
			if !errors.Is(err, io.EOF) && !ch.closed.Load() {
				ch.executor(func() { ch.handler.OnException(err) })
			}
			return
		}
		ch.markActivity()
		ch.executor(func() { ch.handler.OnRead(msg) })
	}
}

func (ch *Channel) readOne() (Message, error) {
	if ch.decode != nil {
		return ch.decode(ch)
	}
	buf := make([]byte, defaultReadBufSize)
	n, err := ch.reader.Read(buf)
	if n > 0 {
		return &Raw{Data: buf[:n]}, err
	}
	if err != nil {
		return nil, err
	}
	return &Raw{Data: nil}, nil
}

func (ch *Channel) writeLoop() {
	for {
		select {
		case req := <-ch.writeQueue:
			ch.pending.Add(int64(len(req.data)))
			ch.updateWritability()
			_, err := ch.conn.Write(req.data)
			ch.pending.Add(-int64(len(req.data)))
			ch.updateWritability()
			if err == nil {
				ch.markActivity()
			}
			req.done <- err
			if err != nil {
				return
			}
		case <-ch.doneCh:
			return
		}
	}
}

func (ch *Channel) updateWritability() {
	pending := ch.pending.Load()
	switch {
	case ch.writable.Load() && pending > highWaterMarkBytes:
		ch.writable.Store(false)
		ch.executor(func() { ch.handler.OnWritabilityChanged(false) })
	case !ch.writable.Load() && pending < lowWaterMarkBytes:
		ch.writable.Store(true)
		ch.executor(func() { ch.handler.OnWritabilityChanged(true) })
	}
}

// IsWritable reports the last reported writability state.
func (ch *Channel) IsWritable() bool { return ch.writable.Load() }

// FireIdle is called by the idle-timer codec when the configured idle
// duration elapses with no read or write activity.
func (ch *Channel) FireIdle() {
	ch.executor(func() { ch.handler.OnIdle() })
}
