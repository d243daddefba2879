package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Proxy owns the listening socket and spawns one ClientSide per accepted
// connection, grounded on the teacher's proxy.Proxy/entry.wrapListener
// accept loop.
type Proxy struct {
	cfg *Config
	log *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	clients  map[*ClientSide]struct{}
	closing  bool
}

// New builds a Proxy from cfg. log defaults to slog.Default() if nil.
func New(cfg *Config, log *slog.Logger) *Proxy {
	if log == nil {
		log = slog.Default()
	}
	return &Proxy{cfg: cfg, log: log, clients: make(map[*ClientSide]struct{})}
}

// AddRequestFilter sets the single RequestFilter run before every forwarded
// request (replacing any previously set one, per §6's "singular" contract).
func (p *Proxy) AddRequestFilter(f RequestFilter) { p.cfg.RequestFilter = f }

// AddResponseFilter appends a ResponseFilter to the chain run on every
// response before it's relayed to the client.
func (p *Proxy) AddResponseFilter(f ResponseFilter) {
	p.cfg.ResponseFilters = append(p.cfg.ResponseFilters, f)
}

// AddActivityTracker registers an additional ActivityTracker.
func (p *Proxy) AddActivityTracker(t ActivityTracker) {
	p.cfg.ActivityTrackers = append(p.cfg.ActivityTrackers, t)
}

// SetChainProxyManager installs the policy deciding per-request whether to
// chain through an upstream proxy.
func (p *Proxy) SetChainProxyManager(m ChainProxyManager) { p.cfg.ChainProxyManager = m }

// SetAuthenticator installs Basic proxy-authentication credentials.
func (p *Proxy) SetAuthenticator(a ProxyAuthenticator) { p.cfg.Authenticator = a }

// ListenAndServe opens the listener and accepts connections until ctx is
// canceled or Close is called.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.listener = ln
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.Close()
	}()

	p.log.Info("proxy listening", "addr", p.cfg.Addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			p.mu.Lock()
			closing := p.closing
			p.mu.Unlock()
			if closing {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		p.serve(conn)
	}
}

func (p *Proxy) serve(conn net.Conn) {
	cs := NewClientSide(conn, p.cfg, p.log)
	cs.onClose = func() { p.removeClient(cs) }

	p.mu.Lock()
	p.clients[cs] = struct{}{}
	p.mu.Unlock()

	go func() {
		cs.Start()
	}()
}

func (p *Proxy) removeClient(cs *ClientSide) {
	p.mu.Lock()
	delete(p.clients, cs)
	p.mu.Unlock()
}

// ReapIdleServers disconnects every ServerSide, across all live
// ClientSides, that has been idle longer than threshold. Intended to be
// driven by a periodic job (cmd/relayproxy wires one via robfig/cron) as a
// sweep independent of any per-channel idle-timer codec (SPEC_FULL.md §10).
func (p *Proxy) ReapIdleServers(threshold time.Duration) {
	p.mu.Lock()
	clients := make([]*ClientSide, 0, len(p.clients))
	for cs := range p.clients {
		clients = append(clients, cs)
	}
	p.mu.Unlock()

	for _, cs := range clients {
		cs.reapIdleServers(threshold)
	}
}

// Close stops accepting new connections and disconnects every active
// ClientSide (and transitively every ServerSide it owns).
func (p *Proxy) Close() error {
	p.mu.Lock()
	p.closing = true
	ln := p.listener
	clients := make([]*ClientSide, 0, len(p.clients))
	for cs := range p.clients {
		clients = append(clients, cs)
	}
	p.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, cs := range clients {
		cs.disconnect()
	}
	return err
}
