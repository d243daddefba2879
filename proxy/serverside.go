package proxy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/denisvmedia/relayproxy/internal/channel"
	"github.com/denisvmedia/relayproxy/internal/helper"
	"github.com/denisvmedia/relayproxy/internal/peer"
)

// chainErrorBodyLimit bounds how much of a chained proxy's CONNECT error
// body negotiateChainedConnect will buffer for the returned error.
const chainErrorBodyLimit = 4096

// ServerSide is the concrete PeerConnection dialing an origin or chained
// proxy (spec.md §4.4), grounded on the teacher's entry.establishConnection
// /httpsDialFirstAttack/httpsDialLazyAttack sequence, generalized into an
// explicit ConnectionFlow of Steps instead of inline nested dial calls.
type ServerSide struct {
	*peer.Connection

	ch     *channel.Channel
	client *ClientSide
	cfg    *Config
	log    *slog.Logger

	effectiveAuthority string
	ultimateAuthority  string
	chainAuthority     string
	isConnect          bool

	initialFlow *FlowContext
	dialTimeout time.Duration
}

// NewServerSide builds an unconnected ServerSide; the caller must run
// startFlow to dial and hand it an initial request.
func NewServerSide(client *ClientSide, effectiveAuthority, ultimateAuthority, chainAuthority string, isConnect bool, cfg *Config, log *slog.Logger) *ServerSide {
	return &ServerSide{
		Connection:         peer.NewConnection(0),
		client:             client,
		cfg:                cfg,
		log:                log,
		effectiveAuthority: effectiveAuthority,
		ultimateAuthority:  ultimateAuthority,
		chainAuthority:     chainAuthority,
		isConnect:          isConnect,
		dialTimeout:        10 * time.Second,
	}
}

// submitInitialRequest stashes the request the flow will send once
// connected (or, if already connected, forwards it immediately).
func (s *ServerSide) submitInitialRequest(flow *FlowContext) {
	s.initialFlow = flow
	if s.State() == peer.AwaitingInitial {
		s.sendInitialRequest(flow)
	}
}

func (s *ServerSide) sendInitialRequest(flow *FlowContext) {
	s.client.activity.RequestSent(flow, s.effectiveAuthority)
	s.ch.Write(flow.Request)
}

// startFlow runs the ConnectionFlow described in spec.md §4.4: DNS resolve,
// transport connect, optional CONNECT-to-chained-proxy, optional TLS,
// optional MITM handoff, then AWAITING_INITIAL.
func (s *ServerSide) startFlow(ctx context.Context, flow *FlowContext) {
	s.client.serverFlowStarted()
	s.SetState(peer.Connecting)

	dialAddr := s.effectiveAuthority
	chained := s.chainAuthority != ""
	socks5Chain := chained && isSOCKS5(s.chainAuthority)

	var conn net.Conn
	var err error

	steps := []Step{
		{
			Name: "resolve+connect",
			Execute: func() error {
				if socks5Chain {
					conn, err = s.dialSOCKS5(ctx)
					return err
				}
				conn, err = s.dial(ctx, dialAddr)
				return err
			},
		},
		{
			Name:    "connect-to-chained-proxy",
			Applies: func() bool {
				return chained && !socks5Chain && (s.isConnect || looksLikeHTTPS(s.ultimateAuthority))
			},
			Execute: func() error {
				return s.negotiateChainedConnect(conn, s.ultimateAuthority)
			},
		},
		{
			Name:    "mitm-handoff",
			Applies: func() bool { return s.isConnect && s.cfg.KeyStoreManager != nil },
			SuppressInitialRequest: true,
			Execute: func() error {
				return s.mitmHandoff(conn)
			},
		},
	}

	flowResult := NewConnectionFlow(steps...)
	forward, ferr := flowResult.Run()

	if ferr != nil {
		if conn != nil {
			conn.Close()
		}
		s.SetState(peer.Disconnected)
		s.client.serverFlowFailed(s, s.effectiveAuthority, chained, ferr)
		return
	}

	s.ch = channel.New(conn, s.Executor(), s)
	if !s.isConnect {
		s.ch.AddCodec(channel.NewHTTPDecoder(channel.KindResponse))
		s.ch.AddCodec(channel.NewHTTPEncoder())
	}
	if s.cfg.IdleTimeout > 0 {
		s.ch.AddCodec(channel.NewIdleTimer(s.cfg.IdleTimeout))
	}
	s.ch.Start()

	s.SetState(peer.AwaitingInitial)
	s.client.serverFlowFinished(!forward)

	if s.isConnect {
		s.client.completeConnectTunnel(s)
	} else if forward && s.initialFlow != nil {
		s.sendInitialRequest(s.initialFlow)
	}
}

// retryDirect re-runs the flow bypassing the chained proxy, per spec.md
// §4.3's "mark the request chaining-disabled and retry direct on the same
// ServerSide object".
func (s *ServerSide) retryDirect(ctx context.Context, flow *FlowContext) {
	s.chainAuthority = ""
	s.effectiveAuthority = s.ultimateAuthority
	s.startFlow(ctx, flow)
}

// isSOCKS5 reports whether chainURL names a SOCKS5 chain proxy.
func isSOCKS5(chainURL string) bool {
	u, err := url.Parse(chainURL)
	return err == nil && u.Scheme == "socks5"
}

// dialSOCKS5 tunnels straight through the chained SOCKS5 proxy to
// ultimateAuthority via internal/helper.GetProxyConn: a SOCKS5 proxy
// operates below HTTP, so there is no separate "connect to the proxy, then
// CONNECT to the target" step the way an HTTP(S) chain proxy needs.
func (s *ServerSide) dialSOCKS5(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()

	proxyURL, err := url.Parse(s.chainAuthority)
	if err != nil {
		return nil, fmt.Errorf("parse chain proxy url: %w", err)
	}
	return helper.GetProxyConn(dialCtx, proxyURL, s.ultimateAuthority, s.cfg.InsecureSkipVerifyUpstream)
}

func (s *ServerSide) dial(ctx context.Context, authority string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()

	host, port, splitErr := net.SplitHostPort(authority)
	if splitErr != nil {
		host, port = authority, ""
	}

	dialAddr := authority
	if s.cfg.AddressResolver != nil {
		ips, err := s.cfg.AddressResolver.Resolve(dialCtx, host)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", host, err)
		}
		// Dial the resolved (and, with UseDNSSEC, validated) address
		// directly rather than handing the hostname back to net.Dialer,
		// which would re-resolve it unverified.
		if len(ips) > 0 && splitErr == nil {
			dialAddr = net.JoinHostPort(ips[0].String(), port)
		}
	}

	var d net.Dialer
	return d.DialContext(dialCtx, "tcp", dialAddr)
}

func looksLikeHTTPS(authority string) bool {
	_, port, err := net.SplitHostPort(authority)
	return err == nil && port == "443"
}

// negotiateChainedConnect issues "CONNECT ultimateAuthority HTTP/1.1" to a
// chained proxy and awaits a 2xx, per spec.md §4.4 step 3.
func (s *ServerSide) negotiateChainedConnect(conn net.Conn, ultimateAuthority string) error {
	s.SetState(peer.NegotiatingConnect)

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", ultimateAuthority, ultimateAuthority)
	if _, err := conn.Write([]byte(req)); err != nil {
		return fmt.Errorf("write CONNECT to chained proxy: %w", err)
	}

	reader := bufio.NewReader(conn)
	tp := textproto.NewReader(reader)
	line, err := tp.ReadLine()
	if err != nil {
		return fmt.Errorf("read CONNECT response: %w", err)
	}
	if _, err := tp.ReadMIMEHeader(); err != nil {
		return fmt.Errorf("read CONNECT response headers: %w", err)
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return fmt.Errorf("malformed CONNECT response line %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 200 || code >= 300 {
		// Capture a bounded snippet of whatever error body the chained proxy
		// sent, so the rejection reason isn't just the bare status line.
		body, _, bufErr := helper.ReaderToBuffer(reader, chainErrorBodyLimit)
		if bufErr == nil && len(body) > 0 {
			return fmt.Errorf("chained proxy CONNECT rejected: %q: %s", line, bytes.TrimSpace(body))
		}
		return fmt.Errorf("chained proxy CONNECT rejected: %q", line)
	}
	return nil
}

// mitmHandoff marks this ServerSide HANDSHAKING. The MITM TLS codecs are
// installed on both the client and the server channel by
// ClientSide.completeConnectTunnel once this ServerSide finishes connecting
// (spec.md §4.4 step 5), grounded on the teacher's attacker.HTTPSLazyAttack.
func (s *ServerSide) mitmHandoff(conn net.Conn) error {
	s.SetState(peer.Handshaking)
	return nil
}

// --- channel.Handler ---

func (s *ServerSide) OnActive() {}

func (s *ServerSide) OnRead(msg channel.Message) {
	switch s.State() {
	case peer.AwaitingInitial:
		if resp, ok := msg.(*channel.ResponseHead); ok {
			s.handleInitialResponse(resp)
		}
	case peer.AwaitingChunk:
		if chunk, ok := msg.(*channel.Chunk); ok {
			s.client.respond(s, s.initialFlow, chunk, chunk.Last)
			if chunk.Last {
				s.SetState(peer.AwaitingInitial)
			}
		}
	case peer.Tunneling:
		if raw, ok := msg.(*channel.Raw); ok {
			s.client.forwardToTunnelPeer(s, raw)
		}
	default:
		s.log.Warn("server message dropped in unexpected state", "state", s.State())
	}
}

func (s *ServerSide) handleInitialResponse(resp *channel.ResponseHead) {
	if s.initialFlow != nil {
		s.initialFlow.Response = resp
	}
	last := !(resp.Chunked || resp.ContentLength > 0)
	s.client.respond(s, s.initialFlow, resp, last)
	if last {
		s.SetState(peer.AwaitingInitial)
	} else {
		s.SetState(peer.AwaitingChunk)
	}
}

func (s *ServerSide) OnWritabilityChanged(writable bool) {
	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()
	if !writable {
		c.ch.SetAutoRead(false)
		return
	}
	for _, other := range c.servers {
		if other.ch != nil && !other.ch.IsWritable() {
			return
		}
	}
	c.ch.SetAutoRead(true)
}

func (s *ServerSide) OnIdle() {
	s.log.Debug("server idle timeout", "authority", s.effectiveAuthority)
	s.disconnect()
}

func (s *ServerSide) OnInactive() {
	s.SetState(peer.Disconnected)
	s.client.onServerDisconnected(s)
}

func (s *ServerSide) OnException(err error) {
	LogErr(s.log, "server connection error", err, "authority", s.effectiveAuthority)
	s.disconnect()
}

func (s *ServerSide) disconnect() {
	if s.State() != peer.Disconnected {
		s.SetState(peer.DisconnectRequested)
	}
	if s.ch != nil {
		s.ch.Close()
	}
}
