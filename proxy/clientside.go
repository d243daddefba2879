package proxy

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/denisvmedia/relayproxy/internal/channel"
	"github.com/denisvmedia/relayproxy/internal/helper"
	"github.com/denisvmedia/relayproxy/internal/peer"
)

// ClientSide is the concrete PeerConnection accepting HTTP from one client
// connection (spec.md §4.3), grounded on the teacher's entry.entry/ServeHTTP
// handling generalized from net/http.Server-driven dispatch to the
// internal/channel event-driven pipeline.
type ClientSide struct {
	*peer.Connection

	ch     *channel.Channel
	cfg    *Config
	log    *slog.Logger
	activity *ActivityRecorder

	mu                sync.Mutex
	servers           map[string]*ServerSide
	currentServer     *ServerSide
	connecting        int
	connected         int
	reused            int
	chainingDisabled  map[string]bool

	pendingFlow *FlowContext

	// onClose, if set, is called once from OnInactive so the owning Proxy
	// can drop this ClientSide from its registry (proxy/proxy.go's
	// ReapIdleServers sweep).
	onClose func()
}

// NewClientSide wraps conn as a ClientSide, wiring the http-decoder codec
// for request parsing and, if cfg.IdleTimeout is set, an idle-timer.
func NewClientSide(conn net.Conn, cfg *Config, log *slog.Logger) *ClientSide {
	cs := &ClientSide{
		Connection:       peer.NewConnection(0),
		cfg:              cfg,
		log:              log,
		activity:         NewActivityRecorder(cfg.ActivityTrackers...),
		servers:          make(map[string]*ServerSide),
		chainingDisabled: make(map[string]bool),
	}
	cs.ch = channel.New(conn, cs.Executor(), cs)
	cs.ch.AddCodec(channel.NewHTTPDecoder(channel.KindRequest))
	cs.ch.AddCodec(channel.NewHTTPEncoder())
	if cfg.IdleTimeout > 0 {
		cs.ch.AddCodec(channel.NewIdleTimer(cfg.IdleTimeout))
	}
	return cs
}

// Start begins reading from the client.
func (cs *ClientSide) Start() { cs.ch.Start() }

// --- channel.Handler ---

func (cs *ClientSide) OnActive() {
	cs.log.Debug("client connected", "remote", cs.ch.RemoteAddr())
	cs.SetState(peer.AwaitingInitial)
}

func (cs *ClientSide) OnRead(msg channel.Message) {
	switch cs.State() {
	case peer.AwaitingInitial:
		switch m := msg.(type) {
		case *channel.RequestHead:
			cs.handleInitialRequest(m)
		case *channel.Chunk:
			LogErr(cs.log, "chunk arrived while awaiting initial request", nil)
			cs.disconnect()
		}
	case peer.AwaitingChunk:
		if chunk, ok := msg.(*channel.Chunk); ok {
			cs.forwardChunk(chunk)
		}
	case peer.AwaitingProxyAuthentication:
		if req, ok := msg.(*channel.RequestHead); ok {
			cs.handleInitialRequest(req)
		}
		// anything else is discarded per spec.md §4.2
	case peer.Tunneling:
		if raw, ok := msg.(*channel.Raw); ok {
			cs.forwardRaw(raw)
		}
	default:
		cs.log.Warn("message dropped in unexpected state", "state", cs.State())
	}
}

func (cs *ClientSide) OnWritabilityChanged(writable bool) {
	cs.mu.Lock()
	servers := make([]*ServerSide, 0, len(cs.servers))
	for _, s := range cs.servers {
		servers = append(servers, s)
	}
	cs.mu.Unlock()

	for _, s := range servers {
		s.ch.SetAutoRead(writable)
	}
}

func (cs *ClientSide) OnIdle() {
	cs.log.Debug("client idle timeout")
	cs.disconnect()
}

func (cs *ClientSide) OnInactive() {
	cs.mu.Lock()
	servers := make([]*ServerSide, 0, len(cs.servers))
	for _, s := range cs.servers {
		servers = append(servers, s)
	}
	cs.mu.Unlock()

	for _, s := range servers {
		s.disconnect()
	}
	cs.SetState(peer.Disconnected)
	cs.Connection.Close()
	if cs.onClose != nil {
		cs.onClose()
	}
}

// reapIdleServers disconnects every owned ServerSide idle longer than
// threshold, for Proxy.ReapIdleServers' periodic sweep (SPEC_FULL.md §10).
func (cs *ClientSide) reapIdleServers(threshold time.Duration) {
	cs.mu.Lock()
	servers := make([]*ServerSide, 0, len(cs.servers))
	for _, s := range cs.servers {
		servers = append(servers, s)
	}
	cs.mu.Unlock()

	for _, s := range servers {
		if s.ch != nil && s.ch.IdleSince() > threshold {
			cs.log.Debug("reaping idle server connection", "authority", s.effectiveAuthority)
			s.disconnect()
		}
	}
}

func (cs *ClientSide) OnException(err error) {
	LogErr(cs.log, "client connection error", err)
	cs.disconnect()
}

func (cs *ClientSide) disconnect() {
	if cs.State() != peer.Disconnected {
		cs.SetState(peer.DisconnectRequested)
	}
	cs.ch.Close()
}

// --- request handling (spec.md §4.3) ---

func (cs *ClientSide) handleInitialRequest(req *channel.RequestHead) {
	if cs.cfg.Authenticator != nil {
		user, pass, ok := ParseProxyAuthorization(req.Header)
		if !ok || !cs.cfg.Authenticator.Authenticate(user, pass) {
			cs.ch.Write(ProxyAuthChallenge("Restricted Files"))
			cs.SetState(peer.AwaitingProxyAuthentication)
			return
		}
	}

	authority := parseAuthority(req)
	if authority == "" {
		cs.ch.Write(HTTPError(502, "Bad Gateway", req.URL))
		cs.disconnect()
		return
	}

	isConnect := strings.EqualFold(req.Method, "CONNECT")

	flow := &FlowContext{
		FlowID:     uuid.NewString(),
		ClientAddr: cs.ch.RemoteAddr(),
		ClientIP:   resolveClientIP(req, cs.ch.RemoteAddr().String()),
		Request:    req,
		Authority:  authority,
		IsConnect:  isConnect,
	}
	cs.activity.RequestReceived(flow)

	if cs.cfg.RequestFilter != nil {
		if shortCircuit, err := cs.cfg.RequestFilter.FilterRequest(context.Background(), flow); err != nil {
			cs.log.Warn("request filter error", "flow_id", flow.FlowID, "error", err)
			cs.ch.Write(HTTPError(502, "Bad Gateway", req.URL))
			cs.SetState(peer.AwaitingInitial)
			return
		} else if shortCircuit != nil {
			cs.rewriteResponseHeaders(shortCircuit)
			flow.Response = shortCircuit
			cs.ch.Write(shortCircuit)
			cs.activity.ResponseReceived(flow)
			cs.SetState(peer.AwaitingInitial)
			return
		}
	}

	chainURL, effectiveAuthority := cs.resolveChaining(authority)
	flow.TargetAddr = effectiveAuthority

	if !cs.cfg.Transparent && !isConnect {
		cs.rewriteRequestHeaders(req, httpChained(chainURL))
	}

	server := cs.lookupOrCreateServer(effectiveAuthority, authority, chainURL, isConnect, flow)

	cs.mu.Lock()
	cs.currentServer = server
	cs.pendingFlow = flow
	cs.mu.Unlock()

	server.submitInitialRequest(flow)

	switch {
	case isConnect:
		cs.SetState(peer.NegotiatingConnect)
	case req.Chunked || req.ContentLength > 0:
		cs.SetState(peer.AwaitingChunk)
	default:
		cs.SetState(peer.AwaitingInitial)
	}
}

func (cs *ClientSide) resolveChaining(authority string) (chainURL, effectiveAuthority string) {
	effectiveAuthority = authority
	if cs.cfg.ChainProxyManager == nil || cs.chainingDisabledFor(authority) {
		return "", authority
	}
	u, err := cs.cfg.ChainProxyManager.ChainProxy(authority)
	if err != nil || u == "" {
		return "", authority
	}
	parsed, perr := url.Parse(u)
	if perr != nil || parsed.Host == "" {
		return "", authority
	}
	if parsed.Scheme == "socks5" {
		// A SOCKS5 chain proxy is a transparent TCP tunnel, not an HTTP
		// peer: ServerSide.dial tunnels straight through to authority via
		// internal/helper.GetProxyConn, so the request target is never
		// rewritten to an absolute-URI the way an HTTP chain proxy needs.
		return u, authority
	}
	return u, parsed.Host
}

// httpChained reports whether chainURL is an HTTP(S) chain proxy that
// expects an absolute-URI request line, as opposed to a SOCKS5 tunnel that
// expects the request line it would send a direct origin.
func httpChained(chainURL string) bool {
	if chainURL == "" {
		return false
	}
	u, err := url.Parse(chainURL)
	return err == nil && u.Scheme != "socks5"
}

func (cs *ClientSide) chainingDisabledFor(authority string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.chainingDisabled[authority]
}

func (cs *ClientSide) disableChainingFor(authority string) {
	cs.mu.Lock()
	cs.chainingDisabled[authority] = true
	cs.mu.Unlock()
}

func (cs *ClientSide) lookupOrCreateServer(effectiveAuthority, ultimateAuthority, chainAuthority string, isConnect bool, flow *FlowContext) *ServerSide {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !isConnect {
		if s, ok := cs.servers[effectiveAuthority]; ok && s.State() != peer.Disconnected {
			cs.reused++
			return s
		}
	}

	s := NewServerSide(cs, effectiveAuthority, ultimateAuthority, chainAuthority, isConnect, cs.cfg, cs.log)
	if !isConnect {
		cs.servers[effectiveAuthority] = s
	}
	cs.connecting++
	go s.startFlow(context.Background(), flow)
	return s
}

func (cs *ClientSide) rewriteRequestHeaders(req *channel.RequestHead, chained bool) {
	helper.RewriteProxyConnection(req.Header)
	helper.RemoveSDCH(req.Header)
	helper.StripHopByHop(req.Header)
	helper.AddVia(req.Header, cs.cfg.ResolveProxyID())
	if !chained {
		if u, err := url.Parse(req.URL); err == nil {
			req.URL = helper.StripHost(u)
		}
	}
}

func (cs *ClientSide) rewriteResponseHeaders(resp *channel.ResponseHead) {
	helper.StripHopByHop(resp.Header)
	helper.AddVia(resp.Header, cs.cfg.ResolveProxyID())
	if resp.Header.Get("Date") == "" {
		resp.Header.Set("Date", helper.HTTPDate(time.Now()))
	}
	if resp.Chunked && resp.Proto != "HTTP/1.1" {
		resp.Proto = "HTTP/1.1"
	}
}

func (cs *ClientSide) forwardChunk(chunk *channel.Chunk) {
	cs.mu.Lock()
	server := cs.currentServer
	cs.mu.Unlock()
	if server != nil {
		server.ch.Write(chunk)
	}
	if chunk.Last {
		cs.SetState(peer.AwaitingInitial)
	}
}

func (cs *ClientSide) forwardRaw(raw *channel.Raw) {
	cs.mu.Lock()
	server := cs.currentServer
	cs.mu.Unlock()
	if server != nil {
		server.ch.Write(raw)
	}
}

// --- ServerSide -> ClientSide callbacks ---

// respond is called by ServerSide on every response head/chunk (spec.md
// §4.3 Respond). Response rewriting and the ResponseFilters apply when msg
// is a *channel.ResponseHead; last marks the end of the response and
// triggers the keep-alive close decisions.
func (cs *ClientSide) respond(server *ServerSide, flow *FlowContext, msg channel.Message, last bool) {
	if resp, ok := msg.(*channel.ResponseHead); ok {
		if !cs.cfg.Transparent {
			cs.rewriteResponseHeaders(resp)
		}
		for _, f := range cs.cfg.ResponseFilters {
			flow.Response = resp
			_ = f.FilterResponse(context.Background(), flow)
		}
		cs.activity.ResponseReceived(flow)
	}
	cs.ch.Write(msg)

	if !last {
		return
	}

	closeServer := !keepAlive(flow.Request) || !keepAliveResponse(flow.Response)
	closeClient := !keepAlive(flow.Request)

	if closeServer {
		server.disconnect()
	}
	if closeClient {
		cs.disconnect()
	}
}

func keepAlive(req *channel.RequestHead) bool {
	if req == nil {
		return true
	}
	tokens := helper.ConnectionTokens(req.Header)
	for _, t := range tokens {
		if strings.EqualFold(t, "close") {
			return false
		}
	}
	if req.Proto == "HTTP/1.0" {
		for _, t := range tokens {
			if strings.EqualFold(t, "keep-alive") {
				return true
			}
		}
		return false
	}
	return true
}

func keepAliveResponse(resp *channel.ResponseHead) bool {
	if resp == nil {
		return true
	}
	tokens := helper.ConnectionTokens(resp.Header)
	for _, t := range tokens {
		if strings.EqualFold(t, "close") {
			return false
		}
	}
	if resp.Proto == "HTTP/1.0" {
		for _, t := range tokens {
			if strings.EqualFold(t, "keep-alive") {
				return true
			}
		}
		return false
	}
	return true
}

// serverFlowStarted/serverFlowFinished implement the connect-flow
// coordination in spec.md §4.3: ClientSide stops reading while any
// ServerSide is mid-flow, and resumes once none remain.
func (cs *ClientSide) serverFlowStarted() {
	cs.ch.SetAutoRead(false)
}

func (cs *ClientSide) serverFlowFinished(suppressInitial bool) {
	cs.mu.Lock()
	cs.connecting--
	done := cs.connecting <= 0
	cs.mu.Unlock()
	if done {
		cs.ch.SetAutoRead(true)
		if !suppressInitial {
			cs.SetState(peer.AwaitingInitial)
		}
	}
}

func (cs *ClientSide) serverFlowFailed(server *ServerSide, authority string, chained bool, err error) {
	if chained {
		cs.disableChainingFor(authority)
		cs.log.Warn("chained connect failed, retrying direct", "authority", authority, "error", err)
		flow := cs.pendingFlowFor()
		if flow != nil {
			go server.retryDirect(context.Background(), flow)
			return
		}
	}

	cs.mu.Lock()
	cs.connecting--
	cs.mu.Unlock()

	LogErr(cs.log, "server connect failed", err, "authority", authority)
	flow := cs.pendingFlowFor()
	cs.activity.ConnectionFailed(flow, err)
	uri := authority
	if flow != nil && flow.Request != nil {
		uri = flow.Request.URL
	}
	kind := ClassifyErr(err)
	code, reason := StatusForKind(kind)
	cs.ch.Write(HTTPError(code, reason, uri))
	cs.ch.SetAutoRead(true)
}

func (cs *ClientSide) pendingFlowFor() *FlowContext {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.pendingFlow
}

// onServerDisconnected implements spec.md's "when a ServerSide disconnects,
// if no ServerSides remain connected, disconnect the client". Tunneled
// (CONNECT) connections always
// bring the client down with them since there's nothing left to multiplex.
func (cs *ClientSide) onServerDisconnected(s *ServerSide) {
	cs.mu.Lock()
	delete(cs.servers, s.effectiveAuthority)
	remaining := len(cs.servers)
	cs.mu.Unlock()

	if s.isConnect || remaining == 0 {
		cs.disconnect()
	}
}

// parseAuthority mirrors internal/helper.ParseHostAndPort's contract
// (absolute-URI host wins, else the Host header) but operates directly on a
// channel.RequestHead instead of *http.Request.
func parseAuthority(req *channel.RequestHead) string {
	if u, err := url.Parse(req.URL); err == nil && u.IsAbs() && u.Host != "" {
		return helper.CanonicalAddr(u)
	}
	if host := req.Header.Get("Host"); host != "" {
		defaultPort := "80"
		if strings.EqualFold(req.Method, "CONNECT") {
			defaultPort = "443"
		}
		if _, _, err := net.SplitHostPort(host); err == nil {
			return host
		}
		return host + ":" + defaultPort
	}
	return ""
}

// allServersWritable reports whether every ServerSide owned by cs currently
// reports writable, which is when saturation coupling resumes client reads
// (spec.md §4.3 "every ServerSide is writable again").
func (cs *ClientSide) allServersWritable() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, s := range cs.servers {
		if s.ch != nil && !s.ch.IsWritable() {
			return false
		}
	}
	return true
}

// completeConnectTunnel finishes the CONNECT handshake: replies
// "200 Connection established" to the client, installs the MITM TLS codec
// on the client side (and the TLS client codec on the server side) if
// interception is enabled, strips the HTTP codecs from the client channel
// (a CONNECT ServerSide never installs them), and transitions both to
// TUNNELING (spec.md §4.4 step 5).
func (cs *ClientSide) completeConnectTunnel(server *ServerSide) {
	cs.ch.Write(ConnectEstablished(cs.cfg.ResolveProxyID()))
	cs.ch.RemoveCodec("http-decoder")
	cs.ch.RemoveCodec("http-encoder")

	if cs.cfg.KeyStoreManager != nil {
		cs.ch.AddCodec(channel.NewTLSServerCodec(cs.cfg.KeyStoreManager))
		server.ch.AddCodec(channel.NewTLSClientCodec(hostOnly(server.ultimateAuthority), cs.cfg.InsecureSkipVerifyUpstream))
	}

	cs.SetState(peer.Tunneling)
	server.SetState(peer.Tunneling)
}

func hostOnly(authority string) string {
	host, _, err := net.SplitHostPort(authority)
	if err != nil {
		return authority
	}
	return host
}

// forwardToTunnelPeer relays raw bytes from a ServerSide to the client
// channel while TUNNELING (spec.md §4.2 "Read(raw)").
func (cs *ClientSide) forwardToTunnelPeer(server *ServerSide, raw *channel.Raw) {
	cs.ch.Write(raw)
}
