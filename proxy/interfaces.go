// Package proxy implements the intercepting HTTP/1.1 forward proxy described
// by spec.md: ClientSide/ServerSide peer connections wired together by a
// ConnectionFlow, CONNECT tunneling and TLS interception via cert.CA, chained
// upstream proxies, pluggable request/response filters, Basic proxy
// authentication, and activity tracking. Grounded throughout on the
// teacher's proxy/entry.go accept loop and proxy/addon.go fan-out pattern,
// generalized from net/http.Server-driven parsing to the internal/channel
// codec pipeline and internal/peer state machine.
package proxy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"

	"github.com/denisvmedia/relayproxy/internal/channel"
)

// FlowContext carries everything the rest of the pipeline needs to know
// about one client request/response exchange: its identity for activity
// correlation (spec.md §9's "same FlowID" decision on chaining retries) plus
// the live protocol objects a RequestFilter/ResponseFilter may inspect or
// rewrite.
type FlowContext struct {
	FlowID     string
	ClientAddr net.Addr
	// ClientIP is the best-effort real client address: the connection's
	// remote address, overridden by a forwarding header (not checked for
	// trust) when the proxy sits behind another L7 hop (spec.md's
	// "ActivityRecorder ... per-flow context").
	ClientIP    string
	Request     *channel.RequestHead
	RequestBody []byte // buffered request body, nil if streamed as chunks
	Response    *channel.ResponseHead
	Authority   string // host:port the request targets
	IsConnect   bool
	TargetAddr  string // resolved upstream address for this hop
}

// RequestFilter inspects or rewrites an outbound request. Returning a
// non-nil *channel.ResponseHead short-circuits the hop: the filter's
// response is sent to the client and the request is never forwarded
// (spec.md §4.5's "short-circuit" filter outcome).
type RequestFilter interface {
	FilterRequest(ctx context.Context, flow *FlowContext) (*channel.ResponseHead, error)
}

// ResponseFilter inspects or rewrites an inbound response before it's
// relayed to the client.
type ResponseFilter interface {
	FilterResponse(ctx context.Context, flow *FlowContext) error
}

// RequestFilterFunc adapts a function to RequestFilter.
type RequestFilterFunc func(ctx context.Context, flow *FlowContext) (*channel.ResponseHead, error)

func (f RequestFilterFunc) FilterRequest(ctx context.Context, flow *FlowContext) (*channel.ResponseHead, error) {
	return f(ctx, flow)
}

// ResponseFilterFunc adapts a function to ResponseFilter.
type ResponseFilterFunc func(ctx context.Context, flow *FlowContext) error

func (f ResponseFilterFunc) FilterResponse(ctx context.Context, flow *FlowContext) error {
	return f(ctx, flow)
}

// ActivityTracker observes proxy lifecycle events without being able to
// affect them (spec.md §4.7), fanned out by ActivityRecorder.
type ActivityTracker interface {
	RequestReceived(flow *FlowContext)
	RequestSent(flow *FlowContext, upstream string)
	ResponseReceived(flow *FlowContext)
	ConnectionFailed(flow *FlowContext, err error)
}

// ProxyAuthenticator validates Proxy-Authorization credentials for Basic
// auth (spec.md §4.8). Returning false causes a 407 response.
type ProxyAuthenticator interface {
	Authenticate(user, password string) bool
}

// ChainProxyManager decides, per request, whether to forward directly or
// through an upstream proxy (spec.md §4.4).
type ChainProxyManager interface {
	// ChainProxy returns the chained proxy URL to use for authority, or ""
	// for a direct connection.
	ChainProxy(authority string) (proxyURL string, err error)
}

// AddressResolver resolves a host to dial, decoupling DNS policy (DNSSEC
// validation, caching) from ServerSide's connect Step.
type AddressResolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

// KeyStoreManager issues/loads the leaf certificates the TLSServerCodec on
// the ClientSide's channel uses for MITM interception; satisfied by cert.CA.
type KeyStoreManager interface {
	GetCert(commonName string) (*tls.Certificate, error)
	GetRootCA() *x509.Certificate
}
