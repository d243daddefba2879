// Package helper collects small, independently testable pieces of protocol
// plumbing shared by proxy.ClientSide and proxy.ServerSide: URI/host
// parsing, hop-by-hop header scrubbing, Via composition, and HTTP-date
// formatting (spec.md §4.6).
package helper

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
)

// hopByHopHeaders are stripped on every hop per RFC 2616 §13.5.1, regardless
// of whether they're also named by a Connection token.
var hopByHopHeaders = []string{
	"connection",
	"keep-alive",
	"proxy-authenticate",
	"proxy-authorization",
	"te",
	"trailers",
	"upgrade",
}

// ParseHostAndPort returns the authority (host:port) a request targets:
// the absolute-URI's host if present, else the Host header, else "".
func ParseHostAndPort(req *http.Request) string {
	if req.URL != nil && req.URL.IsAbs() && req.URL.Host != "" {
		return CanonicalAddr(req.URL)
	}
	if req.Host != "" {
		return canonicalHostPort(req.Host, schemeDefaultPort(req.URL))
	}
	return ""
}

func schemeDefaultPort(u *url.URL) string {
	if u != nil && u.Scheme == "https" {
		return "443"
	}
	return "80"
}

func canonicalHostPort(hostport, defaultPort string) string {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport + ":" + defaultPort
	}
	if port == "" {
		port = defaultPort
	}
	return host + ":" + port
}

// StripHost removes the scheme+authority from an absolute-form request-URI,
// leaving only path?query, for use on a direct (non-chained) outbound hop.
func StripHost(u *url.URL) string {
	stripped := *u
	stripped.Scheme = ""
	stripped.Host = ""
	stripped.User = nil
	out := stripped.String()
	if out == "" {
		return "/"
	}
	return out
}

// IsChunked reports whether message declares a chunked transfer encoding.
func IsChunked(header http.Header) bool {
	for _, v := range header.Values("Transfer-Encoding") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "chunked") {
				return true
			}
		}
	}
	return false
}

// ConnectionTokens returns the header names listed in the Connection header,
// which must themselves be removed before forwarding (RFC 2616 §14.10).
func ConnectionTokens(header http.Header) []string {
	var tokens []string
	for _, v := range header.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens
}

// StripHopByHop removes hop-by-hop headers and any header named by a
// Connection token, case-insensitively. It is idempotent: running it twice
// yields the same header set (spec.md §8 invariant 5).
func StripHopByHop(header http.Header) {
	tokens := ConnectionTokens(header)
	remove := lo.Map(append(append([]string{}, hopByHopHeaders...), tokens...), func(h string, _ int) string {
		return strings.ToLower(h)
	})
	removeSet := lo.SliceToMap(remove, func(h string) (string, struct{}) { return h, struct{}{} })

	for name := range header {
		if _, drop := removeSet[strings.ToLower(name)]; drop {
			header.Del(name)
		}
	}
}

// RewriteProxyConnection renames a Proxy-Connection header to Connection,
// preserving its value, per spec.md's "treat as synonym" design note.
func RewriteProxyConnection(header http.Header) {
	if vals, ok := header["Proxy-Connection"]; ok {
		header.Del("Proxy-Connection")
		for _, v := range vals {
			header.Add("Connection", v)
		}
	}
}

// RemoveSDCH strips the "sdch" token from Accept-Encoding, an obsolete
// encoding no origin actually needs the proxy to advertise support for.
func RemoveSDCH(header http.Header) {
	v := header.Get("Accept-Encoding")
	if v == "" {
		return
	}
	kept := lo.Filter(strings.Split(v, ","), func(tok string, _ int) bool {
		return !strings.EqualFold(strings.TrimSpace(tok), "sdch")
	})
	for i, tok := range kept {
		kept[i] = strings.TrimSpace(tok)
	}
	if len(kept) == 0 {
		header.Del("Accept-Encoding")
		return
	}
	header.Set("Accept-Encoding", strings.Join(kept, ", "))
}

// AddVia appends "1.1 <proxyID>" to an existing Via header or sets one.
// Entries keep the order in which the proxies appended them, so the
// left-most entry is the first hop.
func AddVia(header http.Header, proxyID string) {
	entry := "1.1 " + proxyID
	if existing := header.Get("Via"); existing != "" {
		header.Set("Via", existing+", "+entry)
		return
	}
	header.Set("Via", entry)
}

// HTTPDate formats t (or now, if zero) as an RFC 1123 GMT HTTP-date.
func HTTPDate(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(http.TimeFormat)
}
