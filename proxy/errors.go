package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/denisvmedia/relayproxy/internal/helper"
)

// ErrorKind classifies a connection-level failure for logging and for
// choosing the status line sent back to the client (spec.md §7), grounded
// on the teacher's proxy/helper.go logErr/httpError pair.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindBenignDisconnect
	ErrorKindDNS
	ErrorKindConnectTimeout
	ErrorKindConnectRefused
	ErrorKindTLSHandshake
	ErrorKindAuthRequired
	ErrorKindMalformedRequest
	ErrorKindUpstreamReset
)

// ClassifyErr maps err to an ErrorKind. Benign disconnects (EOF, closed
// connection, connection reset by peer) are classified separately so callers can
// skip noisy logging for them, matching the teacher's logErr behavior of
// silencing io.EOF/"use of closed network connection".
func ClassifyErr(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection reset by peer"):
		return ErrorKindBenignDisconnect
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorKindDNS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindConnectTimeout
	}

	if strings.Contains(err.Error(), "connection refused") {
		return ErrorKindConnectRefused
	}
	if strings.Contains(err.Error(), "tls:") || strings.Contains(err.Error(), "x509:") {
		return ErrorKindTLSHandshake
	}

	return ErrorKindUnknown
}

// LogErr logs err at a level appropriate to its ErrorKind: benign
// disconnects at Debug, everything else at Warn. Mirrors the
// teacher's logErr, generalized to slog.
func LogErr(logger *slog.Logger, msg string, err error, args ...any) {
	if err == nil {
		return
	}
	kind := ClassifyErr(err)
	args = append(args, "error", err, "kind", kind)
	if kind == ErrorKindBenignDisconnect {
		logger.Debug(msg, args...)
		return
	}
	logger.Warn(msg, args...)
}

// StatusForKind returns the HTTP status line the client should see for a
// given failure kind, used when a hop fails before any response is relayed.
func StatusForKind(kind ErrorKind) (code int, reason string) {
	switch kind {
	case ErrorKindDNS:
		return 502, "Bad Gateway"
	case ErrorKindConnectTimeout:
		return 504, "Gateway Timeout"
	case ErrorKindConnectRefused:
		return 502, "Bad Gateway"
	case ErrorKindTLSHandshake:
		return 502, "Bad Gateway"
	case ErrorKindAuthRequired:
		return 407, "Proxy Authentication Required"
	case ErrorKindMalformedRequest:
		return 400, "Bad Request"
	case ErrorKindUpstreamReset:
		return 502, "Bad Gateway"
	default:
		return 502, "Bad Gateway"
	}
}

// HTTPError renders a minimal text/plain error response body+status line,
// grounded on the teacher's httpError helper. uri is the request-URI that
// failed to be relayed; spec.md §6 mandates the body "<reason>: <uri>"
// (e.g. "Bad Gateway: http://example.org/a"). An empty uri omits the colon
// suffix.
func HTTPError(code int, reason, uri string) []byte {
	body := reason
	if uri != "" {
		body = fmt.Sprintf("%s: %s", reason, uri)
	}
	return []byte(fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		code, reason, len(body), body,
	))
}

// ConnectEstablished renders the literal CONNECT-success reply (spec.md §6,
// §8 scenario S3): the doubled "HTTP/1.1 200" status text is verbatim per
// spec, with Connection/Proxy-Connection keep-alive hints and a Via header
// appended through the same helper.AddVia path every other hop uses.
func ConnectEstablished(proxyID string) []byte {
	header := http.Header{}
	header.Set("Connection", "Keep-Alive")
	header.Set("Proxy-Connection", "Keep-Alive")
	helper.AddVia(header, proxyID)

	var b strings.Builder
	b.WriteString("HTTP/1.1 200 HTTP/1.1 200 Connection established\r\n")
	for _, name := range []string{"Connection", "Proxy-Connection", "Via"} {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(header.Get(name))
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}
