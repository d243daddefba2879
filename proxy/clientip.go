package proxy

import (
	"net/http"

	"github.com/tomasen/realip"

	"github.com/denisvmedia/relayproxy/internal/channel"
)

// resolveClientIP returns the connection's remote address unless the
// request carries a forwarding header, in which case the left-most
// untrusted-but-informative hop from X-Forwarded-For/Forwarded wins
// (grounded on sammck-go-wstunnel's use of github.com/tomasen/realip for
// deployments that sit behind an L7 load balancer).
func resolveClientIP(req *channel.RequestHead, remoteAddr string) string {
	r := &http.Request{Header: req.Header, RemoteAddr: remoteAddr}
	if ip := realip.FromRequest(r); ip != "" {
		return ip
	}
	return remoteAddr
}
