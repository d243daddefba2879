package proxy

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/denisvmedia/relayproxy/internal/helper"
)

// StaticAuthenticator is a fixed username/password ProxyAuthenticator,
// grounded on the teacher's cmd/go-mitmproxy DefaultBasicAuth.
type StaticAuthenticator struct {
	Username string
	Password string
}

func (a StaticAuthenticator) Authenticate(user, password string) bool {
	return user == a.Username && password == a.Password
}

// ParseProxyAuthorization extracts the username/password from a
// "Proxy-Authorization: Basic <base64>" header value. ok is false if the
// header is absent or malformed.
func ParseProxyAuthorization(header http.Header) (user, password string, ok bool) {
	v := header.Get("Proxy-Authorization")
	if v == "" {
		return "", "", false
	}
	const prefix = "Basic "
	if !strings.HasPrefix(v, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, prefix))
	if err != nil {
		return "", "", false
	}
	user, password, ok = strings.Cut(string(decoded), ":")
	return user, password, ok
}

// ProxyAuthChallenge is the 407 response demanding Basic credentials
// (spec.md's AWAITING_PROXY_AUTHENTICATION state, §8 scenario S2): an HTML
// body, a Date header, and Content-Type: text/html; charset=UTF-8 per the
// literal response spec.md pins.
func ProxyAuthChallenge(realm string) []byte {
	body := "<html><head><title>407 Proxy Authentication Required</title></head>" +
		"<body><h1>Proxy Authentication Required</h1></body></html>"
	return []byte(
		"HTTP/1.1 407 Proxy Authentication Required\r\n" +
			"Proxy-Authenticate: Basic realm=\"" + realm + "\"\r\n" +
			"Date: " + helper.HTTPDate(time.Now()) + "\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n" +
			"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
			"Connection: close\r\n\r\n" + body,
	)
}
