// Package chainproxy implements the default ChainProxyManager (spec.md
// §4.4/§6), grounded on the same environment-variable policy the Go standard
// library uses for http.ProxyFromEnvironment: golang.org/x/net/http/httpproxy.
// NO_PROXY bypass matching is extended with glob patterns via
// github.com/tidwall/match. Manager carries a github.com/jpillora/backoff
// RetryBackoff setting, but no dial path in this module reads it: a failed
// dial through the chosen proxy is not retried.
package chainproxy

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/tidwall/match"
	"golang.org/x/net/http/httpproxy"
)

// Manager is the default proxy.ChainProxyManager: environment-driven
// (HTTP_PROXY/HTTPS_PROXY/NO_PROXY), with an extra glob-pattern bypass list
// layered on top for patterns httpproxy.Config doesn't itself support.
type Manager struct {
	cfg          httpproxy.Config
	globBypass   []string
	RetryBackoff *backoff.Backoff
}

// FromEnvironment builds a Manager from the process environment, the same
// source http.ProxyFromEnvironment reads.
func FromEnvironment() *Manager {
	return &Manager{
		cfg: httpproxy.FromEnvironment().Value(),
		RetryBackoff: &backoff.Backoff{
			Min:    100 * time.Millisecond,
			Max:    2 * time.Second,
			Factor: 2,
		},
	}
}

// AddGlobBypass registers additional NO_PROXY-style glob patterns (e.g.
// "*.internal.example.com") matched case-insensitively against the request
// authority's host, independent of httpproxy.Config's own NoProxy parsing.
func (m *Manager) AddGlobBypass(patterns ...string) {
	m.globBypass = append(m.globBypass, patterns...)
}

// ChainProxy implements proxy.ChainProxyManager.
func (m *Manager) ChainProxy(authority string) (string, error) {
	host := authority
	if idx := strings.LastIndexByte(authority, ':'); idx >= 0 {
		host = authority[:idx]
	}
	for _, pattern := range m.globBypass {
		if match.Match(strings.ToLower(host), strings.ToLower(pattern)) {
			return "", nil
		}
	}

	reqURL, err := url.Parse(fmt.Sprintf("http://%s", authority))
	if err != nil {
		return "", fmt.Errorf("chainproxy: parse authority %q: %w", authority, err)
	}
	proxyURL, err := m.cfg.ProxyFunc()(reqURL)
	if err != nil {
		return "", fmt.Errorf("chainproxy: %w", err)
	}
	if proxyURL == nil {
		return "", nil
	}
	return proxyURL.String(), nil
}
