package proxy

import (
	"time"

	"github.com/google/uuid"
)

// Config is the proxy's full set of knobs (spec.md §6), grounded on the
// teacher's proxy/config.go but generalized from a single addon list to the
// filter/tracker/authenticator/chain-proxy/resolver collaborator set §6
// names. Zero value is a usable direct, unauthenticated, non-MITM proxy
// listening nowhere in particular; Addr must still be set.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Transparent, when true, skips proxy-specific request and response
	// header rewriting. CONNECT requests are handled the same either way.
	Transparent bool

	// IdleTimeout closes a peer connection after this much inactivity.
	// Zero disables idle timeouts.
	IdleTimeout time.Duration

	// RequestTimeout is carried in the configuration, but nothing in this
	// package reads it: no per-request timeout is enforced and no 504 is
	// sent for it. The only timeout on the upstream leg is ServerSide's
	// fixed 10-second dial timeout, whose expiry the client sees as 504.
	RequestTimeout time.Duration

	// Authenticator validates Proxy-Authorization credentials. Nil means
	// proxy auth is not required.
	Authenticator ProxyAuthenticator

	// ChainProxyManager decides per-request whether to chain to an
	// upstream proxy. Nil means always connect directly.
	ChainProxyManager ChainProxyManager

	// RequestFilter and ResponseFilters run in the order given
	// (RequestFilter is singular: short-circuiting needs exactly one
	// decision point; ResponseFilters is plural since none of them can
	// veto delivery).
	RequestFilter   RequestFilter
	ResponseFilters []ResponseFilter

	// ActivityTrackers are fanned out to by ActivityRecorder.
	ActivityTrackers []ActivityTracker

	// KeyStoreManager issues leaf certificates for MITM interception. Nil
	// disables interception: CONNECT requests are tunneled opaquely.
	KeyStoreManager KeyStoreManager

	// InsecureSkipVerifyUpstream disables certificate verification when
	// dialing TLS origins/chained proxies. Only ever for lab use.
	InsecureSkipVerifyUpstream bool

	// UseDNSSEC records whether address resolution is DNSSEC-validated.
	// Package proxy does not read it; cmd/relayproxy builds AddressResolver
	// with internal/resolve's DNSSEC path when the setting is on.
	UseDNSSEC bool

	// EnableGeoIPTracking and GeoIPDBPath record the GeoIP-tracking
	// settings. Package proxy does not read them; cmd/relayproxy builds the
	// GeoIP-enriching tracker (internal/activity) and appends it to
	// ActivityTrackers.
	EnableGeoIPTracking bool
	GeoIPDBPath         string

	// ActivityDBPath records the durable SQLite activity log path. Package
	// proxy does not read it; cmd/relayproxy builds the SQLite tracker
	// (internal/activity) and appends it to ActivityTrackers.
	ActivityDBPath string

	// ProxyID identifies this proxy instance in the Via header (spec.md
	// §4.6). Defaults to a freshly generated UUID if empty.
	ProxyID string

	// AddressResolver overrides the default internal/resolve resolver.
	AddressResolver AddressResolver
}

// ResolveProxyID returns c.ProxyID, generating and caching a UUID if unset.
func (c *Config) ResolveProxyID() string {
	if c.ProxyID == "" {
		c.ProxyID = uuid.NewString()
	}
	return c.ProxyID
}
