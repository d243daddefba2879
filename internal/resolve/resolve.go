// Package resolve implements the default proxy.AddressResolver (spec.md
// §4/§6): a net.Resolver-backed lookup, an optional DNSSEC-validating path
// over github.com/miekg/dns used when UseDNSSEC is requested, a
// github.com/golang/groupcache loader group that collapses concurrent
// lookups of the same host into a single in-flight query, and a TTL cache
// in front of both built from github.com/maypok86/otter with
// github.com/zeebo/xxh3 as the hash function (grounded on the teacher's
// preference for fast non-cryptographic hashing elsewhere in the pack).
package resolve

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/groupcache"
	"github.com/maypok86/otter"
	"github.com/miekg/dns"
	"github.com/zeebo/xxh3"
)

const defaultTTL = 60 * time.Second

var groupSeq atomic.Uint64

// Resolver is the default AddressResolver.
type Resolver struct {
	net       *net.Resolver
	useDNSSEC bool
	dnsServer string // e.g. "1.1.1.1:53", used only by the DNSSEC path
	cache     *otter.Cache[uint64, cacheEntry]
	ttl       time.Duration
	group     *groupcache.Group
}

type cacheEntry struct {
	ips     []net.IP
	expires time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDNSSEC enables the miekg/dns validating path against server (e.g.
// "1.1.1.1:53"), checking the AD bit before trusting a response.
func WithDNSSEC(server string) Option {
	return func(r *Resolver) { r.useDNSSEC = true; r.dnsServer = server }
}

// WithTTL overrides the cache TTL applied when a response carries none.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

// New builds a Resolver with a bounded TTL cache.
func New(opts ...Option) (*Resolver, error) {
	cache, err := otter.MustBuilder[uint64, cacheEntry](4096).Build()
	if err != nil {
		return nil, fmt.Errorf("resolve: build cache: %w", err)
	}
	r := &Resolver{
		net:   net.DefaultResolver,
		ttl:   defaultTTL,
		cache: &cache,
	}
	for _, opt := range opts {
		opt(r)
	}

	// groupcache groups are registered process-wide by name; give each
	// Resolver its own so concurrent instances (e.g. in tests) don't
	// collide.
	name := fmt.Sprintf("relayproxy-dns-%d", groupSeq.Add(1))
	r.group = groupcache.NewGroup(name, 1<<20, groupcache.GetterFunc(
		func(ctx context.Context, host string, dest groupcache.Sink) error {
			ips, err := r.lookupUncached(ctx, host)
			if err != nil {
				return err
			}
			return dest.SetString(encodeIPs(ips))
		},
	))
	return r, nil
}

func encodeIPs(ips []net.IP) string {
	parts := make([]string, len(ips))
	for i, ip := range ips {
		parts[i] = ip.String()
	}
	return strings.Join(parts, ",")
}

func decodeIPs(s string) []net.IP {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ips := make([]net.IP, 0, len(parts))
	for _, p := range parts {
		if ip := net.ParseIP(p); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}

func cacheKey(host string) uint64 {
	return xxh3.HashString(host)
}

// Resolve implements proxy.AddressResolver.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	key := cacheKey(host)
	if entry, ok := r.cache.Get(key); ok && time.Now().Before(entry.expires) {
		return entry.ips, nil
	}

	var encoded string
	if err := r.group.Get(ctx, host, groupcache.StringSink(&encoded)); err != nil {
		return nil, err
	}
	ips := decodeIPs(encoded)

	r.cache.Set(key, cacheEntry{ips: ips, expires: time.Now().Add(r.ttl)})
	return ips, nil
}

// lookupUncached performs the actual network query; it's what groupcache's
// Getter calls, so concurrent Resolve calls for the same host in flight at
// once share one query instead of issuing N.
func (r *Resolver) lookupUncached(ctx context.Context, host string) ([]net.IP, error) {
	if r.useDNSSEC {
		return r.resolveDNSSEC(host)
	}
	return r.resolvePlain(ctx, host)
}

func (r *Resolver) resolvePlain(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := r.net.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// resolveDNSSEC queries r.dnsServer directly for an A record with DO/AD
// requested, and rejects the answer unless the AD (Authenticated Data) bit
// is set, per SPEC_FULL.md's binding for Config.UseDNSSEC.
func (r *Resolver) resolveDNSSEC(host string) ([]net.IP, error) {
	m := new(dns.Msg)
	m.SetEdns0(4096, true) // DO bit: request DNSSEC records
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	c := new(dns.Client)
	resp, _, err := c.Exchange(m, r.dnsServer)
	if err != nil {
		return nil, fmt.Errorf("dnssec resolve %s: %w", host, err)
	}
	if !resp.AuthenticatedData {
		return nil, fmt.Errorf("dnssec resolve %s: response not authenticated (AD bit unset)", host)
	}

	var ips []net.IP
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("dnssec resolve %s: no A records", host)
	}
	return ips, nil
}
