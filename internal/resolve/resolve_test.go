package resolve

import (
	"context"
	"net"
	"testing"
)

func TestResolveNumericHostSkipsLookup(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ips, err := r.Resolve(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(ips) != 1 || !ips[0].Equal(net.ParseIP("127.0.0.1")) {
		t.Fatalf("unexpected ips: %v", ips)
	}
}

func TestCacheKeyIsStablePerHost(t *testing.T) {
	if cacheKey("example.com") != cacheKey("example.com") {
		t.Fatal("expected stable cache key for the same host")
	}
	if cacheKey("example.com") == cacheKey("example.org") {
		t.Fatal("expected different hosts to hash differently")
	}
}
