package proxy

import (
	"net/http"
	"testing"

	"github.com/denisvmedia/relayproxy/internal/channel"
)

func TestParseAuthorityFromAbsoluteURI(t *testing.T) {
	req := &channel.RequestHead{Method: "GET", URL: "http://example.com/path", Header: http.Header{}}
	if got := parseAuthority(req); got != "example.com:80" {
		t.Fatalf("got %q", got)
	}
}

func TestParseAuthorityFromHostHeader(t *testing.T) {
	req := &channel.RequestHead{Method: "GET", URL: "/path", Header: http.Header{"Host": []string{"example.com"}}}
	if got := parseAuthority(req); got != "example.com:80" {
		t.Fatalf("got %q", got)
	}
}

func TestParseAuthorityConnectDefaultsPort443(t *testing.T) {
	req := &channel.RequestHead{Method: "CONNECT", URL: "example.com:443", Header: http.Header{"Host": []string{"example.com"}}}
	if got := parseAuthority(req); got != "example.com:443" {
		t.Fatalf("got %q", got)
	}
}

func TestParseAuthorityEmptyWithoutHostOrAbsoluteURI(t *testing.T) {
	req := &channel.RequestHead{Method: "GET", URL: "/path", Header: http.Header{}}
	if got := parseAuthority(req); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestHTTPChainedTrueForHTTPProxy(t *testing.T) {
	if !httpChained("http://proxy.example:8080") {
		t.Fatal("expected http proxy to require absolute-URI rewriting")
	}
}

func TestHTTPChainedFalseForSOCKS5(t *testing.T) {
	if httpChained("socks5://proxy.example:1080") {
		t.Fatal("expected socks5 proxy to skip absolute-URI rewriting")
	}
}

func TestHTTPChainedFalseForNoChain(t *testing.T) {
	if httpChained("") {
		t.Fatal("expected no chain proxy to skip absolute-URI rewriting")
	}
}

func TestKeepAliveDefaultsTrueForHTTP11(t *testing.T) {
	req := &channel.RequestHead{Proto: "HTTP/1.1", Header: http.Header{}}
	if !keepAlive(req) {
		t.Fatal("expected HTTP/1.1 to default to keep-alive")
	}
}

func TestKeepAliveFalseOnConnectionClose(t *testing.T) {
	req := &channel.RequestHead{Proto: "HTTP/1.1", Header: http.Header{"Connection": []string{"close"}}}
	if keepAlive(req) {
		t.Fatal("expected Connection: close to disable keep-alive")
	}
}

func TestKeepAliveHTTP10RequiresExplicitToken(t *testing.T) {
	req := &channel.RequestHead{Proto: "HTTP/1.0", Header: http.Header{}}
	if keepAlive(req) {
		t.Fatal("expected HTTP/1.0 without keep-alive token to close")
	}
	req.Header.Set("Connection", "keep-alive")
	if !keepAlive(req) {
		t.Fatal("expected HTTP/1.0 with keep-alive token to stay open")
	}
}

func TestKeepAliveResponseFalseOnConnectionClose(t *testing.T) {
	resp := &channel.ResponseHead{Proto: "HTTP/1.1", Header: http.Header{"Connection": []string{"close"}}}
	if keepAliveResponse(resp) {
		t.Fatal("expected Connection: close to disable keep-alive")
	}
}

func TestKeepAliveNilIsAlwaysTrue(t *testing.T) {
	if !keepAlive(nil) {
		t.Fatal("expected nil request to default to keep-alive")
	}
	if !keepAliveResponse(nil) {
		t.Fatal("expected nil response to default to keep-alive")
	}
}
