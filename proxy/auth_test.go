package proxy

import (
	"net/http"
	"testing"
)

func TestParseProxyAuthorizationValid(t *testing.T) {
	h := http.Header{"Proxy-Authorization": []string{"Basic dXNlcjpwYXNz"}}
	user, pass, ok := ParseProxyAuthorization(h)
	if !ok || user != "user" || pass != "pass" {
		t.Fatalf("got user=%q pass=%q ok=%v", user, pass, ok)
	}
}

func TestParseProxyAuthorizationMissing(t *testing.T) {
	_, _, ok := ParseProxyAuthorization(http.Header{})
	if ok {
		t.Fatal("expected ok=false for missing header")
	}
}

func TestParseProxyAuthorizationMalformed(t *testing.T) {
	h := http.Header{"Proxy-Authorization": []string{"Bearer xyz"}}
	_, _, ok := ParseProxyAuthorization(h)
	if ok {
		t.Fatal("expected ok=false for non-Basic scheme")
	}
}

func TestStaticAuthenticator(t *testing.T) {
	a := StaticAuthenticator{Username: "u", Password: "p"}
	if !a.Authenticate("u", "p") {
		t.Fatal("expected correct credentials to authenticate")
	}
	if a.Authenticate("u", "wrong") {
		t.Fatal("expected wrong password to fail")
	}
}
