package chainproxy

import "testing"

func TestAddGlobBypassSkipsMatchingHost(t *testing.T) {
	m := &Manager{}
	m.AddGlobBypass("*.internal.example.com")

	got, err := m.ChainProxy("svc.internal.example.com:443")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected bypass to skip proxying, got %q", got)
	}
}

func TestAddGlobBypassIsCaseInsensitive(t *testing.T) {
	m := &Manager{}
	m.AddGlobBypass("*.INTERNAL.example.com")

	got, err := m.ChainProxy("svc.internal.example.com:443")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected case-insensitive bypass match, got %q", got)
	}
}

func TestChainProxyNoProxyConfiguredReturnsEmpty(t *testing.T) {
	m := &Manager{}
	got, err := m.ChainProxy("example.com:80")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected no chained proxy with empty config, got %q", got)
	}
}
