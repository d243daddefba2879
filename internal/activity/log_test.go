package activity

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/denisvmedia/relayproxy/internal/channel"
	"github.com/denisvmedia/relayproxy/proxy"
)

func TestLogTrackerRequestReceivedIncludesMethodAndURL(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tr := NewLogTracker(logger)

	tr.RequestReceived(&proxy.FlowContext{
		FlowID:  "abc",
		Request: &channel.RequestHead{Method: "GET", URL: "/x"},
	})

	out := buf.String()
	if !strings.Contains(out, "GET") || !strings.Contains(out, "/x") {
		t.Fatalf("expected method/url in log output, got %q", out)
	}
}

func TestLogTrackerConnectionFailedHandlesNilFlow(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tr := NewLogTracker(logger)

	tr.ConnectionFailed(nil, errTest)

	if !strings.Contains(buf.String(), "connection failed") {
		t.Fatalf("expected log line, got %q", buf.String())
	}
}

var errTest = testErr("boom")

type testErr string

func (e testErr) Error() string { return string(e) }
