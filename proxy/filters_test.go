package proxy

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/denisvmedia/relayproxy/internal/channel"
)

func TestDecodeBodyIdentity(t *testing.T) {
	plain := []byte("hello world")
	decoded, err := DecodeBody(plain, "identity")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(decoded, plain) {
		t.Fatalf("got %q, want %q", decoded, plain)
	}
}

func TestDecodeBodyGzip(t *testing.T) {
	plain := []byte("hello world")
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(plain)
	_ = w.Close()

	decoded, err := DecodeBody(buf.Bytes(), "gzip")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(decoded, plain) {
		t.Fatalf("got %q, want %q", decoded, plain)
	}
}

func TestDecodeBodyDeflate(t *testing.T) {
	plain := []byte("hello world")
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.DefaultCompression)
	_, _ = w.Write(plain)
	_ = w.Close()

	decoded, err := DecodeBody(buf.Bytes(), "deflate")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(decoded, plain) {
		t.Fatalf("got %q, want %q", decoded, plain)
	}
}

func TestDecodeBodyZstd(t *testing.T) {
	plain := []byte("hello world")
	var buf bytes.Buffer
	w, _ := zstd.NewWriter(&buf)
	_, _ = w.Write(plain)
	_ = w.Close()

	decoded, err := DecodeBody(buf.Bytes(), "zstd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(decoded, plain) {
		t.Fatalf("got %q, want %q", decoded, plain)
	}
}

func TestDecodeBodyUnsupportedEncoding(t *testing.T) {
	if _, err := DecodeBody([]byte("x"), "unknown"); err == nil {
		t.Fatal("expected error for unsupported content-encoding")
	}
}

func TestEncodeBodyRoundTripsGzip(t *testing.T) {
	plain := []byte("round trip me")
	encoded, err := EncodeBody(plain, "gzip")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeBody(encoded, "gzip")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, plain) {
		t.Fatalf("got %q, want %q", decoded, plain)
	}
}

type fixedResponseFilter struct {
	mutate func(flow *FlowContext)
}

func (f fixedResponseFilter) FilterRequest(_ context.Context, flow *FlowContext) (*channel.ResponseHead, error) {
	f.mutate(flow)
	return nil, nil
}

func TestDecodingRequestFilterPresentsDecodedBodyAndRecompresses(t *testing.T) {
	plain := []byte("hello world")
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(plain)
	_ = w.Close()

	req := &channel.RequestHead{Header: make(map[string][]string)}
	req.Header.Set("Content-Encoding", "gzip")

	var sawDecoded []byte
	inner := fixedResponseFilter{mutate: func(flow *FlowContext) {
		sawDecoded = append([]byte(nil), flow.RequestBody...)
		flow.RequestBody = append(flow.RequestBody, '!')
	}}

	decorator := DecodingRequestFilter{Inner: inner}
	flow := &FlowContext{Request: req, RequestBody: buf.Bytes()}

	if _, err := decorator.FilterRequest(context.Background(), flow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(sawDecoded, plain) {
		t.Fatalf("inner filter saw %q, want %q", sawDecoded, plain)
	}

	final, err := DecodeBody(flow.RequestBody, "gzip")
	if err != nil {
		t.Fatalf("final body did not re-encode as gzip: %v", err)
	}
	if !bytes.Equal(final, append(append([]byte(nil), plain...), '!')) {
		t.Fatalf("got %q", final)
	}
}
