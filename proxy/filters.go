package proxy

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/denisvmedia/relayproxy/internal/channel"
)

// DecodeBody returns body decompressed according to contentEncoding, so a
// RequestFilter/ResponseFilter can inspect text it would otherwise see as
// opaque bytes. Grounded on the teacher's proxy.Request.DecodedBody (its
// implementation was filtered out of the pack, but its test table in
// encoding_test.go pins the contract: identity/empty passthrough, gzip,
// deflate, zstd, and an error for anything else).
func DecodeBody(body []byte, contentEncoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return io.ReadAll(r)
	case "zstd":
		r, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", contentEncoding)
	}
}

// EncodeBody re-compresses body with contentEncoding, the inverse of
// DecodeBody, so a filter that mutated a decoded body can restore the
// original framing before the bytes are forwarded.
func EncodeBody(body []byte, contentEncoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "deflate":
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "zstd":
		var buf bytes.Buffer
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", contentEncoding)
	}
}

// DecodingRequestFilter wraps an inner filter, presenting it with a
// decompressed FlowContext.RequestBody and re-compressing any body the inner
// filter modified before the real request is forwarded upstream.
type DecodingRequestFilter struct {
	Inner RequestFilter
}

func (f DecodingRequestFilter) FilterRequest(ctx context.Context, flow *FlowContext) (*channel.ResponseHead, error) {
	encoding := ""
	if flow.Request != nil {
		encoding = flow.Request.Header.Get("Content-Encoding")
	}
	original := flow.RequestBody
	decoded, err := DecodeBody(original, encoding)
	if err != nil {
		// Not decodable (or encoding we don't know): hand the filter the raw
		// bytes rather than failing the request over a body it may not even
		// inspect.
		return f.Inner.FilterRequest(ctx, flow)
	}

	flow.RequestBody = decoded
	resp, err := f.Inner.FilterRequest(ctx, flow)
	if err != nil {
		flow.RequestBody = original
		return nil, err
	}

	if !bytes.Equal(flow.RequestBody, decoded) {
		recoded, err := EncodeBody(flow.RequestBody, encoding)
		if err != nil {
			return nil, err
		}
		flow.RequestBody = recoded
	} else {
		flow.RequestBody = original
	}
	return resp, nil
}
