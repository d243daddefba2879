// Package channel implements BufferedChannel (spec.md §4.1): a bidirectional,
// ordered byte-message transport over a net.Conn, with writability
// signaling, auto-read gating, and a pipeline of named codecs that can be
// installed or removed while the channel is running (http-decoder,
// http-encoder, idle-timer, tls).
package channel

import "net/http"

// Message is anything a Channel hands to its Handler on read, or accepts on
// Write. Concrete kinds: *RequestHead, *ResponseHead, *Chunk, *Raw.
type Message any

// RequestHead is the parsed head of an HTTP request (spec.md's "initial
// request"): request line plus headers, body delivered as subsequent Chunks.
type RequestHead struct {
	Method  string
	URL     string
	Proto   string
	Header  http.Header
	Chunked bool
	// ContentLength is -1 when unknown (chunked or no body framing given).
	ContentLength int64
}

// ResponseHead is the parsed head of an HTTP response.
type ResponseHead struct {
	StatusCode int
	Status     string
	Proto      string
	Header     http.Header
	Chunked    bool
	ContentLength int64
}

// Chunk is one forwarded unit of a request/response body. Last is true for
// the end-of-stream marker (spec.md's "is_last_chunk"); a last Chunk may
// still carry trailing bytes read in the same unit.
type Chunk struct {
	Data []byte
	Last bool
}

// Raw is an opaque byte span forwarded verbatim while the channel is
// TUNNELING (spec.md §4.2): no codec interprets it.
type Raw struct {
	Data []byte
}
