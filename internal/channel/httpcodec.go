package channel

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"
)

// Kind selects whether an HTTPDecoder parses request lines or status lines.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
)

const (
	maxInitialLineBytes = 8192
	maxHeaderBytes       = 16384
	maxChunkReadBytes    = 16384
)

type bodyMode int

const (
	modeHead bodyMode = iota
	modeLength
	modeChunked
	modeNone
)

// HTTPDecoder is the "http-decoder" codec: it turns the byte stream into a
// RequestHead/ResponseHead followed by zero or more Chunks, exactly the
// AWAITING_INITIAL / AWAITING_CHUNK split in spec.md §4.2. One instance is
// stateful across calls (it remembers whether it's mid-body).
type HTTPDecoder struct {
	kind Kind

	mode        bodyMode
	remaining   int64
	chunkReader io.Reader
}

// NewHTTPDecoder constructs a decoder for the given message kind.
func NewHTTPDecoder(kind Kind) *HTTPDecoder {
	return &HTTPDecoder{kind: kind, mode: modeHead}
}

func (d *HTTPDecoder) Name() string { return "http-decoder" }

func (d *HTTPDecoder) OnInstall(ch *Channel) { ch.SetDecode(d.decode) }

func (d *HTTPDecoder) OnRemove(ch *Channel) { ch.SetDecode(nil) }

func (d *HTTPDecoder) decode(ch *Channel) (Message, error) {
	switch d.mode {
	case modeHead:
		return d.decodeHead(ch)
	case modeLength:
		return d.decodeLengthChunk(ch)
	case modeChunked:
		return d.decodeChunkedChunk(ch)
	default:
		return d.decodeHead(ch)
	}
}

func (d *HTTPDecoder) decodeHead(ch *Channel) (Message, error) {
	tp := textproto.NewReader(ch.Reader())

	line, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}
	if len(line) > maxInitialLineBytes {
		return nil, fmt.Errorf("channel: initial line exceeds %d bytes", maxInitialLineBytes)
	}

	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read headers: %w", err)
	}
	header := http.Header(mimeHeader)
	if headerByteSize(header) > maxHeaderBytes {
		return nil, fmt.Errorf("channel: headers exceed %d bytes", maxHeaderBytes)
	}

	chunked := isChunked(header)
	contentLength := parseContentLength(header)

	switch {
	case chunked:
		d.mode = modeChunked
		d.chunkReader = httputil.NewChunkedReader(ch.Reader())
	case contentLength > 0:
		d.mode = modeLength
		d.remaining = contentLength
	default:
		d.mode = modeNone
	}

	if d.kind == KindRequest {
		return d.parseRequestLine(line, header, chunked, contentLength)
	}
	return d.parseStatusLine(line, header, chunked, contentLength)
}

func (d *HTTPDecoder) parseRequestLine(line string, header http.Header, chunked bool, contentLength int64) (Message, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("channel: malformed request line %q", line)
	}
	return &RequestHead{
		Method:        parts[0],
		URL:           parts[1],
		Proto:         parts[2],
		Header:        header,
		Chunked:       chunked,
		ContentLength: normalizeLen(contentLength, chunked),
	}, nil
}

func (d *HTTPDecoder) parseStatusLine(line string, header http.Header, chunked bool, contentLength int64) (Message, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("channel: malformed status line %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("channel: malformed status code %q", parts[1])
	}
	status := ""
	if len(parts) == 3 {
		status = parts[2]
	}
	// No-body responses (204/304/HEAD) are not special-cased: callers that
	// know the request was HEAD must treat any following body as absent
	// themselves. This is a known gap, not a silent behavior change.
	return &ResponseHead{
		StatusCode:    code,
		Status:        status,
		Proto:         parts[0],
		Header:        header,
		Chunked:       chunked,
		ContentLength: normalizeLen(contentLength, chunked),
	}, nil
}

func normalizeLen(n int64, chunked bool) int64 {
	if chunked || n < 0 {
		return -1
	}
	return n
}

func (d *HTTPDecoder) decodeLengthChunk(ch *Channel) (Message, error) {
	toRead := int64(maxChunkReadBytes)
	if d.remaining < toRead {
		toRead = d.remaining
	}
	buf := make([]byte, toRead)
	n, err := io.ReadFull(ch.Reader(), buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	d.remaining -= int64(n)
	last := d.remaining <= 0
	if last {
		d.mode = modeHead
	}
	return &Chunk{Data: buf[:n], Last: last}, nil
}

func (d *HTTPDecoder) decodeChunkedChunk(ch *Channel) (Message, error) {
	buf := make([]byte, maxChunkReadBytes)
	n, err := d.chunkReader.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	last := errors.Is(err, io.EOF)
	if last {
		d.mode = modeHead
		d.chunkReader = nil
	}
	return &Chunk{Data: buf[:n], Last: last}, nil
}

func isChunked(header http.Header) bool {
	for _, v := range header.Values("Transfer-Encoding") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "chunked") {
				return true
			}
		}
	}
	return false
}

func parseContentLength(header http.Header) int64 {
	v := header.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func headerByteSize(header http.Header) int {
	total := 0
	for name, values := range header {
		for _, v := range values {
			total += len(name) + len(v) + 4
		}
	}
	return total
}

// HTTPEncoder is the "http-encoder" codec: the inverse of HTTPDecoder. It
// serializes RequestHead/ResponseHead/Chunk messages to wire bytes. Chunk
// framing (chunked vs length-delimited) is decided by the Head message that
// preceded the chunks on the same Channel.
type HTTPEncoder struct {
	chunked bool
}

func NewHTTPEncoder() *HTTPEncoder { return &HTTPEncoder{} }

func (e *HTTPEncoder) Name() string { return "http-encoder" }

func (e *HTTPEncoder) OnInstall(ch *Channel) { ch.SetEncode(e.encode) }

func (e *HTTPEncoder) OnRemove(ch *Channel) { ch.SetEncode(nil) }

func (e *HTTPEncoder) encode(_ *Channel, msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *RequestHead:
		e.chunked = m.Chunked
		return encodeRequestLine(m), nil
	case *ResponseHead:
		e.chunked = m.Chunked
		return encodeStatusLine(m), nil
	case *Chunk:
		if e.chunked {
			return encodeChunkedBytes(m), nil
		}
		return m.Data, nil
	case []byte:
		return m, nil
	case *Raw:
		return m.Data, nil
	default:
		return nil, fmt.Errorf("channel: no encoding for message type %T", msg)
	}
}

func encodeRequestLine(h *RequestHead) []byte {
	var b strings.Builder
	b.WriteString(h.Method)
	b.WriteByte(' ')
	b.WriteString(h.URL)
	b.WriteByte(' ')
	b.WriteString(h.Proto)
	b.WriteString("\r\n")
	writeHeader(&b, h.Header)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func encodeStatusLine(h *ResponseHead) []byte {
	var b strings.Builder
	b.WriteString(h.Proto)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(h.StatusCode))
	if h.Status != "" {
		b.WriteByte(' ')
		b.WriteString(h.Status)
	}
	b.WriteString("\r\n")
	writeHeader(&b, h.Header)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func writeHeader(b *strings.Builder, header http.Header) {
	for name, values := range header {
		for _, v := range values {
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
}

func encodeChunkedBytes(c *Chunk) []byte {
	var b strings.Builder
	if len(c.Data) > 0 {
		fmt.Fprintf(&b, "%x\r\n", len(c.Data))
		b.Write(c.Data)
		b.WriteString("\r\n")
	}
	if c.Last {
		b.WriteString("0\r\n\r\n")
	}
	return []byte(b.String())
}
