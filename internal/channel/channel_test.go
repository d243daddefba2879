package channel

import (
	"net"
	"sync"
	"testing"
	"time"
)

// inlineExecutor runs posted funcs synchronously in the caller's goroutine;
// fine for tests since channel.go never posts from within an already-running
// executor call.
func inlineExecutor(fn func()) { fn() }

type recordingHandler struct {
	mu        sync.Mutex
	active    bool
	reads     []Message
	writable  []bool
	idle      int
	inactive  bool
	exception error
}

func (h *recordingHandler) OnActive() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = true
}

func (h *recordingHandler) OnRead(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reads = append(h.reads, msg)
}

func (h *recordingHandler) OnWritabilityChanged(writable bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writable = append(h.writable, writable)
}

func (h *recordingHandler) OnIdle() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.idle++
}

func (h *recordingHandler) OnInactive() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inactive = true
}

func (h *recordingHandler) OnException(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exception = err
}

func (h *recordingHandler) readCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reads)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestChannelRawEchoesRawBytes(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := &recordingHandler{}
	ch := New(server, inlineExecutor, h)
	ch.Start()
	defer ch.Close()

	go client.Write([]byte("hello"))

	waitFor(t, func() bool { return h.readCount() == 1 })
	raw, ok := h.reads[0].(*Raw)
	if !ok {
		t.Fatalf("expected *Raw, got %T", h.reads[0])
	}
	if string(raw.Data) != "hello" {
		t.Fatalf("got %q", raw.Data)
	}
}

func TestChannelWriteDelivers(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := &recordingHandler{}
	ch := New(server, inlineExecutor, h)
	ch.Start()
	defer ch.Close()

	done := ch.Write([]byte("pong"))

	buf := make([]byte, 4)
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "pong" {
		t.Fatalf("got %q", buf)
	}
	if err := <-done; err != nil {
		t.Fatalf("write future: %v", err)
	}
}

func TestChannelSetAutoReadGatesDelivery(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := &recordingHandler{}
	ch := New(server, inlineExecutor, h)
	ch.SetAutoRead(false)
	ch.Start()
	defer ch.Close()

	go client.Write([]byte("x"))
	time.Sleep(50 * time.Millisecond)
	if h.readCount() != 0 {
		t.Fatal("expected no reads while auto-read is disabled")
	}

	ch.SetAutoRead(true)
	waitFor(t, func() bool { return h.readCount() == 1 })
}

func TestHTTPDecoderParsesRequestLineAndHeaders(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := &recordingHandler{}
	ch := New(server, inlineExecutor, h)
	ch.AddCodec(NewHTTPDecoder(KindRequest))
	ch.Start()
	defer ch.Close()

	go client.Write([]byte("GET /foo HTTP/1.1\r\nHost: example.com\r\n\r\n"))

	waitFor(t, func() bool { return h.readCount() == 1 })
	head, ok := h.reads[0].(*RequestHead)
	if !ok {
		t.Fatalf("expected *RequestHead, got %T", h.reads[0])
	}
	if head.Method != "GET" || head.URL != "/foo" || head.Proto != "HTTP/1.1" {
		t.Fatalf("unexpected head: %+v", head)
	}
	if head.Header.Get("Host") != "example.com" {
		t.Fatalf("unexpected header: %v", head.Header)
	}
}

func TestHTTPDecoderReadsLengthDelimitedBody(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := &recordingHandler{}
	ch := New(server, inlineExecutor, h)
	ch.AddCodec(NewHTTPDecoder(KindRequest))
	ch.Start()
	defer ch.Close()

	go client.Write([]byte("POST /x HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"))

	waitFor(t, func() bool { return h.readCount() == 2 })
	head := h.reads[0].(*RequestHead)
	if head.ContentLength != 5 {
		t.Fatalf("expected content-length 5, got %d", head.ContentLength)
	}
	chunk := h.reads[1].(*Chunk)
	if string(chunk.Data) != "hello" || !chunk.Last {
		t.Fatalf("unexpected chunk: %+v", chunk)
	}
}

func TestHTTPEncoderRoundTripsResponse(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := &recordingHandler{}
	ch := New(server, inlineExecutor, h)
	ch.AddCodec(NewHTTPEncoder())
	ch.Start()
	defer ch.Close()

	resp := &ResponseHead{
		StatusCode: 200,
		Status:     "OK",
		Proto:      "HTTP/1.1",
		Header:     map[string][]string{"Content-Length": {"2"}},
	}
	ch.Write(resp)
	ch.Write(&Chunk{Data: []byte("ok")})

	buf := make([]byte, 512)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := string(buf[:n])
	if got[:len("HTTP/1.1 200 OK\r\n")] != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("unexpected status line in %q", got)
	}
}

func TestPipelineAddRemoveIsIdempotentByName(t *testing.T) {
	p := newPipeline()
	ch := &Channel{}
	c := NewHTTPDecoder(KindRequest)

	p.add(ch, c)
	p.add(ch, c)
	if !p.Has("http-decoder") {
		t.Fatal("expected codec present")
	}
	p.remove(ch, "http-decoder")
	if p.Has("http-decoder") {
		t.Fatal("expected codec removed")
	}
	p.remove(ch, "http-decoder")
}
