package server

import (
	"bufio"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/appserver-io/memcached/pkg/protocol"
)

// fakeConn replays scripted client input and records everything written.
type fakeConn struct {
	in     *bufio.Reader
	out    strings.Builder
	closed int
}

func newFakeConn(input string) *fakeConn {
	return &fakeConn{in: bufio.NewReader(strings.NewReader(input))}
}

func (c *fakeConn) ReadLine(maxBytes int, _ time.Duration) ([]byte, error) {
	line, err := c.in.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) > maxBytes {
		return nil, errLineTooLong
	}
	return line, nil
}

func (c *fakeConn) Read(n int, _ time.Duration) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.in, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *fakeConn) Discard(n int64, _ time.Duration) error {
	_, err := io.CopyN(io.Discard, c.in, n)
	return err
}

func (c *fakeConn) Write(p []byte) error {
	c.out.Write(p)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed++
	return nil
}

type fakeWorker struct {
	notified int
}

func (w *fakeWorker) NotifyShutdown() {
	w.notified++
}

func serve(input string, opts HandlerOptions) (*fakeConn, *fakeWorker) {
	conn := newFakeConn(input)
	worker := &fakeWorker{}
	NewHandler(newTestEngine(), opts).Handle(conn, worker)
	return conn, worker
}

func TestHandlerSessionRoundTrip(t *testing.T) {
	conn, worker := serve("set k 5 0 3\r\nabc\r\nget k\r\ndelete k\r\nget k\r\nquit\r\n", HandlerOptions{})

	want := "STORED\r\n" +
		"VALUE k 5 3\r\nabc\r\nEND\r\n" +
		"DELETED\r\n" +
		"END\r\n"
	if conn.out.String() != want {
		t.Errorf("Expected %q, got %q", want, conn.out.String())
	}
	if conn.closed != 1 || worker.notified != 1 {
		t.Errorf("Expected one close and one notification, got %d and %d", conn.closed, worker.notified)
	}
}

func TestHandlerClientErrorKeepsConnection(t *testing.T) {
	conn, _ := serve("bogus\r\n\r\nget\r\nset k 0 0 2\r\nok\r\nquit\r\n", HandlerOptions{})

	lines := strings.Split(strings.TrimSuffix(conn.out.String(), "\r\n"), "\r\n")
	if len(lines) != 4 {
		t.Fatalf("Expected 4 responses, got %q", conn.out.String())
	}
	for _, line := range lines[:3] {
		if !strings.HasPrefix(line, protocol.RespClientError+" ") {
			t.Errorf("Expected a CLIENT_ERROR, got %q", line)
		}
	}
	if lines[3] != protocol.RespStored {
		t.Errorf("The connection should still accept commands, got %q", lines[3])
	}
}

func TestHandlerSwallowsRejectedData(t *testing.T) {
	longKey := strings.Repeat("k", protocol.MaxKeyLength+1)
	input := "set " + longKey + " 0 0 8\r\nget k\r\nX\r\n" + "get k\r\nquit\r\n"
	conn, _ := serve(input, HandlerOptions{})

	out := conn.out.String()
	if !strings.HasPrefix(out, protocol.RespClientError) {
		t.Fatalf("Expected a CLIENT_ERROR first, got %q", out)
	}
	// The data block looks like a command but must be dropped, so only the
	// second get is answered.
	if strings.Count(out, protocol.RespEnd) != 1 {
		t.Errorf("The rejected data block should not be executed, got %q", out)
	}
}

func TestHandlerRejectsOversizedItem(t *testing.T) {
	block := strings.Repeat("x", 32)
	input := "set big 0 0 32\r\n" + block + "\r\n" +
		"set small 0 0 16\r\n" + block[:16] + "\r\n" +
		"get big small\r\nquit\r\n"
	conn, worker := serve(input, HandlerOptions{MaxItemSize: 16})

	want := protocol.RespClientError + " object too large for cache\r\n" +
		"STORED\r\n" +
		"VALUE small 0 16\r\n" + block[:16] + "\r\nEND\r\n"
	if conn.out.String() != want {
		t.Errorf("Expected %q, got %q", want, conn.out.String())
	}
	if conn.closed != 1 || worker.notified != 1 {
		t.Error("The connection should only close on quit")
	}
}

func TestHandlerOversizedItemWithoutData(t *testing.T) {
	// The client declares a block it never sends; the reply comes first and
	// the connection ends once the input runs dry.
	conn, _ := serve("set k 0 0 4000000000\r\n", HandlerOptions{})

	want := protocol.RespClientError + " object too large for cache\r\n" + protocol.RespUnknownState + "\r\n"
	if conn.out.String() != want {
		t.Errorf("Expected %q, got %q", want, conn.out.String())
	}
}

func TestHandlerSwallowsEmptyRejectedBlock(t *testing.T) {
	conn, _ := serve("set k notanumber 0 0\r\n\r\nget k\r\nquit\r\n", HandlerOptions{})

	lines := strings.Split(strings.TrimSuffix(conn.out.String(), "\r\n"), "\r\n")
	if len(lines) != 2 || lines[1] != protocol.RespEnd {
		t.Errorf("Expected one CLIENT_ERROR and END, got %q", conn.out.String())
	}
}

func TestHandlerBadDataChunk(t *testing.T) {
	conn, _ := serve("set k 0 0 2\r\nabcd\r\nget k\r\nquit\r\n", HandlerOptions{})

	out := conn.out.String()
	if !strings.HasPrefix(out, protocol.RespClientError+" ") {
		t.Fatalf("Expected a CLIENT_ERROR, got %q", out)
	}
	if !strings.Contains(out, "bad data chunk") {
		t.Errorf("Expected the bad data chunk reason, got %q", out)
	}
}

func TestHandlerTransportFaultClosesConnection(t *testing.T) {
	// The client disconnects in the middle of a data block.
	conn, worker := serve("set k 0 0 10\r\nabc", HandlerOptions{})

	if conn.out.String() != protocol.RespUnknownState+"\r\n" {
		t.Errorf("Expected %q, got %q", protocol.RespUnknownState, conn.out.String())
	}
	if conn.closed != 1 || worker.notified != 1 {
		t.Error("A transport fault must close the connection")
	}
}

func TestHandlerLineTooLong(t *testing.T) {
	conn, _ := serve("get "+strings.Repeat("a", 100)+"\r\n", HandlerOptions{MaxLine: 64})

	if conn.out.String() != protocol.RespUnknownState+"\r\n" {
		t.Errorf("Expected an unknown state error, got %q", conn.out.String())
	}
}

func TestHandlerKeepAliveLimit(t *testing.T) {
	conn, _ := serve("get a\r\nget b\r\nget c\r\n", HandlerOptions{MaxRequests: 2})

	if got := strings.Count(conn.out.String(), protocol.RespEnd); got != 2 {
		t.Errorf("Expected 2 responses before closing, got %d", got)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	conn := newFakeConn("")
	worker := &fakeWorker{}
	s := NewSession(conn, worker)

	s.Close()
	s.Close()
	if conn.closed != 1 || worker.notified != 1 {
		t.Errorf("Expected a single teardown, got %d closes and %d notifications", conn.closed, worker.notified)
	}
}
