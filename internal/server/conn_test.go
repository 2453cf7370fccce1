package server

import (
	"bufio"
	"net"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/appserver-io/memcached/pkg/protocol"
)

func TestNetConnectionDiscard(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	nc := newNetConnection(srv, protocol.DefaultMaxLine, time.Second)
	defer nc.Close()

	go func() {
		_, _ = client.Write([]byte(strings.Repeat("x", 5000) + "\r\nget k\r\n"))
	}()

	if err := nc.Discard(5002, time.Second); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	line, err := nc.ReadLine(protocol.DefaultMaxLine, time.Second)
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if string(line) != "get k\r\n" {
		t.Errorf("Expected the command after the dropped block, got %q", line)
	}
}

func TestHandlerDoesNotBufferDeclaredBlock(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn := newNetConnection(srv, protocol.DefaultMaxLine, time.Second)
		NewHandler(newTestEngine(), HandlerOptions{Timeout: 5 * time.Second}).Handle(conn, nil)
	}()

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	_ = client.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := client.Write([]byte("set k 0 0 4000000000\r\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	r := bufio.NewReader(client)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if line != protocol.RespClientError+" object too large for cache\r\n" {
		t.Errorf("Unexpected reply %q", line)
	}

	// Part of the declared block arrives; it is dropped as it is read.
	if _, err := client.Write([]byte(strings.Repeat("x", 64*1024))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	runtime.ReadMemStats(&after)
	if grown := after.TotalAlloc - before.TotalAlloc; grown > 32<<20 {
		t.Errorf("Allocated %d MiB for a rejected block", grown>>20)
	}

	_ = client.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Handler did not return after the client went away")
	}
}
