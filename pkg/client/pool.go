package client

import (
	"bufio"
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrPoolTimeout is returned when every connection of a node stays busy for
// longer than the connect timeout.
var ErrPoolTimeout = errors.New("memcache: connection pool timeout")

var errPoolClosed = errors.New("memcache: connection pool closed")

// conn is one pooled connection with its buffered reader and writer.
type conn struct {
	nc net.Conn
	rw *bufio.ReadWriter
}

func (c *conn) extendDeadlines(read, write time.Duration) error {
	now := time.Now()
	if err := c.nc.SetReadDeadline(now.Add(read)); err != nil {
		return err
	}
	return c.nc.SetWriteDeadline(now.Add(write))
}

func (c *conn) close() {
	if err := c.nc.Close(); err != nil {
		log.Printf("Error closing connection: %v", err)
	}
}

// ConnectionPool keeps up to maxConns connections to a single node. New
// connections are dialed on demand; callers wait for a free one once the
// limit is reached.
type ConnectionPool struct {
	connections chan *conn
	address     string
	connTimeout time.Duration
	mu          sync.Mutex // protects created and closed
	maxConns    int
	created     int
	closed      bool
}

func newConnectionPool(address string, maxConns int, connTimeout time.Duration) *ConnectionPool {
	return &ConnectionPool{
		connections: make(chan *conn, maxConns),
		address:     address,
		connTimeout: connTimeout,
		maxConns:    maxConns,
	}
}

// Get returns an idle connection or dials a new one.
func (cp *ConnectionPool) Get() (*conn, error) {
	select {
	case c, ok := <-cp.connections:
		if !ok {
			return nil, errPoolClosed
		}
		return c, nil
	default:
	}

	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil, errPoolClosed
	}
	if cp.created < cp.maxConns {
		cp.created++
		cp.mu.Unlock()

		dialer := &net.Dialer{Timeout: cp.connTimeout}
		nc, err := dialer.DialContext(context.Background(), "tcp", cp.address)
		if err != nil {
			cp.release()
			return nil, errors.Wrapf(err, "dial %s", cp.address)
		}
		return &conn{nc: nc, rw: bufio.NewReadWriter(bufio.NewReader(nc), bufio.NewWriter(nc))}, nil
	}
	cp.mu.Unlock()

	timer := time.NewTimer(cp.connTimeout)
	defer timer.Stop()
	select {
	case c, ok := <-cp.connections:
		if !ok {
			return nil, errPoolClosed
		}
		return c, nil
	case <-timer.C:
		return nil, ErrPoolTimeout
	}
}

// Put hands a healthy connection back for reuse.
func (cp *ConnectionPool) Put(c *conn) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.closed {
		c.close()
		return
	}
	select {
	case cp.connections <- c:
	default:
		c.close()
		cp.created--
	}
}

// Discard closes a connection that saw a transport error.
func (cp *ConnectionPool) Discard(c *conn) {
	c.close()
	cp.release()
}

// Close closes every idle connection. Connections still in use are closed
// when they are handed back.
func (cp *ConnectionPool) Close() {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.closed {
		return
	}
	cp.closed = true
	close(cp.connections)
	for c := range cp.connections {
		c.close()
	}
}

func (cp *ConnectionPool) release() {
	cp.mu.Lock()
	cp.created--
	cp.mu.Unlock()
}
