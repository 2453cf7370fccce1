package server

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

var errLineTooLong = errors.New("line too long")

// netConnection adapts a net.Conn to the Connection interface. Reads go
// through a buffered reader so a command line and its data block may arrive
// in the same packet.
type netConnection struct {
	conn         net.Conn
	reader       *bufio.Reader
	writeTimeout time.Duration
}

func newNetConnection(conn net.Conn, maxLine int, writeTimeout time.Duration) *netConnection {
	return &netConnection{
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, maxLine),
		writeTimeout: writeTimeout,
	}
}

// ReadLine returns the next newline terminated line, terminator included.
func (c *netConnection) ReadLine(maxBytes int, timeout time.Duration) ([]byte, error) {
	if err := c.setReadDeadline(timeout); err != nil {
		return nil, err
	}

	line, err := c.reader.ReadSlice('\n')
	switch {
	case err == bufio.ErrBufferFull || (err == nil && len(line) > maxBytes):
		return nil, errors.Wrapf(errLineTooLong, "more than %d bytes", maxBytes)
	case err != nil:
		return nil, err
	}

	// ReadSlice hands out the reader's buffer; the next read overwrites it.
	out := make([]byte, len(line))
	copy(out, line)
	return out, nil
}

// Read returns exactly n bytes.
func (c *netConnection) Read(n int, timeout time.Duration) ([]byte, error) {
	if err := c.setReadDeadline(timeout); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Discard drops the next n bytes without buffering them.
func (c *netConnection) Discard(n int64, timeout time.Duration) error {
	if err := c.setReadDeadline(timeout); err != nil {
		return err
	}
	_, err := io.CopyN(io.Discard, c.reader, n)
	return err
}

func (c *netConnection) Write(p []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return errors.Wrap(err, "setting write deadline")
		}
	}
	_, err := c.conn.Write(p)
	return err
}

func (c *netConnection) Close() error {
	return c.conn.Close()
}

func (c *netConnection) setReadDeadline(timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	return errors.Wrap(c.conn.SetReadDeadline(time.Now().Add(timeout)), "setting read deadline")
}
