package server

import (
	"log"
	"sync"
	"time"

	"github.com/appserver-io/memcached/pkg/protocol"
	"github.com/pkg/errors"
)

// Connection is the transport a Handler serves. Reads block for at most
// timeout and return an error when nothing arrived in time.
type Connection interface {
	ReadLine(maxBytes int, timeout time.Duration) ([]byte, error)
	Read(n int, timeout time.Duration) ([]byte, error)
	Discard(n int64, timeout time.Duration) error
	Write(p []byte) error
	Close() error
}

// Worker is the pool slot that owns a connection. It is notified once the
// connection has been closed so the slot can be reused.
type Worker interface {
	NotifyShutdown()
}

var errEmptyRead = errors.New("empty read")

// HandlerOptions tune how a Handler serves a connection.
type HandlerOptions struct {
	Timeout     time.Duration // keep-alive timeout applied to every read
	MaxLine     int           // longest accepted command line, newline included
	MaxItemSize int           // largest accepted data block
	MaxRequests int           // commands served before closing, 0 for no limit
	Logger      *log.Logger   // traces every command when set
}

// Handler drives connections through read, parse, execute and write until
// they are closed.
type Handler struct {
	engine *Engine
	opts   HandlerOptions
}

// NewHandler creates a Handler executing commands with engine.
func NewHandler(engine *Engine, opts HandlerOptions) *Handler {
	if opts.MaxLine <= 0 {
		opts.MaxLine = protocol.DefaultMaxLine
	}
	if opts.MaxItemSize <= 0 {
		opts.MaxItemSize = protocol.DefaultMaxItemSize
	}
	return &Handler{engine: engine, opts: opts}
}

// Session ties a connection to the worker serving it. Close may be called
// from any goroutine, any number of times; only the first call closes the
// connection and notifies the worker.
type Session struct {
	conn   Connection
	worker Worker
	once   sync.Once
}

// NewSession creates a session for conn owned by worker.
func NewSession(conn Connection, worker Worker) *Session {
	return &Session{conn: conn, worker: worker}
}

// Close closes the connection and releases the worker.
func (s *Session) Close() {
	s.once.Do(func() {
		if err := s.conn.Close(); err != nil {
			log.Printf("Error closing connection: %v", err)
		}
		if s.worker != nil {
			s.worker.NotifyShutdown()
		}
	})
}

// Handle serves conn to completion.
func (h *Handler) Handle(conn Connection, worker Worker) {
	h.Serve(NewSession(conn, worker))
}

// Serve runs the command loop of a session and closes it when the loop ends,
// also when a command panics.
func (h *Handler) Serve(s *Session) {
	defer s.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Connection handler panic: %v", r)
			h.writeUnknownState(s)
		}
	}()

	req := protocol.NewRequestWithLimit(h.opts.MaxItemSize)
	for served := 1; ; served++ {
		resp, ok := h.next(s, req)
		if !ok {
			return
		}

		if resp.Data != "" {
			if err := s.conn.Write([]byte(resp.Data + protocol.Newline)); err != nil {
				h.tracef("write failed: %v", err)
				return
			}
		}

		switch resp.State {
		case protocol.StateResume, protocol.StateReset:
			req.Reset()
		case protocol.StateClose:
			req.Reset()
			return
		default:
			h.writeUnknownState(s)
			return
		}

		if h.opts.MaxRequests > 0 && served >= h.opts.MaxRequests {
			h.tracef("keep-alive limit of %d requests reached", h.opts.MaxRequests)
			return
		}
	}
}

// next reads and executes one command. Client mistakes are answered with
// CLIENT_ERROR and the loop moves on to the following command; ok is false
// when the connection has to be closed.
func (h *Handler) next(s *Session, req *protocol.Request) (resp protocol.Response, ok bool) {
	for {
		line, err := readNonEmpty(func() ([]byte, error) {
			return s.conn.ReadLine(h.opts.MaxLine, h.opts.Timeout)
		})
		if err != nil {
			h.fault(s, errors.Wrap(err, "reading command"))
			return resp, false
		}

		err = req.Push(line)
		if err == nil && !req.IsComplete() {
			var data []byte
			data, err = readNonEmpty(func() ([]byte, error) {
				return s.conn.Read(req.BytesToRead()+len(protocol.Newline), h.opts.Timeout)
			})
			if err != nil {
				h.fault(s, errors.Wrap(err, "reading data block"))
				return resp, false
			}
			err = req.Push(data)
		}

		switch {
		case err == nil && req.IsComplete():
			h.tracef("%s %s", req.Action, req.Key)
			return h.engine.Execute(req), true
		case err == nil:
			h.fault(s, errors.New("request incomplete after data block"))
			return resp, false
		case !protocol.IsProtocolError(err):
			h.fault(s, err)
			return resp, false
		}

		if !h.reject(s, req, err) {
			return resp, false
		}
		req.Reset()
	}
}

// reject answers a protocol error and drops the data block that belonged to
// a rejected storage command.
func (h *Handler) reject(s *Session, req *protocol.Request, cause error) bool {
	h.tracef("rejecting command: %v", cause)
	if err := s.conn.Write([]byte(protocol.ClientError(cause) + protocol.Newline)); err != nil {
		h.tracef("write failed: %v", err)
		return false
	}

	if n := req.Swallow(); n > 0 {
		if err := s.conn.Discard(n, h.opts.Timeout); err != nil {
			h.fault(s, errors.Wrap(err, "discarding data block"))
			return false
		}
	}
	return true
}

func readNonEmpty(fn func() ([]byte, error)) ([]byte, error) {
	p, err := fn()
	if err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, errEmptyRead
	}
	return p, nil
}

func (h *Handler) fault(s *Session, err error) {
	h.tracef("closing connection: %v", err)
	h.writeUnknownState(s)
}

func (h *Handler) writeUnknownState(s *Session) {
	// The peer may already be gone; nothing more to do if this write fails.
	_ = s.conn.Write([]byte(protocol.RespUnknownState + protocol.Newline))
}

func (h *Handler) tracef(format string, args ...interface{}) {
	if h.opts.Logger != nil {
		h.opts.Logger.Printf(format, args...)
	}
}
