// Package server implements the memcache text protocol server.
//
// A Server accepts TCP connections and hands each one to a Handler running
// on a worker from a bounded pool. Handlers parse commands with
// protocol.Request and execute them through an Engine against a shared
// cache.Store, while a single cache.Collector expires entries once per second.
//
// Architecture:
//   - TCP accept loop bounded by MaxConns workers
//   - One goroutine per connection, keep-alive until quit or a fault
//   - One Store behind one mutex, shared by every connection
//   - One collector goroutine for TTL expiry
//
// Example usage:
//
//	cfg := config.DefaultServerConfig()
//	srv := server.New(cfg)
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
package server

import (
	"context"
	"log"
	"net"
	"os"
	"sync"

	"github.com/appserver-io/memcached/pkg/cache"
	"github.com/appserver-io/memcached/pkg/config"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Stats are cumulative connection counters.
type Stats struct {
	Accepted atomic.Int64 // connections accepted
	Active   atomic.Int64 // connections currently open
	Rejected atomic.Int64 // accepts that failed
}

// Server represents one memcache server instance. The zero value is not
// usable; create servers with New.
//
// Example:
//
//	srv := server.New(cfg)
//	go func() {
//		if err := srv.Start(); err != nil {
//			log.Printf("Server error: %v", err)
//		}
//	}()
//
//	// Later, to stop the server
//	srv.Stop()
type Server struct {
	cfg       *config.ServerConfig
	store     *cache.Store
	engine    *Engine
	collector *cache.Collector
	handler   *Handler
	pool      *workerPool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	sessions map[*Session]struct{}

	Stats Stats
}

// New creates a Server from cfg. The server is not listening until Start or
// Serve is called.
func New(cfg *config.ServerConfig) *Server {
	var debug *log.Logger
	if cfg.LogLevel == "debug" {
		debug = log.New(os.Stderr, "memcached: ", log.LstdFlags|log.Lmicroseconds)
	}

	store := cache.NewStore()
	engine := NewEngine(store, cfg.Namespace)
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:       cfg,
		store:     store,
		engine:    engine,
		collector: cache.NewCollector(store, nil),
		handler: NewHandler(engine, HandlerOptions{
			Timeout:     cfg.ReadTimeoutDuration(),
			MaxLine:     cfg.MaxLine,
			MaxItemSize: cfg.MaxItemSize,
			MaxRequests: cfg.KeepAliveMax,
			Logger:      debug,
		}),
		pool:     newWorkerPool(cfg.MaxConns),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*Session]struct{}),
	}
}

// Start listens on the configured address and serves connections until Stop
// is called.
func (s *Server) Start() error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(s.ctx, "tcp", s.cfg.Address())
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.cfg.Address())
	}
	return s.Serve(listener)
}

// Serve accepts connections on l until Stop is called. It also runs the
// collector for as long as it serves. Serve returns nil after a clean stop.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("server already serving")
	}
	if s.ctx.Err() != nil {
		// Stop already ran and will not close l.
		s.mu.Unlock()
		_ = l.Close()
		return nil
	}
	s.listener = l
	s.wg.Add(1)
	s.mu.Unlock()

	log.Printf("memcached server listening on %s", l.Addr())

	go func() {
		defer s.wg.Done()
		if err := s.collector.Run(s.ctx); err != nil && err != context.Canceled {
			log.Printf("Collector stopped: %v", err)
		}
	}()

	for {
		w, err := s.pool.acquire(s.ctx)
		if err != nil {
			_ = l.Close()
			return nil
		}

		conn, err := l.Accept()
		if err != nil {
			w.NotifyShutdown()
			if s.ctx.Err() != nil {
				return nil
			}
			s.Stats.Rejected.Inc()
			log.Printf("Failed to accept connection: %v", err)
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return errors.Wrap(err, "accept")
		}

		s.Stats.Accepted.Inc()
		session := NewSession(newNetConnection(conn, s.cfg.MaxLine, s.cfg.WriteTimeoutDuration()), w)
		if !s.track(session) {
			session.Close()
			return nil
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(session)
			s.handler.Serve(session)
		}()
	}
}

// Stop closes the listener and every open connection, stops the collector and
// waits for all of them to finish.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	s.wg.Wait()
	return err
}

// Addr returns the listener address, or nil before Serve was called.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Collector returns the server's garbage collector.
func (s *Server) Collector() *cache.Collector {
	return s.collector
}

// ActiveWorkers returns how many pool workers are serving a connection.
func (s *Server) ActiveWorkers() int64 {
	return s.pool.Active()
}

func (s *Server) track(session *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.sessions[session] = struct{}{}
	s.Stats.Active.Inc()
	return true
}

func (s *Server) untrack(session *Session) {
	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()
	s.Stats.Active.Dec()
}
