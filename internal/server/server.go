// Package server accepts chat connections and runs one session handler per
// connection until it terminates.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"roomchat/internal/notify"
	"roomchat/internal/protocol"
	"roomchat/internal/registry"
)

// Config collects the acceptor settings.
type Config struct {
	Addr          string
	MaxFrameBytes int64
	RateLimit     RateLimitConfig
	Logger        *logrus.Logger
}

// Server is the TCP connection acceptor.
type Server struct {
	cfg Config
	reg *registry.Registry
	hub *notify.Hub

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[protocol.Conn]struct{}
}

// New creates a server bound to the given registry and hub.
func New(cfg Config, reg *registry.Registry, hub *notify.Hub) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = protocol.DefaultMaxFrameBytes
	}
	return &Server{
		cfg:   cfg,
		reg:   reg,
		hub:   hub,
		conns: make(map[protocol.Conn]struct{}),
	}
}

// Start opens the listener. Serve must be called afterwards.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cfg.Logger.Infof("chat server listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

// Serve accepts connections until the server shuts down.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.cfg.Logger.Warnf("accept: %v", err)
			continue
		}

		s.cfg.Logger.Infof("client connected: %s", conn.RemoteAddr())
		framed := protocol.NewTCPConn(conn, s.cfg.MaxFrameBytes)
		s.track(framed)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(framed)
			NewSessionHandler(framed, s.reg, s.hub, s.cfg.RateLimit, s.cfg.Logger).Run()
		}()
	}
}

// Shutdown stops accepting, closes live connections, and waits for handlers
// to finish, up to the given timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cfg.Logger.Info("chat server stopped")
		return nil
	case <-time.After(timeout):
		s.cfg.Logger.Warn("chat server shutdown timeout reached")
		return context.DeadlineExceeded
	}
}

func (s *Server) track(conn protocol.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn protocol.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}
