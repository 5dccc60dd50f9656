// Package server implements the Server (C9): the TCP accept loop that
// bootstraps a Connection and its Session for every inbound socket, and
// owns the process-wide target and session registries those connections
// resolve against.
//
// Grounded on dittofs's pkg/adapter/nfs.NFSAdapter.Serve: a single
// accept loop registering each accepted net.Conn under a sync.WaitGroup,
// handled by its own goroutine, torn down by closing the listener and
// waiting for in-flight connections to finish on context cancellation.
// Adapted from NFS's connection-limiting semaphore (this core has no
// configured MaxConnections knob of its own) down to the bare
// accept/dispatch/track loop the iSCSI core needs.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/istgtd/istgtd/internal/iscsi/connection"
	"github.com/istgtd/istgtd/internal/iscsi/negotiate"
	"github.com/istgtd/istgtd/internal/iscsi/session"
	"github.com/istgtd/istgtd/internal/iscsi/target"
	"github.com/istgtd/istgtd/internal/iscsi/transfer"
	"github.com/istgtd/istgtd/internal/logger"
	"github.com/istgtd/istgtd/pkg/metrics"
)

// Config holds the server-wide settings Server needs beyond the target
// list itself.
type Config struct {
	// Port is the TCP port to listen on (default 3260 per spec.md §6).
	Port int

	// Prefs is the target-wide negotiation preference set every Login
	// negotiates against.
	Prefs negotiate.TargetPreferences

	// IdleTimeout, if nonzero, bounds how long a Full Feature Phase
	// connection may sit without a PDU arriving before it is closed.
	IdleTimeout time.Duration

	// ShutdownTimeout bounds how long Serve's Shutdown waits for
	// in-flight connections to finish after the listener closes before
	// giving up and returning anyway.
	ShutdownTimeout time.Duration

	Metrics metrics.Metrics
}

// Server accepts TCP connections on Config.Port and drives each through
// connection.Connection, sharing one Targets registry, one Sessions
// registry, and one target-wide TTT allocator across every connection it
// spawns.
type Server struct {
	cfg Config

	Targets  *target.Registry
	Sessions *session.Registry
	ttt      *transfer.TTTAllocator

	mu       sync.Mutex
	listener net.Listener

	activeConns sync.WaitGroup
	connCount   atomic.Int32
}

// New creates a Server. targets must already be populated with every
// configured Target before Serve is called.
func New(cfg Config, targets *target.Registry) *Server {
	return &Server{
		cfg:      cfg,
		Targets:  targets,
		Sessions: session.NewRegistry(),
		ttt:      &transfer.TTTAllocator{},
	}
}

// Serve binds the listener and accepts connections until ctx is
// canceled, at which point it stops accepting, closes the listener, and
// waits (up to Config.ShutdownTimeout) for in-flight connections to
// finish their current PDU and close. Returns nil on clean shutdown, or
// the bind error if listening failed.
func (s *Server) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("server: listen on port %d: %w", s.cfg.Port, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info("iscsi server listening", "port", s.cfg.Port)

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		_ = s.listener.Close()
		s.mu.Unlock()
		close(shutdownDone)
	}()

	var acceptErr error
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-shutdownDone:
				// Expected: ctx was canceled and we closed the listener
				// ourselves to unblock Accept.
			default:
				acceptErr = fmt.Errorf("server: accept: %w", err)
			}
			break
		}

		if tcp, ok := nc.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		s.activeConns.Add(1)
		count := s.connCount.Add(1)
		metrics.SetActiveConnections(s.cfg.Metrics, count)

		go s.serveOne(ctx, nc)
	}

	s.waitForShutdown()
	return acceptErr
}

func (s *Server) serveOne(ctx context.Context, nc net.Conn) {
	defer func() {
		s.activeConns.Done()
		count := s.connCount.Add(-1)
		metrics.SetActiveConnections(s.cfg.Metrics, count)
	}()

	deps := connection.Deps{
		Targets:     s.Targets,
		Sessions:    s.Sessions,
		TTT:         s.ttt,
		Prefs:       s.cfg.Prefs,
		Metrics:     s.cfg.Metrics,
		IdleTimeout: s.cfg.IdleTimeout,
	}
	c := connection.New(nc, deps)
	c.Serve(ctx)
}

// waitForShutdown blocks until every in-flight connection has finished,
// or Config.ShutdownTimeout elapses, whichever comes first.
func (s *Server) waitForShutdown() {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case <-done:
		logger.Info("iscsi server: all connections drained")
	case <-time.After(timeout):
		logger.Warn("iscsi server: shutdown timeout elapsed with connections still active")
	}
}

// Addr returns the listener's bound address, or nil if Serve has not
// yet bound one. Useful for tests that bind to port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
