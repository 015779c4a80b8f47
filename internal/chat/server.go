package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/andy6609/chathub/internal/moderation"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	defaultMaxMessageSize  = 4096
)

// Options tunes a Server. Zero values fall back to sensible defaults.
type Options struct {
	Addr            string
	MaxMessageSize  int
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Censor          *moderation.Censor
	// Clock stamps relayed lines; time.Now when nil.
	Clock func() time.Time
}

type Server struct {
	opts     Options
	logger   *slog.Logger
	reg      *Registry
	bc       *Broadcaster
	clock    func() time.Time
	listener net.Listener

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewServer(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	reg := NewRegistry(128, logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:   opts,
		logger: logger,
		reg:    reg,
		bc:     NewBroadcaster(reg, opts.WriteTimeout, logger),
		clock:  clock,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start binds the listener and begins accepting. A bind failure is returned
// as *BindError and nothing is started.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return &BindError{Addr: s.opts.Addr, Err: err}
	}
	s.listener = ln

	go s.reg.Run()
	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.logger.Info("server started", "addr", ln.Addr().String())
	return nil
}

// Serve starts the server and blocks until ctx is done, then stops it.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Addr is the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Registry exposes the participant registry.
func (s *Server) Registry() *Registry {
	return s.reg
}

// Stop closes the listener, tells every participant the server is going
// away, closes their connections and waits for the sessions to finish.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		if s.listener == nil {
			s.cancel()
			return
		}
		s.logger.Info("shutting down")
		_ = s.listener.Close()

		participants, drainErr := s.reg.Drain()
		if drainErr != nil {
			s.logger.Warn("drain registry", "error", drainErr)
		}
		// A stalled reader must not hold Stop past the shutdown budget.
		noticeTimeout := s.opts.WriteTimeout
		if noticeTimeout <= 0 {
			noticeTimeout = s.opts.ShutdownTimeout
		}
		for _, p := range participants {
			if sendErr := p.Conn.Send(ShutdownNotice, noticeTimeout); sendErr != nil {
				s.logger.Warn("shutdown notice failed", "username", p.Name, "session_id", p.Conn.ID, "error", sendErr)
			} else {
				MessagesTotal.WithLabelValues(kindShutdown).Inc()
			}
			_ = p.Conn.Close()
		}

		// Closes connections still in the handshake.
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.opts.ShutdownTimeout):
			err = fmt.Errorf("wait for sessions: %w", context.DeadlineExceeded)
		}

		s.reg.Stop()
		s.reg.Wait()

		s.logger.Info("shutdown complete", "notified", len(participants))
	})
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		conn := NewConn(nc)
		s.logger.Info("client connected", "addr", nc.RemoteAddr().String(), "session_id", conn.ID)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.HandleSession(s.ctx, conn)
		}()
	}
}
