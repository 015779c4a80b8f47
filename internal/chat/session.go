package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const (
	readBufferSize = 4096
	// maxNameSize caps the handshake line.
	maxNameSize = 1024
)

type sessionState int

const (
	stateAwaitingName sessionState = iota
	stateActive
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateAwaitingName:
		return "awaiting_name"
	case stateActive:
		return "active"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session is the server-side control loop for one connection, from the
// name handshake to cleanup.
type session struct {
	srv    *Server
	conn   *Conn
	reader *bufio.Reader
	logger *slog.Logger
	name   string
	state  sessionState
}

// HandleSession runs the session for conn until the peer goes away or ctx
// is cancelled. Cancelling ctx closes the connection.
func (s *Server) HandleSession(ctx context.Context, conn *Conn) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	sess := &session{
		srv:    s,
		conn:   conn,
		reader: bufio.NewReaderSize(conn.stream, readBufferSize),
		logger: s.logger.With("session_id", conn.ID, "remote", remoteString(conn)),
		state:  stateAwaitingName,
	}
	sess.run()
}

func (s *session) run() {
	if err := s.awaitName(); err != nil {
		s.logger.Debug("handshake aborted", "error", err)
		_ = s.conn.Close()
		s.state = stateClosed
		return
	}
	s.relay()
	s.close()
}

// awaitName reads the first line as the display name and joins the registry.
func (s *session) awaitName() error {
	line, err := readLine(s.reader, maxNameSize)
	if err != nil {
		return fmt.Errorf("read name: %w", err)
	}
	name := strings.TrimSpace(line)
	if name == "" {
		name = fmt.Sprintf("Guest-%d", s.conn.RemotePort())
	}
	if err := s.srv.reg.Add(s.conn, name); err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}
	s.name = name
	s.state = stateActive
	s.logger = s.logger.With("username", name)
	s.logger.Info("joined")

	MessagesTotal.WithLabelValues(kindJoin).Inc()
	s.srv.bc.Broadcast(joinAnnouncement(name), s.conn)
	return nil
}

// relay forwards every inbound line until the stream ends.
func (s *session) relay() {
	for {
		line, err := readLine(s.reader, s.srv.opts.MaxMessageSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("peer closed")
			} else {
				s.logger.Debug("read failed", "error", err)
			}
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		text := s.srv.opts.Censor.Apply(line)
		s.logger.Debug("message received", "text", text)

		MessagesTotal.WithLabelValues(kindChat).Inc()
		s.srv.bc.Broadcast(envelope(s.srv.clock(), s.name, text), s.conn)
	}
}

// close is entered once. Only the session that actually removed its
// participant announces the departure; a shutdown drain has already done so.
func (s *session) close() {
	if s.state == stateClosed {
		return
	}
	s.logger.Debug("closing", "state", s.state)
	s.state = stateClosed
	removed, err := s.srv.reg.Remove(s.conn)
	if err != nil {
		s.logger.Debug("unregister skipped", "error", err)
	}
	_ = s.conn.Close()
	if !removed {
		return
	}
	s.logger.Info("left")
	MessagesTotal.WithLabelValues(kindLeave).Inc()
	s.srv.bc.Broadcast(leaveAnnouncement(s.name), nil)
}

func remoteString(c *Conn) string {
	if addr := c.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
