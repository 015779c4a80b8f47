// Package client is the terminal side of the chat hub: one goroutine prints
// what the server relays, another forwards what the user types.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gookit/color"
)

// QuitCommand ends the session when typed on its own line, in any case.
const QuitCommand = "exit"

// maxInputLine bounds one line typed at the terminal.
const maxInputLine = 1 << 20

var ErrNoInput = errors.New("input closed before a username was entered")

// Outcome says which half ended the session.
type Outcome int

const (
	OutcomeQuit Outcome = iota
	OutcomeServerClosed
	OutcomeSendFailed
	OutcomeInputFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeQuit:
		return "quit"
	case OutcomeServerClosed:
		return "server_closed"
	case OutcomeSendFailed:
		return "send_failed"
	case OutcomeInputFailed:
		return "input_failed"
	default:
		return "unknown"
	}
}

type result struct {
	outcome Outcome
	err     error
}

type Session struct {
	conn     net.Conn
	input    *bufio.Scanner
	out      *lockedWriter
	logger   *slog.Logger
	colours  bool
	username string
	closing  atomic.Bool
}

// Dial opens the TCP connection to the hub.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return conn, nil
}

func NewSession(conn net.Conn, in io.Reader, out io.Writer, colours bool, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	input := bufio.NewScanner(in)
	input.Buffer(make([]byte, 0, 64*1024), maxInputLine)
	return &Session{
		conn:    conn,
		input:   input,
		out:     &lockedWriter{w: out},
		logger:  logger,
		colours: colours,
	}
}

func (s *Session) Username() string {
	return s.username
}

// Connected prints the banner shown once the connection is up.
func (s *Session) Connected(addr string) {
	s.out.print(s.paint(color.FgGreen, fmt.Sprintf("[*] Connected to server at %s", addr)) + "\n")
}

// Handshake asks for a username until a non-empty one is entered and sends
// it as the first line.
func (s *Session) Handshake() error {
	for {
		s.out.print("Enter your username: ")
		line, ok, err := s.nextInput()
		if err != nil {
			return fmt.Errorf("read username: %w", err)
		}
		if !ok {
			return ErrNoInput
		}
		name := strings.TrimSpace(line)
		if name == "" {
			s.out.print("Username cannot be empty. Please try again.\n")
			continue
		}
		s.username = name
		if err := s.writeLine(name); err != nil {
			return fmt.Errorf("send username: %w", err)
		}
		return nil
	}
}

// Run starts both halves and returns as soon as either one stops. The
// connection is closed before returning.
func (s *Session) Run() (Outcome, error) {
	results := make(chan result, 2)
	go func() { results <- s.receive() }()
	go func() { results <- s.send() }()

	res := <-results
	s.closing.Store(true)
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("close connection", "error", err)
	}
	s.logger.Debug("session ended", "outcome", res.outcome)
	return res.outcome, res.err
}

func (s *Session) receive() result {
	reader := bufio.NewReader(s.conn)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			s.out.print("\r" + s.decorate(line) + "\n" + s.prompt())
		}
		if err != nil {
			if !s.closing.Load() {
				s.logger.Debug("receive failed", "error", err)
				s.out.print("\n" + s.paint(color.FgRed, "[!] Server disconnected.") + "\n")
			}
			return result{outcome: OutcomeServerClosed}
		}
	}
}

func (s *Session) send() result {
	for {
		s.out.print(s.prompt())
		line, ok, err := s.nextInput()
		if err != nil {
			s.out.print(s.paint(color.FgRed, "[!] Could not read input.") + "\n")
			return result{outcome: OutcomeInputFailed, err: fmt.Errorf("read input: %w", err)}
		}
		if !ok || strings.EqualFold(strings.TrimSpace(line), QuitCommand) {
			return result{outcome: OutcomeQuit}
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := s.writeLine(line); err != nil {
			if !s.closing.Load() {
				s.out.print(s.paint(color.FgRed, "[!] Connection lost to server.") + "\n")
			}
			return result{outcome: OutcomeSendFailed, err: fmt.Errorf("send: %w", err)}
		}
	}
}

// nextInput returns the next typed line. ok is false at end of input; err
// is set when the line could not be read, for example because it is too long.
func (s *Session) nextInput() (line string, ok bool, err error) {
	if !s.input.Scan() {
		if scanErr := s.input.Err(); scanErr != nil {
			s.logger.Debug("read input", "error", scanErr)
			return "", false, scanErr
		}
		return "", false, nil
	}
	return s.input.Text(), true, nil
}

func (s *Session) writeLine(line string) error {
	_, err := io.WriteString(s.conn, line+"\n")
	return err
}

func (s *Session) prompt() string {
	return s.username + "> "
}

// decorate colours server announcements; chat lines stay plain.
func (s *Session) decorate(line string) string {
	switch {
	case strings.HasPrefix(line, "📢"):
		return s.paint(color.FgCyan, line)
	case strings.HasPrefix(line, "💔"):
		return s.paint(color.FgMagenta, line)
	case strings.HasPrefix(line, "Server is shutting down"):
		return s.paint(color.FgRed, line)
	default:
		return line
	}
}

func (s *Session) paint(c color.Color, text string) string {
	if !s.colours {
		return text
	}
	return color.New(c, color.OpBold).Render(text)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) print(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.w, s)
}
