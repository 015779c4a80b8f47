package chat

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conn is one accepted byte stream. Writes are safe from several goroutines;
// reads belong to the session that owns the connection.
type Conn struct {
	ID     uuid.UUID
	stream Stream

	closeOnce sync.Once
	closeErr  error
}

func NewConn(stream Stream) *Conn {
	return &Conn{ID: uuid.New(), stream: stream}
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.stream.RemoteAddr()
}

// RemotePort returns the peer port, or 0 when the address carries none.
func (c *Conn) RemotePort() int {
	addr := c.stream.RemoteAddr()
	if addr == nil {
		return 0
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}

// Send writes one framed line. A zero timeout leaves the deadline untouched.
func (c *Conn) Send(line string, timeout time.Duration) error {
	if timeout > 0 {
		if err := c.stream.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := c.stream.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close closes the stream once; later calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stream.Close()
	})
	return c.closeErr
}

// Participant pairs a live connection with its display name.
type Participant struct {
	Conn *Conn
	Name string

	seq uint64 // join order, used to keep snapshots stable
}

type EventType int

const (
	EventRegister EventType = iota
	EventUnregister
	EventSnapshot
	EventDrain
)

func (t EventType) String() string {
	switch t {
	case EventRegister:
		return "register"
	case EventUnregister:
		return "unregister"
	case EventSnapshot:
		return "snapshot"
	case EventDrain:
		return "drain"
	default:
		return "unknown"
	}
}

// Event is a request to the registry loop.
type Event struct {
	Type  EventType
	Conn  *Conn
	Name  string
	Reply chan Result
}

// Result is the registry loop's answer to an Event.
type Result struct {
	Err          error
	Removed      bool
	Participants []Participant
}

var (
	ErrDuplicateConnection = errorString("duplicate_connection")
	ErrRegistryClosed      = errorString("registry_closed")
)

type errorString string

func (e errorString) Error() string { return string(e) }

// BindError reports a listener that could not be opened.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }
