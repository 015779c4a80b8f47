package chat

//go:generate mockgen -source=stream.go -destination=mocks/mock_stream.go -package=mocks

import (
	"net"
	"time"
)

// Stream is the part of net.Conn the hub relies on.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() net.Addr
	SetWriteDeadline(t time.Time) error
}
