package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/andy6609/chathub/internal/moderation"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const readTimeout = 2 * time.Second

var fixedClock = func() time.Time {
	return time.Date(2026, time.October, 16, 9, 5, 7, 0, time.Local)
}

func startServer(t *testing.T, opts Options) *Server {
	t.Helper()
	opts.Addr = "127.0.0.1:0"
	if opts.Clock == nil {
		opts.Clock = fixedClock
	}
	srv := NewServer(opts, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

// join connects, sends the handshake and waits until the registry holds
// want participants.
func join(t *testing.T, srv *Server, name string, want int) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
	c.send(name)
	require.Eventually(t, func() bool {
		return srv.Registry().Count() == want
	}, readTimeout, 5*time.Millisecond)
	return c
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.conn, "%s\n", line)
	require.NoError(c.t, err)
}

func (c *testClient) expect() string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimRight(line, "\r\n")
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, err := c.r.ReadString('\n')
	require.ErrorIs(c.t, err, io.EOF)
}

func TestServer_RelaysToOthersButNotSender(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, Options{})

	alice := join(t, srv, "alice", 1)
	bob := join(t, srv, "bob", 2)
	req.Equal("📢 bob has joined the chat.", alice.expect())

	alice.send("hello")
	req.Equal("[09:05:07] alice: hello", bob.expect())

	// Alice's next line is Bob's reply, never her own message.
	bob.send("hi alice")
	req.Equal("[09:05:07] bob: hi alice", alice.expect())
}

func TestServer_EmptyNameBecomesGuest(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, Options{})

	observer := join(t, srv, "observer", 1)
	guest := join(t, srv, "", 2)

	port := guest.conn.LocalAddr().(*net.TCPAddr).Port
	req.Equal(fmt.Sprintf("📢 Guest-%d has joined the chat.", port), observer.expect())

	guest.send("hey")
	req.Equal(fmt.Sprintf("[09:05:07] Guest-%d: hey", port), observer.expect())
}

func TestServer_DisconnectAnnouncesLeaveOnce(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, Options{})

	alice := join(t, srv, "alice", 1)
	bob := join(t, srv, "bob", 2)
	req.Equal("📢 bob has joined the chat.", alice.expect())

	req.NoError(bob.conn.Close())
	req.Equal("💔 bob has left the chat.", alice.expect())
	req.Eventually(func() bool { return srv.Registry().Count() == 1 }, readTimeout, 5*time.Millisecond)

	// The next thing Alice hears is a new arrival, not a second leave.
	_ = join(t, srv, "carol", 2)
	req.Equal("📢 carol has joined the chat.", alice.expect())
}

func TestServer_PreservesPerSenderOrder(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, Options{})

	alice := join(t, srv, "alice", 1)
	bob := join(t, srv, "bob", 2)
	req.Equal("📢 bob has joined the chat.", alice.expect())

	const n = 50
	for i := 0; i < n; i++ {
		alice.send(fmt.Sprintf("msg-%d", i))
	}
	for i := 0; i < n; i++ {
		req.Equal(fmt.Sprintf("[09:05:07] alice: msg-%d", i), bob.expect())
	}
}

func TestServer_SkipsBlankLinesAndTruncates(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, Options{MaxMessageSize: 5})

	alice := join(t, srv, "alice", 1)
	bob := join(t, srv, "bob", 2)
	req.Equal("📢 bob has joined the chat.", alice.expect())

	alice.send("   ")
	alice.send("hello world")
	req.Equal("[09:05:07] alice: hello", bob.expect())
}

func TestServer_OverlongLineIsCutAndRelayContinues(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, Options{MaxMessageSize: 16})

	alice := join(t, srv, "alice", 1)
	bob := join(t, srv, "bob", 2)
	req.Equal("📢 bob has joined the chat.", alice.expect())

	chunk := strings.Repeat("x", 64*1024)
	for i := 0; i < 32; i++ {
		_, err := io.WriteString(alice.conn, chunk)
		req.NoError(err)
	}
	alice.send("tail")
	alice.send("hello")

	req.Equal("[09:05:07] alice: "+strings.Repeat("x", 16), bob.expect())
	req.Equal("[09:05:07] alice: hello", bob.expect())
	req.Equal(2, srv.Registry().Count())
}

func TestServer_CensorsChatText(t *testing.T) {
	req := require.New(t)
	censor, err := moderation.NewCensor([]string{"badger"}, '*')
	req.NoError(err)
	srv := startServer(t, Options{Censor: censor})

	alice := join(t, srv, "alice", 1)
	bob := join(t, srv, "bob", 2)
	req.Equal("📢 bob has joined the chat.", alice.expect())

	alice.send("the badger is here")
	req.Equal("[09:05:07] alice: the ****** is here", bob.expect())
}

func TestServer_ShutdownNotifiesAndClosesEveryone(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, Options{ShutdownTimeout: readTimeout})

	alice := join(t, srv, "alice", 1)
	bob := join(t, srv, "bob", 2)
	req.Equal("📢 bob has joined the chat.", alice.expect())

	req.NoError(srv.Stop())

	for _, c := range []*testClient{alice, bob} {
		req.Equal(ShutdownNotice, c.expect())
		c.expectClosed()
	}
	req.Zero(testutil.ToFloat64(ConnectedClients))

	// Stop is idempotent and the listener is gone.
	req.NoError(srv.Stop())
	_, err := net.DialTimeout("tcp", srv.Addr().String(), 200*time.Millisecond)
	req.Error(err)
}

func TestServer_ShutdownNoticeBoundedWithoutWriteTimeout(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, Options{ShutdownTimeout: 200 * time.Millisecond})

	// The peer end of the pipe is never read, so the notice write stalls.
	server, peer := net.Pipe()
	t.Cleanup(func() { _ = peer.Close() })
	req.NoError(srv.Registry().Add(NewConn(server), "stuck"))

	stopped := make(chan error, 1)
	go func() { stopped <- srv.Stop() }()
	select {
	case err := <-stopped:
		req.NoError(err)
	case <-time.After(readTimeout):
		t.Fatal("Stop blocked on a participant that never reads")
	}
}

func TestServer_ShutdownClosesPendingHandshake(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, Options{ShutdownTimeout: readTimeout})

	conn, err := net.Dial("tcp", srv.Addr().String())
	req.NoError(err)
	defer conn.Close()
	pending := &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}

	req.NoError(srv.Stop())
	// EOF once accepted, a reset if it never left the backlog.
	req.NoError(conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, err = pending.r.ReadString('\n')
	req.Error(err)
	req.False(errors.Is(err, os.ErrDeadlineExceeded))
}

func TestServer_BindFailure(t *testing.T) {
	req := require.New(t)
	first := startServer(t, Options{})

	second := NewServer(Options{Addr: first.Addr().String()}, nil)
	err := second.Start()

	var bindErr *BindError
	req.True(errors.As(err, &bindErr))
	req.Equal(first.Addr().String(), bindErr.Addr)
	req.Nil(second.Addr())
	req.NoError(second.Stop())
}

func TestServer_ServeReturnsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := NewServer(Options{Addr: "127.0.0.1:0"}, nil)
	require.NoError(t, srv.Serve(ctx))
}
