package upstreamproxy

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"github.com/datum-cloud/datum-connect/authority"
	"github.com/datum-cloud/datum-connect/identity"
)

var errDialFailed = errors.New("dial failed")

// fakeStream adapts a net.Conn to the upstreamproxy stream interface for
// tests; CancelRead/CancelWrite just close the underlying pipe, since a
// real reset code has no meaning over net.Pipe.
type fakeStream struct {
	net.Conn
}

func (f fakeStream) CancelRead(quic.StreamErrorCode)  { _ = f.Conn.Close() }
func (f fakeStream) CancelWrite(quic.StreamErrorCode) { _ = f.Conn.Close() }

type fakeDialer struct {
	conn net.Conn
	err  error
}

func (d fakeDialer) Dial(context.Context, authority.Authority) (net.Conn, error) {
	return d.conn, d.err
}

func testServer(t *testing.T, authorize Authorizer, dialer Dialer) *Server {
	t.Helper()
	return New(nil, authorize, zerolog.Nop(), WithDialer(dialer))
}

func TestHandleStreamForbidsUnlistedTarget(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	s := testServer(t, AuthorizerFunc(func(identity.ID, authority.Authority) bool { return false }), fakeDialer{})

	done := make(chan struct{})
	go func() {
		s.handleStream(context.Background(), identity.ID{}, fakeStream{server})
		close(done)
	}()

	if _, err := client.Write([]byte("CONNECT 127.0.0.1:5173 HTTP/1.1\r\nHost: 127.0.0.1:5173\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !strings.Contains(line, "403") {
		t.Fatalf("expected 403 response line, got %q", line)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleStream did not return")
	}
}

func TestHandleStreamAcceptsAllowedTunnel(t *testing.T) {
	client, server := net.Pipe()
	upstreamClient, upstreamServer := net.Pipe()
	defer client.Close()

	s := testServer(t, AuthorizerFunc(func(identity.ID, authority.Authority) bool { return true }),
		fakeDialer{conn: upstreamClient})

	go func() {
		s.handleStream(context.Background(), identity.ID{}, fakeStream{server})
	}()

	if _, err := client.Write([]byte("CONNECT 127.0.0.1:5173 HTTP/1.1\r\nHost: 127.0.0.1:5173\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !strings.Contains(line, "200") {
		t.Fatalf("expected 200 response line, got %q", line)
	}
	// consume the blank line terminating the response headers
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("read blank line: %v", err)
	}

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("write splice payload: %v", err)
	}
	got := make([]byte, 4)
	if _, err := upstreamServer.Read(got); err != nil {
		t.Fatalf("read spliced payload on upstream: %v", err)
	}
	if string(got) != "ping" {
		t.Fatalf("got %q, want %q", got, "ping")
	}
}

func TestHandleStreamMapsDialFailureToReset(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	s := testServer(t, AuthorizerFunc(func(identity.ID, authority.Authority) bool { return true }),
		fakeDialer{err: errDialFailed})

	done := make(chan struct{})
	go func() {
		s.handleStream(context.Background(), identity.ID{}, fakeStream{server})
		close(done)
	}()

	if _, err := client.Write([]byte("CONNECT 127.0.0.1:5173 HTTP/1.1\r\nHost: 127.0.0.1:5173\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleStream did not return after dial failure")
	}

	if _, err := client.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected the stream to be reset without a response after dial failure")
	}
}
