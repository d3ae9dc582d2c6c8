package proxy

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/datum-cloud/datum-connect/authority"
	"github.com/datum-cloud/datum-connect/identity"
)

func TestExtractSubdomain(t *testing.T) {
	cases := []struct {
		host string
		want string
		ok   bool
	}{
		{"foo.example.com", "foo", true},
		{"foo.example.com:443", "foo", true},
		{"192.168.1.1", "", false},
		{"[::1]:8080", "", false},
		{"::1", "", false},
		{"localhost", "", false},
		{"sub.localhost:8080", "sub", true},
	}
	for _, c := range cases {
		got, ok := ExtractSubdomain(c.host)
		if ok != c.ok || got != c.want {
			t.Errorf("ExtractSubdomain(%q) = (%q, %v), want (%q, %v)", c.host, got, ok, c.want, c.ok)
		}
	}
}

func TestExtractSubdomainIdempotent(t *testing.T) {
	hosts := []string{"foo.example.com", "bar.baz.qux.com"}
	for _, h := range hosts {
		first, ok := ExtractSubdomain(h)
		if !ok {
			t.Fatalf("expected extraction for %q", h)
		}
		again, ok := ExtractSubdomain(first + ".some-origin.test")
		if !ok || again != first {
			t.Errorf("extract(extract(%q)+origin) = (%q,%v), want (%q,true)", h, again, ok, first)
		}
	}
}

func TestWriteErrorResponseBodies(t *testing.T) {
	cases := map[int]string{
		http.StatusBadRequest:         "invalid request",
		http.StatusNotFound:           "not found",
		http.StatusBadGateway:         "malfunctioning",
		http.StatusServiceUnavailable: "experiencing problems",
		http.StatusGatewayTimeout:     "unavailable",
		http.StatusTeapot:             "experienced an error",
	}
	for status, wantSubstr := range cases {
		var buf strings.Builder
		if err := writeErrorResponse(&buf, status); err != nil {
			t.Fatalf("writeErrorResponse: %v", err)
		}
		out := buf.String()
		if !strings.Contains(out, wantSubstr) {
			t.Errorf("status %d: body %q missing %q", status, out, wantSubstr)
		}
		if !strings.Contains(out, "Content-Length:") {
			t.Errorf("status %d: missing Content-Length header: %q", status, out)
		}
	}
}

// fakeDialer/fakeListener simulate the upstream (listener) side of the
// wire protocol over an in-memory net.Pipe, so the gateway can be
// exercised end to end without real QUIC sockets.
type fakeDialer struct {
	id       identity.ID
	behavior func(net.Conn)
	dialErr  error
}

func (f *fakeDialer) Connect(ctx context.Context, id identity.ID) (Session, error) {
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	client, server := net.Pipe()
	go f.behavior(server)
	return fakeSession{client}, nil
}

type fakeSession struct{ conn net.Conn }

func (s fakeSession) OpenStream(ctx context.Context) (io.ReadWriteCloser, error) {
	return s.conn, nil
}

type stubResolver struct {
	id     identity.ID
	target authority.Authority
	err    error
}

func (s stubResolver) Resolve(ctx context.Context, resourceID string) (identity.ID, authority.Authority, error) {
	return s.id, s.target, s.err
}

// readRequestHeaders consumes conn up through the blank line terminating
// the request headers, then starts draining anything further (the
// gateway's buffered end-user request, forwarded right behind the CONNECT
// line) so the gateway's writes never block on an unread pipe.
func readRequestHeaders(conn net.Conn) *bufio.Reader {
	br := bufio.NewReader(conn)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return br
		}
		if line == "\r\n" {
			break
		}
	}
	go io.Copy(io.Discard, br)
	return br
}

func listenerAcceptsTunnel(echo string) func(net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		readRequestHeaders(conn)
		io.WriteString(conn, "HTTP/1.1 200 Connection established\r\n\r\n")
		io.WriteString(conn, echo)
	}
}

func listenerForbids() func(net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		readRequestHeaders(conn)
		io.WriteString(conn, "HTTP/1.1 403 Forbidden\r\nContent-Length: 0\r\n\r\n")
	}
}

func newTestServer(resolver Resolver, dialer PeerDialer) *Server {
	self, _ := identity.Generate()
	return New(Config{
		Resolver: resolver,
		Dialer:   dialer,
		SelfID:   self.Public(),
		Logger:   zerolog.Nop(),
	})
}

func TestGatewayHappyPath(t *testing.T) {
	remoteID, _ := identity.Generate()
	resolver := stubResolver{id: remoteID.Public(), target: authority.Authority{Host: "127.0.0.1", Port: 5173}}
	dialer := &fakeDialer{behavior: listenerAcceptsTunnel("origin GET /hello")}
	srv := newTestServer(resolver, dialer)

	client, server := net.Pipe()
	go func() {
		io.WriteString(client, "GET /hello HTTP/1.1\r\nHost: proxy-abc.localhost\r\n\r\n")
	}()

	done := make(chan struct{})
	go func() {
		srv.handleConn(context.Background(), server)
		close(done)
	}()

	buf := make([]byte, len("origin GET /hello"))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := io.ReadFull(client, buf)
	if err != nil {
		t.Fatalf("read spliced body: %v (got %d bytes: %q)", err, n, buf[:n])
	}
	if string(buf) != "origin GET /hello" {
		t.Errorf("got %q, want %q", buf, "origin GET /hello")
	}
	client.Close()
	<-done
}

func TestGatewayUnknownResourceIs404(t *testing.T) {
	resolver := stubResolver{err: ErrResourceNotFound}
	dialer := &fakeDialer{behavior: func(net.Conn) {}}
	srv := newTestServer(resolver, dialer)

	client, server := net.Pipe()
	go io.WriteString(client, "GET / HTTP/1.1\r\nHost: proxy-zzz.localhost\r\n\r\n")

	done := make(chan struct{})
	go func() {
		srv.handleConn(context.Background(), server)
		close(done)
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "not found") {
		t.Errorf("body %q missing not-found message", body)
	}
	<-done
}

func TestGatewayDisabledAdvertisementMapsForbiddenTo502(t *testing.T) {
	remoteID, _ := identity.Generate()
	resolver := stubResolver{id: remoteID.Public(), target: authority.Authority{Host: "127.0.0.1", Port: 5173}}
	dialer := &fakeDialer{behavior: listenerForbids()}
	srv := newTestServer(resolver, dialer)

	client, server := net.Pipe()
	go io.WriteString(client, "GET / HTTP/1.1\r\nHost: proxy-abc.localhost\r\n\r\n")

	done := make(chan struct{})
	go func() {
		srv.handleConn(context.Background(), server)
		close(done)
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	<-done
}

func TestGatewayIPLiteralHostIs404(t *testing.T) {
	resolver := stubResolver{}
	dialer := &fakeDialer{behavior: func(net.Conn) {}}
	srv := newTestServer(resolver, dialer)

	client, server := net.Pipe()
	go io.WriteString(client, "GET / HTTP/1.1\r\nHost: 10.0.0.1\r\n\r\n")

	done := make(chan struct{})
	go func() {
		srv.handleConn(context.Background(), server)
		close(done)
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	<-done
}

func TestGatewayPeerUnreachableIs504(t *testing.T) {
	remoteID, _ := identity.Generate()
	resolver := stubResolver{id: remoteID.Public(), target: authority.Authority{Host: "127.0.0.1", Port: 5173}}
	dialer := &fakeDialer{dialErr: errors.New("no route to peer")}
	srv := newTestServer(resolver, dialer)

	client, server := net.Pipe()
	go io.WriteString(client, "GET / HTTP/1.1\r\nHost: proxy-abc.localhost\r\n\r\n")

	done := make(chan struct{})
	go func() {
		srv.handleConn(context.Background(), server)
		close(done)
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}
	<-done
}
