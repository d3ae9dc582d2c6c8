// Package upstreamproxy implements the listener's accept side: it accepts
// QUIC connections on the tunnel ALPN, and for every stream runs the
// protocol handshake, authorization, local dial, and splice described by
// the wire protocol in package protocol.
package upstreamproxy

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"github.com/datum-cloud/datum-connect/authority"
	"github.com/datum-cloud/datum-connect/endpoint"
	"github.com/datum-cloud/datum-connect/identity"
	"github.com/datum-cloud/datum-connect/protocol"
	"github.com/datum-cloud/datum-connect/proxystate"
	"github.com/datum-cloud/datum-connect/splice"
)

// DialTimeout bounds how long a local TCP dial may take. A dial that times
// out is handled like any other dial failure: the stream is reset, with no
// distinct timeout status.
const DialTimeout = 5 * time.Second

// Authorizer is the capability the listener consults to decide whether an
// incoming request's target is permitted. The default production
// implementation wraps a proxystate.State's allowlist; tests can supply
// anything satisfying this interface.
type Authorizer interface {
	Authorize(remote identity.ID, target authority.Authority) bool
}

// AuthorizerFunc adapts a plain function to Authorizer.
type AuthorizerFunc func(remote identity.ID, target authority.Authority) bool

func (f AuthorizerFunc) Authorize(remote identity.ID, target authority.Authority) bool {
	return f(remote, target)
}

// StateAuthorizer is the default Authorizer: it permits a target when the
// current snapshot of state allows its (host, port).
func StateAuthorizer(state *proxystate.State) Authorizer {
	return AuthorizerFunc(func(_ identity.ID, target authority.Authority) bool {
		return state.Snapshot().Allowed(target.Host, target.Port)
	})
}

// Dialer opens a connection to a local authority. Production code dials
// real TCP; tests can substitute an in-memory dialer.
type Dialer interface {
	Dial(ctx context.Context, target authority.Authority) (net.Conn, error)
}

// stream is the narrow surface handleStream needs: a bidirectional byte
// stream plus QUIC's asymmetric reset primitives. quic.Stream satisfies
// this; tests substitute a net.Pipe-backed fake.
type stream interface {
	splice.HalfDuplex
	CancelRead(quic.StreamErrorCode)
	CancelWrite(quic.StreamErrorCode)
}

// netDialer dials real TCP sockets.
type netDialer struct{}

func (netDialer) Dial(ctx context.Context, target authority.Authority) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, "tcp", target.String())
}

// Server runs the listener's accept loop.
type Server struct {
	ep         *endpoint.Endpoint
	authorize  Authorizer
	dial       Dialer
	log        zerolog.Logger
	dialTimout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithDialer overrides the default net.Dial-based Dialer.
func WithDialer(d Dialer) Option {
	return func(s *Server) { s.dial = d }
}

// WithDialTimeout overrides DialTimeout.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Server) { s.dialTimout = d }
}

// New returns a Server that accepts on ep using protocol.ALPN and consults
// authorize for every stream.
func New(ep *endpoint.Endpoint, authorize Authorizer, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		ep:         ep,
		authorize:  authorize,
		dial:       netDialer{},
		log:        log,
		dialTimout: DialTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve registers protocol.ALPN and runs the accept loop until ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.ep.Listen(protocol.ALPN); err != nil {
		return fmt.Errorf("upstreamproxy: listen: %w", err)
	}
	for {
		conn, err := s.ep.Accept(ctx, protocol.ALPN)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn().Err(err).Msg("upstreamproxy: accept failed")
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn quic.Connection) {
	remote, err := endpoint.RemoteIdentity(conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("upstreamproxy: could not recover remote identity, closing connection")
		_ = conn.CloseWithError(0, "identity error")
		return
	}
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.handleStream(ctx, remote, quicStream{stream})
	}
}

// quicStream adapts quic.Stream's CancelRead/CancelWrite (which expect
// quic.StreamErrorCode) to the narrower stream interface.
type quicStream struct{ quic.Stream }

// state machine: ReadingRequest -> Authorizing -> Dialing -> Splicing -> Closed
func (s *Server) handleStream(ctx context.Context, remote identity.ID, st stream) {
	defer st.Close()

	req, err := protocol.ReadRequest(st)
	if err != nil {
		s.log.Debug().Err(err).Msg("upstreamproxy: malformed request, resetting stream")
		st.CancelRead(1)
		st.CancelWrite(1)
		return
	}

	if !s.authorize.Authorize(remote, req.Target) {
		_ = protocol.Forbidden(st)
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimout)
	conn, err := s.dial.Dial(dialCtx, req.Target)
	cancel()
	if err != nil {
		s.log.Warn().Err(err).Str("target", req.Target.String()).Msg("upstreamproxy: dial failed")
		// The wire protocol has no distinct 502/504 status line over the
		// stream itself (only 200/403 are defined); the gateway reports a
		// stream that ends before any response line as 502 Bad Gateway, so
		// a refused dial and a timed-out dial look the same to the end user.
		st.CancelRead(2)
		st.CancelWrite(2)
		return
	}
	defer conn.Close()

	switch req.Kind {
	case protocol.Tunnel:
		if err := protocol.ConnectionEstablished(st); err != nil {
			return
		}
	case protocol.Absolute:
		if err := protocol.WriteAbsoluteRequest(conn, req.Raw.RawHeaders); err != nil {
			return
		}
	}

	if err := splice.Bidirectional(ctx, st, conn); err != nil {
		s.log.Debug().Err(err).Msg("upstreamproxy: splice ended with error")
	}
}
