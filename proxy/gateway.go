// Package proxy implements the downstream (gateway) half of the tunnel:
// it accepts plain TCP connections on a public port, resolves the Host
// header's subdomain to a listener via the Ticket Registry, opens a peer
// session over the overlay, and splices the end user's bytes through a
// CONNECT-style request on that session. Rejections at any stage before
// the splice begins are rendered as a small HTML error page.
package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/datum-cloud/datum-connect/endpoint"
	"github.com/datum-cloud/datum-connect/identity"
	"github.com/datum-cloud/datum-connect/protocol"
	"github.com/datum-cloud/datum-connect/reqparse"
	"github.com/datum-cloud/datum-connect/registry"
	"github.com/datum-cloud/datum-connect/splice"
)

// ConnectResponseTimeout bounds how long the gateway waits for the
// listener's response line after writing a tunnel request.
const ConnectResponseTimeout = 30 * time.Second

// Config parameterizes a Server.
type Config struct {
	// Resolver maps a Host-header subdomain to the listener that owns it.
	Resolver Resolver
	// Dialer opens peer sessions to resolved listeners. Production code
	// passes an EndpointDialer; tests substitute a stub.
	Dialer PeerDialer
	// SelfID is advertised in the CONNECT request's diagnostic header; the
	// QUIC peer ID remains authoritative on the listener side.
	SelfID identity.ID
	Logger zerolog.Logger
}

// Server runs the gateway's TCP ingress accept loop.
type Server struct {
	resolver Resolver
	peers    *peerSessions
	selfID   identity.ID
	log      zerolog.Logger
}

// New returns a ready-to-serve gateway Server.
func New(cfg Config) *Server {
	return &Server{
		resolver: cfg.Resolver,
		peers:    newPeerSessions(cfg.Dialer),
		selfID:   cfg.SelfID,
		log:      cfg.Logger,
	}
}

// NewRegistryGateway is a convenience constructor wiring the production
// Resolver and PeerDialer implementations.
func NewRegistryGateway(ep *endpoint.Endpoint, registryClient registry.Client, log zerolog.Logger) *Server {
	return New(Config{
		Resolver: RegistryResolver{Client: registryClient},
		Dialer:   EndpointDialer{Endpoint: ep},
		SelfID:   ep.ID(),
		Logger:   log,
	})
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn().Err(err).Msg("proxy: accept failed")
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	totalRequests.Inc()
	concurrentRequests.Inc()
	defer concurrentRequests.Dec()

	log := newConnLogger(s.log, conn.RemoteAddr().String())

	status, err := s.route(ctx, conn, log)
	if err != nil {
		log.Debug().Err(err).Int("status", status).Msg("proxy: rejecting request")
		responseByStatus.WithLabelValues(strconv.Itoa(status)).Inc()
		_ = writeErrorResponse(conn, status)
	}
}

// route runs steps 1-7 of the ingress pipeline. A non-nil error means the
// connection was rejected before splicing began; status names the code
// that should be rendered to the end user. route itself performs the
// splice and returns (0, nil) on an ordinary (possibly mid-splice-failed)
// completion, since once bytes start flowing no further status line can be
// sent.
func (s *Server) route(ctx context.Context, conn net.Conn, log zerolog.Logger) (int, error) {
	// Step 1-2: peek the request and extract its Host header.
	req, err := reqparse.Read(conn, nil)
	if err != nil {
		return http.StatusBadRequest, err
	}
	if req.Host == "" {
		return http.StatusBadRequest, fmt.Errorf("proxy: missing Host header")
	}

	// Step 3: extract the subdomain naming the target resource.
	resourceID, ok := ExtractSubdomain(req.Host)
	if !ok {
		return http.StatusNotFound, fmt.Errorf("proxy: no resource id in host %q", req.Host)
	}
	log = log.With().Str("resourceID", resourceID).Logger()

	// Step 4: resolve the ticket.
	remoteID, target, err := s.resolver.Resolve(ctx, resourceID)
	if err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			return http.StatusNotFound, err
		}
		return http.StatusServiceUnavailable, err
	}
	log = log.With().Str("endpointID", remoteID.Short()).Stringer("target", target).Logger()

	// Step 5: open a peer session (dial attempt tracked by peerSessions).
	stream, err := s.peers.open(ctx, remoteID)
	if err != nil {
		return http.StatusGatewayTimeout, fmt.Errorf("proxy: open peer session: %w", err)
	}
	defer stream.Close()

	// Step 6: send the tunnel request, immediately followed by the
	// already-buffered end-user request so the listener can replay it to
	// the origin the moment the tunnel is established.
	if err := protocol.WriteTunnelRequest(stream, target, s.selfID); err != nil {
		return http.StatusBadGateway, fmt.Errorf("proxy: write tunnel request: %w", err)
	}
	if _, err := stream.Write(req.RawHeaders); err != nil {
		return http.StatusBadGateway, fmt.Errorf("proxy: forward buffered request: %w", err)
	}

	respCtx, cancel := context.WithTimeout(ctx, ConnectResponseTimeout)
	defer cancel()
	br := bufio.NewReaderSize(stream, protocol.ResponseHeaderCap)
	statusCode, err := readResponseStatusWithTimeout(respCtx, br)
	if err != nil {
		return http.StatusBadGateway, fmt.Errorf("proxy: read tunnel response: %w", err)
	}
	if statusCode == http.StatusForbidden {
		// The listener's allowlist rejected the target. From the
		// end-user's vantage the target refused the request, so this is
		// rendered as 502 rather than propagating the listener's 403.
		return http.StatusBadGateway, fmt.Errorf("proxy: listener forbade target %s", target)
	}
	if statusCode != http.StatusOK {
		return http.StatusBadGateway, fmt.Errorf("proxy: unexpected listener status %d", statusCode)
	}

	// Step 7: splice. Bytes already buffered by br (beyond the consumed
	// response headers) must be read from br, not the raw stream, or they
	// would be lost.
	end := bufferedReadWriteCloser{r: br, w: stream, c: stream}
	if err := splice.Bidirectional(ctx, conn, end); err != nil {
		log.Debug().Err(err).Msg("proxy: splice ended with error")
	}
	return 0, nil
}

// readResponseStatusWithTimeout races protocol.ReadResponseStatus against
// respCtx so a wedged listener cannot hold the gateway's goroutine forever.
func readResponseStatusWithTimeout(respCtx context.Context, br *bufio.Reader) (int, error) {
	type result struct {
		status int
		err    error
	}
	done := make(chan result, 1)
	go func() {
		status, err := protocol.ReadResponseStatus(br)
		done <- result{status, err}
	}()
	select {
	case r := <-done:
		return r.status, r.err
	case <-respCtx.Done():
		return 0, respCtx.Err()
	}
}

// bufferedReadWriteCloser pairs a buffered reader (which may already hold
// bytes read past the logical header boundary) with the underlying
// stream's writer and closer, so splice.Bidirectional sees every byte
// exactly once.
type bufferedReadWriteCloser struct {
	r io.Reader
	w io.Writer
	c io.Closer
}

func (b bufferedReadWriteCloser) Read(p []byte) (int, error)  { return b.r.Read(p) }
func (b bufferedReadWriteCloser) Write(p []byte) (int, error) { return b.w.Write(p) }
func (b bufferedReadWriteCloser) Close() error                { return b.c.Close() }
