// Package endpoint implements the QUIC transport each node binds: one UDP
// socket, a long-lived identity keypair, pluggable discovery of remote
// addresses, and a per-remote-endpoint session cache so repeated connects to
// the same peer reuse an existing QUIC connection instead of re-dialing.
package endpoint

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"github.com/datum-cloud/datum-connect/identity"
	dquic "github.com/datum-cloud/datum-connect/quic"
	"github.com/datum-cloud/datum-connect/retry"
)

const (
	// dialTimeout bounds how long Connect waits for discovery plus
	// handshake before giving up with ErrUnreachable.
	dialTimeout = 10 * time.Second
	// connectRetries is how many additional full passes over the
	// candidate address set Connect makes, backing off between passes,
	// before giving up with ErrUnreachable.
	connectRetries = 2
	// streamWriteTimeout bounds how long a single stream write may block
	// before it is cancelled; see quic.SafeStreamCloser.
	streamWriteTimeout = 15 * time.Second
)

// Config parameterizes Bind.
type Config struct {
	SecretKey identity.SecretKey
	IPv4Addr  *net.UDPAddr
	IPv6Addr  *net.UDPAddr
	Discovery DiscoveryConfig
	Logger    zerolog.Logger
}

// Endpoint is one node's QUIC transport: an identity, a bound UDP socket (or
// two, for dual-stack), and the bookkeeping needed to reuse sessions and
// resolve remote addresses.
type Endpoint struct {
	id        identity.ID
	cert      tls.Certificate
	discovery Discovery
	log       zerolog.Logger

	v4 *quic.Transport
	v6 *quic.Transport

	mu       sync.Mutex
	sessions map[identity.ID]quic.Connection

	listeners map[string]*quic.Listener // alpn -> listener
}

// Bind starts the endpoint: it opens the requested UDP sockets and prepares
// the identity certificate, but does not yet listen for any ALPN — call
// Listen for each ALPN the node serves.
func Bind(cfg Config) (*Endpoint, error) {
	cert, err := selfSignedCert(cfg.SecretKey)
	if err != nil {
		return nil, err
	}

	disc, err := newDiscovery(cfg.Discovery, cfg.Logger)
	if err != nil {
		return nil, err
	}

	ep := &Endpoint{
		id:        cfg.SecretKey.Public(),
		cert:      cert,
		discovery: disc,
		log:       cfg.Logger,
		sessions:  make(map[identity.ID]quic.Connection),
		listeners: make(map[string]*quic.Listener),
	}

	if cfg.IPv4Addr != nil {
		conn, err := net.ListenUDP("udp4", cfg.IPv4Addr)
		if err != nil {
			return nil, fmt.Errorf("endpoint: bind ipv4: %w", err)
		}
		ep.v4 = &quic.Transport{Conn: conn}
	}
	if cfg.IPv6Addr != nil {
		conn, err := net.ListenUDP("udp6", cfg.IPv6Addr)
		if err != nil {
			return nil, fmt.Errorf("endpoint: bind ipv6: %w", err)
		}
		ep.v6 = &quic.Transport{Conn: conn}
	}
	if ep.v4 == nil && ep.v6 == nil {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
		if err != nil {
			return nil, fmt.Errorf("endpoint: bind default ipv4: %w", err)
		}
		ep.v4 = &quic.Transport{Conn: conn}
	}

	return ep, nil
}

// ID returns this endpoint's public identity.
func (e *Endpoint) ID() identity.ID {
	return e.id
}

func (e *Endpoint) quicConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: dquic.HandshakeIdleTimeout,
		MaxIdleTimeout:       dquic.MaxIdleTimeout,
		KeepAlivePeriod:      dquic.MaxIdlePingPeriod,
		MaxIncomingStreams:   dquic.MaxIncomingStreams,
	}
}

func (e *Endpoint) primaryTransport() *quic.Transport {
	if e.v4 != nil {
		return e.v4
	}
	return e.v6
}

// Listen registers alpn for inbound connections. Accept(alpn) then yields
// connections negotiated with it.
func (e *Endpoint) Listen(alpn string) error {
	ln, err := e.primaryTransport().Listen(tlsConfig(e.cert, []string{alpn}), e.quicConfig())
	if err != nil {
		return fmt.Errorf("endpoint: listen %s: %w", alpn, err)
	}
	e.mu.Lock()
	e.listeners[alpn] = ln
	e.mu.Unlock()
	return nil
}

// Accept blocks until an inbound QUIC connection negotiates alpn (which
// must already have been registered with Listen), or ctx is cancelled.
func (e *Endpoint) Accept(ctx context.Context, alpn string) (quic.Connection, error) {
	e.mu.Lock()
	ln, ok := e.listeners[alpn]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("endpoint: alpn %q is not registered; call Listen first", alpn)
	}
	conn, err := ln.Accept(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	if remoteID, idErr := remoteConnectionIdentity(conn); idErr == nil {
		if addr, ok := conn.RemoteAddr().(*net.UDPAddr); ok {
			if ap, ok := netip.AddrFromSlice(addr.IP); ok {
				e.discovery.Publish(remoteID, netip.AddrPortFrom(ap, uint16(addr.Port)))
			}
		}
		e.mu.Lock()
		e.sessions[remoteID] = conn
		e.mu.Unlock()
	}
	return conn, nil
}

// Connect returns a QUIC connection to id negotiated with alpn, reusing a
// live session if one exists.
func (e *Endpoint) Connect(ctx context.Context, id identity.ID, alpn string) (quic.Connection, error) {
	if conn, ok := e.liveSession(id); ok {
		return conn, nil
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	tr := e.primaryTransport()
	tlsConf := dialTLSConfig(e.cert, alpn, id)
	backoff := retry.BackoffHandler{MaxRetries: connectRetries}

	var lastErr error
	for {
		addrs, err := e.discovery.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}

		for _, addr := range addrs {
			conn, err := tr.Dial(ctx, net.UDPAddrFromAddrPort(addr), tlsConf, e.quicConfig())
			if err != nil {
				lastErr = err
				continue
			}
			e.mu.Lock()
			e.sessions[id] = conn
			e.mu.Unlock()
			return conn, nil
		}

		if !backoff.Backoff(ctx) {
			break
		}
	}

	if lastErr != nil {
		var tErr *quic.TransportError
		if errors.Is(lastErr, ErrHandshakeFailed) || (errors.As(lastErr, &tErr) && tErr.ErrorCode.IsCryptoError()) {
			return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, lastErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
	}
	return nil, fmt.Errorf("%w: no address succeeded for %s", ErrUnreachable, id.Short())
}

// liveSession returns the cached connection for id if one exists and has
// not yet closed, evicting it otherwise.
func (e *Endpoint) liveSession(id identity.ID) (quic.Connection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	conn, ok := e.sessions[id]
	if !ok {
		return nil, false
	}
	select {
	case <-conn.Context().Done():
		delete(e.sessions, id)
		return nil, false
	default:
		return conn, true
	}
}

// OpenBi opens a new bidirectional stream on an existing connection. The
// returned stream cancels a stalled write after streamWriteTimeout instead
// of blocking its caller (and the splice loop driving it) forever.
func (e *Endpoint) OpenBi(ctx context.Context, conn quic.Connection) (*dquic.SafeStreamCloser, error) {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return dquic.NewSafeStreamCloser(stream, streamWriteTimeout, &e.log), nil
}

// RemoteIdentity recovers the EndpointId a peer presented during the QUIC
// handshake on conn.
func RemoteIdentity(conn quic.Connection) (identity.ID, error) {
	return remoteConnectionIdentity(conn)
}

// remoteConnectionIdentity recovers the EndpointId from a connection's
// negotiated TLS certificate.
func remoteConnectionIdentity(conn quic.Connection) (identity.ID, error) {
	state := conn.ConnectionState()
	var raw [][]byte
	for _, c := range state.TLS.PeerCertificates {
		raw = append(raw, c.Raw)
	}
	return remoteIdentityFromCert(raw)
}
