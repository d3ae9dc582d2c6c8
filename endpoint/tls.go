package endpoint

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/datum-cloud/datum-connect/identity"
)

// selfSignedCert builds a self-signed TLS certificate whose subject public
// key IS the endpoint's long-lived ed25519 identity key. Peers recover the
// dialed EndpointId straight from the handshake certificate instead of
// trusting a CA, which is the only authority that makes sense for a
// direct-dial p2p fabric.
func selfSignedCert(key identity.SecretKey) (tls.Certificate, error) {
	priv := ed25519.NewKeyFromSeed(key.Seed())

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: key.Public().String()},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("endpoint: create identity certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}

// remoteIdentityFromCert recovers the EndpointId a peer presented during the
// handshake by reading the ed25519 public key straight out of its leaf
// certificate.
func remoteIdentityFromCert(raw [][]byte) (identity.ID, error) {
	if len(raw) == 0 {
		return identity.ID{}, fmt.Errorf("endpoint: peer presented no certificate")
	}
	cert, err := x509.ParseCertificate(raw[0])
	if err != nil {
		return identity.ID{}, fmt.Errorf("endpoint: parse peer certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return identity.ID{}, fmt.Errorf("endpoint: peer certificate is not an ed25519 key")
	}
	return identity.FromBytes(pub)
}

// tlsConfig builds the server-side TLS config for alpn, accepting any
// client certificate (identity is verified after the handshake by whoever
// needs it, not by the TLS stack itself).
func tlsConfig(cert tls.Certificate, alpn []string) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		NextProtos:         alpn,
		InsecureSkipVerify: true,
		ClientAuth:         tls.RequireAnyClientCert,
		MinVersion:         tls.VersionTLS13,
	}
}

// dialTLSConfig builds the client-side TLS config used to connect to want,
// verifying that the certificate the remote presents actually belongs to
// the EndpointId we intended to dial.
func dialTLSConfig(cert tls.Certificate, alpn string, want identity.ID) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		NextProtos:         []string{alpn},
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			got, err := remoteIdentityFromCert(rawCerts)
			if err != nil {
				return err
			}
			if got != want {
				return fmt.Errorf("%w: dialed %s, got certificate for %s", ErrHandshakeFailed, want.Short(), got.Short())
			}
			return nil
		},
	}
}
