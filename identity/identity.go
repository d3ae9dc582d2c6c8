// Package identity implements the endpoint keypair that names a node across
// restarts and NAT changes, following the same long/short rendering split
// cloudflared uses for connector and tunnel IDs.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of a public endpoint ID.
const Size = ed25519.PublicKeySize

// ID is the public half of an endpoint keypair. It is the stable name of a
// node: listeners and gateways address each other by ID, never by network
// address, leaving address resolution to the Discovery implementations in
// package endpoint.
type ID [Size]byte

// ErrInvalidLength is returned when decoding a byte slice that is not
// exactly Size bytes long.
type ErrInvalidLength struct {
	Got int
}

func (e ErrInvalidLength) Error() string {
	return fmt.Sprintf("identity: expected %d bytes, got %d", Size, e.Got)
}

// FromBytes parses a 32-byte public key into an ID.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, ErrInvalidLength{Got: len(b)}
	}
	copy(id[:], b)
	return id, nil
}

// FromHex parses the long hex rendering produced by String.
func FromHex(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("identity: invalid hex: %w", err)
	}
	return FromBytes(b)
}

// Bytes returns the raw 32-byte public key.
func (id ID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// String renders the full (long) form of the ID: lowercase hex of all 32
// bytes. This is the form persisted in tickets and config files.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Short renders an abbreviated form suitable for log lines, mirroring the
// fmt_short() convention used throughout the reference node implementation.
func (id ID) Short() string {
	s := id.String()
	if len(s) <= 10 {
		return s
	}
	return s[:10]
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// SecretKey is the private half of an endpoint keypair, kept on disk by the
// repo layer (repo.ListenKey / repo.ConnectKey) and loaded once at startup.
type SecretKey struct {
	priv ed25519.PrivateKey
}

// Generate creates a new random keypair.
func Generate() (SecretKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SecretKey{}, fmt.Errorf("identity: generate key: %w", err)
	}
	_ = pub
	return SecretKey{priv: priv}, nil
}

// FromSeed reconstructs a SecretKey from the 32-byte seed stored on disk.
func FromSeed(seed []byte) (SecretKey, error) {
	if len(seed) != ed25519.SeedSize {
		return SecretKey{}, ErrInvalidLength{Got: len(seed)}
	}
	return SecretKey{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns the 32-byte seed to persist to disk (repo's listen_key /
// connect_key files).
func (k SecretKey) Seed() []byte {
	return k.priv.Seed()
}

// Public returns the ID derived from this secret key.
func (k SecretKey) Public() ID {
	pub := k.priv.Public().(ed25519.PublicKey)
	id, _ := FromBytes(pub)
	return id
}

// Sign authenticates data with the secret key. The QUIC transport does not
// call it: its TLS handshake signs with the certificate key that package
// endpoint derives from Seed.
func (k SecretKey) Sign(data []byte) []byte {
	return ed25519.Sign(k.priv, data)
}

// Verify checks a signature produced by Sign for the given ID.
func Verify(id ID, data, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(id[:]), data, sig)
}
