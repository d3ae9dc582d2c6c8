package ticket

import (
	"crypto/rand"
	"fmt"
)

const resourceIDLength = 12

const resourceIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewResourceID returns a fresh, lowercase-alphanumeric resource ID
// suitable for use as a public subdomain label. Collisions are the caller's
// responsibility to detect against the current ProxyState snapshot.
func NewResourceID() (string, error) {
	buf := make([]byte, resourceIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ticket: generate resource id: %w", err)
	}
	out := make([]byte, resourceIDLength)
	for i, b := range buf {
		out[i] = resourceIDAlphabet[int(b)%len(resourceIDAlphabet)]
	}
	return string(out), nil
}
