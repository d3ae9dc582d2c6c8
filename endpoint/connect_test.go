package endpoint

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/datum-cloud/datum-connect/identity"
	"github.com/datum-cloud/datum-connect/retry"
)

// emptyDiscovery always resolves to zero addresses without error, letting
// a test drive Connect's retry-across-discovery-passes loop without
// touching the network.
type emptyDiscovery struct {
	calls int
}

func (d *emptyDiscovery) Resolve(context.Context, identity.ID) ([]netip.AddrPort, error) {
	d.calls++
	return nil, nil
}

func (d *emptyDiscovery) Publish(identity.ID, netip.AddrPort) {}

func TestConnectGivesUpAfterExhaustingBackoff(t *testing.T) {
	orig := retry.Clock.After
	retry.Clock.After = func(time.Duration) <-chan time.Time {
		c := make(chan time.Time, 1)
		c <- time.Now()
		return c
	}
	defer func() { retry.Clock.After = orig }()

	selfKey, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate self key: %v", err)
	}
	cert, err := selfSignedCert(selfKey)
	if err != nil {
		t.Fatalf("self signed cert: %v", err)
	}

	disc := &emptyDiscovery{}
	ep := &Endpoint{
		id:        selfKey.Public(),
		cert:      cert,
		discovery: disc,
		sessions:  make(map[identity.ID]quic.Connection),
		listeners: make(map[string]*quic.Listener),
	}

	remote, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate remote key: %v", err)
	}

	_, err = ep.Connect(context.Background(), remote.Public(), "test-alpn")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("got err %v, want ErrUnreachable", err)
	}

	want := connectRetries + 1
	if disc.calls != want {
		t.Fatalf("discovery resolved %d times, want %d (one initial pass plus %d retries)", disc.calls, want, connectRetries)
	}
}
