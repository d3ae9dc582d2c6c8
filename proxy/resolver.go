package proxy

import (
	"context"
	"errors"
	"fmt"

	"github.com/datum-cloud/datum-connect/authority"
	"github.com/datum-cloud/datum-connect/identity"
	"github.com/datum-cloud/datum-connect/registry"
	"github.com/datum-cloud/datum-connect/ticket"
)

// AdvertisementKind namespaces tunnel-advertisement tickets within the
// Ticket Registry.
const AdvertisementKind registry.Kind = "tunnel-advertisement"

// ErrResourceNotFound means no ticket is published under the requested
// resource ID.
var ErrResourceNotFound = errors.New("proxy: resource not found")

// Resolver is the gateway's ticket-resolution capability (design notes
// §9): given a resource ID extracted from the Host header, it returns the
// listener's endpoint ID and the local authority to request from them.
// The default implementation wraps a registry.Client; tests can supply an
// in-memory stub without standing up a real registry.
type Resolver interface {
	Resolve(ctx context.Context, resourceID string) (identity.ID, authority.Authority, error)
}

// RegistryResolver resolves tickets published to a Ticket Registry.
type RegistryResolver struct {
	Client registry.Client
}

func (r RegistryResolver) Resolve(ctx context.Context, resourceID string) (identity.ID, authority.Authority, error) {
	raw, err := r.Client.Get(ctx, AdvertisementKind, resourceID)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return identity.ID{}, authority.Authority{}, ErrResourceNotFound
	case err != nil:
		return identity.ID{}, authority.Authority{}, fmt.Errorf("proxy: resolve %s: %w", resourceID, err)
	}

	t, err := ticket.Decode(raw)
	if err != nil {
		return identity.ID{}, authority.Authority{}, fmt.Errorf("proxy: decode ticket for %s: %w", resourceID, err)
	}
	return t.EndpointID, t.Advertisement.Service, nil
}
