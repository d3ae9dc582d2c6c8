// Package ticket implements the wire form of a tunnel advertisement: the
// opaque bytes a listener publishes to the Ticket Registry and a gateway
// resolves to find its way back to that listener.
//
// Encoding note: the reference implementation leans on a schema-compiled
// binary codec for its wire structures (see quic/pogs.go in the teacher
// repo). Reproducing that here would require running the capnp compiler,
// which this environment cannot do, so tickets are instead encoded with
// jsoniter (already part of the teacher's dependency set, used today for
// cloudflared's own log formatting) behind a fixed one-byte kind tag. JSON
// is self-describing in the same sense the spec asks for, and jsoniter's
// wire output is what actually gets persisted and transmitted.
package ticket

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/datum-cloud/datum-connect/authority"
	"github.com/datum-cloud/datum-connect/identity"
)

// Kind is the fixed tag prefixed to every serialized ticket so that future
// ticket kinds can share the same registry namespace without ambiguity.
const Kind byte = 0xd1

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Advertisement is a listener's declaration that a local authority is
// reachable under a public resource ID.
type Advertisement struct {
	ResourceID string             `json:"resource_id"`
	Label      string             `json:"label,omitempty"`
	Service    authority.Authority `json:"service"`
	Enabled    bool               `json:"enabled"`
}

// Ticket pairs an Advertisement with the endpoint ID of the listener that
// owns it. This is the value a gateway needs to reach the listener: who
// (EndpointID) and what (the authority to open on their side).
type Ticket struct {
	Advertisement Advertisement `json:"advertisement"`
	EndpointID    identity.ID   `json:"endpoint_id"`
}

// ticketWire exists only so identity.ID (a fixed-size byte array) is
// JSON-encoded as its hex string rather than an array of integers.
type ticketWire struct {
	Advertisement Advertisement `json:"advertisement"`
	EndpointID    string        `json:"endpoint_id"`
}

// Encode serializes a ticket to its wire form: one kind byte followed by
// compact JSON.
func Encode(t Ticket) ([]byte, error) {
	wire := ticketWire{Advertisement: t.Advertisement, EndpointID: t.EndpointID.String()}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("ticket: encode: %w", err)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, Kind)
	out = append(out, body...)
	return out, nil
}

// Decode parses the wire form produced by Encode.
func Decode(b []byte) (Ticket, error) {
	if len(b) == 0 {
		return Ticket{}, fmt.Errorf("ticket: empty payload")
	}
	if b[0] != Kind {
		return Ticket{}, fmt.Errorf("ticket: unexpected kind tag 0x%x", b[0])
	}
	var wire ticketWire
	if err := json.Unmarshal(b[1:], &wire); err != nil {
		return Ticket{}, fmt.Errorf("ticket: decode: %w", err)
	}
	id, err := identity.FromHex(wire.EndpointID)
	if err != nil {
		return Ticket{}, fmt.Errorf("ticket: decode endpoint id: %w", err)
	}
	return Ticket{Advertisement: wire.Advertisement, EndpointID: id}, nil
}
