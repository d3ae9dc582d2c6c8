package endpoint

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/datum-cloud/datum-connect/identity"
)

// Mode selects how an Endpoint resolves a remote EndpointId to dialable UDP
// addresses.
type Mode int

const (
	// ModeDefault resolves only addresses the caller has learned directly
	// (e.g. from a prior inbound connection, or fed in out of band).
	ModeDefault Mode = iota
	// ModeDNS resolves addresses published as TXT records under DNSOrigin.
	ModeDNS
	// ModeHybrid tries the direct table first and falls back to DNS.
	ModeHybrid
)

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeDNS:
		return "dns"
	case ModeHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// Discovery resolves a remote endpoint ID to a set of candidate UDP
// addresses, most-preferred first.
type Discovery interface {
	Resolve(ctx context.Context, id identity.ID) ([]netip.AddrPort, error)
	// Publish makes addr discoverable under id, when the underlying
	// mechanism supports publication. Discovery modes that are read-only
	// from this endpoint's perspective (e.g. plain DNS) may no-op.
	Publish(id identity.ID, addr netip.AddrPort)
}

// directTable is address-book discovery: addresses seen on inbound
// connections, or learned out of band, indexed by endpoint ID.
type directTable struct {
	mu   sync.RWMutex
	addr map[identity.ID][]netip.AddrPort
}

func newDirectTable() *directTable {
	return &directTable{addr: make(map[identity.ID][]netip.AddrPort)}
}

func (t *directTable) Resolve(_ context.Context, id identity.ID) ([]netip.AddrPort, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addrs, ok := t.addr[id]
	if !ok || len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no known address for %s", ErrUnreachable, id.Short())
	}
	out := make([]netip.AddrPort, len(addrs))
	copy(out, addrs)
	return out, nil
}

func (t *directTable) Publish(id identity.ID, addr netip.AddrPort) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.addr[id] {
		if existing == addr {
			return
		}
	}
	t.addr[id] = append([]netip.AddrPort{addr}, t.addr[id]...)
}

// dnsDiscovery resolves addresses published as TXT records of the form
// "addr=<ip>:<port>" under "<endpoint-id-hex>.<origin>".
type dnsDiscovery struct {
	origin   string
	resolver string
	client   *dns.Client
	log      zerolog.Logger
}

func newDNSDiscovery(origin, resolver string, log zerolog.Logger) *dnsDiscovery {
	if resolver == "" {
		resolver = "1.1.1.1:53"
	}
	return &dnsDiscovery{
		origin:   origin,
		resolver: resolver,
		client:   &dns.Client{Timeout: 5 * time.Second},
		log:      log,
	}
}

func (d *dnsDiscovery) Resolve(ctx context.Context, id identity.ID) ([]netip.AddrPort, error) {
	name := fmt.Sprintf("%s.%s.", id.String(), d.origin)
	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeTXT)

	deadline, ok := ctx.Deadline()
	if ok {
		d.client.Timeout = time.Until(deadline)
	}

	reply, _, err := d.client.ExchangeContext(ctx, msg, d.resolver)
	if err != nil {
		return nil, fmt.Errorf("%w: dns lookup for %s: %v", ErrUnreachable, id.Short(), err)
	}

	var out []netip.AddrPort
	for _, rr := range reply.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for _, field := range txt.Txt {
			addr, perr := parseAddrField(field)
			if perr != nil {
				d.log.Debug().Str("field", field).Err(perr).Msg("endpoint: discarding unparseable discovery TXT record")
				continue
			}
			out = append(out, addr)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no TXT records for %s", ErrUnreachable, id.Short())
	}
	return out, nil
}

func (d *dnsDiscovery) Publish(identity.ID, netip.AddrPort) {
	// Publication of our own address under DNSOrigin is an operational,
	// out-of-band step (updating the zone); this endpoint only consumes it.
}

func parseAddrField(field string) (netip.AddrPort, error) {
	const prefix = "addr="
	if len(field) > len(prefix) && field[:len(prefix)] == prefix {
		field = field[len(prefix):]
	}
	host, portStr, err := net.SplitHostPort(field)
	if err != nil {
		return netip.AddrPort{}, err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(ip, uint16(port)), nil
}

// hybridDiscovery consults the direct table first, then falls back to DNS.
type hybridDiscovery struct {
	direct *directTable
	dns    *dnsDiscovery
}

func (h *hybridDiscovery) Resolve(ctx context.Context, id identity.ID) ([]netip.AddrPort, error) {
	if addrs, err := h.direct.Resolve(ctx, id); err == nil {
		return addrs, nil
	}
	return h.dns.Resolve(ctx, id)
}

func (h *hybridDiscovery) Publish(id identity.ID, addr netip.AddrPort) {
	h.direct.Publish(id, addr)
}

// DiscoveryConfig selects and parameterizes the discovery mode for Bind.
type DiscoveryConfig struct {
	Mode       Mode
	DNSOrigin  string
	DNSServer  string
}

func newDiscovery(cfg DiscoveryConfig, log zerolog.Logger) (Discovery, error) {
	switch cfg.Mode {
	case ModeDefault:
		return newDirectTable(), nil
	case ModeDNS:
		if cfg.DNSOrigin == "" {
			return nil, fmt.Errorf("endpoint: dns discovery requires a dns origin")
		}
		return newDNSDiscovery(cfg.DNSOrigin, cfg.DNSServer, log), nil
	case ModeHybrid:
		if cfg.DNSOrigin == "" {
			return nil, fmt.Errorf("endpoint: hybrid discovery requires a dns origin")
		}
		return &hybridDiscovery{
			direct: newDirectTable(),
			dns:    newDNSDiscovery(cfg.DNSOrigin, cfg.DNSServer, log),
		}, nil
	default:
		return nil, fmt.Errorf("endpoint: unknown discovery mode %d", cfg.Mode)
	}
}
