package p2p

import (
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// resolvConf is where the system resolver configuration is read from.
const resolvConf = "/etc/resolv.conf"

// dnsTimeout bounds a single seed query.
const dnsTimeout = 10 * time.Second

// Seeder resolves a fixed list of host names into bootstrap peer
// candidates. Resolution failures are reported to the event handler and
// otherwise ignored.
type Seeder struct {
	seeds     []string
	port      string
	evHandler func(v string, args ...any)
}

// NewSeeder constructs a seeder over the given host names. Every resolved
// A record becomes a candidate at the default port.
func NewSeeder(seeds []string, port string, ev func(v string, args ...any)) *Seeder {
	return &Seeder{seeds: seeds, port: port, evHandler: ev}
}

// Discover resolves all seeds and returns the unique candidate addresses.
func (s *Seeder) Discover() []string {
	if len(s.seeds) == 0 {
		return nil
	}

	cfg, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil {
		s.evHandler("p2p: dns: reading resolver config: %s", err)
		return nil
	}
	if len(cfg.Servers) == 0 {
		s.evHandler("p2p: dns: no resolvers configured")
		return nil
	}

	client := dns.Client{Timeout: dnsTimeout}
	server := net.JoinHostPort(cfg.Servers[0], cfg.Port)

	unique := make(map[string]struct{})
	var candidates []string

	for _, seed := range s.seeds {
		msg := dns.Msg{}
		msg.SetQuestion(dns.Fqdn(seed), dns.TypeA)

		resp, _, err := client.Exchange(&msg, server)
		if err != nil {
			s.evHandler("p2p: dns: resolving %s: %s", seed, err)
			continue
		}

		for _, answer := range resp.Answer {
			a, ok := answer.(*dns.A)
			if !ok {
				continue
			}
			addr := net.JoinHostPort(a.A.String(), s.port)
			if _, seen := unique[addr]; seen {
				continue
			}
			unique[addr] = struct{}{}
			candidates = append(candidates, addr)
		}

		s.evHandler("p2p: dns: seed %s resolved %d candidates", seed, len(resp.Answer))
	}

	return candidates
}

// String describes the seeder for logs.
func (s *Seeder) String() string {
	return fmt.Sprintf("seeder over %d hosts", len(s.seeds))
}
