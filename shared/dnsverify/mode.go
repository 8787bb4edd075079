package dnsverify

import (
	"fmt"
	"strings"
	"time"
)

// Resolver modes
const (
	ModeLive   = "live"
	ModeStatic = "static"
)

const (
	breakerFailures = 5
	breakerReset    = 30 * time.Second
)

// New builds the resolver for mode. Live lookups go through a circuit breaker. Static
// resolvers are seeded from "domain=record" pairs.
func New(mode string, nameservers []string, timeout time.Duration, staticRecords []string) (Resolver, error) {
	switch mode {
	case "", ModeLive:
		return NewGuarded(NewClient(nameservers, timeout), NewCircuitBreaker(breakerFailures, breakerReset)), nil
	case ModeStatic:
		s := NewStatic()
		for _, pair := range staticRecords {
			domain, record, ok := strings.Cut(pair, "=")
			if !ok || domain == "" {
				return nil, fmt.Errorf("invalid static DNS record %q, want domain=record", pair)
			}
			s.records[key(domain)] = append(s.records[key(domain)], record)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown DNS mode %q", mode)
}
