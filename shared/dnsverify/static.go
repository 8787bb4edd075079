package dnsverify

import (
	"context"
	"strings"
	"sync"
)

// Static serves TXT records from memory. It backs local development (DNS_MODE=static)
// and tests.
type Static struct {
	mu      sync.RWMutex
	records map[string][]string
	err     error
}

// NewStatic creates an empty Static resolver
func NewStatic() *Static {
	return &Static{records: make(map[string][]string)}
}

// Set replaces the records of domain
func (s *Static) Set(domain string, records ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key(domain)] = append([]string(nil), records...)
}

// FailWith makes every lookup return err until it is called with nil
func (s *Static) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]string(nil), s.records[key(domain)]...), nil
}

func key(domain string) string {
	return strings.TrimSuffix(strings.ToLower(domain), ".")
}
