// Package dnsverify looks up the TXT records used to prove custom domain ownership.
package dnsverify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	DefaultTimeout = 5 * time.Second
	resolvConf     = "/etc/resolv.conf"
)

// fallbackNameservers are used when none are configured and resolv.conf is unreadable
var fallbackNameservers = []string{"1.1.1.1:53", "8.8.8.8:53"}

// Resolver looks up TXT records. A name without TXT records yields no records and no error.
type Resolver interface {
	LookupTXT(ctx context.Context, domain string) ([]string, error)
}

// Client queries nameservers directly so lookups honor the caller's deadline and bypass
// the local resolver cache.
type Client struct {
	nameservers []string
	udp         *dns.Client
	tcp         *dns.Client
}

// NewClient creates a client for the given nameservers ("host" or "host:port"). With none
// given it reads /etc/resolv.conf.
func NewClient(nameservers []string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	servers := normalizeServers(nameservers)
	if len(servers) == 0 {
		servers = systemNameservers()
	}
	return &Client{
		nameservers: servers,
		udp:         &dns.Client{Net: "udp", Timeout: timeout},
		tcp:         &dns.Client{Net: "tcp", Timeout: timeout},
	}
}

// Nameservers returns the servers queried, in order
func (c *Client) Nameservers() []string {
	return append([]string(nil), c.nameservers...)
}

// LookupTXT asks each nameserver in turn until one answers. NXDOMAIN and an empty answer both
// mean no records; timeouts and server failures are errors.
func (c *Client) LookupTXT(ctx context.Context, domain string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range c.nameservers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := c.exchange(ctx, msg, server)
		if err != nil {
			lastErr = fmt.Errorf("query %s: %w", server, err)
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
			return txtRecords(resp), nil
		case dns.RcodeNameError:
			return nil, nil
		default:
			lastErr = fmt.Errorf("query %s: %s", server, dns.RcodeToString[resp.Rcode])
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no nameservers configured")
	}
	return nil, lastErr
}

func (c *Client) exchange(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, error) {
	resp, _, err := c.udp.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		resp, _, err = c.tcp.ExchangeContext(ctx, msg, server)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// txtRecords joins the character strings of each TXT record in the answer
func txtRecords(resp *dns.Msg) []string {
	var records []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}
	return records
}

func normalizeServers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		out = append(out, s)
	}
	return out
}

func systemNameservers() []string {
	conf, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil || len(conf.Servers) == 0 {
		return fallbackNameservers
	}
	out := make([]string, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		out = append(out, net.JoinHostPort(s, conf.Port))
	}
	return out
}
