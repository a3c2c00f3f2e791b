package dav

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// srvTimeout bounds one SRV exchange.
var srvTimeout = 5 * time.Second

type srvTarget struct {
	host     string
	port     uint16
	priority uint16
	weight   uint16
}

// lookupSRV queries resolver for the SRV records of name and returns the
// targets ordered by priority, then by descending weight.
func lookupSRV(ctx context.Context, resolver, name string) ([]srvTarget, error) {
	m := new(dns.Msg)
	m.Id = dns.Id()
	m.RecursionDesired = true
	m.Question = []dns.Question{{Name: dns.Fqdn(name), Qtype: dns.TypeSRV, Qclass: dns.ClassINET}}

	c := &dns.Client{Timeout: srvTimeout}
	in, _, err := c.ExchangeContext(ctx, m, resolverAddr(resolver))
	if err != nil {
		return nil, fmt.Errorf("failed to query SRV %s: %w", name, err)
	}

	targets := make([]srvTarget, 0, len(in.Answer))
	for _, answer := range in.Answer {
		srv, ok := answer.(*dns.SRV)
		if !ok || srv.Target == "." {
			continue
		}
		targets = append(targets, srvTarget{
			host:     strings.TrimSuffix(srv.Target, "."),
			port:     srv.Port,
			priority: srv.Priority,
			weight:   srv.Weight,
		})
	}

	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].priority != targets[j].priority {
			return targets[i].priority < targets[j].priority
		}
		return targets[i].weight > targets[j].weight
	})
	return targets, nil
}

func resolverAddr(resolver string) string {
	if _, _, err := net.SplitHostPort(resolver); err == nil {
		return resolver
	}
	return net.JoinHostPort(resolver, "53")
}

// srvBaseURL looks up the RFC 6764 service record of the configured host
// and returns the URL it points at, or nil when there is none. https URLs
// use the "s" variant of the service ("_caldavs._tcp").
func srvBaseURL(ctx context.Context, resolver, service string, configured *url.URL) (*url.URL, error) {
	if configured.Scheme == "https" {
		service += "s"
	}
	targets, err := lookupSRV(ctx, resolver, "_"+service+"._tcp."+configured.Hostname())
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}

	t := targets[0]
	return &url.URL{
		Scheme: configured.Scheme,
		Host:   net.JoinHostPort(t.host, strconv.Itoa(int(t.port))),
		Path:   "/",
	}, nil
}
