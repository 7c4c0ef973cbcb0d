// Package fetch implements the sandbox's one sanctioned network path: a
// policy-gated HTTP client consumed by the Sandbox facade, the curl
// interceptor, and the guest fetch bridge.
package fetch

import (
	"net"
	"strings"
)

// Policy gates every outbound request the client makes. A nil Policy on the
// caller's side means networking is disabled entirely; that check happens
// above this package, in the facade.
type Policy struct {
	AllowedDomains   []string
	BlockedDomains   []string
	DenyPrivateIPs   bool
	RequestTimeoutMS int
	MaxRedirects     int
}

const (
	defaultRequestTimeoutMS = 10_000
	defaultMaxRedirects     = 5
)

func (p *Policy) requestTimeoutMS() int {
	if p.RequestTimeoutMS > 0 {
		return p.RequestTimeoutMS
	}
	return defaultRequestTimeoutMS
}

func (p *Policy) maxRedirects() int {
	if p.MaxRedirects > 0 {
		return p.MaxRedirects
	}
	return defaultMaxRedirects
}

// checkDomain reports whether host is permitted by the allow/block lists.
// A non-empty AllowedDomains acts as a closed allowlist; BlockedDomains is
// checked regardless and always wins.
func (p *Policy) checkDomain(host string) error {
	host = strings.ToLower(host)
	for _, blocked := range p.BlockedDomains {
		if domainMatches(host, blocked) {
			return &PolicyError{Reason: "domain blocked", Host: host}
		}
	}
	if len(p.AllowedDomains) == 0 {
		return nil
	}
	for _, allowed := range p.AllowedDomains {
		if domainMatches(host, allowed) {
			return nil
		}
	}
	return &PolicyError{Reason: "domain not allowed", Host: host}
}

// domainMatches reports whether host equals pattern or is a subdomain of it.
func domainMatches(host, pattern string) bool {
	pattern = strings.ToLower(pattern)
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// checkIP rejects loopback, link-local, and RFC 1918 private addresses,
// which includes the cloud-metadata address 169.254.169.254, unless the
// policy has opted out of the check entirely.
func (p *Policy) checkIP(ip net.IP) error {
	if !p.DenyPrivateIPs {
		return nil
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsPrivate() || ip.IsUnspecified() {
		return &PolicyError{Reason: "private or blocked address", Host: ip.String()}
	}
	return nil
}
