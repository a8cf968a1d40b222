package http

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver determines the caller's address. Forwarding headers are
// honoured only when the direct peer sits inside one of the trusted networks.
type ClientIPResolver struct {
	trusted []*net.IPNet
}

// NewClientIPResolver parses the trusted proxy CIDR ranges
func NewClientIPResolver(trustedProxies []string) (*ClientIPResolver, error) {
	r := &ClientIPResolver{}
	for _, cidr := range trustedProxies {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy range %q: %w", cidr, err)
		}
		r.trusted = append(r.trusted, ipNet)
	}
	return r, nil
}

// ClientIP returns the best-known client address for r. A nil resolver
// trusts nobody and always uses RemoteAddr.
func (c *ClientIPResolver) ClientIP(r *http.Request) string {
	remoteIP := remoteAddr(r)
	if c == nil || !c.isTrusted(remoteIP) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, ip := range strings.Split(xff, ",") {
			ip = strings.TrimSpace(ip)
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}

	return remoteIP
}

func (c *ClientIPResolver) isTrusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range c.trusted {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
