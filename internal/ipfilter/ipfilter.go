// Package ipfilter restricts HTTP endpoints to a list of addresses and networks
package ipfilter

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Filter holds the allowed networks. An empty Filter allows everyone.
type Filter struct {
	nets    []*net.IPNet
	proxies *Proxies
	logger  *zap.Logger
}

// New parses single addresses and CIDRs. Invalid entries are logged and skipped.
func New(allowed []string, logger *zap.Logger) *Filter {
	return &Filter{nets: parseList(allowed, "allowed_ips", logger), logger: logger}
}

// BehindProxies makes the filter resolve clients through p
func (f *Filter) BehindProxies(p *Proxies) *Filter {
	f.proxies = p
	return f
}

// Proxies lists the reverse proxies whose forwarding headers are believed.
// A nil or empty Proxies trusts nobody.
type Proxies struct {
	nets []*net.IPNet
}

func NewProxies(trusted []string, logger *zap.Logger) *Proxies {
	return &Proxies{nets: parseList(trusted, "trusted_proxies", logger)}
}

func (p *Proxies) trusts(ip net.IP) bool {
	if p == nil || ip == nil {
		return false
	}
	for _, n := range p.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the peer address unless the peer is a trusted proxy. Behind
// one it walks X-Forwarded-For from the right and returns the first hop that
// is not a trusted proxy, then tries X-Real-IP.
func (p *Proxies) ClientIP(r *http.Request) net.IP {
	peer := peerIP(r)
	if !p.trusts(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				break
			}
			if !p.trusts(ip) {
				return ip
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip
		}
	}

	return peer
}

func peerIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

func parseList(entries []string, setting string, logger *zap.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if ipNet := parseEntry(entry); ipNet != nil {
			nets = append(nets, ipNet)
			continue
		}
		logger.Warn("invalid entry in "+setting, zap.String("entry", entry))
	}
	return nets
}

func parseEntry(entry string) *net.IPNet {
	if strings.Contains(entry, "/") {
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil
		}
		return ipNet
	}

	ip := net.ParseIP(entry)
	if ip == nil {
		return nil
	}
	bits := 128
	if v4 := ip.To4(); v4 != nil {
		ip, bits = v4, 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
}

// Enabled reports whether any network is configured
func (f *Filter) Enabled() bool {
	return len(f.nets) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	return len(f.nets)
}

// Allowed reports whether ip may pass
func (f *Filter) Allowed(ip net.IP) bool {
	if !f.Enabled() {
		return true
	}
	for _, n := range f.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Middleware answers 403 to clients outside the allowed networks
func (f *Filter) Middleware(next http.Handler) http.Handler {
	if !f.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := f.proxies.ClientIP(r)
		if ip == nil {
			f.logger.Warn("could not parse client IP", zap.String("remote_addr", r.RemoteAddr))
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if !f.Allowed(ip) {
			f.logger.Warn("access denied by IP filter",
				zap.String("ip", ip.String()),
				zap.String("path", r.URL.Path),
			)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
