// Package ipfilter restricts HTTP endpoints to configured addresses and networks.
package ipfilter

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks client addresses against allowed prefixes
type Filter struct {
	allowed []netip.Prefix
	trusted []netip.Prefix
	logger  *slog.Logger
}

// New creates a filter from single addresses and CIDR prefixes.
// Invalid entries are logged and skipped. An empty list allows everyone.
func New(entries []string, logger *slog.Logger) *Filter {
	return &Filter{
		allowed: parseList(entries, "allowed_ips", logger),
		logger:  logger,
	}
}

// SetTrustedProxies sets the peers whose X-Forwarded-For and X-Real-IP
// headers are honoured. Headers from any other peer are ignored.
func (f *Filter) SetTrustedProxies(entries []string) {
	f.trusted = parseList(entries, "trusted_proxies", f.logger)
}

func parseList(entries []string, setting string, logger *slog.Logger) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, err := parsePrefix(entry)
		if err != nil {
			logger.Warn("invalid entry in "+setting, "entry", entry, "error", err)
			continue
		}
		prefixes = append(prefixes, prefix)
	}
	return prefixes
}

func parsePrefix(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		return prefix.Masked(), err
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Enabled reports whether any prefix is configured
func (f *Filter) Enabled() bool {
	return len(f.allowed) > 0
}

// Count returns the number of allowed prefixes
func (f *Filter) Count() int {
	return len(f.allowed)
}

// Allows reports whether addr is allowed. An empty filter allows everything.
func (f *Filter) Allows(addr netip.Addr) bool {
	if len(f.allowed) == 0 {
		return true
	}
	return contains(f.allowed, addr)
}

func contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientAddr extracts the client address. Forwarding headers are read only
// when the peer is a trusted proxy: X-Forwarded-For is walked from the right
// to the first untrusted hop, then X-Real-IP is tried. Otherwise the peer
// address is used.
func (f *Filter) ClientAddr(r *http.Request) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// Maybe no port?
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	peer = peer.Unmap()

	if !contains(f.trusted, peer) {
		return peer, true
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		client := netip.Addr{}
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			client = addr.Unmap()
			if !contains(f.trusted, client) {
				break
			}
		}
		if client.IsValid() {
			return client, true
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr.Unmap(), true
		}
	}

	return peer, true
}

// HTTPMiddleware rejects requests from addresses outside the filter with 403
func (f *Filter) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		addr, ok := f.ClientAddr(r)
		if !ok {
			f.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if !f.Allows(addr) {
			f.logger.Warn("access denied by IP filter", "ip", addr.String(), "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
