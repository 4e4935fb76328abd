package identity

import (
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
)

// DefaultTrustedHeader is set by the edge proxy in front of the service.
const DefaultTrustedHeader = "CF-Connecting-IP"

// ErrNoClientIP is returned when neither the trusted header nor the socket
// address yields an IP.
var ErrNoClientIP = errors.New("cannot determine client address")

// ClientIP returns the caller's IP. trustedHeader, when non-empty and
// present, wins over the socket address; list-valued headers such as
// X-Forwarded-For contribute their first entry.
func ClientIP(r *http.Request, trustedHeader string) (string, error) {
	if trustedHeader != "" {
		if v := r.Header.Get(trustedHeader); v != "" {
			first, _, _ := strings.Cut(v, ",")
			if ip, ok := parseIP(hostFromAddr(first)); ok {
				return ip, nil
			}
		}
	}
	if ip, ok := parseIP(hostFromAddr(r.RemoteAddr)); ok {
		return ip, nil
	}
	return "", ErrNoClientIP
}

func parseIP(host string) (string, bool) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

func hostFromAddr(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return ""
	}

	// Fast path: "host:port" (IPv4 or bracketed IPv6).
	if h, _, err := net.SplitHostPort(a); err == nil {
		return h
	}

	// Raw IPv6 without port parses as-is.
	if _, err := netip.ParseAddr(strings.Trim(a, "[]")); err == nil {
		return strings.Trim(a, "[]")
	}

	// Unbracketed IPv6 "host:port": peel off the last ":port".
	if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			if _, err := strconv.Atoi(a[last+1:]); err == nil {
				return a[:last]
			}
		}
	}
	return a
}
