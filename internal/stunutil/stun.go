package stunutil

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

// DefaultServers are queried when no servers are configured.
var DefaultServers = []string{"stun.cloudflare.com:3478", "stun.l.google.com:19302"}

// Result is the outcome of asking several STUN servers for our mapping.
type Result struct {
	// IP is the public address reported by the first server that answered.
	IP string
	// Mapped holds every host:port mapping that was returned.
	Mapped []string
	// Stable is true when at least two servers answered with the same IP.
	Stable bool
}

// PublicIP queries STUN servers for the public address this host egresses
// from. This is the address a node lock must name.
// Note: The mapped address is for the STUN socket; HTTP traffic may leave
// through a different path when policy routing is in place.
func PublicIP(ctx context.Context, servers []string, timeout time.Duration) (Result, error) {
	if len(servers) == 0 {
		servers = DefaultServers
	}

	mapped := make([]string, 0, len(servers))
	var lastErr error
	for _, server := range servers {
		addr, err := probeServer(ctx, server, timeout)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", server, err)
			continue
		}
		mapped = append(mapped, addr)
	}

	if len(mapped) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("STUN probe failed")
		}
		return Result{}, lastErr
	}

	return Result{
		IP:     hostOf(mapped[0]),
		Mapped: mapped,
		Stable: SameIP(mapped),
	}, nil
}

// SameIP reports whether at least two mappings exist and all share one IP.
// Ports are ignored; NATs commonly vary them per destination.
func SameIP(addrs []string) bool {
	if len(addrs) < 2 {
		return false
	}
	first := hostOf(addrs[0])
	for _, addr := range addrs[1:] {
		if hostOf(addr) != first {
			return false
		}
	}
	return true
}

func hostOf(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}

func probeServer(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", fmt.Errorf("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)

	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := addr.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- addr
		})
		if err != nil {
			fail <- err
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case addr := <-result:
		return addr.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
