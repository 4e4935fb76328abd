package identity

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"edgemetrics/internal/model"
)

var (
	// ErrUnauthorized is returned for a missing or unknown credential.
	ErrUnauthorized = errors.New("invalid authorization code")
	// ErrMisused is returned when a valid credential arrives from an address
	// other than its lock. It matches ErrUnauthorized under errors.Is.
	ErrMisused error = &misusedError{}
)

type misusedError struct{}

func (*misusedError) Error() string { return "authorization code has been misused" }

func (*misusedError) Is(target error) bool { return target == ErrUnauthorized }

type entry struct {
	node model.Node
	lock netip.Addr
}

// Gate maps credentials to nodes and enforces IP locks. It is immutable
// after construction.
type Gate struct {
	byCredential map[string]entry
}

// NewGate indexes nodes by credential. Nodes are expected to be validated
// already; a duplicate credential or an unparsable lock is still an error.
func NewGate(nodes []model.Node) (*Gate, error) {
	g := &Gate{byCredential: make(map[string]entry, len(nodes))}
	for _, n := range nodes {
		if n.Authorization == "" {
			return nil, fmt.Errorf("node %q: empty authorization", n.Name)
		}
		if _, dup := g.byCredential[n.Authorization]; dup {
			return nil, fmt.Errorf("node %q: duplicate authorization", n.Name)
		}
		e := entry{node: n}
		if lock := strings.TrimSpace(n.Lock); lock != "" {
			addr, err := netip.ParseAddr(lock)
			if err != nil {
				return nil, fmt.Errorf("node %q: invalid lock: %w", n.Name, err)
			}
			e.lock = addr.Unmap()
		}
		g.byCredential[n.Authorization] = e
	}
	return g, nil
}

// Resolve returns the node owning credential when called from ip.
func (g *Gate) Resolve(credential, ip string) (model.Node, error) {
	if credential == "" {
		return model.Node{}, ErrUnauthorized
	}
	e, ok := g.byCredential[credential]
	if !ok {
		return model.Node{}, ErrUnauthorized
	}
	if e.lock.IsValid() {
		observed, err := netip.ParseAddr(strings.TrimSpace(ip))
		if err != nil || observed.Unmap() != e.lock {
			return model.Node{}, ErrMisused
		}
	}
	return e.node, nil
}

// Credential extracts the token from an Authorization header value. Both
// "Bearer <token>" and the bare token are accepted.
func Credential(header string) string {
	h := strings.TrimSpace(header)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}
