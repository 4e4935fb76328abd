package identity

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"edgemetrics/internal/model"
)

func testGate(t *testing.T) *Gate {
	t.Helper()
	g, err := NewGate([]model.Node{
		{Name: "tokyo", Authorization: "tok-tokyo", Location: "Tokyo, JP"},
		{Name: "paris", Authorization: "tok-paris", Lock: "203.0.113.7"},
		{Name: "v6", Authorization: "tok-v6", Lock: "2001:db8::1"},
	})
	require.NoError(t, err)
	return g
}

func TestResolve_KnownCredential(t *testing.T) {
	t.Parallel()

	n, err := testGate(t).Resolve("tok-tokyo", "198.51.100.1")
	require.NoError(t, err)
	require.Equal(t, "tokyo", n.Name)
	require.Equal(t, "Tokyo, JP", n.Location)
}

func TestResolve_UnknownCredential(t *testing.T) {
	t.Parallel()

	g := testGate(t)
	for _, cred := range []string{"", "nope", "tok-tokyo "} {
		_, err := g.Resolve(cred, "198.51.100.1")
		require.ErrorIs(t, err, ErrUnauthorized, cred)
		require.NotErrorIs(t, err, ErrMisused, cred)
	}
}

func TestResolve_LockMismatch(t *testing.T) {
	t.Parallel()

	g := testGate(t)
	for _, ip := range []string{"203.0.113.8", "", "garbage"} {
		_, err := g.Resolve("tok-paris", ip)
		require.ErrorIs(t, err, ErrMisused, ip)
		require.ErrorIs(t, err, ErrUnauthorized, ip)
		require.Equal(t, "authorization code has been misused", err.Error())
	}
}

func TestResolve_LockMatch(t *testing.T) {
	t.Parallel()

	g := testGate(t)
	n, err := g.Resolve("tok-paris", "203.0.113.7")
	require.NoError(t, err)
	require.Equal(t, "paris", n.Name)

	n, err = g.Resolve("tok-paris", "::ffff:203.0.113.7")
	require.NoError(t, err, "IPv4-mapped form must match the lock")
	require.Equal(t, "paris", n.Name)

	n, err = g.Resolve("tok-v6", "2001:0db8:0:0:0:0:0:1")
	require.NoError(t, err)
	require.Equal(t, "v6", n.Name)
}

func TestNewGate_RejectsBadNodes(t *testing.T) {
	t.Parallel()

	_, err := NewGate([]model.Node{{Name: "a", Authorization: "x"}, {Name: "b", Authorization: "x"}})
	require.Error(t, err)

	_, err = NewGate([]model.Node{{Name: "a", Authorization: "x", Lock: "10.0.0.300"}})
	require.Error(t, err)

	_, err = NewGate([]model.Node{{Name: "a"}})
	require.Error(t, err)
}

func TestCredential(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":               "",
		"abc":            "abc",
		"Bearer abc":     "abc",
		"bearer  abc ":   "abc",
		"  raw-token  ":  "raw-token",
		"Bearer":         "Bearer",
		"Basic dXNlcjpw": "Basic dXNlcjpw",
	}
	for in, want := range cases {
		require.Equal(t, want, Credential(in), in)
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.10:5555"

	ip, err := ClientIP(r, DefaultTrustedHeader)
	require.NoError(t, err)
	require.Equal(t, "192.0.2.10", ip)

	r.Header.Set(DefaultTrustedHeader, "203.0.113.7")
	ip, err = ClientIP(r, DefaultTrustedHeader)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.7", ip)

	ip, err = ClientIP(r, "")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.10", ip, "header ignored when not trusted")

	r.Header.Set("X-Forwarded-For", "2001:db8::5, 10.0.0.1")
	ip, err = ClientIP(r, "X-Forwarded-For")
	require.NoError(t, err)
	require.Equal(t, "2001:db8::5", ip)
}

func TestClientIP_Undeterminable(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "@"
	_, err := ClientIP(r, DefaultTrustedHeader)
	require.True(t, errors.Is(err, ErrNoClientIP))
}

func TestHostFromAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"39.119.108.243:33134": "39.119.108.243",
		"[2001:db8::1]:51820":  "2001:db8::1",
		"2001:db8::1":          "2001:db8::1",
		"10.0.0.1":             "10.0.0.1",
		"  ":                   "",
	}
	for in, want := range cases {
		require.Equal(t, want, hostFromAddr(in), in)
	}
}
