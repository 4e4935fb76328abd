package notice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func forecastJSON(current string, hourly ...string) string {
	hours := ""
	for i, code := range hourly {
		if i > 0 {
			hours += ","
		}
		hours += fmt.Sprintf(`{"weatherCode":%q,"time":"%d"}`, code, i*300)
	}
	return fmt.Sprintf(`{"current_condition":[{"weatherCode":%q,"temp_C":"12"}],"weather":[{"hourly":[%s]}]}`, current, hours)
}

func stormServer(t *testing.T, body string, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestStorm(t *testing.T, url string) *Storm {
	t.Helper()
	s, err := NewStorm(url, time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStorm_ActiveStorm(t *testing.T) {
	t.Parallel()

	srv, _ := stormServer(t, forecastJSON("389", "113"), http.StatusOK)
	n, err := newTestStorm(t, srv.URL).Notice(context.Background())
	require.NoError(t, err)
	require.NotNil(t, n)
	require.Equal(t, SeverityRed, n.Severity)
	require.Equal(t, activeStormMessage, n.Message)
}

func TestStorm_ExpectedStorm(t *testing.T) {
	t.Parallel()

	srv, _ := stormServer(t, forecastJSON("113", "116", "308", "113"), http.StatusOK)
	n, err := newTestStorm(t, srv.URL).Notice(context.Background())
	require.NoError(t, err)
	require.NotNil(t, n)
	require.Equal(t, SeverityYellow, n.Severity)
}

func TestStorm_ClearSkiesCached(t *testing.T) {
	t.Parallel()

	srv, hits := stormServer(t, forecastJSON("113", "113", "116"), http.StatusOK)
	s := newTestStorm(t, srv.URL)
	for i := 0; i < 3; i++ {
		n, err := s.Notice(context.Background())
		require.NoError(t, err)
		require.Nil(t, n)
	}
	require.Equal(t, int32(1), hits.Load())
}

func TestStorm_StormNoticeCached(t *testing.T) {
	t.Parallel()

	srv, hits := stormServer(t, forecastJSON("389"), http.StatusOK)
	s := newTestStorm(t, srv.URL)
	for i := 0; i < 2; i++ {
		n, err := s.Notice(context.Background())
		require.NoError(t, err)
		require.NotNil(t, n)
		require.Equal(t, SeverityRed, n.Severity)
	}
	require.Equal(t, int32(1), hits.Load())

	cached, ok := s.cache.Get(stormCacheKey)
	require.True(t, ok)
	require.Equal(t, activeStormMessage, cached.notice.Message)
}

func TestStorm_ErrorsNotCached(t *testing.T) {
	t.Parallel()

	srv, hits := stormServer(t, "unknown location", http.StatusNotFound)
	s := newTestStorm(t, srv.URL)
	for i := 0; i < 2; i++ {
		_, err := s.Notice(context.Background())
		require.Error(t, err)
	}
	require.Equal(t, int32(2), hits.Load())

	bad, _ := stormServer(t, `{"weather":[]}`, http.StatusOK)
	_, err := newTestStorm(t, bad.URL).Notice(context.Background())
	require.Error(t, err)
}

type fakeProvider struct {
	name   string
	notice *Notice
	err    error
	calls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Notice(context.Context) (*Notice, error) {
	f.calls++
	return f.notice, f.err
}

func TestChain_FirstNonNilWins(t *testing.T) {
	t.Parallel()

	broken := &fakeProvider{name: "broken", err: errors.New("boom")}
	quiet := &fakeProvider{name: "quiet"}
	first := &fakeProvider{name: "first", notice: &Notice{Severity: SeverityYellow, Message: "one"}}
	second := &fakeProvider{name: "second", notice: &Notice{Severity: SeverityRed, Message: "two"}}

	n := Chain{broken, quiet, first, second}.Notice(context.Background())
	require.NotNil(t, n)
	require.Equal(t, "one", n.Message)
	require.Equal(t, 1, broken.calls)
	require.Equal(t, 1, quiet.calls)
	require.Zero(t, second.calls)
}

func TestChain_Empty(t *testing.T) {
	t.Parallel()

	require.Nil(t, Chain(nil).Notice(context.Background()))
	require.Nil(t, Chain{&fakeProvider{name: "quiet"}}.Notice(context.Background()))
}
