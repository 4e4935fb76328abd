package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"edgemetrics/internal/api"
)

func TestCheckServerHealth_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{"status":"ok"}}`))
	}))
	defer srv.Close()

	if !checkServerHealth(context.Background(), api.NewClient(srv.URL, ""), time.Second) {
		t.Fatal("expected health check to succeed")
	}
}

func TestCheckServerHealth_Failure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if checkServerHealth(context.Background(), api.NewClient(srv.URL, ""), time.Second) {
		t.Fatal("expected health check to fail")
	}
}

func TestCheckServerHealth_NoHealthEndpoint(t *testing.T) {
	t.Parallel()

	if !checkServerHealth(context.Background(), &fakeUpstream{}, time.Second) {
		t.Fatal("upstream without health endpoint must count as healthy")
	}
}
