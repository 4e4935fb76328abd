package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"edgemetrics/internal/model"
)

func TestClient_ErrorIncludesServerMessage(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":401,"error":"Invalid authorization code."}`))
	}))
	defer s.Close()

	c := NewClient(s.URL, "bad")
	_, err := c.Endpoints(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	got := err.Error()
	if !strings.Contains(got, "401") {
		t.Fatalf("error missing status: %q", got)
	}
	if !strings.Contains(got, "Invalid authorization code.") {
		t.Fatalf("error missing message: %q", got)
	}
	if !IsUnauthorized(err) {
		t.Fatalf("IsUnauthorized=false for %v", err)
	}
}

func TestClient_ErrorFallsBackToBody(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer s.Close()

	_, err := NewClient(s.URL, "").Metrics(context.Background())
	if err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("err=%v", err)
	}
	if IsUnauthorized(err) {
		t.Fatalf("502 reported as unauthorized")
	}
}

func TestClient_EndpointsSendsBearer(t *testing.T) {
	t.Parallel()

	var gotAuth string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/private/endpoints" {
			t.Errorf("path=%s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"code":200,"data":[{"name":"home","url":"https://example.com/"}]}`))
	}))
	defer s.Close()

	eps, err := NewClient(s.URL+"/", "tok").Endpoints(context.Background())
	if err != nil {
		t.Fatalf("Endpoints: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth=%q", gotAuth)
	}
	if len(eps) != 1 || eps[0].Name != "home" || eps[0].URL != "https://example.com/" {
		t.Fatalf("endpoints=%+v", eps)
	}
}

func TestClient_SubmitMetrics(t *testing.T) {
	t.Parallel()

	var (
		gotCycle string
		gotBody  map[string]model.MetricRecord
	)
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method=%s", r.Method)
		}
		gotCycle = r.Header.Get(CycleIDHeader)
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"code":200}`))
	}))
	defer s.Close()

	req := MetricsRequest{"home": {TFB: 10, RWL: 50, CPT: 5, TCP: 8, TLS: 12, HTC: 200}}
	if err := NewClient(s.URL, "tok").SubmitMetrics(context.Background(), "cycle-1", req); err != nil {
		t.Fatalf("SubmitMetrics: %v", err)
	}
	if gotCycle != "cycle-1" {
		t.Fatalf("cycle=%q", gotCycle)
	}
	if gotBody["home"] != req["home"] {
		t.Fatalf("body=%+v", gotBody)
	}
}

func TestClient_MetricsEmptyOverall(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":{"home":{"nodes":{},"overall":{}}}}`))
	}))
	defer s.Close()

	got, err := NewClient(s.URL, "").Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	home, ok := got["home"]
	if !ok {
		t.Fatalf("missing home: %+v", got)
	}
	if home.Overall != nil || len(home.Nodes) != 0 {
		t.Fatalf("home=%+v", home)
	}
}

func TestClient_NoticeNull(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"data":null}`))
	}))
	defer s.Close()

	n, err := NewClient(s.URL, "").Notice(context.Background())
	if err != nil {
		t.Fatalf("Notice: %v", err)
	}
	if n != nil {
		t.Fatalf("notice=%+v", n)
	}
}
