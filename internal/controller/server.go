package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edgemetrics/internal/api"
	"edgemetrics/internal/config"
	"edgemetrics/internal/identity"
	"edgemetrics/internal/metrics"
	"edgemetrics/internal/model"
	"edgemetrics/internal/notice"
	"edgemetrics/internal/store"
)

const (
	msgInvalidAuth = "Invalid authorization code."
	msgMisusedAuth = "Authorization code has been misused."
)

// Server provides the metrics HTTP API.
type Server struct {
	cfg       config.ServerConfig
	gate      *identity.Gate
	store     *store.MetricStore
	notices   notice.Chain
	closers   []func()
	nodes     []api.NodeInfo
	endpoints []model.Endpoint
	known     map[string]struct{}
}

// NewServer constructs a server from validated configuration.
func NewServer(cfg config.ServerConfig) (*Server, error) {
	gate, err := identity.NewGate(cfg.Nodes)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		gate:      gate,
		store:     store.NewMetricStore(cfg.Endpoints),
		endpoints: append([]model.Endpoint(nil), cfg.Endpoints...),
		known:     make(map[string]struct{}, len(cfg.Endpoints)),
	}
	for _, ep := range cfg.Endpoints {
		s.known[ep.Name] = struct{}{}
	}
	for _, n := range cfg.Nodes {
		s.nodes = append(s.nodes, api.NodeInfo{Name: n.Name, Location: n.Location})
	}

	if cfg.Notice.Storm.Enabled {
		storm, err := notice.NewStorm(cfg.Notice.Storm.URL, cfg.Notice.Storm.TTL, nil)
		if err != nil {
			return nil, err
		}
		s.notices = append(s.notices, storm)
		s.closers = append(s.closers, storm.Close)
	}

	for _, name := range config.WeakCredentials(&cfg) {
		log.Printf("[server] node %q uses a weak authorization code", name)
	}
	return s, nil
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/nodes", s.handleNodes)
	mux.HandleFunc("GET /v1/metrics", s.handleMetrics)
	mux.HandleFunc("GET /v1/notice", s.handleNotice)
	mux.HandleFunc("GET /v1/private/endpoints", s.handleEndpoints)
	mux.HandleFunc("POST /v1/private/metrics", s.handleSubmit)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /prometheus", promhttp.Handler())

	return countRequests(limitBody(s.cfg.MaxBodyBytes, mux))
}

// ListenAndServe runs the HTTP server until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", s.cfg.Listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases notice provider resources.
func (s *Server) Close() {
	for _, c := range s.closers {
		c()
	}
}

// Store exposes the metric store.
func (s *Server) Store() *store.MetricStore {
	return s.store
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.nodes
	if nodes == nil {
		nodes = []api.NodeInfo{}
	}
	writeData(w, http.StatusOK, nodes)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, metrics.Summarize(s.store.Snapshot()))
}

func (s *Server) handleNotice(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.notices.Notice(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, api.Health{Status: "ok"})
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	endpoints := s.endpoints
	if endpoints == nil {
		endpoints = []model.Endpoint{}
	}
	writeData(w, http.StatusOK, endpoints)
}

// submittedRecord uses pointers so a missing field can be told apart from 0.
type submittedRecord struct {
	TFB *int64 `json:"tfb"`
	RWL *int64 `json:"rwl"`
	CPT *int64 `json:"cpt"`
	TCP *int64 `json:"tcp"`
	TLS *int64 `json:"tls"`
	HTC *int64 `json:"htc"`
}

func (sr submittedRecord) record() (model.MetricRecord, error) {
	fields := []struct {
		name  string
		value *int64
	}{
		{"tfb", sr.TFB}, {"rwl", sr.RWL}, {"cpt", sr.CPT},
		{"tcp", sr.TCP}, {"tls", sr.TLS}, {"htc", sr.HTC},
	}
	for _, f := range fields {
		if f.value == nil {
			return model.MetricRecord{}, fmt.Errorf("missing field %q", f.name)
		}
	}
	return model.MetricRecord{
		TFB: *sr.TFB,
		RWL: *sr.RWL,
		CPT: *sr.CPT,
		TCP: *sr.TCP,
		TLS: *sr.TLS,
		HTC: *sr.HTC,
	}, nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	node, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req map[string]submittedRecord
	if err := decodeJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	records := make(map[string]model.MetricRecord, len(req))
	for endpoint, sr := range req {
		if endpoint == "" {
			writeJSONError(w, http.StatusBadRequest, "empty endpoint name")
			return
		}
		if _, known := s.known[endpoint]; s.cfg.StrictEndpoints && !known {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown endpoint %q", endpoint))
			return
		}
		rec, err := sr.record()
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("endpoint %q: %v", endpoint, err))
			return
		}
		records[endpoint] = rec
	}

	s.store.PutAll(node.Name, records)
	submissionsTotal.WithLabelValues(node.Name).Inc()
	recordsStored.Add(float64(len(records)))

	if cycle := r.Header.Get(api.CycleIDHeader); cycle != "" {
		log.Printf("[server] node=%s cycle=%s records=%d", node.Name, cycle, len(records))
	}
	writeJSON(w, http.StatusOK, okResponse{Code: http.StatusOK})
}

// authenticate resolves the calling node or writes the error response.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (model.Node, bool) {
	ip, err := identity.ClientIP(r, s.cfg.TrustedIPHeader)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return model.Node{}, false
	}

	node, err := s.gate.Resolve(identity.Credential(r.Header.Get("Authorization")), ip)
	switch {
	case errors.Is(err, identity.ErrMisused):
		authFailures.WithLabelValues("misused").Inc()
		log.Printf("[server] locked credential used from %s", ip)
		writeJSONError(w, http.StatusUnauthorized, msgMisusedAuth)
		return model.Node{}, false
	case err != nil:
		authFailures.WithLabelValues("invalid").Inc()
		writeJSONError(w, http.StatusUnauthorized, msgInvalidAuth)
		return model.Node{}, false
	}
	return node, true
}

func limitBody(limit int64, next http.Handler) http.Handler {
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

type dataResponse struct {
	Code int `json:"code"`
	Data any `json:"data"`
}

type okResponse struct {
	Code int `json:"code"`
}

type errorResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, dataResponse{Code: status, Data: data})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Error: message})
}
