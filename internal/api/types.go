package api

import (
	"encoding/json"

	"edgemetrics/internal/model"
)

// Envelope wraps every response body.
type Envelope struct {
	Code  int             `json:"code"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// NodeInfo is the public view of a node; credentials and locks never leave
// the server.
type NodeInfo struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// MetricsRequest is one node's submission: endpoint name to averaged record.
type MetricsRequest map[string]model.MetricRecord

// MetricsResponse is the public metrics view, keyed by endpoint name.
type MetricsResponse map[string]model.EndpointMetrics

// Health is returned by the liveness probe.
type Health struct {
	Status string `json:"status"`
}

// CycleIDHeader carries the agent's probe cycle ID on submissions.
const CycleIDHeader = "X-Cycle-ID"
