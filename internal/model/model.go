package model

import (
	"encoding/json"
	"time"
)

// Endpoint is a monitored URL target.
type Endpoint struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// Node represents one probe agent allowed to submit metrics.
type Node struct {
	Name          string `yaml:"name"`
	Authorization string `yaml:"auth"`
	Lock          string `yaml:"lock"`
	Location      string `yaml:"location"`
}

// TimingSample is the raw output of a single probe pass.
type TimingSample struct {
	TCPConnect      time.Duration
	TLSHandshake    time.Duration // zero for plain http
	TimeToFirstByte time.Duration
	RoundTrip       time.Duration
	ComputeMicros   int64 // zero when the target reports no server timing
	HTTPStatus      int
}

// MetricRecord is one node's averaged measurement for one endpoint.
// All durations are milliseconds; HTC is an HTTP status code.
type MetricRecord struct {
	TFB int64 `json:"tfb"`
	RWL int64 `json:"rwl"`
	CPT int64 `json:"cpt"`
	TCP int64 `json:"tcp"`
	TLS int64 `json:"tls"`
	HTC int64 `json:"htc"`
}

// EndpointMetrics is the read-side view of one endpoint.
// Overall is nil when no node reports the endpoint.
type EndpointMetrics struct {
	Nodes   map[string]MetricRecord `json:"nodes"`
	Overall *MetricRecord           `json:"overall"`
}

// MarshalJSON encodes a missing aggregate as an empty object.
func (e EndpointMetrics) MarshalJSON() ([]byte, error) {
	nodes := e.Nodes
	if nodes == nil {
		nodes = map[string]MetricRecord{}
	}
	var overall any = struct{}{}
	if e.Overall != nil {
		overall = e.Overall
	}
	return json.Marshal(struct {
		Nodes   map[string]MetricRecord `json:"nodes"`
		Overall any                     `json:"overall"`
	}{nodes, overall})
}

// UnmarshalJSON accepts the empty-object form produced by MarshalJSON.
func (e *EndpointMetrics) UnmarshalJSON(data []byte) error {
	var raw struct {
		Nodes   map[string]MetricRecord `json:"nodes"`
		Overall json.RawMessage         `json:"overall"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Nodes = raw.Nodes
	e.Overall = nil

	var fields map[string]json.RawMessage
	if len(raw.Overall) == 0 || string(raw.Overall) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw.Overall, &fields); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	var rec MetricRecord
	if err := json.Unmarshal(raw.Overall, &rec); err != nil {
		return err
	}
	e.Overall = &rec
	return nil
}
