package store

import (
	"maps"

	"github.com/puzpuzpuz/xsync/v4"

	"edgemetrics/internal/model"
)

// MetricStore keeps the latest record per (endpoint, node).
//
// Each endpoint maps to a node map that is never mutated after it is
// published; writers replace it with a modified copy inside Compute, so
// concurrent writers to one endpoint serialize and readers always see a
// complete map.
type MetricStore struct {
	endpoints *xsync.Map[string, map[string]model.MetricRecord]
}

// NewMetricStore creates a store with an empty entry for every configured
// endpoint, so they show up in reads before any node reports.
func NewMetricStore(endpoints []model.Endpoint) *MetricStore {
	s := &MetricStore{endpoints: xsync.NewMap[string, map[string]model.MetricRecord]()}
	for _, ep := range endpoints {
		s.endpoints.Store(ep.Name, map[string]model.MetricRecord{})
	}
	return s
}

// Put overwrites the record of node for endpoint. Unknown endpoints are
// created on the fly.
func (s *MetricStore) Put(endpoint, node string, rec model.MetricRecord) {
	s.endpoints.Compute(endpoint, func(old map[string]model.MetricRecord, loaded bool) (map[string]model.MetricRecord, xsync.ComputeOp) {
		next := make(map[string]model.MetricRecord, len(old)+1)
		maps.Copy(next, old)
		next[node] = rec
		return next, xsync.UpdateOp
	})
}

// PutAll stores every record of one submission under node.
func (s *MetricStore) PutAll(node string, records map[string]model.MetricRecord) {
	for endpoint, rec := range records {
		s.Put(endpoint, node, rec)
	}
}

// Has reports whether endpoint is known to the store.
func (s *MetricStore) Has(endpoint string) bool {
	_, ok := s.endpoints.Load(endpoint)
	return ok
}

// Get returns the node map of endpoint. The map must not be modified.
func (s *MetricStore) Get(endpoint string) (map[string]model.MetricRecord, bool) {
	return s.endpoints.Load(endpoint)
}

// Snapshot returns the current node map of every endpoint. The inner maps
// are shared and must not be modified.
func (s *MetricStore) Snapshot() map[string]map[string]model.MetricRecord {
	out := make(map[string]map[string]model.MetricRecord, s.endpoints.Size())
	s.endpoints.Range(func(endpoint string, nodes map[string]model.MetricRecord) bool {
		out[endpoint] = nodes
		return true
	})
	return out
}

// Len returns the number of endpoints held.
func (s *MetricStore) Len() int {
	return s.endpoints.Size()
}
