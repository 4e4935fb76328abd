package metrics

import (
	"math"
	"sort"

	"edgemetrics/internal/model"
)

// accumulator sums every record field and tallies status codes in the order
// they were first seen.
type accumulator struct {
	count                   int
	tfb, rwl, cpt, tcp, tls int64
	statusOrder             []int64
	statusCount             map[int64]int
}

func newAccumulator() *accumulator {
	return &accumulator{statusCount: make(map[int64]int)}
}

func (a *accumulator) add(r model.MetricRecord) {
	a.count++
	a.tfb += r.TFB
	a.rwl += r.RWL
	a.cpt += r.CPT
	a.tcp += r.TCP
	a.tls += r.TLS
	if _, ok := a.statusCount[r.HTC]; !ok {
		a.statusOrder = append(a.statusOrder, r.HTC)
	}
	a.statusCount[r.HTC]++
}

func (a *accumulator) mode() int64 {
	var best int64
	bestCount := 0
	for _, code := range a.statusOrder {
		if c := a.statusCount[code]; c > bestCount {
			best, bestCount = code, c
		}
	}
	return best
}

func (a *accumulator) result() model.MetricRecord {
	n := float64(a.count)
	mean := func(sum int64) int64 { return int64(math.RoundToEven(float64(sum) / n)) }
	return model.MetricRecord{
		TFB: mean(a.tfb),
		RWL: mean(a.rwl),
		CPT: mean(a.cpt),
		TCP: mean(a.tcp),
		TLS: mean(a.tls),
		HTC: a.mode(),
	}
}

// NodeNames returns the node names in ascending order. This is the
// iteration order every cross-node computation uses.
func NodeNames(nodes map[string]model.MetricRecord) []string {
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aggregate computes the cross-node summary of one endpoint. Numeric fields
// are means rounded half to even. htc is the most common status; on a tie
// the code reported by the alphabetically first node wins, independent of
// when nodes first reported. ok is false when nodes is empty.
func Aggregate(nodes map[string]model.MetricRecord) (model.MetricRecord, bool) {
	if len(nodes) == 0 {
		return model.MetricRecord{}, false
	}
	acc := newAccumulator()
	for _, name := range NodeNames(nodes) {
		acc.add(nodes[name])
	}
	return acc.result(), true
}

// Summarize turns a store snapshot into the public metrics view, computing
// overall for every endpoint on the spot.
func Summarize(snapshot map[string]map[string]model.MetricRecord) map[string]model.EndpointMetrics {
	out := make(map[string]model.EndpointMetrics, len(snapshot))
	for endpoint, nodes := range snapshot {
		em := model.EndpointMetrics{Nodes: nodes}
		if overall, ok := Aggregate(nodes); ok {
			em.Overall = &overall
		}
		out[endpoint] = em
	}
	return out
}

// EndpointNames returns the endpoint keys of a summary in ascending order.
func EndpointNames(items map[string]model.EndpointMetrics) []string {
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
