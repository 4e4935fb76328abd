package metrics

import (
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"edgemetrics/internal/api"
	"edgemetrics/internal/model"
)

var recordColumns = []string{"TFB(ms)", "RWL(ms)", "CPT(ms)", "TCP(ms)", "TLS(ms)", "HTC"}

// RenderRecords prints one row per endpoint, as produced by a single probe
// cycle.
func RenderRecords(w io.Writer, records map[string]model.MetricRecord) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeader(append([]string{"Endpoint"}, recordColumns...)),
	)

	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := table.Append(append([]string{name}, recordCells(records[name])...)); err != nil {
			return err
		}
	}
	return table.Render()
}

// RenderSnapshot prints every node record plus the overall row per endpoint.
func RenderSnapshot(w io.Writer, items map[string]model.EndpointMetrics) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeader(append([]string{"Endpoint", "Node"}, recordColumns...)),
	)

	for _, endpoint := range EndpointNames(items) {
		em := items[endpoint]
		for _, node := range NodeNames(em.Nodes) {
			if err := table.Append(append([]string{endpoint, node}, recordCells(em.Nodes[node])...)); err != nil {
				return err
			}
		}
		if em.Overall == nil {
			continue
		}
		if err := table.Append(append([]string{endpoint, "(overall)"}, recordCells(*em.Overall)...)); err != nil {
			return err
		}
	}
	return table.Render()
}

// RenderNodes prints the public node list.
func RenderNodes(w io.Writer, nodes []api.NodeInfo) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeader([]string{"Node", "Location"}),
	)
	for _, n := range nodes {
		if err := table.Append([]string{n.Name, n.Location}); err != nil {
			return err
		}
	}
	return table.Render()
}

func recordCells(r model.MetricRecord) []string {
	return []string{
		strconv.FormatInt(r.TFB, 10),
		strconv.FormatInt(r.RWL, 10),
		strconv.FormatInt(r.CPT, 10),
		strconv.FormatInt(r.TCP, 10),
		strconv.FormatInt(r.TLS, 10),
		strconv.FormatInt(r.HTC, 10),
	}
}
