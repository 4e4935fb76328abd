package metrics

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"edgemetrics/internal/model"
)

const (
	kindNode    = "node"
	kindOverall = "overall"
)

var csvHeader = []string{"endpoint", "kind", "node", "tfb", "rwl", "cpt", "tcp", "tls", "htc"}

// WriteCSV writes a metrics snapshot with a fixed column order. Each
// endpoint contributes one row per node followed by its overall row, if any.
func WriteCSV(w io.Writer, items map[string]model.EndpointMetrics) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, endpoint := range EndpointNames(items) {
		em := items[endpoint]
		for _, node := range NodeNames(em.Nodes) {
			if err := writer.Write(csvRow(endpoint, kindNode, node, em.Nodes[node])); err != nil {
				return err
			}
		}
		if em.Overall != nil {
			if err := writer.Write(csvRow(endpoint, kindOverall, "", *em.Overall)); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteCSVFile writes a snapshot to path, replacing any previous export.
func WriteCSVFile(path string, items map[string]model.EndpointMetrics) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := WriteCSV(file, items); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func csvRow(endpoint, kind, node string, r model.MetricRecord) []string {
	return []string{
		endpoint,
		kind,
		node,
		strconv.FormatInt(r.TFB, 10),
		strconv.FormatInt(r.RWL, 10),
		strconv.FormatInt(r.CPT, 10),
		strconv.FormatInt(r.TCP, 10),
		strconv.FormatInt(r.TLS, 10),
		strconv.FormatInt(r.HTC, 10),
	}
}
