package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"edgemetrics/internal/model"
)

// ReadCSV loads a snapshot previously written by WriteCSV. Overall rows are
// ignored and recomputed from the node rows.
func ReadCSV(path string) (map[string]model.EndpointMetrics, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) (map[string]model.EndpointMetrics, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	start := 0
	if len(records) > 0 && len(records[0]) > 0 && records[0][0] == csvHeader[0] {
		start = 1
	}

	snapshot := make(map[string]map[string]model.MetricRecord)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < len(csvHeader) {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		endpoint, kind, node := rec[0], rec[1], rec[2]
		if _, ok := snapshot[endpoint]; !ok {
			snapshot[endpoint] = make(map[string]model.MetricRecord)
		}
		if kind != kindNode {
			continue
		}

		var values [6]int64
		for j := range values {
			v, err := strconv.ParseInt(rec[3+j], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid %s at line %d: %w", csvHeader[3+j], i+1, err)
			}
			values[j] = v
		}
		snapshot[endpoint][node] = model.MetricRecord{
			TFB: values[0],
			RWL: values[1],
			CPT: values[2],
			TCP: values[3],
			TLS: values[4],
			HTC: values[5],
		}
	}

	return Summarize(snapshot), nil
}
