package metrics

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"edgemetrics/internal/api"
	"edgemetrics/internal/model"
)

func sampleSnapshot() map[string]model.EndpointMetrics {
	return Summarize(map[string]map[string]model.MetricRecord{
		"home": {
			"b": {TFB: 20, RWL: 60, CPT: 15, TCP: 8, TLS: 12, HTC: 200},
			"a": {TFB: 10, RWL: 50, CPT: 5, TCP: 8, TLS: 12, HTC: 200},
		},
		"api": {},
	})
}

func TestWriteCSV_Rows(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleSnapshot()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"endpoint,kind,node,tfb,rwl,cpt,tcp,tls,htc",
		"home,node,a,10,50,5,8,12,200",
		"home,node,b,20,60,15,8,12,200",
		"home,overall,,15,55,10,8,12,200",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines=%d\n%s", len(lines), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d=%q want %q", i, lines[i], want[i])
		}
	}
}

func TestReadCSV_RebuildsSnapshot(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "snapshot.csv")
	if err := WriteCSVFile(path, sampleSnapshot()); err != nil {
		t.Fatalf("WriteCSVFile: %v", err)
	}

	got, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	home := got["home"]
	if len(home.Nodes) != 2 || home.Nodes["b"].CPT != 15 {
		t.Fatalf("home nodes=%+v", home.Nodes)
	}
	if home.Overall == nil || home.Overall.RWL != 55 {
		t.Fatalf("home overall=%+v", home.Overall)
	}
}

func TestReadCSV_RejectsBadRows(t *testing.T) {
	t.Parallel()

	if _, err := readCSV(strings.NewReader("home,node,a,1,2\n")); err == nil {
		t.Fatalf("expected short row error")
	}
	if _, err := readCSV(strings.NewReader("home,node,a,x,2,3,4,5,200\n")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRenderSnapshot_IncludesOverall(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := RenderSnapshot(&buf, sampleSnapshot()); err != nil {
		t.Fatalf("RenderSnapshot: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"home", "(overall)", "55"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}
}

func TestRenderNodes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := RenderNodes(&buf, []api.NodeInfo{{Name: "fra-1", Location: "Frankfurt"}, {Name: "sin-1"}})
	if err != nil {
		t.Fatalf("RenderNodes: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"fra-1", "Frankfurt", "sin-1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}
}
