package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/sas-coexistence/dpa"
	"github.com/signalsfoundry/sas-coexistence/interference"
	"github.com/signalsfoundry/sas-coexistence/model"
)

// firstMoved moves the first grant it is given and keeps the rest.
type firstMoved struct{}

func (firstMoved) MoveList(ctx context.Context, cache *interference.Cache, p interference.Params, grants []model.Grant) (interference.PointResult, error) {
	res := interference.PointResult{Point: p.Point, Channel: p.Channel, Neighbors: grants, A95NeighborMw: 1e-11}
	if len(grants) > 0 {
		res.MoveList = grants[:1]
	}
	return res, nil
}

func (firstMoved) Aggregate(ctx context.Context, cache *interference.Cache, p interference.Params, grants []model.Grant) (float64, error) {
	return 0, nil
}

func computedDpa(t *testing.T) *dpa.Dpa {
	t.Helper()
	d, err := dpa.Build(model.DpaDefinition{
		Name:       "East 1",
		Geometry:   orb.Point{-72.5, 41.0},
		FreqRanges: []model.FreqRange{{LowMHz: 3550, HighMHz: 3560}},
	}, firstMoved{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	d.SetGrants([]model.Grant{{ID: "a"}, {ID: "b"}})
	if err := d.ComputeMoveLists(context.Background()); err != nil {
		t.Fatalf("ComputeMoveLists: %v", err)
	}
	return d
}

func readAll(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse CSV: %v", err)
	}
	return rows
}

func TestWriteDiagnostics(t *testing.T) {
	d := computedDpa(t)
	var buf bytes.Buffer
	if err := WriteDiagnostics(&buf, d.Diagnostics()); err != nil {
		t.Fatalf("WriteDiagnostics: %v", err)
	}
	rows := readAll(t, buf.Bytes())
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want header plus one", len(rows))
	}
	want := []string{"East 1", "-72.500000", "41.000000", "3550", "3560", "2", "1", "-110.000", "-inf"}
	for i, v := range want {
		if rows[1][i] != v {
			t.Fatalf("column %s = %q, want %q", rows[0][i], rows[1][i], v)
		}
	}
}

func TestWriteMoveLists(t *testing.T) {
	d := computedDpa(t)
	var buf bytes.Buffer
	if err := WriteMoveLists(&buf, d); err != nil {
		t.Fatalf("WriteMoveLists: %v", err)
	}
	rows := readAll(t, buf.Bytes())
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[1][3] != "a" || rows[1][4] != "move" || rows[2][3] != "b" || rows[2][4] != "keep" {
		t.Fatalf("rows = %v", rows[1:])
	}
}

type countingRecorder map[string]int

func (c countingRecorder) RecordPropagation(opcode string) { c[opcode]++ }

func TestOpcodeLog(t *testing.T) {
	next := countingRecorder{}
	log := &OpcodeLog{Next: next}
	for _, op := range []string{"ITM_RURAL", "FSL", "ITM_RURAL"} {
		log.RecordPropagation(op)
	}
	if got := log.Counts(); got["ITM_RURAL"] != 2 || got["FSL"] != 1 {
		t.Fatalf("counts = %v", got)
	}
	if next["ITM_RURAL"] != 2 {
		t.Fatalf("forwarded counts = %v", next)
	}
	var buf bytes.Buffer
	if err := log.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if got, want := buf.String(), "Opcode,Calls\nFSL,1\nITM_RURAL,2\n"; got != want {
		t.Fatalf("CSV = %q, want %q", got, want)
	}
}

func TestExporterWritesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	e, err := NewExporter(dir, nil)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	paths, err := e.ExportDpa(context.Background(), computedDpa(t))
	if err != nil {
		t.Fatalf("ExportDpa: %v", err)
	}
	if len(paths) != 2 || filepath.Base(paths[0]) != "East_1_diagnostics.csv" || filepath.Base(paths[1]) != "East_1_movelist.csv" {
		t.Fatalf("paths = %v", paths)
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		if !strings.HasPrefix(string(data), "Dpa,") {
			t.Fatalf("%s starts with %q", p, string(data[:min(len(data), 20)]))
		}
	}

	log := &OpcodeLog{}
	log.RecordPropagation("EHATA")
	path, err := e.ExportOpcodes(log)
	if err != nil {
		t.Fatalf("ExportOpcodes: %v", err)
	}
	if filepath.Base(path) != "opcodes.csv" {
		t.Fatalf("opcode path = %s", path)
	}

	if _, err := NewExporter("", nil); err == nil {
		t.Fatalf("expected an error for an empty directory")
	}
}
