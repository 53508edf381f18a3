// Package export writes move-list results and diagnostics as CSV.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/signalsfoundry/sas-coexistence/dpa"
	"github.com/signalsfoundry/sas-coexistence/internal/logging"
	"github.com/signalsfoundry/sas-coexistence/propagation"
)

var diagnosticsHeader = []string{
	"Dpa",
	"Longitude",
	"Latitude",
	"ChannelLowMHz",
	"ChannelHighMHz",
	"Neighbors",
	"Moved",
	"A95NeighborDbm",
	"A95KeepDbm",
}

// formatDbm renders -Inf, the aggregate of an empty set, as "-inf".
func formatDbm(v float64) string {
	if math.IsInf(v, -1) {
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// WriteDiagnostics writes one row per (point, channel).
func WriteDiagnostics(w io.Writer, diags []dpa.Diagnostic) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(diagnosticsHeader); err != nil {
		return err
	}
	for _, d := range diags {
		if err := cw.Write([]string{
			d.Dpa,
			strconv.FormatFloat(d.Point.Longitude, 'f', 6, 64),
			strconv.FormatFloat(d.Point.Latitude, 'f', 6, 64),
			fmt.Sprintf("%g", d.Channel.LowMHz),
			fmt.Sprintf("%g", d.Channel.HighMHz),
			strconv.Itoa(d.Neighbors),
			strconv.Itoa(d.Moved),
			formatDbm(d.A95NeighborDbm),
			formatDbm(d.A95KeepDbm),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMoveLists writes, per channel, every neighbor grant of d with its
// move or keep status, sorted by channel then grant ID.
func WriteMoveLists(w io.Writer, d *dpa.Dpa) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Dpa", "ChannelLowMHz", "ChannelHighMHz", "GrantID", "Status"}); err != nil {
		return err
	}
	for _, ch := range d.Channels() {
		move := d.MoveList(ch)
		for _, g := range d.NeighborList(ch).Sorted() {
			status := "keep"
			if move.Contains(g) {
				status = "move"
			}
			if err := cw.Write([]string{
				d.Name(),
				fmt.Sprintf("%g", ch.LowMHz),
				fmt.Sprintf("%g", ch.HighMHz),
				g.ID,
				status,
			}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// OpcodeLog tallies hybrid model opcodes and forwards each event to Next.
// It satisfies propagation.OpcodeRecorder.
type OpcodeLog struct {
	Next propagation.OpcodeRecorder

	mu     sync.Mutex
	counts map[string]int64
}

// RecordPropagation counts one evaluation.
func (l *OpcodeLog) RecordPropagation(opcode string) {
	l.mu.Lock()
	if l.counts == nil {
		l.counts = make(map[string]int64)
	}
	l.counts[opcode]++
	l.mu.Unlock()
	if l.Next != nil {
		l.Next.RecordPropagation(opcode)
	}
}

// Counts returns a copy of the tallies.
func (l *OpcodeLog) Counts() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int64, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

// WriteCSV writes the tallies sorted by opcode.
func (l *OpcodeLog) WriteCSV(w io.Writer) error {
	counts := l.Counts()
	opcodes := make([]string, 0, len(counts))
	for op := range counts {
		opcodes = append(opcodes, op)
	}
	sort.Strings(opcodes)

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Opcode", "Calls"}); err != nil {
		return err
	}
	for _, op := range opcodes {
		if err := cw.Write([]string{op, strconv.FormatInt(counts[op], 10)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Exporter writes CSV files into a directory.
type Exporter struct {
	dir string
	log logging.Logger
}

// NewExporter creates dir if needed.
func NewExporter(dir string, log logging.Logger) (*Exporter, error) {
	if log == nil {
		log = logging.Noop()
	}
	if dir == "" {
		return nil, fmt.Errorf("export: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return &Exporter{dir: dir, log: log}, nil
}

// fileName turns a DPA name into a safe file stem.
func fileName(name, suffix string) string {
	stem := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if stem == "" {
		stem = "dpa"
	}
	return stem + "_" + suffix + ".csv"
}

func (e *Exporter) create(name string, write func(io.Writer) error) (string, error) {
	path := filepath.Join(e.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := write(f); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// ExportDpa writes <name>_diagnostics.csv and <name>_movelist.csv and
// returns their paths.
func (e *Exporter) ExportDpa(ctx context.Context, d *dpa.Dpa) ([]string, error) {
	diagPath, err := e.create(fileName(d.Name(), "diagnostics"), func(w io.Writer) error {
		return WriteDiagnostics(w, d.Diagnostics())
	})
	if err != nil {
		return nil, err
	}
	movePath, err := e.create(fileName(d.Name(), "movelist"), func(w io.Writer) error {
		return WriteMoveLists(w, d)
	})
	if err != nil {
		return nil, err
	}
	e.log.Debug(ctx, "exported DPA results",
		logging.String("dpa", d.Name()),
		logging.String("diagnostics", diagPath),
		logging.String("movelist", movePath),
	)
	return []string{diagPath, movePath}, nil
}

// ExportOpcodes writes opcodes.csv.
func (e *Exporter) ExportOpcodes(l *OpcodeLog) (string, error) {
	return e.create("opcodes.csv", l.WriteCSV)
}
