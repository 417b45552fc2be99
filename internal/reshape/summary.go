// Package reshape implements the four simulator file transformations:
// summary-table reshaping, tree-map extraction, density-list building, and
// parameter-file generation. Each is a one-shot, single-pass transform of
// one input document; there is no partial output on failure.
package reshape

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/forest-reshaper/backend/internal/table"
)

// DefaultHeaderLines is the number of preamble lines the simulator writes
// before the column-header row of a summary file.
const DefaultHeaderLines = 5

// DefaultTotalMarker is the suffix identifying the aggregate columns that
// are dropped before reshaping.
const DefaultTotalMarker = "Total"

// compoundColRegex matches the 3-part "<Stage> <Variable>: <Species>"
// column headers, e.g. "Sdl Abs Den: Balsam_Fir".
var compoundColRegex = regexp.MustCompile(`^(\S+) (.+): (\S+)$`)

// Summary key columns; everything else must be a compound column.
const (
	colStep    = "Step"
	colSubplot = "Subplot"
)

// SummaryReshaper turns the simulator's wide summary table into one tidy
// table with a row per (Step, Subplot, Stage, Species) and a column per
// variable.
type SummaryReshaper struct {
	headerLines int
	totalMarker string
}

// NewSummaryReshaper creates a reshaper. headerLines <= 0 selects the
// default preamble length; totalMarker == "" selects the default marker.
func NewSummaryReshaper(headerLines int, totalMarker string) *SummaryReshaper {
	if headerLines <= 0 {
		headerLines = DefaultHeaderLines
	}
	if totalMarker == "" {
		totalMarker = DefaultTotalMarker
	}
	return &SummaryReshaper{headerLines: headerLines, totalMarker: totalMarker}
}

// Reshape reads and reshapes a summary file.
func (r *SummaryReshaper) Reshape(filePath string) (*table.Table, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return r.ReshapeFromReader(file)
}

// ReshapeFromReader reshapes a summary table from an io.Reader.
func (r *SummaryReshaper) ReshapeFromReader(in io.Reader) (*table.Table, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for i := 0; i < r.headerLines; i++ {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("summary file ended inside the %d-line preamble", r.headerLines)
		}
	}

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("summary file has no column-header row")
	}
	header := strings.Split(strings.TrimRight(scanner.Text(), "\r\n"), "\t")

	type compoundCol struct {
		index    int
		stage    string
		variable string
		species  string
	}

	stepIdx, subplotIdx := -1, -1
	cols := make([]compoundCol, 0, len(header))
	for i, raw := range header {
		name := strings.TrimSpace(raw)
		switch {
		case name == colStep:
			stepIdx = i
		case name == colSubplot:
			subplotIdx = i
		case name == "":
			// Trailing tab artifacts are tolerated, named columns are not.
		case strings.HasSuffix(name, r.totalMarker):
			// Aggregate column, dropped before parsing.
		default:
			m := compoundColRegex.FindStringSubmatch(name)
			if m == nil {
				return nil, fmt.Errorf("column %q does not match \"<Stage> <Variable>: <Species>\"", name)
			}
			cols = append(cols, compoundCol{index: i, stage: m[1], variable: m[2], species: m[3]})
		}
	}
	if stepIdx < 0 || subplotIdx < 0 {
		return nil, fmt.Errorf("summary header is missing the %s/%s key columns", colStep, colSubplot)
	}

	records := make([]table.Record, 0)
	lineNum := r.headerLines + 1
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, "\t")
		if len(cells) < len(header) {
			return nil, fmt.Errorf("line %d has %d cells, header has %d columns", lineNum, len(cells), len(header))
		}

		step := parseCell(cells[stepIdx])
		subplot := parseCell(cells[subplotIdx])
		for _, c := range cols {
			records = append(records, table.Record{
				Key:   []any{step, subplot, c.stage, c.species},
				Name:  c.variable,
				Value: parseCell(cells[c.index]),
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out, err := table.Pivot([]string{colStep, colSubplot, "Stage", "Species"}, records)
	if err != nil {
		return nil, fmt.Errorf("reshaping summary table: %w", err)
	}
	return out, nil
}

// parseCell types a raw cell: int where it parses as one, float64 where it
// parses as one, nil for an empty cell, the raw string otherwise.
func parseCell(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
