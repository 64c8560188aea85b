// Package dataset reads ride exports from CSV and writes the enriched table
// with the trailing-window and lifetime aggregate columns appended.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stuartshay/ride-window-worker/internal/pipeline"
	"github.com/stuartshay/ride-window-worker/internal/ride"
)

// Source columns of a ride export
const (
	ColOrderID         = "id_order"
	ColDriverID        = "id_driver"
	ColClientID        = "id_client"
	ColTimestamp       = "dt_15_min"
	ColFromLatitude    = "from_latitude"
	ColFromLongitude   = "from_longitude"
	ColToLatitude      = "to_latitude"
	ColToLongitude     = "to_longitude"
	ColArrivedDistance = "arrived_distance"
	ColDuration        = "duration"
	ColArrivedDuration = "arrived_duration"
)

// Appended aggregate columns
const (
	ColLastTotalDistance = "last_total_dist"
	ColLastTotalDuration = "last_total_time"
	ColLastTotalCount    = "last_total_cnt"
	ColTotalDistance     = "total_dist"
	ColTotalDuration     = "total_time"
	ColTotalCount        = "total_cnt"
)

var requiredColumns = []string{
	ColOrderID, ColDriverID, ColClientID, ColTimestamp,
	ColFromLatitude, ColFromLongitude, ColToLatitude, ColToLongitude,
	ColArrivedDistance, ColDuration, ColArrivedDuration,
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// ErrMissingColumn is returned when the header lacks a required column
var ErrMissingColumn = errors.New("missing required column")

// RowError identifies a CSV line that could not be parsed
type RowError struct {
	Line   int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d, column %s: %v", e.Line, e.Column, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ReadRidesFile reads a ride export from path
func ReadRidesFile(path string) ([]ride.Ride, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rides file: %w", err)
	}
	defer func() { _ = f.Close() }() // nolint:errcheck // read-only file

	rides, err := ReadRides(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Debug().Str("path", path).Int("rides", len(rides)).Msg("Rides file loaded")
	return rides, nil
}

// ReadRides parses a ride export with a header row. Extra columns, such as
// a leading index column, are ignored.
func ReadRides(r io.Reader) ([]ride.Ride, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty input: %w", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	var rides []ride.Ride
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &RowError{Line: line, Err: err}
		}

		p := rowParser{record: record, index: index, line: line}
		r := ride.Ride{
			OrderID:         p.str(ColOrderID),
			DriverID:        p.str(ColDriverID),
			ClientID:        p.str(ColClientID),
			Timestamp:       p.timestamp(ColTimestamp),
			FromLatitude:    p.float(ColFromLatitude),
			FromLongitude:   p.float(ColFromLongitude),
			ToLatitude:      p.float(ColToLatitude),
			ToLongitude:     p.float(ColToLongitude),
			ArrivedDistance: p.optionalFloat(ColArrivedDistance),
			Duration:        p.float(ColDuration),
			ArrivedDuration: p.optionalFloat(ColArrivedDuration),
		}
		if p.err != nil {
			return nil, p.err
		}
		if r.OrderID == "" {
			return nil, &RowError{Line: line, Column: ColOrderID, Err: errors.New("empty value")}
		}
		rides = append(rides, r)
	}

	return rides, nil
}

// rowParser keeps the first conversion error of a record
type rowParser struct {
	record []string
	index  map[string]int
	line   int
	err    error
}

func (p *rowParser) cell(col string) string {
	i := p.index[col]
	if i >= len(p.record) {
		if p.err == nil {
			p.err = &RowError{Line: p.line, Column: col, Err: errors.New("missing field")}
		}
		return ""
	}
	return strings.TrimSpace(p.record[i])
}

func (p *rowParser) str(col string) string {
	return p.cell(col)
}

func (p *rowParser) float(col string) float64 {
	v := p.cell(col)
	if v == "" {
		if p.err == nil {
			p.err = &RowError{Line: p.line, Column: col, Err: errors.New("empty value")}
		}
		return 0
	}
	return p.parseFloat(col, v)
}

// optionalFloat reads a blank cell as zero. Exports leave the arrival
// columns blank when the driver was already on site.
func (p *rowParser) optionalFloat(col string) float64 {
	v := p.cell(col)
	if v == "" {
		return 0
	}
	return p.parseFloat(col, v)
}

func (p *rowParser) parseFloat(col, v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil && p.err == nil {
		p.err = &RowError{Line: p.line, Column: col, Err: err}
	}
	return f
}

func (p *rowParser) timestamp(col string) time.Time {
	v := p.cell(col)
	if v == "" {
		if p.err == nil {
			p.err = &RowError{Line: p.line, Column: col, Err: errors.New("empty value")}
		}
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts
		}
	}
	if p.err == nil {
		p.err = &RowError{Line: p.line, Column: col, Err: fmt.Errorf("unrecognized timestamp %q", v)}
	}
	return time.Time{}
}

// WriteEnrichedFile writes rides to path, creating parent directories
func WriteEnrichedFile(path string, rides []pipeline.EnrichedRide) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}

	if err := WriteEnriched(file, rides); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close CSV file: %w", err)
	}

	log.Info().Str("csv_path", path).Int("rides", len(rides)).Msg("CSV file generated successfully")
	return nil
}

// WriteEnriched writes the source columns followed by the aggregate columns
func WriteEnriched(w io.Writer, rides []pipeline.EnrichedRide) error {
	writer := csv.NewWriter(w)

	header := append(append([]string{}, requiredColumns...),
		ColLastTotalDistance, ColLastTotalDuration, ColLastTotalCount,
		ColTotalDistance, ColTotalDuration, ColTotalCount,
	)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range rides {
		agg := r.Aggregates
		row := []string{
			r.OrderID,
			r.DriverID,
			r.ClientID,
			r.Timestamp.Format(time.RFC3339Nano),
			formatFloat(r.FromLatitude),
			formatFloat(r.FromLongitude),
			formatFloat(r.ToLatitude),
			formatFloat(r.ToLongitude),
			formatFloat(r.ArrivedDistance),
			formatFloat(r.Duration),
			formatFloat(r.ArrivedDuration),
			formatFloat(agg.LastTotalDistance),
			formatFloat(agg.LastTotalDuration),
			strconv.Itoa(agg.LastTotalCount),
			formatFloat(agg.TotalDistance),
			formatFloat(agg.TotalDuration),
			strconv.Itoa(agg.TotalCount),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
