// Package pcsample formats the packet counter's periodic ebtables
// snapshots into the two output shapes PC produces: a wide time series
// with one pcnt/bcnt column pair per output interface, and a per-sample
// pps/Bps rate. Column count is only known once the ebtables table has
// been read, and the stdout rate line is a fixed "%.1f pps\t%.1f Bps"
// format rather than a table, so neither shape fits gocsv's
// fixed-struct-to-CSV model; both are written directly (see DESIGN.md).
// Grounded on the original's ebt_add_header_to_file/ebt_write_sample_to_file.
package pcsample

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/AltraMayor/net-eval/internal/ebtcounter"
)

// TimeFormat matches the original's strftime pattern exactly.
const TimeFormat = "2006-01-02-15-04-05"

// Writer appends one wide CSV row per sample to an underlying
// encoding/csv.Writer. The header is written once, from the first
// snapshot's interface set; subsequent snapshots are assumed to report
// the same interfaces in the same order (ebtables does not reorder an
// existing table).
type Writer struct {
	csv         *csv.Writer
	wroteHeader bool
}

// NewWriter wraps w for wide-row sample output. Fields are
// space-separated, matching the original's fprintf-based row format
// rather than comma-separated CSV.
func NewWriter(w io.Writer) *Writer {
	cw := csv.NewWriter(w)
	cw.Comma = ' '
	cw.UseCRLF = false
	return &Writer{csv: cw}
}

// WriteSample writes ports' counters as one row, writing the "time
// <if>.pcnt <if>.bcnt ..." header first if this is the first call.
func (s *Writer) WriteSample(at time.Time, ports []ebtcounter.PortCounter) error {
	if !s.wroteHeader {
		header := make([]string, 0, 1+2*len(ports))
		header = append(header, "time")
		for _, p := range ports {
			header = append(header, p.IfName+".pcnt", p.IfName+".bcnt")
		}
		if err := s.csv.Write(header); err != nil {
			return fmt.Errorf("pcsample: can't write header: %w", err)
		}
		s.wroteHeader = true
	}

	row := make([]string, 0, 1+2*len(ports))
	row = append(row, at.UTC().Format(TimeFormat))
	for _, p := range ports {
		bcnt := p.Bcnt + p.Pcnt*ebtcounter.EtherHdrLen
		row = append(row, fmt.Sprintf("%d", p.Pcnt), fmt.Sprintf("%d", bcnt))
	}
	if err := s.csv.Write(row); err != nil {
		return fmt.Errorf("pcsample: can't write row: %w", err)
	}
	s.csv.Flush()
	return s.csv.Error()
}

// RateSample is one computed rate: total packets and bytes per second
// across every sampled interface, between two consecutive snapshots.
type RateSample struct {
	Time string
	Pps  float64
	Bps  float64
}

// Rate computes a RateSample from two aggregate counters deltaT seconds
// apart, matching the original's ebt_write_rates_to_file formula.
func Rate(at time.Time, prev, cur ebtcounter.Counter, deltaT float64) RateSample {
	return RateSample{
		Time: at.UTC().Format(TimeFormat),
		Pps:  float64(cur.Pcnt-prev.Pcnt) / deltaT,
		Bps:  float64(cur.Bcnt-prev.Bcnt) / deltaT,
	}
}
