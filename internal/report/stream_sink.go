package report

import (
	"context"
	"encoding/csv"
	"io"
	"sync"

	"github.com/johndauphine/drt/internal/compare"
)

// StreamSink serializes records as CSV to the caller's output stream.
// Selected by --output-mismatches (or output.format: csv).
type StreamSink struct {
	mu          sync.Mutex
	w           *csv.Writer
	wroteHeader bool
}

var csvHeader = []string{"year", "month", "week", "primary_key", "type", "column", "source_value", "dest_value"}

// NewStreamSink creates a CSV sink on w.
func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: csv.NewWriter(w)}
}

// Report writes the records, emitting the header on first use.
func (s *StreamSink) Report(ctx context.Context, recs []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.wroteHeader {
		if err := s.w.Write(csvHeader); err != nil {
			return err
		}
		s.wroteHeader = true
	}
	for _, r := range recs {
		row := []string{
			r.Year, r.Month, r.Week,
			r.PrimaryKey, r.Type, r.Column,
			csvValue(r.SourceValue), csvValue(r.DestValue),
		}
		if err := s.w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the stream.
func (s *StreamSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.w.Error()
}

func csvValue(v any) string {
	if v == nil {
		return ""
	}
	return compare.CanonicalString(v)
}
