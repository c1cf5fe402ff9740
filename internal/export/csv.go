// Package export writes the snapshot log as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rewired-gh/greekwatch/internal/models"
)

// Header is the CSV column order.
var Header = []string{
	"timestamp", "symbol", "expiration", "right", "strike", "bid", "ask", "last",
	"delta", "theta", "iv", "iv_zscore", "iv_percentile", "quantity", "strategy",
}

// Writer appends snapshot records to a CSV stream. The header is written once,
// before the first row. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
	rows   int
	header bool
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(w)}
}

// Create opens path for writing, creating parent directories. An existing file is
// truncated, so each run produces one self-contained log.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// Write appends records and flushes them.
func (w *Writer) Write(records []models.SnapshotRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.header {
		if err := w.w.Write(Header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		w.header = true
	}
	for _, r := range records {
		if err := w.w.Write(row(r)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		w.rows++
	}
	w.w.Flush()
	return w.w.Error()
}

// Rows returns the number of data rows written so far.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Close flushes pending output and closes the underlying file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

func row(r models.SnapshotRecord) []string {
	strategy := ""
	if r.Strategy != nil {
		strategy = *r.Strategy
	}
	return []string{
		r.Timestamp.Format(time.RFC3339Nano),
		r.Symbol,
		r.Expiration,
		string(r.Right),
		models.FormatFloat(r.Strike),
		optional(r.Bid),
		optional(r.Ask),
		optional(r.Last),
		optional(r.Delta),
		optional(r.Theta),
		optional(r.IV),
		optional(r.IVZScore),
		optional(r.IVPercentile),
		strconv.Itoa(r.Quantity),
		strategy,
	}
}

// optional renders nil as an empty cell.
func optional(v *float64) string {
	if v == nil {
		return ""
	}
	return models.FormatFloat(*v)
}
