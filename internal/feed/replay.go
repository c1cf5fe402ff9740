package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rewired-gh/greekwatch/internal/models"
)

// FileSource replays recorded payloads, one JSON document per line.
// Fetch returns io.EOF once every line has been consumed.
type FileSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// NewFileSource reads payload lines from r.
func NewFileSource(r io.Reader) *FileSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &FileSource{scanner: sc}
}

// OpenFile opens a JSON-lines recording.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	s := NewFileSource(f)
	s.closer = f
	return s, nil
}

// Fetch returns the ticks of the next non-blank line.
func (s *FileSource) Fetch(ctx context.Context) ([]models.Tick, error) {
	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.line++
		text := strings.TrimSpace(s.scanner.Text())
		if text == "" {
			continue
		}

		var p Payload
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return nil, fmt.Errorf("line %d: failed to decode payload: %w", s.line, err)
		}
		return p.Ticks(time.Now()), nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replay file: %w", err)
	}
	return nil, io.EOF
}

// Close releases the underlying file, if any.
func (s *FileSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
