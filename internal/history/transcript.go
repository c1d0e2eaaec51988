// File: internal/history/transcript.go
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONLWriter persists turns as line-delimited JSON, one independently
// decodable record per line, appended in causal order.
type JSONLWriter struct {
	mu   sync.Mutex
	file *os.File
}

// NewJSONLWriter opens (or creates) the transcript file for appending.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create transcript directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open transcript %q: %w", path, err)
	}
	return &JSONLWriter{file: f}, nil
}

// WriteTurn appends one turn record.
func (w *JSONLWriter) WriteTurn(t *schemas.Turn) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal turn %d: %w", t.Ordinal, err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return fmt.Errorf("transcript already closed")
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("write turn %d: %w", t.Ordinal, err)
	}
	return nil
}

// Close flushes and closes the transcript file.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
