package protocol

import (
	"fmt"
	"os"
	"path/filepath"
)

// StreamWriter writes incremental text deltas to a stream directory as
// sequentially numbered chunk files, an advisory side channel alongside
// the authoritative response JSON file. The reader must tolerate
// missing done/error markers if the worker is killed mid-run.
type StreamWriter struct {
	dir   string
	seq   int
	ended bool
}

// NewStreamWriter prepares dir for streaming, creating it if absent. An
// empty dir disables streaming: all methods become no-ops, so callers
// never need to nil-check.
func NewStreamWriter(dir string) (*StreamWriter, error) {
	if dir == "" {
		return &StreamWriter{}, nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("protocol: ensure stream dir: %w", err)
	}
	return &StreamWriter{dir: dir}, nil
}

// WriteChunk writes the next sequentially numbered chunk file. No-op
// for an empty delta or a disabled writer.
func (w *StreamWriter) WriteChunk(delta string) error {
	if w.dir == "" || delta == "" {
		return nil
	}
	w.seq++
	name := filepath.Join(w.dir, fmt.Sprintf("chunk_%06d.txt", w.seq))
	return WriteFileAtomic(name, []byte(delta), 0o600)
}

// Done writes the empty "done" marker on clean exit. Mutually exclusive
// with Error; only the first call of either takes effect.
func (w *StreamWriter) Done() error {
	if w.dir == "" || w.ended {
		return nil
	}
	w.ended = true
	return WriteFileAtomic(filepath.Join(w.dir, "done"), nil, 0o600)
}

// Error writes the "error" marker containing message. Mutually
// exclusive with Done.
func (w *StreamWriter) Error(message string) error {
	if w.dir == "" || w.ended {
		return nil
	}
	w.ended = true
	return WriteFileAtomic(filepath.Join(w.dir, "error"), []byte(message), 0o600)
}
