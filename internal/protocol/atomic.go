// Package protocol implements the filesystem-facing wire format of the
// Agent Runtime Core: request/response spool envelopes, the atomic
// write-temp-then-rename primitive every durable writer in this module
// shares, and the stream chunk writer.
package protocol

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path by first writing to a sibling
// temp file in the same directory, then renaming it into place. Every
// state-bearing file in this module (session history/state, daemon
// status, heartbeat, response envelopes) goes through this so readers
// never observe partial content — only temp-to-rename transitions.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("protocol: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	// Best-effort cleanup if anything below fails before the rename.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("protocol: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("protocol: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("protocol: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("protocol: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("protocol: rename into place: %w", err)
	}
	succeeded = true
	return nil
}

// AppendFileAtomic appends data to path, creating it with perm if
// absent. Unlike WriteFileAtomic this is not itself atomic with respect
// to concurrent readers mid-write (a reader may see a short read), and
// it does not serialize concurrent writers. Nothing in this module
// calls it; the session store writes through WriteFileAtomic.
func AppendFileAtomic(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("protocol: open for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("protocol: append write: %w", err)
	}
	return f.Sync()
}
