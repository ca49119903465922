// Package session implements the append-only per-session history store:
// bounded recent-window extraction, durable state snapshots, and
// archival. It is the filesystem-backed analogue of a conversation
// memory store — no database, no vector index, one directory tree per
// session root.
package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/havenrun/agentcore/internal/protocol"
)

// Record is one entry of a session's append-only history.
type Record struct {
	Seq       int64  `json:"seq"`
	Role      string `json:"role"` // user | assistant
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// State is the durable memory snapshot alongside a session's history.
type State struct {
	Summary        string   `json:"summary"`
	Facts          []string `json:"facts"`
	LastSummarySeq int64    `json:"lastSummarySeq"`
}

// Context is a handle to one session's on-disk state, exclusively owned
// by the Worker for the duration of a run. Do not share across
// goroutines; acquire a fresh Context per run via FileStore.Open. It
// implements SessionContext.
type Context struct {
	sessionID string
	dir       string
	unlock    func()
}

// SessionID returns the id this Context was opened with.
func (c *Context) SessionID() string { return c.sessionID }

// FileStore is the filesystem-backed Session Memory Store: a root
// directory containing one subdirectory per session. Guards against
// concurrent runs on the same session with a scoped per-session lock,
// released on every exit path. It implements Store.
type FileStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a FileStore rooted at root, creating it if absent.
func NewStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("session: ensure root: %w", err)
	}
	return &FileStore{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *FileStore) sessionLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Open acquires exclusive access to sessionID (generating a fresh id
// when empty) and loads its history/state from disk, if any exists.
// isNew is true exactly when the caller passed no sessionID. Callers
// must call SessionContext.Close on every exit path to release the
// lock.
func (s *FileStore) Open(sessionID string) (sctx SessionContext, isNew bool, err error) {
	isNew = sessionID == ""
	if isNew {
		sessionID = newSessionID()
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()

	dir := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		lock.Unlock()
		return nil, false, fmt.Errorf("session: ensure session dir: %w", err)
	}

	return &Context{sessionID: sessionID, dir: dir, unlock: lock.Unlock}, isNew, nil
}

// Close releases the session's exclusive lock. Safe to call once per
// Context returned by Open.
func (c *Context) Close() {
	if c.unlock != nil {
		c.unlock()
		c.unlock = nil
	}
}

func (c *Context) historyPath() string { return filepath.Join(c.dir, "history.jsonl") }
func (c *Context) statePath() string   { return filepath.Join(c.dir, "state.json") }
func (c *Context) archiveDir() string  { return filepath.Join(c.dir, "archives") }

// LoadHistory returns the ordered history for this session, or an empty
// slice if none has been written yet.
func (c *Context) LoadHistory() ([]Record, error) {
	data, err := os.ReadFile(c.historyPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read history: %w", err)
	}
	return decodeJSONL(data)
}

// LoadState returns the session's memory state, or a zero State if
// none has been written yet.
func (c *Context) LoadState() (State, error) {
	data, err := os.ReadFile(c.statePath())
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("session: read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("session: decode state: %w", err)
	}
	return st, nil
}

// AppendHistory assigns the next monotonic seq and appends one record.
// Appends happen-before any concurrent reader can observe a short
// write: WriteFileAtomic rewrites the whole file under the session
// lock this Context already holds.
func (c *Context) AppendHistory(role, content string, timestamp int64) (int64, error) {
	history, err := c.LoadHistory()
	if err != nil {
		return 0, err
	}
	var maxSeq int64
	for _, r := range history {
		if r.Seq > maxSeq {
			maxSeq = r.Seq
		}
	}
	next := maxSeq + 1
	history = append(history, Record{Seq: next, Role: role, Content: content, Timestamp: timestamp})
	return next, c.writeHistoryRecords(history)
}

// WriteHistory atomically rewrites history. Only the compaction
// pipeline calls this; all other callers must use AppendHistory.
func (c *Context) WriteHistory(records []Record) error {
	return c.writeHistoryRecords(records)
}

func (c *Context) writeHistoryRecords(records []Record) error {
	var buf []byte
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("session: marshal record: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return protocol.WriteFileAtomic(c.historyPath(), buf, 0o600)
}

// SaveState atomically persists state. lastSummarySeq must never move
// backward; callers are responsible for only ever advancing it.
func (c *Context) SaveState(st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("session: marshal state: %w", err)
	}
	return protocol.WriteFileAtomic(c.statePath(), data, 0o600)
}

// ArchiveConversation writes a timestamped, never-deleted copy of
// history plus the summary in effect at archive time.
func (c *Context) ArchiveConversation(history []Record, summary string, timestamp int64) error {
	if err := os.MkdirAll(c.archiveDir(), 0o700); err != nil {
		return fmt.Errorf("session: ensure archive dir: %w", err)
	}
	type archiveItem struct {
		Record
		ArchivedSummary string `json:"archived_summary,omitempty"`
	}
	var buf []byte
	for i, r := range history {
		item := archiveItem{Record: r}
		if i == len(history)-1 {
			item.ArchivedSummary = summary
		}
		line, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("session: marshal archive item: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	name := filepath.Join(c.archiveDir(), fmt.Sprintf("%d.jsonl", timestamp))
	return protocol.WriteFileAtomic(name, buf, 0o600)
}

func decodeJSONL(data []byte) ([]Record, error) {
	var out []Record
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var r Record
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("session: decode history line: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
