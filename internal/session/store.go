package session

// Store is the Session Memory Store abstraction: acquire exclusive
// access to one session and load/persist its history and state.
// FileStore is the only production implementation; callers can
// substitute an in-memory fake in tests.
type Store interface {
	// Open acquires exclusive access to sessionID (generating a fresh
	// id when empty). isNew is true exactly when the caller passed no
	// sessionID. Callers must call SessionContext.Close on every exit
	// path to release the lock.
	Open(sessionID string) (SessionContext, bool, error)
}

// SessionContext is a handle to one session's persisted history and
// state, exclusively owned by the caller for the duration of a run.
type SessionContext interface {
	// SessionID returns the id this context was opened with.
	SessionID() string

	LoadHistory() ([]Record, error)
	LoadState() (State, error)

	// AppendHistory assigns the next monotonic seq and appends one
	// record, returning the assigned seq.
	AppendHistory(role, content string, timestamp int64) (int64, error)

	// WriteHistory atomically rewrites history. Only the compaction
	// pipeline should call this; all other callers should use
	// AppendHistory.
	WriteHistory(records []Record) error

	// SaveState atomically persists state. LastSummarySeq must never
	// move backward; callers are responsible for only ever advancing
	// it.
	SaveState(st State) error

	// ArchiveConversation writes a timestamped, never-deleted copy of
	// history plus the summary in effect at archive time.
	ArchiveConversation(history []Record, summary string, timestamp int64) error

	// Close releases the session's exclusive lock. Safe to call once
	// per SessionContext returned by Store.Open.
	Close()
}
