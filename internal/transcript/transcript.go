// Package transcript maintains the ordered log of interaction turns for a
// run. The log is append-only and is the sole timeline of record: entries
// are never edited or removed after append. Call context is built from a
// bounded suffix of the log (the "recent window") so per-call cost does not
// grow with run length, while the full log stays authoritative for
// resumption, final reporting, and external queries.
package transcript

// Role identifies the author of a transcript entry.
type Role string

const (
	// RoleUser marks turns sent to the reasoning service.
	RoleUser Role = "user"
	// RoleAssistant marks turns produced by the reasoning service.
	RoleAssistant Role = "assistant"
)

// Entry is a single interaction turn. Order within the log is significant.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// DefaultWindowSize is the default number of recent entries included in
// call context.
const DefaultWindowSize = 3

// Log is an append-only ordered sequence of entries.
//
// Log is not safe for concurrent use; the loop controller owns it and
// serves reads from committed snapshots.
type Log struct {
	entries []Entry
}

// New creates an empty log.
func New() *Log {
	return &Log{}
}

// FromEntries creates a log seeded with existing entries, copying the
// slice so the caller's backing array is never aliased. Used when resuming
// from a continuation checkpoint.
func FromEntries(entries []Entry) *Log {
	l := &Log{entries: make([]Entry, len(entries))}
	copy(l.entries, entries)
	return l
}

// Append adds an entry to the end of the log and returns the content
// length in bytes, which callers feed into history-size accounting.
func (l *Log) Append(role Role, content string) int {
	l.entries = append(l.entries, Entry{Role: role, Content: content})
	return len(content)
}

// Len returns the number of entries in the log.
func (l *Log) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the full log.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Window returns a copy of the last size entries, or the whole log when it
// is shorter than size. The window is always a suffix of the log; taking a
// window never mutates the underlying entries. A size <= 0 yields an empty
// window.
func (l *Log) Window(size int) []Entry {
	if size <= 0 {
		return nil
	}
	start := len(l.entries) - size
	if start < 0 {
		start = 0
	}
	out := make([]Entry, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}

// Last returns the content of the most recent entry with the given role,
// or "" if no such entry exists. Used for the final response when a run
// exhausts its budget.
func (l *Log) Last(role Role) string {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Role == role {
			return l.entries[i].Content
		}
	}
	return ""
}
