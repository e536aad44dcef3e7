// Package transcript reconciles streamed transcription fragments into a
// stable conversation log.
//
// The realtime service sends the user's and the model's words as partial
// fragments while a turn is in progress. An [Assembler] accumulates them per
// speaker and, when the service signals a turn boundary, commits at most two
// [Item]s (user first, then model) to an append-only [Log].
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Role identifies the speaker of a transcript item.
type Role string

const (
	// RoleUser is the person speaking into the microphone.
	RoleUser Role = "user"

	// RoleModel is the realtime service's synthesized voice.
	RoleModel Role = "model"
)

// Item is one finalized utterance. Items are immutable once appended to a Log.
type Item struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ── Assembler ─────────────────────────────────────────────────────────────────

// Assembler holds the in-progress text of the current turn. It is safe for
// concurrent use, although the session only writes to it from its event loop.
type Assembler struct {
	mu     sync.Mutex
	input  strings.Builder
	output strings.Builder
}

// AppendInput appends a fragment of the user's speech. Fragments are
// concatenated verbatim; the service includes its own spacing.
func (a *Assembler) AppendInput(text string) {
	a.mu.Lock()
	a.input.WriteString(text)
	a.mu.Unlock()
}

// AppendOutput appends a fragment of the model's speech.
func (a *Assembler) AppendOutput(text string) {
	a.mu.Lock()
	a.output.WriteString(text)
	a.mu.Unlock()
}

// Commit finalizes the current turn. It returns a user item if any input text
// accumulated, followed by a model item if any output text accumulated, both
// stamped with now, and clears both buffers. An empty turn returns nil.
func (a *Assembler) Commit(now time.Time) []Item {
	a.mu.Lock()
	defer a.mu.Unlock()

	var items []Item
	if a.input.Len() > 0 {
		items = append(items, Item{Role: RoleUser, Text: a.input.String(), Timestamp: now})
	}
	if a.output.Len() > 0 {
		items = append(items, Item{Role: RoleModel, Text: a.output.String(), Timestamp: now})
	}
	a.input.Reset()
	a.output.Reset()
	return items
}

// Pending returns the uncommitted text of the current turn.
func (a *Assembler) Pending() (input, output string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.input.String(), a.output.String()
}

// ── Log ───────────────────────────────────────────────────────────────────────

// Log is an append-only, ordered list of committed items.
type Log struct {
	mu    sync.RWMutex
	items []Item
}

// Append adds items to the end of the log in the order given.
func (l *Log) Append(items ...Item) {
	if len(items) == 0 {
		return
	}
	l.mu.Lock()
	l.items = append(l.items, items...)
	l.mu.Unlock()
}

// Items returns a copy of every item in commit order.
func (l *Log) Items() []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of committed items.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}
