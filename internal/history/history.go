// Package history records a summary of every completed turn.
//
// The turn loop writes one [Record] per turn after the turn ends; nothing in
// the loop reads it back. The status server exposes recent and searched
// records for inspection. [Memory] keeps a bounded ring in process; the
// postgres sub-package persists records across restarts.
package history

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeReplied  Outcome = "replied"
	OutcomeNoSpeech Outcome = "no_speech"
	OutcomeSilent   Outcome = "silent_reply"
	OutcomeFailed   Outcome = "failed"
)

// Action is a model-requested side effect, kept for the log.
type Action struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Record summarizes one turn.
type Record struct {
	TurnID    string                   `json:"turn_id"`
	StartedAt time.Time                `json:"started_at"`
	Duration  time.Duration            `json:"duration_ns"`
	UserText  string                   `json:"user_text"`
	ReplyText string                   `json:"reply_text"`
	Actions   []Action                 `json:"actions,omitempty"`
	Outcome   Outcome                  `json:"outcome"`
	Error     string                   `json:"error,omitempty"`
	Stages    map[string]time.Duration `json:"stages_ns,omitempty"`
}

// Store persists turn records. Implementations must be safe for concurrent
// use.
type Store interface {
	// Record appends r.
	Record(ctx context.Context, r Record) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Search returns up to limit records whose user or reply text matches
	// query, newest first.
	Search(ctx context.Context, query string, limit int) ([]Record, error)
}

// DefaultCapacity bounds a [Memory] store created with capacity <= 0.
const DefaultCapacity = 256

var _ Store = (*Memory)(nil)

// Memory is an in-process ring of the most recent records.
type Memory struct {
	mu   sync.Mutex
	ring []Record
	next int
	full bool
}

// NewMemory returns a store holding at most capacity records.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{ring: make([]Record, capacity)}
}

// Record implements Store. The oldest record is overwritten when full.
func (m *Memory) Record(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring[m.next] = r
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Recent implements Store.
func (m *Memory) Recent(_ context.Context, limit int) ([]Record, error) {
	return m.collect(limit, func(Record) bool { return true }), nil
}

// Search implements Store with a case-insensitive substring match.
func (m *Memory) Search(_ context.Context, query string, limit int) ([]Record, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	return m.collect(limit, func(r Record) bool {
		return strings.Contains(strings.ToLower(r.UserText), q) ||
			strings.Contains(strings.ToLower(r.ReplyText), q)
	}), nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return len(m.ring)
	}
	return m.next
}

func (m *Memory) collect(limit int, keep func(Record) bool) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.next
	if m.full {
		n = len(m.ring)
	}
	out := []Record{}
	for i := 1; i <= n; i++ {
		if limit > 0 && len(out) == limit {
			break
		}
		r := m.ring[(m.next-i+len(m.ring))%len(m.ring)]
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
