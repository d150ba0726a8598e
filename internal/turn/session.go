package turn

import (
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage names used for timings, spans and error attribution.
const (
	StagePause   = "pause"
	StageCapture = "capture"
	StageSTT     = "stt"
	StageLLM     = "llm"
	StageTTS     = "tts"
	StagePanic   = "panic"
)

// Session correlates everything that happens between one wake and the
// return to idle. It lives only for the duration of the turn.
type Session struct {
	ID    string
	Start time.Time

	mu     sync.Mutex
	stages map[string]time.Duration
}

func newSession(id string, start time.Time) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{ID: id, Start: start, stages: make(map[string]time.Duration)}
}

// Observe adds d to the named stage.
func (s *Session) Observe(stage string, d time.Duration) {
	s.mu.Lock()
	s.stages[stage] += d
	s.mu.Unlock()
}

// Stages returns a copy of the stage timings recorded so far.
func (s *Session) Stages() map[string]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.stages)
}

// stageError attributes a turn failure to the stage that produced it.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return "turn: " + e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }
