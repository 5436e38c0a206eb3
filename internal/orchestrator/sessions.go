package orchestrator

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/insight-orchestrator/internal/memory"
	"github.com/example/insight-orchestrator/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

// session is the orchestrator-owned state of one conversation. mu
// serializes turns within the session.
type session struct {
	info   models.Session
	mu     sync.Mutex
	memory *memory.Memory

	// clarified is set once a clarification exit was issued; it is only
	// touched while mu is held.
	clarified bool
	turns     int
}

func (o *Orchestrator) newSessionLocked(id, threadID string) *session {
	if threadID == "" {
		threadID = id
	}
	s := &session{
		info:   models.Session{ID: id, ThreadID: threadID, StartedAt: time.Now().UTC()},
		memory: memory.New(o.agent.ShortTermSize, o.agent.ConsolidateCount, o.agent.MaxHistory),
	}
	o.sessions[id] = s
	return s
}

// NewSession starts a session for threadID. An empty threadID uses the
// session id.
func (o *Orchestrator) NewSession(threadID string) models.Session {
	o.mu.Lock()
	s := o.newSessionLocked(uuid.NewString(), threadID)
	o.mu.Unlock()
	o.logger.Info("session started", zap.String("session_id", s.info.ID), zap.String("thread_id", s.info.ThreadID))
	return s.info
}

// sessionFor returns the session with id, creating it when unknown. An empty
// id creates a fresh session.
func (o *Orchestrator) sessionFor(id string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	if s, ok := o.sessions[id]; ok {
		return s
	}
	return o.newSessionLocked(id, "")
}

func (o *Orchestrator) Session(id string) (models.Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[id]
	if !ok {
		return models.Session{}, false
	}
	return s.info, true
}

// Sessions lists live sessions, oldest first.
func (o *Orchestrator) Sessions() []models.Session {
	o.mu.RLock()
	out := make([]models.Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s.info)
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// EndSession drops the session and its memory.
func (o *Orchestrator) EndSession(id string) error {
	o.mu.Lock()
	_, ok := o.sessions[id]
	delete(o.sessions, id)
	o.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	o.logger.Info("session ended", zap.String("session_id", id))
	return nil
}

// History returns the remembered interactions of every session on
// threadID, oldest session first.
func (o *Orchestrator) History(threadID string) []memory.Interaction {
	var out []memory.Interaction
	for _, info := range o.Sessions() {
		if info.ThreadID != threadID {
			continue
		}
		o.mu.RLock()
		s, ok := o.sessions[info.ID]
		o.mu.RUnlock()
		if ok {
			out = append(out, s.memory.History()...)
		}
	}
	return out
}
