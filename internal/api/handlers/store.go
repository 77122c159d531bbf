package handlers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/internal/domain/timeline"
)

// ErrSessionNotFound is returned for unknown or expired session ids
var ErrSessionNotFound = errors.New("session not found")

// Entry is one live timeline session
type Entry struct {
	ID        string
	PatientID string
	Session   *timeline.Session
	CreatedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

func (e *Entry) touch(now time.Time) {
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
}

// LastSeen returns when the session was last used
func (e *Entry) LastSeen() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen
}

// SessionGauge tracks session counts
type SessionGauge interface {
	SessionCreated()
	SessionClosed(expired bool)
}

// SessionStore keeps the live sessions in memory and expires idle ones
type SessionStore struct {
	cfg     timeline.Config
	idleTTL time.Duration
	gauge   SessionGauge
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Entry
}

// NewSessionStore creates a store whose sessions use cfg
func NewSessionStore(cfg timeline.Config, idleTTL time.Duration, gauge SessionGauge, logger *zap.Logger) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{
		cfg:      cfg,
		idleTTL:  idleTTL,
		gauge:    gauge,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Entry),
	}
}

// Create opens a session for patientID over set
func (s *SessionStore) Create(patientID string, set record.Set) *Entry {
	now := s.now()
	e := &Entry{
		ID:        uuid.New().String(),
		PatientID: patientID,
		Session:   timeline.NewSession(s.cfg, set),
		CreatedAt: now,
		lastSeen:  now,
	}

	s.mu.Lock()
	s.sessions[e.ID] = e
	s.mu.Unlock()

	if s.gauge != nil {
		s.gauge.SessionCreated()
	}
	s.logger.Info("session created",
		zap.String("session_id", e.ID),
		zap.String("patient_id", patientID),
		zap.Int("records", set.Len()))
	return e
}

// Get returns a live session and marks it used
func (s *SessionStore) Get(id string) (*Entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.touch(s.now())
	return e, nil
}

// Delete closes a session, clearing its working set
func (s *SessionStore) Delete(id string) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	e.Session.Reset()
	if s.gauge != nil {
		s.gauge.SessionClosed(false)
	}
	return nil
}

// ForPatient returns the live sessions of patientID ordered by creation
func (s *SessionStore) ForPatient(patientID string) []*Entry {
	s.mu.RLock()
	var out []*Entry
	for _, e := range s.sessions {
		if e.PatientID == patientID {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ApplyChange replaces one collection in every live session of patientID
// and returns the sessions it updated
func (s *SessionStore) ApplyChange(patientID string, cat record.Category, recs []record.Record) ([]*Entry, error) {
	if !cat.Valid() {
		return nil, record.ErrUnknownCategory
	}
	entries := s.ForPatient(patientID)
	for _, e := range entries {
		if _, err := e.Session.SetCollection(cat, recs); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Len returns the number of live sessions
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes sessions idle for longer than the idle TTL
func (s *SessionStore) Sweep() int {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	var expired []*Entry
	for id, e := range s.sessions {
		if e.LastSeen().Before(cutoff) {
			expired = append(expired, e)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, e := range expired {
		e.Session.Reset()
		if s.gauge != nil {
			s.gauge.SessionClosed(true)
		}
		s.logger.Info("session expired",
			zap.String("session_id", e.ID),
			zap.String("patient_id", e.PatientID))
	}
	return len(expired)
}

// RunSweeper sweeps every interval until ctx is done
func (s *SessionStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
