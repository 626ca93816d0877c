package memory

import (
	"sync"

	"brainquiz-service/internal/app"
)

// SessionStore is an in-memory implementation of app.EngineRepository.
type SessionStore struct {
	mu      sync.RWMutex
	engines map[string]*app.SessionEngine
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		engines: make(map[string]*app.SessionEngine),
	}
}

func (s *SessionStore) GetOrCreate(userID string, create func() *app.SessionEngine) *app.SessionEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if engine, ok := s.engines[userID]; ok {
		return engine
	}
	engine := create()
	s.engines[userID] = engine
	return engine
}

func (s *SessionStore) Get(userID string) (*app.SessionEngine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	engine, ok := s.engines[userID]
	return engine, ok
}

func (s *SessionStore) DeleteIfIdle(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	engine, ok := s.engines[userID]
	if !ok || engine.Subscribers() > 0 {
		return false
	}
	delete(s.engines, userID)
	return true
}
