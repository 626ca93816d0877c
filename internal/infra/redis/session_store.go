package redis

import (
	"context"
	"sync"
	"time"

	"brainquiz-service/internal/app"
	"github.com/redis/go-redis/v9"
)

// SessionStore is a Redis-aware implementation of app.EngineRepository.
// Notes:
//   - Engines stay in a local map; sessions are deliberately never persisted.
//   - Redis only carries a liveness marker per user so other instances (or
//     operators) can see who has an open engine on which node.
//   - The marker TTL is refreshed on every access and the key is removed
//     together with the engine.
type SessionStore struct {
	client  *redis.Client
	ttl     time.Duration
	node    string
	mu      sync.RWMutex
	engines map[string]*app.SessionEngine
}

func NewSessionStore(client *redis.Client, ttl time.Duration, node string) *SessionStore {
	return &SessionStore{
		client:  client,
		ttl:     ttl,
		node:    node,
		engines: make(map[string]*app.SessionEngine),
	}
}

func (s *SessionStore) GetOrCreate(userID string, create func() *app.SessionEngine) *app.SessionEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if engine, ok := s.engines[userID]; ok {
		s.touch(userID)
		return engine
	}
	engine := create()
	s.engines[userID] = engine
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(userID), s.node, s.ttl).Err()
	return engine
}

func (s *SessionStore) Get(userID string) (*app.SessionEngine, bool) {
	s.mu.RLock()
	engine, ok := s.engines[userID]
	s.mu.RUnlock()
	if ok {
		s.touch(userID)
	}
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
	_ = s.client.Del(context.Background(), s.key(userID)).Err()
	return true
}

// touch extends the marker; an expired marker is written again.
func (s *SessionStore) touch(userID string) {
	_ = s.client.Set(context.Background(), s.key(userID), s.node, s.ttl).Err()
}

func (s *SessionStore) key(userID string) string {
	return "quiz:session:" + userID
}
