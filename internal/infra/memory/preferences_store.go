package memory

import (
	"context"
	"encoding/json"
	"sync"

	"brainquiz-service/internal/domain"
)

// PreferencesStore keeps each user's persisted subset in process memory.
// Values are stored encoded so callers never share slices or maps with the store.
type PreferencesStore struct {
	mu    sync.Mutex
	prefs map[string][]byte
}

func NewPreferencesStore() *PreferencesStore {
	return &PreferencesStore{prefs: make(map[string][]byte)}
}

func (s *PreferencesStore) Load(_ context.Context, userID string) (domain.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(userID)
}

func (s *PreferencesStore) Update(_ context.Context, userID string, fn func(*domain.Preferences) error) (domain.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, err := s.loadLocked(userID)
	if err == domain.ErrPreferencesNotFound {
		prefs = domain.DefaultPreferences()
	} else if err != nil {
		return domain.Preferences{}, err
	}
	if err := fn(&prefs); err != nil {
		return domain.Preferences{}, err
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		return domain.Preferences{}, err
	}
	s.prefs[userID] = data
	return prefs, nil
}

func (s *PreferencesStore) loadLocked(userID string) (domain.Preferences, error) {
	data, ok := s.prefs[userID]
	if !ok {
		return domain.Preferences{}, domain.ErrPreferencesNotFound
	}
	var prefs domain.Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return domain.Preferences{}, err
	}
	return prefs, nil
}
