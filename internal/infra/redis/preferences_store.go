package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"brainquiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const maxUpdateRetries = 5

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// PreferencesStore persists each user's preferences as one JSON value under
// "<storage name>:<user id>". Updates are optimistic WATCH/MULTI transactions.
type PreferencesStore struct {
	client *redis.Client
	name   string
}

func NewPreferencesStore(client *redis.Client) *PreferencesStore {
	return &PreferencesStore{client: client, name: domain.StorageName}
}

func (s *PreferencesStore) Load(ctx context.Context, userID string) (domain.Preferences, error) {
	return s.read(ctx, s.client, userID)
}

func (s *PreferencesStore) Update(ctx context.Context, userID string, fn func(*domain.Preferences) error) (domain.Preferences, error) {
	key := s.key(userID)
	var result domain.Preferences

	txf := func(tx *redis.Tx) error {
		prefs, err := s.read(ctx, tx, userID)
		if errors.Is(err, domain.ErrPreferencesNotFound) {
			prefs = domain.DefaultPreferences()
		} else if err != nil {
			return err
		}
		if err := fn(&prefs); err != nil {
			return err
		}
		data, err := json.Marshal(prefs)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			result = prefs
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return domain.Preferences{}, err
	}
	return domain.Preferences{}, fmt.Errorf("update preferences for %s: too much contention", userID)
}

func (s *PreferencesStore) read(ctx context.Context, c getter, userID string) (domain.Preferences, error) {
	data, err := c.Get(ctx, s.key(userID)).Bytes()
	if isMiss(err) {
		return domain.Preferences{}, domain.ErrPreferencesNotFound
	}
	if err != nil {
		return domain.Preferences{}, fmt.Errorf("read preferences: %w", err)
	}
	var prefs domain.Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return domain.Preferences{}, fmt.Errorf("decode preferences: %w", err)
	}
	return prefs, nil
}

func (s *PreferencesStore) key(userID string) string {
	return s.name + ":" + userID
}
