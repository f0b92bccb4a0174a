package redis

import (
	"context"
	"encoding/json"
	"time"

	"qbank-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ProgressStore persists one progress snapshot per client as a JSON blob.
// Loads fail soft: a missing key, read error, or corrupt blob all report
// absent, and the state machine falls back to the empty initial aggregate.
type ProgressStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewProgressStore scopes the store to one client's blob. A zero ttl keeps
// blobs until explicitly cleared.
func NewProgressStore(client *redis.Client, clientID string, ttl time.Duration) *ProgressStore {
	return &ProgressStore{
		client: client,
		key:    "qbank:progress:" + clientID,
		ttl:    ttl,
	}
}

func (s *ProgressStore) Load(ctx context.Context) (domain.UserProgress, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		return domain.UserProgress{}, false, nil
	}
	var snapshot domain.UserProgress
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return domain.UserProgress{}, false, nil
	}
	if snapshot.Sessions == nil {
		snapshot.Sessions = make(map[string]*domain.PaperSession)
	}
	return snapshot, true, nil
}

func (s *ProgressStore) Save(ctx context.Context, snapshot domain.UserProgress) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, raw, s.ttl).Err()
}

func (s *ProgressStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
