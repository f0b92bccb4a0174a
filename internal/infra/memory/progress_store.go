package memory

import (
	"context"
	"encoding/json"
	"sync"

	"qbank-service/internal/domain"
)

// ProgressStore keeps progress snapshots in an in-process key-value map,
// one JSON blob per client. Useful for tests and single-node demos.
type ProgressStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewProgressStore() *ProgressStore {
	return &ProgressStore{blobs: make(map[string][]byte)}
}

// ForClient scopes the store to one client's blob, satisfying the
// single-snapshot port the state machine expects.
func (s *ProgressStore) ForClient(clientID string) *ClientProgressStore {
	return &ClientProgressStore{store: s, key: clientID}
}

func (s *ProgressStore) load(key string) (domain.UserProgress, bool, error) {
	s.mu.RLock()
	raw, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return domain.UserProgress{}, false, nil
	}
	var snapshot domain.UserProgress
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		// Corrupt blobs read as absent; the caller falls back to the empty
		// initial aggregate.
		return domain.UserProgress{}, false, nil
	}
	if snapshot.Sessions == nil {
		snapshot.Sessions = make(map[string]*domain.PaperSession)
	}
	return snapshot, true, nil
}

func (s *ProgressStore) save(key string, snapshot domain.UserProgress) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.blobs[key] = raw
	s.mu.Unlock()
	return nil
}

func (s *ProgressStore) clear(key string) {
	s.mu.Lock()
	delete(s.blobs, key)
	s.mu.Unlock()
}

// Put writes a raw blob directly; tests use it to simulate corrupt storage.
func (s *ProgressStore) Put(clientID string, raw []byte) {
	s.mu.Lock()
	s.blobs[clientID] = raw
	s.mu.Unlock()
}

// ClientProgressStore is the per-client view implementing app.ProgressStore.
type ClientProgressStore struct {
	store *ProgressStore
	key   string
}

func (c *ClientProgressStore) Load(context.Context) (domain.UserProgress, bool, error) {
	return c.store.load(c.key)
}

func (c *ClientProgressStore) Save(_ context.Context, snapshot domain.UserProgress) error {
	return c.store.save(c.key, snapshot)
}

func (c *ClientProgressStore) Clear(context.Context) error {
	c.store.clear(c.key)
	return nil
}
