package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"qbank-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// PoolLoader fetches a paper's question pool from a backing store
// (e.g., Postgres).
type PoolLoader interface {
	LoadPool(ctx context.Context, paperID string) ([]domain.Question, error)
}

// PoolRepository caches each paper's pool in Redis as a JSON blob with TTL
// and falls back to the loader on cache miss. Stored as:
// SET qbank:pool:{paperID} {json} EX ttl
type PoolRepository struct {
	client *redis.Client
	loader PoolLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewPoolRepository(client *redis.Client, loader PoolLoader, ttl time.Duration) *PoolRepository {
	return &PoolRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *PoolRepository) GetPool(ctx context.Context, paperID string) ([]domain.Question, error) {
	key := r.poolKey(paperID)

	if pool, ok := r.cached(ctx, key); ok {
		return pool, nil
	}

	result, err, _ := r.sf.Do(paperID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if pool, ok := r.cached(ctx, key); ok {
			return pool, nil
		}

		pool, err := r.loader.LoadPool(ctx, paperID)
		if err != nil {
			return nil, err
		}

		raw, err := json.Marshal(pool)
		if err != nil {
			return nil, err
		}
		// Cache write is best-effort; a failed write just means the next
		// miss hits the loader again.
		_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *PoolRepository) cached(ctx context.Context, key string) ([]domain.Question, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var pool []domain.Question
	if err := json.Unmarshal(raw, &pool); err != nil {
		return nil, false
	}
	return pool, true
}

func (r *PoolRepository) poolKey(paperID string) string {
	return "qbank:pool:" + paperID
}

func (r *PoolRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
