package redis

import (
	"context"
	"testing"
	"time"

	"qbank-service/internal/domain"
	"qbank-service/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
)

func TestPoolRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{
		PoolLoader: memory.NewStaticPoolLoader(map[string][]domain.Question{
			"Paper I": samplePool(),
		}),
	}
	repo := NewPoolRepository(newClient(mr), loader, time.Minute)

	pool, err := repo.GetPool(context.Background(), "Paper I")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if len(pool) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(pool))
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("qbank:pool:Paper I") {
		t.Fatalf("expected pool cached in redis")
	}

	// Second call should hit cache, loader not incremented.
	cached, err := repo.GetPool(context.Background(), "Paper I")
	if err != nil {
		t.Fatalf("get pool 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if len(cached) != 2 || cached[0].Rationale == "" {
		t.Fatalf("expected full question records from cache, got %+v", cached)
	}
}

type countingLoader struct {
	PoolLoader
	calls int
}

func (l *countingLoader) LoadPool(ctx context.Context, paperID string) ([]domain.Question, error) {
	l.calls++
	return l.PoolLoader.LoadPool(ctx, paperID)
}

func samplePool() []domain.Question {
	return []domain.Question{
		{ID: "q1", Text: "First sign of hypoxia?", Options: []string{"Cyanosis", "Restlessness", "Bradycardia", "Clubbing"}, CorrectAnswer: 1, Rationale: "Restlessness is the earliest indicator."},
		{ID: "q2", Text: "Normal adult respiratory rate?", Options: []string{"8-10", "12-20", "22-28", "30-36"}, CorrectAnswer: 1, Rationale: "12-20 breaths per minute is the adult range."},
	}
}
