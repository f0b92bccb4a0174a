package memory

import (
	"context"
	"testing"

	"qbank-service/internal/domain"
)

func TestProgressStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewProgressStore().ForClient("c1")

	snapshot := domain.NewUserProgress()
	snapshot.LastActiveEmail = "user@test.com"
	snapshot.Sessions["Paper I"] = &domain.PaperSession{
		Questions:     []domain.Question{{ID: "q1", Options: []string{"a", "b"}, CorrectAnswer: 0}},
		Answers:       map[string]int{"q1": 0},
		TimeRemaining: 7000,
	}

	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, ok, err := store.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if loaded.LastActiveEmail != "user@test.com" {
		t.Fatalf("expected lastActiveEmail preserved, got %q", loaded.LastActiveEmail)
	}
	session := loaded.Sessions["Paper I"]
	if session == nil || session.Answers["q1"] != 0 || session.TimeRemaining != 7000 {
		t.Fatalf("expected session preserved, got %+v", session)
	}
}

func TestProgressStoreAbsentAndClear(t *testing.T) {
	ctx := context.Background()
	backing := NewProgressStore()
	store := backing.ForClient("c1")

	if _, ok, err := store.Load(ctx); ok || err != nil {
		t.Fatalf("expected absent, got ok=%v err=%v", ok, err)
	}

	if err := store.Save(ctx, domain.NewUserProgress()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := store.Load(ctx); ok {
		t.Fatalf("expected absent after clear")
	}
}

func TestProgressStoreCorruptBlobReadsAsAbsent(t *testing.T) {
	backing := NewProgressStore()
	backing.Put("c1", []byte("{not json"))

	_, ok, err := backing.ForClient("c1").Load(context.Background())
	if err != nil {
		t.Fatalf("corrupt blob must fail soft, got %v", err)
	}
	if ok {
		t.Fatalf("corrupt blob must read as absent")
	}
}

func TestProgressStoreClientsAreIsolated(t *testing.T) {
	ctx := context.Background()
	backing := NewProgressStore()

	snapshot := domain.NewUserProgress()
	snapshot.LastActiveEmail = "a@test.com"
	if err := backing.ForClient("a").Save(ctx, snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, _ := backing.ForClient("b").Load(ctx); ok {
		t.Fatalf("expected client b to have no blob")
	}
}
