package app

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"qbank-service/internal/auth"
	"qbank-service/internal/domain"
)

// ProgressStore abstracts how the progress snapshot is persisted (in-memory,
// Redis, etc). Load fails soft: a missing or unreadable blob reports absent
// rather than an error the caller must handle.
type ProgressStore interface {
	Load(ctx context.Context) (domain.UserProgress, bool, error)
	Save(ctx context.Context, snapshot domain.UserProgress) error
	Clear(ctx context.Context) error
}

// PoolRepository supplies the unshuffled question pool for a paper. An empty
// pool is a recognized, non-fatal condition.
type PoolRepository interface {
	GetPool(ctx context.Context, paperID string) ([]domain.Question, error)
}

// Confirmer gates destructive transitions. Declining must leave state
// untouched; implementations that resolve asynchronously answer false until
// the user has decided.
type Confirmer interface {
	Confirm(ctx context.Context, action, detail string) bool
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, action, detail string) bool

func (f ConfirmerFunc) Confirm(ctx context.Context, action, detail string) bool {
	return f(ctx, action, detail)
}

// ProgressService owns the UserProgress aggregate and executes every
// transition on it. All mutation goes through its methods; each applied
// transition is followed by a synchronous save of the scrubbed snapshot.
type ProgressService struct {
	store      ProgressStore
	pools      PoolRepository
	policy     *auth.Policy
	confirm    Confirmer
	timeBudget int
	rnd        *rand.Rand

	mu       sync.RWMutex
	progress domain.UserProgress
}

// NewProgressService wires the state machine to its ports. timeBudget is the
// per-paper allowance in seconds.
func NewProgressService(store ProgressStore, pools PoolRepository, policy *auth.Policy, confirm Confirmer, timeBudget int) *ProgressService {
	return &ProgressService{
		store:      store,
		pools:      pools,
		policy:     policy,
		confirm:    confirm,
		timeBudget: timeBudget,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		progress:   domain.NewUserProgress(),
	}
}

// Restore loads the persisted snapshot into the aggregate. Live fields
// (identity, viewed paper) never survive a restore; a corrupt or absent blob
// yields the empty initial aggregate.
func (s *ProgressService) Restore(ctx context.Context) error {
	snapshot, ok, err := s.store.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		s.progress = domain.NewUserProgress()
		return nil
	}
	snapshot.UserEmail = ""
	snapshot.ViewingPaper = ""
	if snapshot.Sessions == nil {
		snapshot.Sessions = make(map[string]*domain.PaperSession)
	}
	s.progress = snapshot
	return nil
}

// Register validates the email and access code and unlocks the aggregate.
// When a different identity already has stored progress, the confirmation
// port decides whether to discard it; declining changes nothing and reports
// domain.ErrIdentityConflict.
func (s *ProgressService) Register(ctx context.Context, email, code string) error {
	email = auth.NormalizeEmail(email)
	if !s.policy.ValidEmail(email) {
		return domain.ErrInvalidEmail
	}
	if !s.policy.AuthorizedCode(code) {
		return domain.ErrInvalidCode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.progress.LastActiveEmail != "" && s.progress.LastActiveEmail != email {
		if !s.confirm.Confirm(ctx, "register", "existing progress found for "+s.progress.LastActiveEmail) {
			return domain.ErrIdentityConflict
		}
		fresh := domain.NewUserProgress()
		fresh.UserEmail = email
		fresh.LastActiveEmail = email
		s.progress = fresh
		s.saveLocked(ctx)
		return nil
	}

	s.progress.UserEmail = email
	s.progress.LastActiveEmail = email
	s.saveLocked(ctx)
	return nil
}

// Lock clears the live identity and the viewed paper, keeping sessions and
// the last active email. Returns false if the user declined.
func (s *ProgressService) Lock(ctx context.Context) bool {
	if !s.confirm.Confirm(ctx, "lock", "progress is saved but requires re-entry") {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.UserEmail = ""
	s.progress.ViewingPaper = ""
	s.saveLocked(ctx)
	return true
}

// AutoLock is the non-interactive safety transition for visibility loss: it
// clears the live identity and viewed paper without confirmation.
func (s *ProgressService) AutoLock(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress.UserEmail == "" && s.progress.ViewingPaper == "" {
		return
	}
	s.progress.UserEmail = ""
	s.progress.ViewingPaper = ""
	s.saveLocked(ctx)
}

// IsLocked reports whether no identity is currently authenticated.
func (s *ProgressService) IsLocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress.UserEmail == ""
}

// StartOrResume opens a paper. An existing session is resumed untouched; a
// fresh start shuffles the pool into a new session with the full time budget.
func (s *ProgressService) StartOrResume(ctx context.Context, paper string) error {
	if !domain.KnownPaper(paper) {
		return domain.ErrPaperUnknown
	}

	s.mu.Lock()
	if _, ok := s.progress.Sessions[paper]; ok {
		s.progress.ViewingPaper = paper
		s.saveLocked(ctx)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// Pool fetch happens outside the lock; the session is only created once
	// the pool is known to be non-empty, so a failed start changes nothing.
	pool, err := s.pools.GetPool(ctx, paper)
	if err != nil {
		return err
	}
	if len(pool) == 0 {
		return domain.ErrEmptyPool
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.progress.Sessions[paper]; !ok {
		s.progress.Sessions[paper] = s.newSession(pool)
	}
	s.progress.ViewingPaper = paper
	s.saveLocked(ctx)
	return nil
}

// Restart discards any existing session for the paper, completed or not, and
// creates a fresh one. Gated on confirmation; returns false when declined.
func (s *ProgressService) Restart(ctx context.Context, paper string) (bool, error) {
	if !domain.KnownPaper(paper) {
		return false, domain.ErrPaperUnknown
	}
	if !s.confirm.Confirm(ctx, "restart", "restarting "+paper+" clears its score and starts fresh") {
		return false, nil
	}

	pool, err := s.pools.GetPool(ctx, paper)
	if err != nil {
		return false, err
	}
	if len(pool) == 0 {
		return false, domain.ErrEmptyPool
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.Sessions[paper] = s.newSession(pool)
	s.progress.ViewingPaper = paper
	s.saveLocked(ctx)
	return true, nil
}

func (s *ProgressService) newSession(pool []domain.Question) *domain.PaperSession {
	return &domain.PaperSession{
		Questions:     ShuffleQuestions(s.rnd, pool),
		Answers:       make(map[string]int),
		TimeRemaining: s.timeBudget,
		IsCompleted:   false,
	}
}

// RecordAnswer sets the answer for a question, or clears it when optionIdx is
// nil. It is a no-op without a session or once the session is completed.
// Overwriting an existing answer is permitted here; write-once is an input
// affordance of the presentation layer, not a state-machine invariant.
func (s *ProgressService) RecordAnswer(ctx context.Context, paper, questionID string, optionIdx *int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.progress.Sessions[paper]
	if !ok || session.IsCompleted {
		return
	}
	if optionIdx == nil {
		delete(session.Answers, questionID)
	} else {
		session.Answers[questionID] = *optionIdx
	}
	s.saveLocked(ctx)
}

// Submit marks the session completed, freezing answers and timer. Idempotent:
// submitting an already-completed session changes nothing.
func (s *ProgressService) Submit(ctx context.Context, paper string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.progress.Sessions[paper]
	if !ok || session.IsCompleted {
		return
	}
	session.IsCompleted = true
	s.saveLocked(ctx)
}

// Tick records the remaining seconds reported by the countdown. No-op
// without a session or once completed, so a stray tick cannot thaw a frozen
// session. Negative values clamp to zero.
func (s *ProgressService) Tick(ctx context.Context, paper string, secondsRemaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.progress.Sessions[paper]
	if !ok || session.IsCompleted {
		return
	}
	if secondsRemaining < 0 {
		secondsRemaining = 0
	}
	session.TimeRemaining = secondsRemaining
	s.saveLocked(ctx)
}

// ExitPaper returns to the dashboard without touching the session.
func (s *ProgressService) ExitPaper(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress.ViewingPaper == "" {
		return
	}
	s.progress.ViewingPaper = ""
	s.saveLocked(ctx)
}

// ResetPaper deletes the session for one paper. Gated on confirmation;
// returns false when declined. Clears the viewed paper if it was the one
// being reset.
func (s *ProgressService) ResetPaper(ctx context.Context, paper string) bool {
	if !s.confirm.Confirm(ctx, "resetPaper", "permanently reset all progress for "+paper) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.progress.Sessions, paper)
	if s.progress.ViewingPaper == paper {
		s.progress.ViewingPaper = ""
	}
	s.saveLocked(ctx)
	return true
}

// ResetAll replaces the aggregate with the empty initial state and purges the
// persisted blob. Gated on confirmation; returns false when declined.
func (s *ProgressService) ResetAll(ctx context.Context) bool {
	if !s.confirm.Confirm(ctx, "resetAll", "permanently delete ALL progress") {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = domain.NewUserProgress()
	if err := s.store.Clear(ctx); err != nil {
		log.Printf("clear progress store: %v", err)
	}
	return true
}

// Score derives the current score for a paper. Never stored; recomputed on
// demand from the answer key held by the session.
func (s *ProgressService) Score(paper string) (score, total int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, found := s.progress.Sessions[paper]
	if !found {
		return 0, 0, false
	}
	return session.Score(), len(session.Questions), true
}

// Snapshot returns a deep copy of the aggregate for read-only consumers.
func (s *ProgressService) Snapshot() domain.UserProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress.Clone()
}

// saveLocked persists the scrubbed snapshot. Callers hold the write lock.
// Save failures are logged, not propagated: the in-memory aggregate stays the
// source of truth and the next transition retries the write.
func (s *ProgressService) saveLocked(ctx context.Context) {
	snapshot := s.progress.Clone()
	snapshot.UserEmail = ""
	if snapshot.LastActiveEmail == "" {
		snapshot.LastActiveEmail = s.progress.UserEmail
	}
	if err := s.store.Save(ctx, snapshot); err != nil {
		log.Printf("save progress snapshot: %v", err)
	}
}
