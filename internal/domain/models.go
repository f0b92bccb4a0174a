package domain

// Question is an MCQ item with exactly one correct option.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"` // 0-based index into Options
	Rationale     string   `json:"rationale"`
}

// Papers is the fixed set of exam papers offered by the question bank.
var Papers = []string{
	"Paper I",
	"Paper II",
	"Paper III",
	"Paper IV",
	"Paper V",
}

// KnownPaper reports whether id names one of the fixed papers.
func KnownPaper(id string) bool {
	for _, p := range Papers {
		if p == id {
			return true
		}
	}
	return false
}

// PaperSession is one attempt at a paper: the shuffled question order chosen
// at start time, recorded answers, remaining seconds, and the completion flag.
// Questions never change after the session is created; once IsCompleted is
// set, answers and timer are frozen.
type PaperSession struct {
	Questions     []Question     `json:"questions"`
	Answers       map[string]int `json:"answers"`
	TimeRemaining int            `json:"timeRemaining"`
	IsCompleted   bool           `json:"isCompleted"`
}

// Score counts questions whose recorded answer matches the correct option.
// Derived on demand, never stored.
func (s *PaperSession) Score() int {
	score := 0
	for _, q := range s.Questions {
		if idx, ok := s.Answers[q.ID]; ok && idx == q.CorrectAnswer {
			score++
		}
	}
	return score
}

// Clone returns a deep copy so callers can hand sessions across API
// boundaries without aliasing the live aggregate.
func (s *PaperSession) Clone() *PaperSession {
	if s == nil {
		return nil
	}
	cp := &PaperSession{
		Questions:     make([]Question, len(s.Questions)),
		Answers:       make(map[string]int, len(s.Answers)),
		TimeRemaining: s.TimeRemaining,
		IsCompleted:   s.IsCompleted,
	}
	copy(cp.Questions, s.Questions)
	for id, idx := range s.Answers {
		cp.Answers[id] = idx
	}
	return cp
}

// UserProgress is the root aggregate: the authenticated identity for the
// current run, the last identity that authenticated (persisted), the paper
// currently open, and every started paper session.
//
// UserEmail is live state only and must never reach the persisted snapshot.
type UserProgress struct {
	UserEmail       string                   `json:"userEmail,omitempty"`
	LastActiveEmail string                   `json:"lastActiveEmail,omitempty"`
	ViewingPaper    string                   `json:"viewingPaper,omitempty"`
	Sessions        map[string]*PaperSession `json:"sessions"`
}

// NewUserProgress returns the empty initial aggregate.
func NewUserProgress() UserProgress {
	return UserProgress{Sessions: make(map[string]*PaperSession)}
}

// Clone deep-copies the aggregate.
func (p UserProgress) Clone() UserProgress {
	cp := p
	cp.Sessions = make(map[string]*PaperSession, len(p.Sessions))
	for id, session := range p.Sessions {
		cp.Sessions[id] = session.Clone()
	}
	return cp
}
