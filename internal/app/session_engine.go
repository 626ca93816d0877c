package app

import (
	"sync"
	"time"

	"brainquiz-service/internal/domain"
	"github.com/google/uuid"
)

// StatsRecorder receives the score of every session exactly once, when it completes.
type StatsRecorder interface {
	RecordCompletion(session *domain.QuizSession, score domain.Score)
}

// RecorderFunc adapts a function to StatsRecorder.
type RecorderFunc func(session *domain.QuizSession, score domain.Score)

func (f RecorderFunc) RecordCompletion(session *domain.QuizSession, score domain.Score) {
	f(session, score)
}

// EngineOption customizes a SessionEngine.
type EngineOption func(*SessionEngine)

// WithClock replaces time.Now, mostly for deterministic tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *SessionEngine) { e.now = now }
}

// WithIDGenerator replaces the UUID session id generator.
func WithIDGenerator(gen func() string) EngineOption {
	return func(e *SessionEngine) { e.newID = gen }
}

func WithStatsRecorder(r StatsRecorder) EngineOption {
	return func(e *SessionEngine) { e.stats = r }
}

// SessionEngine owns the lifecycle of one active quiz attempt.
// Every mutator returns a snapshot of the session after the operation, or nil
// when no session is active. Mutators on an absent or completed session are no-ops.
type SessionEngine struct {
	now   func() time.Time
	newID func() string
	stats StatsRecorder

	mu          sync.Mutex
	session     *domain.QuizSession
	subscribers map[chan *domain.QuizSession]struct{}
}

func NewSessionEngine(opts ...EngineOption) *SessionEngine {
	e := &SessionEngine{
		now:         time.Now,
		newID:       uuid.NewString,
		subscribers: make(map[chan *domain.QuizSession]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartQuiz replaces any existing session with a fresh one over questions.
// An empty question list or an unknown mode is rejected and leaves the current session alone.
func (e *SessionEngine) StartQuiz(questions []domain.Question, mode domain.Mode, timeLimit int) (*domain.QuizSession, error) {
	if len(questions) == 0 {
		return nil, domain.ErrEmptyQuestionSet
	}
	if !mode.Valid() {
		return nil, domain.ErrInvalidMode
	}
	if !mode.IsTimed() || timeLimit < 0 {
		timeLimit = 0
	}

	ordered := make([]domain.Question, len(questions))
	copy(ordered, questions)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = &domain.QuizSession{
		ID:              e.newID(),
		Mode:            mode,
		Questions:       ordered,
		CurrentIndex:    0,
		Answers:         make(map[int]int),
		MarkedForReview: make(domain.IDSet),
		RuledOutOptions: make(map[int]domain.IDSet),
		StartTime:       e.now(),
		TimeLimit:       timeLimit,
	}
	return e.broadcastLocked(), nil
}

// AnswerQuestion records choiceID as the answer to questionID, overwriting any earlier one.
// The choice is not validated; a foreign id simply never scores.
func (e *SessionEngine) AnswerQuestion(questionID, choiceID int) *domain.QuizSession {
	return e.mutate(func(s *domain.QuizSession) bool {
		if current, ok := s.Answers[questionID]; ok && current == choiceID {
			return false
		}
		s.Answers[questionID] = choiceID
		return true
	})
}

// ClearAnswer removes the recorded answer, leaving the question unanswered.
func (e *SessionEngine) ClearAnswer(questionID int) *domain.QuizSession {
	return e.mutate(func(s *domain.QuizSession) bool {
		if _, ok := s.Answers[questionID]; !ok {
			return false
		}
		delete(s.Answers, questionID)
		return true
	})
}

func (e *SessionEngine) ToggleMarkForReview(questionID int) *domain.QuizSession {
	return e.mutate(func(s *domain.QuizSession) bool {
		s.MarkedForReview.Toggle(questionID)
		return true
	})
}

func (e *SessionEngine) ToggleRuleOutOption(questionID, choiceID int) *domain.QuizSession {
	return e.mutate(func(s *domain.QuizSession) bool {
		ruled, ok := s.RuledOutOptions[questionID]
		if !ok {
			ruled = make(domain.IDSet)
			s.RuledOutOptions[questionID] = ruled
		}
		ruled.Toggle(choiceID)
		return true
	})
}

// NextQuestion advances the cursor; no-op at the last question.
func (e *SessionEngine) NextQuestion() *domain.QuizSession {
	return e.mutate(func(s *domain.QuizSession) bool {
		if s.CurrentIndex >= len(s.Questions)-1 {
			return false
		}
		s.CurrentIndex++
		return true
	})
}

// PreviousQuestion retreats the cursor; no-op at the first question.
func (e *SessionEngine) PreviousQuestion() *domain.QuizSession {
	return e.mutate(func(s *domain.QuizSession) bool {
		if s.CurrentIndex <= 0 {
			return false
		}
		s.CurrentIndex--
		return true
	})
}

// GoToQuestion moves the cursor to index; out-of-range indexes are ignored.
func (e *SessionEngine) GoToQuestion(index int) *domain.QuizSession {
	return e.mutate(func(s *domain.QuizSession) bool {
		if index < 0 || index >= len(s.Questions) || index == s.CurrentIndex {
			return false
		}
		s.CurrentIndex = index
		return true
	})
}

// CompleteQuiz scores the session and makes it terminal. The returned flag is
// true only for the call that performed the transition; later calls neither
// rescore nor reach the StatsRecorder again.
func (e *SessionEngine) CompleteQuiz() (*domain.QuizSession, bool) {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, false
	}
	if e.session.IsCompleted {
		snap := e.session.Clone()
		e.mu.Unlock()
		return snap, false
	}
	snap := e.completeLocked()
	e.mu.Unlock()

	e.record(snap)
	return snap, true
}

// CompleteIfExpired is the timer entry point. It completes the active session only
// when it is sessionID, still open, and its time limit has elapsed.
func (e *SessionEngine) CompleteIfExpired(sessionID string) (*domain.QuizSession, bool) {
	e.mu.Lock()
	s := e.session
	if s == nil || s.ID != sessionID || s.IsCompleted || !s.Expired(e.now()) {
		e.mu.Unlock()
		return nil, false
	}
	snap := e.completeLocked()
	e.mu.Unlock()

	e.record(snap)
	return snap, true
}

// ResetQuiz discards the session entirely. Cumulative stats are untouched.
func (e *SessionEngine) ResetQuiz() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return
	}
	e.session = nil
	e.broadcastLocked()
}

// Current returns a snapshot of the active session, or nil.
func (e *SessionEngine) Current() *domain.QuizSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone()
}

// Subscribe returns a channel that receives a snapshot after every transition,
// starting with the current one. Slow readers only see the latest snapshot.
// The caller must invoke the returned cancel function to avoid leaks.
func (e *SessionEngine) Subscribe() (<-chan *domain.QuizSession, func()) {
	ch := make(chan *domain.QuizSession, 8)

	e.mu.Lock()
	e.subscribers[ch] = struct{}{}
	ch <- e.session.Clone()
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		if _, ok := e.subscribers[ch]; ok {
			delete(e.subscribers, ch)
			close(ch)
		}
		e.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers reports how many subscriptions are still open.
func (e *SessionEngine) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscribers)
}

func (e *SessionEngine) mutate(fn func(s *domain.QuizSession) bool) *domain.QuizSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	if e.session.IsCompleted || !fn(e.session) {
		return e.session.Clone()
	}
	return e.broadcastLocked()
}

func (e *SessionEngine) completeLocked() *domain.QuizSession {
	score := ScoreSession(e.session)
	e.session.IsCompleted = true
	e.session.Score = &score
	return e.broadcastLocked()
}

func (e *SessionEngine) record(snap *domain.QuizSession) {
	if e.stats == nil || snap == nil || snap.Score == nil {
		return
	}
	e.stats.RecordCompletion(snap, *snap.Score)
}

func (e *SessionEngine) broadcastLocked() *domain.QuizSession {
	snap := e.session.Clone()
	for ch := range e.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
	return snap
}

// ScoreSession classifies every question as correct, incorrect or unanswered.
func ScoreSession(s *domain.QuizSession) domain.Score {
	var score domain.Score
	for _, q := range s.Questions {
		choiceID, answered := s.Answers[q.ID]
		switch {
		case !answered:
			score.Unanswered++
		case choiceID == q.CorrectChoiceID:
			score.Correct++
		default:
			score.Incorrect++
		}
	}
	score.Percentage = Percentage(score.Correct, len(s.Questions))
	return score
}

// Percentage rounds 100*correct/total half-up, using integers to stay exact.
// A zero total yields 0.
func Percentage(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*correct + total) / (2 * total)
}
