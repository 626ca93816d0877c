package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"brainquiz-service/internal/domain"
	"brainquiz-service/internal/selection"
	"go.uber.org/zap"
)

// EngineRepository abstracts where per-user session engines live (in-memory, Redis, etc).
type EngineRepository interface {
	GetOrCreate(userID string, create func() *SessionEngine) *SessionEngine
	Get(userID string) (*SessionEngine, bool)
	// DeleteIfIdle drops the engine only when nobody is subscribed to it and
	// reports whether it did.
	DeleteIfIdle(userID string) bool
}

// QuestionRepository loads the question bank (from cache/backing store).
type QuestionRepository interface {
	GetQuestions(ctx context.Context) ([]domain.Question, error)
}

// PreferencesRepository persists the per-user subset of state that outlives sessions.
// Load returns domain.ErrPreferencesNotFound for unknown users; Update starts from
// domain.DefaultPreferences in that case and stores the result atomically.
type PreferencesRepository interface {
	Load(ctx context.Context, userID string) (domain.Preferences, error)
	Update(ctx context.Context, userID string, fn func(*domain.Preferences) error) (domain.Preferences, error)
}

// Observer is notified of lifecycle transitions, typically for metrics.
type Observer interface {
	QuizStarted(mode domain.Mode)
	QuizCompleted(mode domain.Mode, trigger string, score domain.Score)
}

const (
	TriggerManual = "manual"
	TriggerTimer  = "timer"
)

// Source names where the questions of a new quiz come from.
type Source string

const (
	SourceBank   Source = "bank"
	SourceReview Source = "review"
)

// StartRequest describes a new attempt.
type StartRequest struct {
	Mode        domain.Mode
	TimeLimit   int    // minutes; 0 picks DefaultTimeLimit for timed modes
	Source      Source // defaults to SourceBank
	QuestionIDs []int  // explicit pick from the bank, bypassing filters
}

// Feedback reveals the outcome of one answer in modes that show it.
type Feedback struct {
	QuestionID      int    `json:"questionId"`
	SelectedID      *int   `json:"selectedId"`
	Correct         bool   `json:"correct"`
	CorrectChoiceID int    `json:"correctChoiceId"`
	Solution        string `json:"solution,omitempty"`
}

const statsWriteTimeout = 5 * time.Second

// DefaultTimeLimit grants one minute per question.
func DefaultTimeLimit(questionCount int) int {
	return questionCount
}

// QuizService contains the quiz use cases for many users, one session each.
type QuizService struct {
	engines   EngineRepository
	questions QuestionRepository
	prefs     PreferencesRepository
	builder   *selection.Builder
	clock     Clock
	logger    *zap.Logger
	observer  Observer

	mu     sync.Mutex
	timers map[string]*CompletionTimer
}

type ServiceOption func(*QuizService)

func WithServiceClock(c Clock) ServiceOption {
	return func(s *QuizService) { s.clock = c }
}

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *QuizService) { s.logger = l }
}

func WithBuilder(b *selection.Builder) ServiceOption {
	return func(s *QuizService) { s.builder = b }
}

func WithObserver(o Observer) ServiceOption {
	return func(s *QuizService) { s.observer = o }
}

func NewQuizService(engines EngineRepository, questions QuestionRepository, prefs PreferencesRepository, opts ...ServiceOption) *QuizService {
	s := &QuizService{
		engines:   engines,
		questions: questions,
		prefs:     prefs,
		builder:   selection.NewBuilder(),
		clock:     SystemClock{},
		logger:    zap.NewNop(),
		timers:    make(map[string]*CompletionTimer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start replaces the user's session with a new one and arms the completion timer for timed modes.
func (s *QuizService) Start(ctx context.Context, userID string, req StartRequest) (*domain.QuizSession, error) {
	if !req.Mode.Valid() {
		return nil, domain.ErrInvalidMode
	}
	questions, err := s.pickQuestions(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	timeLimit := req.TimeLimit
	if req.Mode.IsTimed() && timeLimit <= 0 {
		timeLimit = DefaultTimeLimit(len(questions))
	}
	return s.begin(userID, questions, req.Mode, timeLimit)
}

// Retake restarts the current attempt with the same questions and mode.
func (s *QuizService) Retake(_ context.Context, userID string) (*domain.QuizSession, error) {
	current := s.Current(userID)
	if current == nil {
		return nil, domain.ErrNoActiveSession
	}
	timeLimit := 0
	if current.Mode.IsTimed() {
		timeLimit = DefaultTimeLimit(len(current.Questions))
	}
	return s.begin(userID, current.Questions, current.Mode, timeLimit)
}

func (s *QuizService) begin(userID string, questions []domain.Question, mode domain.Mode, timeLimit int) (*domain.QuizSession, error) {
	engine := s.engine(userID)

	// Stop the previous timer before the new session exists so a late tick cannot race it.
	s.stopTimer(userID)
	snap, err := engine.StartQuiz(questions, mode, timeLimit)
	if err != nil {
		return nil, err
	}
	if snap.TimeLimit > 0 {
		s.armTimer(userID, engine, snap)
	}
	if s.observer != nil {
		s.observer.QuizStarted(mode)
	}
	s.logger.Info("quiz started",
		zap.String("user_id", userID),
		zap.String("session_id", snap.ID),
		zap.String("mode", string(mode)),
		zap.Int("questions", len(snap.Questions)),
		zap.Int("time_limit_min", snap.TimeLimit),
	)
	return snap, nil
}

func (s *QuizService) pickQuestions(ctx context.Context, userID string, req StartRequest) ([]domain.Question, error) {
	switch req.Source {
	case SourceReview:
		prefs, err := s.Preferences(ctx, userID)
		if err != nil {
			return nil, err
		}
		if len(prefs.IncorrectAnswers) == 0 {
			return nil, domain.ErrEmptyQuestionSet
		}
		return prefs.IncorrectAnswers, nil
	case SourceBank, "":
		bank, err := s.questions.GetQuestions(ctx)
		if err != nil {
			return nil, fmt.Errorf("load question bank: %w", err)
		}
		if len(req.QuestionIDs) > 0 {
			return selection.PickByID(bank, req.QuestionIDs)
		}
		prefs, err := s.Preferences(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.builder.Select(bank, prefs.Filters, prefs.Navigation)
	default:
		return nil, fmt.Errorf("unknown question source %q", req.Source)
	}
}

func (s *QuizService) Answer(userID string, questionID, choiceID int) *domain.QuizSession {
	engine, ok := s.engines.Get(userID)
	if !ok {
		return nil
	}
	return engine.AnswerQuestion(questionID, choiceID)
}

func (s *QuizService) ClearAnswer(userID string, questionID int) *domain.QuizSession {
	engine, ok := s.engines.Get(userID)
	if !ok {
		return nil
	}
	return engine.ClearAnswer(questionID)
}

func (s *QuizService) ToggleMark(userID string, questionID int) *domain.QuizSession {
	engine, ok := s.engines.Get(userID)
	if !ok {
		return nil
	}
	return engine.ToggleMarkForReview(questionID)
}

func (s *QuizService) ToggleRuleOut(userID string, questionID, choiceID int) *domain.QuizSession {
	engine, ok := s.engines.Get(userID)
	if !ok {
		return nil
	}
	return engine.ToggleRuleOutOption(questionID, choiceID)
}

func (s *QuizService) Next(userID string) *domain.QuizSession {
	engine, ok := s.engines.Get(userID)
	if !ok {
		return nil
	}
	return engine.NextQuestion()
}

func (s *QuizService) Previous(userID string) *domain.QuizSession {
	engine, ok := s.engines.Get(userID)
	if !ok {
		return nil
	}
	return engine.PreviousQuestion()
}

func (s *QuizService) GoTo(userID string, index int) *domain.QuizSession {
	engine, ok := s.engines.Get(userID)
	if !ok {
		return nil
	}
	return engine.GoToQuestion(index)
}

// Complete finishes the user's session. Repeated calls return the scored snapshot without side effects.
func (s *QuizService) Complete(userID string) *domain.QuizSession {
	engine, ok := s.engines.Get(userID)
	if !ok {
		return nil
	}
	snap, completed := engine.CompleteQuiz()
	if completed {
		s.stopTimer(userID)
		s.completed(userID, snap, TriggerManual)
	}
	return snap
}

// Reset discards the user's session and its timer.
func (s *QuizService) Reset(userID string) {
	s.stopTimer(userID)
	if engine, ok := s.engines.Get(userID); ok {
		engine.ResetQuiz()
	}
}

// Current returns the user's session snapshot, or nil.
func (s *QuizService) Current(userID string) *domain.QuizSession {
	engine, ok := s.engines.Get(userID)
	if !ok {
		return nil
	}
	return engine.Current()
}

// Subscribe streams the user's session snapshots, including timer-driven completion.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *QuizService) Subscribe(userID string) (<-chan *domain.QuizSession, func()) {
	for {
		engine := s.engine(userID)
		updates, cancel := engine.Subscribe()
		// A concurrent Leave may have dropped the engine between lookup and subscribe.
		if current, ok := s.engines.Get(userID); ok && current == engine {
			return updates, cancel
		}
		cancel()
	}
}

// Feedback reports the outcome of the recorded answer. ok is false when the
// session mode hides feedback.
func (s *QuizService) Feedback(userID string, questionID int) (Feedback, bool, error) {
	current := s.Current(userID)
	if current == nil {
		return Feedback{}, false, domain.ErrNoActiveSession
	}
	if !current.Mode.ShowsFeedback() {
		return Feedback{}, false, nil
	}
	q, found := current.Question(questionID)
	if !found {
		return Feedback{}, false, domain.ErrQuestionNotFound
	}
	fb := Feedback{QuestionID: q.ID, CorrectChoiceID: q.CorrectChoiceID, Solution: q.Solution}
	if choiceID, answered := current.AnswerFor(q.ID); answered {
		fb.SelectedID = &choiceID
		fb.Correct = choiceID == q.CorrectChoiceID
	}
	return fb, true, nil
}

// Leave drops the user's engine and timer once their last subscription is gone.
// Callers cancel their own subscription first.
func (s *QuizService) Leave(userID string) {
	if s.engines.DeleteIfIdle(userID) {
		s.stopTimer(userID)
	}
}

// Catalog summarizes the question bank for selection screens.
func (s *QuizService) Catalog(ctx context.Context) (selection.Catalog, error) {
	bank, err := s.questions.GetQuestions(ctx)
	if err != nil {
		return selection.Catalog{}, fmt.Errorf("load question bank: %w", err)
	}
	return selection.BuildCatalog(bank), nil
}

// Preferences returns the persisted state of a user, defaults for newcomers.
func (s *QuizService) Preferences(ctx context.Context, userID string) (domain.Preferences, error) {
	prefs, err := s.prefs.Load(ctx, userID)
	if errors.Is(err, domain.ErrPreferencesNotFound) {
		return domain.DefaultPreferences(), nil
	}
	return prefs, err
}

func (s *QuizService) UpdateFilters(ctx context.Context, userID string, patch domain.FiltersPatch) (domain.Preferences, error) {
	return s.prefs.Update(ctx, userID, func(p *domain.Preferences) error {
		p.Filters = p.Filters.Apply(patch)
		return nil
	})
}

func (s *QuizService) UpdateNavigation(ctx context.Context, userID string, patch domain.NavigationPatch) (domain.Preferences, error) {
	return s.prefs.Update(ctx, userID, func(p *domain.Preferences) error {
		p.Navigation = p.Navigation.Apply(patch)
		return nil
	})
}

func (s *QuizService) ResetNavigation(ctx context.Context, userID string) (domain.Preferences, error) {
	return s.prefs.Update(ctx, userID, func(p *domain.Preferences) error {
		p.Navigation = domain.EmptyNavigation()
		return nil
	})
}

func (s *QuizService) ToggleTheme(ctx context.Context, userID string) (domain.Preferences, error) {
	return s.prefs.Update(ctx, userID, func(p *domain.Preferences) error {
		p.IsDarkMode = !p.IsDarkMode
		return nil
	})
}

// LogIncorrect adds a question to the user's review log. The question is looked up in
// the active session first, then in the bank.
func (s *QuizService) LogIncorrect(ctx context.Context, userID string, questionID int) (domain.Preferences, error) {
	q, err := s.findQuestion(ctx, userID, questionID)
	if err != nil {
		return domain.Preferences{}, err
	}
	return s.prefs.Update(ctx, userID, func(p *domain.Preferences) error {
		p.AddIncorrect(q)
		return nil
	})
}

func (s *QuizService) DismissIncorrect(ctx context.Context, userID string, questionID int) (domain.Preferences, error) {
	return s.prefs.Update(ctx, userID, func(p *domain.Preferences) error {
		p.RemoveIncorrect(questionID)
		return nil
	})
}

// RecordAnswer bumps today's progress and the subject's topic counters.
func (s *QuizService) RecordAnswer(ctx context.Context, userID string, correct bool, subjectID int) (domain.Preferences, error) {
	day := s.clock.Now().UTC().Format("2006-01-02")
	return s.prefs.Update(ctx, userID, func(p *domain.Preferences) error {
		p.UserStats.RecordAnswer(correct, subjectID, day)
		return nil
	})
}

func (s *QuizService) findQuestion(ctx context.Context, userID string, questionID int) (domain.Question, error) {
	if current := s.Current(userID); current != nil {
		if q, ok := current.Question(questionID); ok {
			return q, nil
		}
	}
	bank, err := s.questions.GetQuestions(ctx)
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question bank: %w", err)
	}
	for _, q := range bank {
		if q.ID == questionID {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (s *QuizService) engine(userID string) *SessionEngine {
	return s.engines.GetOrCreate(userID, func() *SessionEngine {
		return NewSessionEngine(
			WithClock(s.clock.Now),
			WithStatsRecorder(s.recorderFor(userID)),
		)
	})
}

// recorderFor persists completion counters through the preferences store.
func (s *QuizService) recorderFor(userID string) StatsRecorder {
	return RecorderFunc(func(session *domain.QuizSession, score domain.Score) {
		ctx, cancel := context.WithTimeout(context.Background(), statsWriteTimeout)
		defer cancel()
		_, err := s.prefs.Update(ctx, userID, func(p *domain.Preferences) error {
			p.UserStats.RecordCompletion(score)
			return nil
		})
		if err != nil {
			s.logger.Error("persist completion stats",
				zap.String("user_id", userID),
				zap.String("session_id", session.ID),
				zap.Error(err),
			)
		}
	})
}

func (s *QuizService) armTimer(userID string, engine *SessionEngine, snap *domain.QuizSession) {
	timer := StartCompletionTimer(context.Background(), s.clock, engine, snap.ID, func(done *domain.QuizSession) {
		s.completed(userID, done, TriggerTimer)
	})
	s.mu.Lock()
	s.timers[userID] = timer
	s.mu.Unlock()
}

func (s *QuizService) stopTimer(userID string) {
	s.mu.Lock()
	timer, ok := s.timers[userID]
	delete(s.timers, userID)
	s.mu.Unlock()
	if ok {
		timer.Stop()
	}
}

func (s *QuizService) completed(userID string, snap *domain.QuizSession, trigger string) {
	if snap == nil || snap.Score == nil {
		return
	}
	if s.observer != nil {
		s.observer.QuizCompleted(snap.Mode, trigger, *snap.Score)
	}
	s.logger.Info("quiz completed",
		zap.String("user_id", userID),
		zap.String("session_id", snap.ID),
		zap.String("trigger", trigger),
		zap.Int("correct", snap.Score.Correct),
		zap.Int("incorrect", snap.Score.Incorrect),
		zap.Int("unanswered", snap.Score.Unanswered),
		zap.Int("percentage", snap.Score.Percentage),
	)
}
