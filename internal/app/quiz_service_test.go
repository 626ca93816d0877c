package app_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"brainquiz-service/internal/app"
	"brainquiz-service/internal/domain"
	"brainquiz-service/internal/infra/memory"
	"brainquiz-service/internal/selection"
)

type completion struct {
	mode    domain.Mode
	trigger string
	score   domain.Score
}

type recordingObserver struct {
	mu        sync.Mutex
	started   []domain.Mode
	completed []completion
}

func (o *recordingObserver) QuizStarted(mode domain.Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, mode)
}

func (o *recordingObserver) QuizCompleted(mode domain.Mode, trigger string, score domain.Score) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, completion{mode, trigger, score})
}

func (o *recordingObserver) completions() []completion {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]completion(nil), o.completed...)
}

func bank() []domain.Question {
	qs := []domain.Question{
		{ID: 1, CorrectChoiceID: 1, Difficulty: domain.DifficultyBeginner, SubjectIDs: []int{10}, Tags: []string{"cardio"}, Solution: "because"},
		{ID: 2, CorrectChoiceID: 2, Difficulty: domain.DifficultyIntermediate, SubjectIDs: []int{10}, Tags: []string{"renal"}},
		{ID: 3, CorrectChoiceID: 1, Difficulty: domain.DifficultyDifficult, SubjectIDs: []int{20}, Tags: []string{"cardio"}},
		{ID: 4, CorrectChoiceID: 2, Difficulty: domain.DifficultyBeginner, SubjectIDs: []int{30}, Tags: []string{"neuro"}},
	}
	for i := range qs {
		qs[i].Text = "question"
		qs[i].Choices = []domain.Choice{{ID: 1, Text: "a"}, {ID: 2, Text: "b"}}
	}
	return qs
}

func newTestService(clock *fakeClock, observer app.Observer) (*app.QuizService, *memory.PreferencesStore) {
	prefs := memory.NewPreferencesStore()
	questions := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(bank()), time.Minute)
	service := app.NewQuizService(memory.NewSessionStore(), questions, prefs,
		app.WithServiceClock(clock),
		app.WithObserver(observer),
		app.WithBuilder(selection.NewBuilderWithSource(rand.NewSource(1))),
	)
	return service, prefs
}

func TestStartUsesPersistedFilters(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(newFakeClock(), &recordingObserver{})

	subjects := []int{10}
	random := false
	if _, err := service.UpdateFilters(ctx, "u1", domain.FiltersPatch{Subjects: &subjects, IsRandom: &random}); err != nil {
		t.Fatalf("update filters: %v", err)
	}
	snap, err := service.Start(ctx, "u1", app.StartRequest{Mode: domain.ModeTest})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if len(snap.Questions) != 2 || snap.Questions[0].ID != 1 || snap.Questions[1].ID != 2 {
		t.Fatalf("expected subject 10 questions in bank order, got %+v", snap.Questions)
	}
	if snap.TimeLimit != 0 {
		t.Fatalf("untimed mode must not carry a limit")
	}
}

func TestStartNoMatches(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(newFakeClock(), nil)
	tags := []string{"dermatology"}
	if _, err := service.UpdateFilters(ctx, "u1", domain.FiltersPatch{Tags: &tags}); err != nil {
		t.Fatalf("update filters: %v", err)
	}
	if _, err := service.Start(ctx, "u1", app.StartRequest{Mode: domain.ModeTest}); err != domain.ErrNoQuestionsMatch {
		t.Fatalf("expected ErrNoQuestionsMatch, got %v", err)
	}
	if service.Current("u1") != nil {
		t.Fatalf("failed start must not create a session")
	}
}

func TestTimedStartDefaultsLimitAndAutoCompletes(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	observer := &recordingObserver{}
	service, _ := newTestService(clock, observer)

	snap, err := service.Start(ctx, "u1", app.StartRequest{Mode: domain.ModeTimedExam, QuestionIDs: []int{1, 2, 3}})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if snap.TimeLimit != 3 {
		t.Fatalf("expected one minute per question, got %d", snap.TimeLimit)
	}
	service.Answer("u1", 1, 1)
	clock.Advance(3 * time.Minute)
	if !clock.Tick(t) {
		t.Fatalf("timer not armed")
	}

	// The observer runs after stats are persisted.
	deadline := time.Now().Add(2 * time.Second)
	for len(observer.completions()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timer did not complete the session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	current := service.Current("u1")
	if !current.IsCompleted || current.Score.Correct != 1 || current.Score.Unanswered != 2 {
		t.Fatalf("unexpected completed session %+v", current)
	}

	prefs, err := service.Preferences(ctx, "u1")
	if err != nil {
		t.Fatalf("preferences: %v", err)
	}
	if prefs.UserStats.TotalQuestionsAttempted != 3 || prefs.UserStats.CorrectAnswers != 1 {
		t.Fatalf("expected persisted stats, got %+v", prefs.UserStats)
	}

	// A manual completion racing the timer must not count again.
	service.Complete("u1")
	prefs, _ = service.Preferences(ctx, "u1")
	if prefs.UserStats.TotalQuestionsAttempted != 3 {
		t.Fatalf("expected stats counted once, got %+v", prefs.UserStats)
	}
	got := observer.completions()
	if len(got) != 1 || got[0].trigger != app.TriggerTimer {
		t.Fatalf("expected one timer completion, got %+v", got)
	}
}

func TestManualCompleteStopsTimer(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	observer := &recordingObserver{}
	service, _ := newTestService(clock, observer)

	if _, err := service.Start(ctx, "u1", app.StartRequest{Mode: domain.ModeTimedStudy, TimeLimit: 10, QuestionIDs: []int{1}}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	snap := service.Complete("u1")
	if snap == nil || !snap.IsCompleted {
		t.Fatalf("expected completed snapshot")
	}
	clock.Advance(time.Hour)
	if clock.Tick(t) {
		t.Fatalf("timer must be stopped after manual completion")
	}
	got := observer.completions()
	if len(got) != 1 || got[0].trigger != app.TriggerManual || got[0].score.Percentage != 0 {
		t.Fatalf("unexpected completions %+v", got)
	}
}

func TestRetakeRestartsSameQuestions(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(newFakeClock(), nil)

	first, err := service.Start(ctx, "u1", app.StartRequest{Mode: domain.ModeStudy, QuestionIDs: []int{4, 2}})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	service.Answer("u1", 4, 2)
	service.Complete("u1")

	again, err := service.Retake(ctx, "u1")
	if err != nil {
		t.Fatalf("retake failed: %v", err)
	}
	if again.ID == first.ID || again.IsCompleted || len(again.Answers) != 0 {
		t.Fatalf("expected a fresh attempt, got %+v", again)
	}
	if again.Questions[0].ID != 4 || again.Questions[1].ID != 2 || again.Mode != domain.ModeStudy {
		t.Fatalf("expected same questions and mode, got %+v", again)
	}

	if _, err := service.Retake(ctx, "nobody"); err != domain.ErrNoActiveSession {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestFeedbackOnlyInStudyModes(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(newFakeClock(), nil)

	if _, err := service.Start(ctx, "u1", app.StartRequest{Mode: domain.ModeStudy, QuestionIDs: []int{1}}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	service.Answer("u1", 1, 2)
	fb, ok, err := service.Feedback("u1", 1)
	if err != nil || !ok {
		t.Fatalf("expected feedback, got ok=%v err=%v", ok, err)
	}
	if fb.Correct || fb.CorrectChoiceID != 1 || fb.SelectedID == nil || *fb.SelectedID != 2 || fb.Solution != "because" {
		t.Fatalf("unexpected feedback %+v", fb)
	}

	if _, err := service.Start(ctx, "u1", app.StartRequest{Mode: domain.ModeTest, QuestionIDs: []int{1}}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	service.Answer("u1", 1, 1)
	if _, ok, _ := service.Feedback("u1", 1); ok {
		t.Fatalf("test mode must hide feedback")
	}
}

func TestReviewSourceUsesIncorrectLog(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(newFakeClock(), nil)

	if _, err := service.Start(ctx, "u1", app.StartRequest{Mode: domain.ModeTest, Source: app.SourceReview}); err != domain.ErrEmptyQuestionSet {
		t.Fatalf("expected ErrEmptyQuestionSet for empty review log, got %v", err)
	}
	if _, err := service.LogIncorrect(ctx, "u1", 3); err != nil {
		t.Fatalf("log incorrect: %v", err)
	}
	prefs, err := service.LogIncorrect(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("log incorrect: %v", err)
	}
	if len(prefs.IncorrectAnswers) != 1 {
		t.Fatalf("expected deduplicated log, got %d", len(prefs.IncorrectAnswers))
	}

	snap, err := service.Start(ctx, "u1", app.StartRequest{Mode: domain.ModeTest, Source: app.SourceReview})
	if err != nil {
		t.Fatalf("start review: %v", err)
	}
	if len(snap.Questions) != 1 || snap.Questions[0].ID != 3 {
		t.Fatalf("expected review question, got %+v", snap.Questions)
	}

	prefs, err = service.DismissIncorrect(ctx, "u1", 3)
	if err != nil || len(prefs.IncorrectAnswers) != 0 {
		t.Fatalf("expected log emptied, got %+v err=%v", prefs.IncorrectAnswers, err)
	}
	if _, err := service.LogIncorrect(ctx, "u1", 999); err != domain.ErrQuestionNotFound {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestPreferenceOperations(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	service, _ := newTestService(clock, nil)

	prefs, err := service.Preferences(ctx, "fresh")
	if err != nil {
		t.Fatalf("preferences: %v", err)
	}
	if prefs.Filters.QuestionCount != domain.DefaultQuestionCount || !prefs.Filters.IsRandom {
		t.Fatalf("expected default filters, got %+v", prefs.Filters)
	}

	platform := "usmle"
	prefs, _ = service.UpdateNavigation(ctx, "u1", domain.NavigationPatch{SelectedPlatform: &platform})
	if prefs.Navigation.SelectedPlatform == nil || *prefs.Navigation.SelectedPlatform != "usmle" {
		t.Fatalf("expected platform set, got %+v", prefs.Navigation)
	}
	prefs, _ = service.ResetNavigation(ctx, "u1")
	if prefs.Navigation.SelectedPlatform != nil {
		t.Fatalf("expected navigation reset")
	}

	prefs, _ = service.ToggleTheme(ctx, "u1")
	if !prefs.IsDarkMode {
		t.Fatalf("expected dark mode on")
	}

	service.RecordAnswer(ctx, "u1", true, 10)
	prefs, _ = service.RecordAnswer(ctx, "u1", false, 20)
	if prefs.UserStats.DailyProgress["2024-11-22"] != 2 {
		t.Fatalf("expected two answers today, got %+v", prefs.UserStats.DailyProgress)
	}
	if prefs.UserStats.StrengthTopics[10] != 1 || prefs.UserStats.WeakTopics[20] != 1 {
		t.Fatalf("unexpected topic counters %+v", prefs.UserStats)
	}
}

func TestResetAndLeave(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(newFakeClock(), nil)

	if _, err := service.Start(ctx, "u1", app.StartRequest{Mode: domain.ModeTest, QuestionIDs: []int{1}}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	service.Reset("u1")
	if service.Current("u1") != nil {
		t.Fatalf("expected no session after reset")
	}
	if service.Answer("u1", 1, 1) != nil {
		t.Fatalf("answer after reset must be a no-op")
	}

	service.Leave("u1")
	if service.Next("u1") != nil {
		t.Fatalf("expected no engine after leave")
	}
}

func TestLeaveKeepsSessionForOtherSubscribers(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(newFakeClock(), nil)

	_, cancelA := service.Subscribe("u1")
	updatesB, cancelB := service.Subscribe("u1")
	defer cancelB()

	if _, err := service.Start(ctx, "u1", app.StartRequest{Mode: domain.ModeTimedExam, QuestionIDs: []int{1, 2}}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	cancelA()
	service.Leave("u1")

	if current := service.Current("u1"); current == nil || current.IsCompleted {
		t.Fatalf("one tab leaving must keep the session of the other")
	}
	if service.Answer("u1", 1, 1) == nil {
		t.Fatalf("expected remaining tab to keep answering")
	}

	var last *domain.QuizSession
	deadline := time.After(2 * time.Second)
	for last == nil || last.Answers[1] != 1 {
		select {
		case last = <-updatesB:
		case <-deadline:
			t.Fatalf("remaining subscriber did not see the answer, last %+v", last)
		}
	}

	cancelB()
	service.Leave("u1")
	if service.Current("u1") != nil {
		t.Fatalf("expected engine dropped after the last subscriber left")
	}
}

func TestCatalog(t *testing.T) {
	service, _ := newTestService(newFakeClock(), nil)
	cat, err := service.Catalog(context.Background())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if cat.Total != 4 || len(cat.Subjects) != 3 || len(cat.Tags) != 3 {
		t.Fatalf("unexpected catalog %+v", cat)
	}
}
