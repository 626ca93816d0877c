package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"brainquiz-service/internal/domain"
)

func TestQuestionRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		QuestionLoader: NewStaticQuestionLoader(sampleQuestions()),
	}
	repo := NewQuestionRepository(loader, time.Minute)

	if _, err := repo.GetQuestions(context.Background()); err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	questions, err := repo.GetQuestions(context.Background())
	if err != nil {
		t.Fatalf("get questions 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
}

func TestQuestionRepositoryReloadsAfterExpiry(t *testing.T) {
	loader := &countingLoader{
		QuestionLoader: NewStaticQuestionLoader(sampleQuestions()),
	}
	repo := NewQuestionRepository(loader, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	_, _ = repo.GetQuestions(context.Background())
	now = now.Add(2 * time.Minute)
	_, _ = repo.GetQuestions(context.Background())

	if loader.calls != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.calls)
	}
}

func TestFileQuestionLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.json")
	body := `[{"id":7,"text":"Largest organ?","choices":[{"id":1,"text":"Skin"},{"id":2,"text":"Liver"}],
		"correct_choice_id":1,"difficulty_level":"beginner","subjects_id":[3],"tags":["anatomy"]}]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write bank: %v", err)
	}

	questions, err := NewFileQuestionLoader(path).LoadQuestions(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(questions) != 1 || questions[0].CorrectChoiceID != 1 || questions[0].Difficulty != domain.DifficultyBeginner {
		t.Fatalf("unexpected questions %+v", questions)
	}
	if questions[0].SubjectIDs[0] != 3 || questions[0].Tags[0] != "anatomy" {
		t.Fatalf("expected subjects and tags decoded, got %+v", questions[0])
	}
}

func TestFileQuestionLoaderMissingFile(t *testing.T) {
	_, err := NewFileQuestionLoader(filepath.Join(t.TempDir(), "nope.json")).LoadQuestions(context.Background())
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

type countingLoader struct {
	QuestionLoader
	calls int
}

func (l *countingLoader) LoadQuestions(ctx context.Context) ([]domain.Question, error) {
	l.calls++
	return l.QuestionLoader.LoadQuestions(ctx)
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:              1,
			Text:            "What is 2 + 2?",
			Choices:         []domain.Choice{{ID: 1, Text: "3"}, {ID: 2, Text: "4"}},
			CorrectChoiceID: 2,
			Difficulty:      domain.DifficultyBeginner,
			SubjectIDs:      []int{10},
			Tags:            []string{"math"},
		},
		{
			ID:              2,
			Text:            "Which bone is in the thigh?",
			Choices:         []domain.Choice{{ID: 1, Text: "Femur"}, {ID: 2, Text: "Ulna"}},
			CorrectChoiceID: 1,
			Difficulty:      domain.DifficultyIntermediate,
			SubjectIDs:      []int{20},
			Tags:            []string{"anatomy"},
		},
	}
}
